package cdc

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type OperationType string

const (
	OperationTypeInsert       OperationType = "insert"
	OperationTypeUpdate       OperationType = "update"
	OperationTypeReplace      OperationType = "replace"
	OperationTypeDelete       OperationType = "delete"
	OperationTypeDrop         OperationType = "drop"
	OperationTypeRename       OperationType = "rename"
	OperationTypeDropDatabase OperationType = "dropDatabase"
	OperationTypeInvalidate   OperationType = "invalidate"
)

// IsDocumentChange returns true for the operation types that are published to the destination
func (o OperationType) IsDocumentChange() bool {
	switch o {
	case OperationTypeInsert, OperationTypeUpdate, OperationTypeReplace, OperationTypeDelete:
		return true
	}
	return false
}

// IsStructural returns true for collection or database level operations
func (o OperationType) IsStructural() bool {
	switch o {
	case OperationTypeDrop, OperationTypeRename, OperationTypeDropDatabase:
		return true
	}
	return false
}

// RawChangeRecord is a change stream event as emitted by the source.
// Optional document fields are kept as raw values so that absent and null can be told apart
// from an embedded document.
type RawChangeRecord struct {
	ID                       bson.Raw            `bson:"_id"`
	OperationType            OperationType       `bson:"operationType"`
	Namespace                *Namespace          `bson:"ns"`
	To                       *Namespace          `bson:"to"`
	DocumentKey              bson.RawValue       `bson:"documentKey"`
	FullDocument             bson.RawValue       `bson:"fullDocument"`
	FullDocumentBeforeChange bson.RawValue       `bson:"fullDocumentBeforeChange"`
	UpdateDescription        *UpdateDescription  `bson:"updateDescription"`
	ClusterTime              primitive.Timestamp `bson:"clusterTime"`

	// ResumeToken is the position of the feed after this record. It is set by the feed
	// and falls back to the event _id.
	ResumeToken bson.Raw `bson:"-"`
}

// Position returns the resume position of the record
func (r RawChangeRecord) Position() bson.Raw {
	if len(r.ResumeToken) > 0 {
		return r.ResumeToken
	}
	return r.ID
}

type Namespace struct {
	Database   string `bson:"db" json:"db"`
	Collection string `bson:"coll,omitempty" json:"coll,omitempty"`
}

// String returns the human-readable database.collection form of the namespace
func (n *Namespace) String() string {
	if n == nil || n.Database == "" {
		return "N/A"
	}
	if n.Collection == "" {
		return n.Database
	}
	return n.Database + "." + n.Collection
}

type UpdateDescription struct {
	UpdatedFields   bson.Raw         `bson:"updatedFields"`
	RemovedFields   []string         `bson:"removedFields"`
	TruncatedArrays []TruncatedArray `bson:"truncatedArrays,omitempty"`
}

type TruncatedArray struct {
	Field   string `bson:"field"`
	NewSize int32  `bson:"newSize"`
}

// Event is the canonical change event published to the destination log.
// It is never mutated after it's been constructed by Normalize.
type Event struct {
	EventID                  string              `bson:"eventId,omitempty"`
	OperationType            OperationType       `bson:"operationType"`
	Namespace                *Namespace          `bson:"ns,omitempty"`
	DocumentKey              bson.Raw            `bson:"documentKey,omitempty"`
	FullDocument             bson.Raw            `bson:"fullDocument,omitempty"`
	FullDocumentBeforeChange bson.Raw            `bson:"fullDocumentBeforeChange,omitempty"`
	UpdateDescription        *UpdateDescription  `bson:"updateDescription,omitempty"`
	ObservedAt               time.Time           `bson:"observedAt"`
	SourceTimestamp          primitive.Timestamp `bson:"sourceTimestamp"`
	Timestamp                time.Time           `bson:"timestamp"`
}

// Key returns the extended json representation of the document key,
// used for partitioning in the destination
func (e Event) Key() (string, error) {
	if len(e.DocumentKey) == 0 {
		return "", nil
	}
	key, err := bson.MarshalExtJSON(e.DocumentKey, false, false)
	if err != nil {
		return "", err
	}
	return string(key), nil
}

// DocumentID returns the _id of the affected document or an empty raw value if the key doesn't have one
func (e Event) DocumentID() bson.RawValue {
	if len(e.DocumentKey) == 0 {
		return bson.RawValue{}
	}
	value, err := e.DocumentKey.LookupErr("_id")
	if err != nil {
		return bson.RawValue{}
	}
	return value
}
