package cdc

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

type Decision int

const (
	// DecisionPublish means the record produced an event which must be appended to the destination
	DecisionPublish Decision = iota
	// DecisionStructural is returned for drop, rename and dropDatabase events
	DecisionStructural
	// DecisionUnknown is returned for operation types the pipeline doesn't recognize
	DecisionUnknown
	// DecisionInvalidated signals that the subscription must be terminated
	DecisionInvalidated
)

func (d Decision) String() string {
	switch d {
	case DecisionPublish:
		return "publish"
	case DecisionStructural:
		return "structural"
	case DecisionUnknown:
		return "unknown"
	case DecisionInvalidated:
		return "invalidated"
	default:
		return "invalid"
	}
}

type Normalized struct {
	Decision Decision
	Event    *Event
}

// ShouldPublish returns true if the normalized record must be appended to the destination
func (n Normalized) ShouldPublish() bool {
	return n.Decision == DecisionPublish && n.Event != nil
}

// Normalize maps a raw change record to a canonical event. It doesn't perform any I/O.
func Normalize(raw RawChangeRecord, observedAt time.Time) Normalized {
	switch {
	case raw.OperationType == OperationTypeInvalidate:
		return Normalized{Decision: DecisionInvalidated}
	case raw.OperationType.IsStructural():
		return Normalized{Decision: DecisionStructural}
	case !raw.OperationType.IsDocumentChange():
		return Normalized{Decision: DecisionUnknown}
	}

	event := &Event{
		EventID:         resumeTokenData(raw.ID),
		OperationType:   raw.OperationType,
		Namespace:       raw.Namespace,
		DocumentKey:     document(raw.DocumentKey),
		ObservedAt:      observedAt,
		SourceTimestamp: raw.ClusterTime,
		Timestamp:       clusterTimeToDate(raw, observedAt),
	}

	switch raw.OperationType {
	case OperationTypeInsert, OperationTypeReplace:
		event.FullDocument = document(raw.FullDocument)
	case OperationTypeUpdate:
		event.UpdateDescription = updateDescription(raw.UpdateDescription)
		event.FullDocument = document(raw.FullDocument)
	case OperationTypeDelete:
		event.FullDocumentBeforeChange = document(raw.FullDocumentBeforeChange)
	}

	return Normalized{Decision: DecisionPublish, Event: event}
}

// document returns nil when the value is missing, null or isn't a document
func document(value bson.RawValue) bson.Raw {
	if value.Type != bsontype.EmbeddedDocument {
		return nil
	}
	doc, ok := value.DocumentOK()
	if !ok || len(doc) == 0 {
		return nil
	}
	return doc
}

// emptyDocument is the bson encoding of {}
var emptyDocument = bson.Raw{5, 0, 0, 0, 0}

// updateDescription returns a copy of the description which always has a document for updatedFields,
// a nil bson.Raw can't be serialized
func updateDescription(description *UpdateDescription) *UpdateDescription {
	result := UpdateDescription{}
	if description != nil {
		result = *description
	}
	if len(result.UpdatedFields) == 0 {
		result.UpdatedFields = emptyDocument
	}
	if result.RemovedFields == nil {
		result.RemovedFields = []string{}
	}
	return &result
}

func resumeTokenData(id bson.Raw) string {
	if len(id) == 0 {
		return ""
	}
	value, err := id.LookupErr("_data")
	if err != nil {
		return ""
	}
	data, _ := value.StringValueOK()
	return data
}

func clusterTimeToDate(raw RawChangeRecord, fallback time.Time) time.Time {
	if raw.ClusterTime.T == 0 {
		return fallback.UTC()
	}
	return TimestampToTime(raw.ClusterTime)
}
