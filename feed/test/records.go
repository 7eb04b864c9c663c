package test

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tidepool-org/cdc-worker/cdc"
)

const (
	Database   = "orders"
	Collection = "orders_source"
)

// NewRecord builds a raw change record by round-tripping the change through bson,
// the same way the change stream decodes it
func NewRecord(position string, change bson.M) *cdc.RawChangeRecord {
	doc := bson.M{
		"_id":         bson.M{"_data": position},
		"ns":          bson.M{"db": Database, "coll": Collection},
		"clusterTime": primitive.Timestamp{T: 1717000000, I: 1},
	}
	for k, v := range change {
		doc[k] = v
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		panic(err)
	}

	record := cdc.RawChangeRecord{}
	if err := bson.Unmarshal(data, &record); err != nil {
		panic(err)
	}
	return &record
}

func Insert(position string, id int, status string) Entry {
	return Entry{Record: NewRecord(position, bson.M{
		"operationType": "insert",
		"documentKey":   bson.M{"id": id},
		"fullDocument":  bson.M{"id": id, "status": status},
	})}
}

func Update(position string, id int, status string) Entry {
	return Entry{Record: NewRecord(position, bson.M{
		"operationType": "update",
		"documentKey":   bson.M{"id": id},
		"updateDescription": bson.M{
			"updatedFields": bson.M{"status": status},
			"removedFields": bson.A{},
		},
	})}
}

func Delete(position string, id int) Entry {
	return Entry{Record: NewRecord(position, bson.M{
		"operationType": "delete",
		"documentKey":   bson.M{"id": id},
	})}
}

func Drop(position string) Entry {
	return Entry{Record: NewRecord(position, bson.M{"operationType": "drop"})}
}

func Invalidate(position string) Entry {
	record := NewRecord(position, bson.M{"operationType": "invalidate"})
	record.Namespace = nil
	return Entry{Record: record}
}

func Fault(err error) Entry {
	return Entry{Err: err}
}
