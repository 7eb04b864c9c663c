package cdc_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/test"
)

func loadRecord(name string) cdc.RawChangeRecord {
	fixture, err := test.LoadFixture("test/fixtures/" + name + ".json")
	Expect(err).ToNot(HaveOccurred())

	record := cdc.RawChangeRecord{}
	Expect(bson.UnmarshalExtJSON(fixture, false, &record)).To(Succeed())
	return record
}

func newRecord(operationType string) cdc.RawChangeRecord {
	data, err := bson.Marshal(bson.M{
		"_id":           bson.M{"_data": "826657"},
		"operationType": operationType,
		"ns":            bson.M{"db": "orders", "coll": "orders_source"},
		"documentKey":   bson.M{"_id": "order-1"},
		"clusterTime":   primitive.Timestamp{T: 1716992640, I: 1},
	})
	Expect(err).ToNot(HaveOccurred())

	record := cdc.RawChangeRecord{}
	Expect(bson.Unmarshal(data, &record)).To(Succeed())
	return record
}

var _ = Describe("Normalize", func() {
	observedAt := time.Date(2024, 5, 29, 14, 30, 0, 0, time.UTC)

	DescribeTable("decides whether a record is published",
		func(operationType string, expected cdc.Decision) {
			normalized := cdc.Normalize(newRecord(operationType), observedAt)
			Expect(normalized.Decision).To(Equal(expected))
			Expect(normalized.ShouldPublish()).To(Equal(expected == cdc.DecisionPublish))
			if expected != cdc.DecisionPublish {
				Expect(normalized.Event).To(BeNil())
			}
		},
		Entry("insert", "insert", cdc.DecisionPublish),
		Entry("update", "update", cdc.DecisionPublish),
		Entry("replace", "replace", cdc.DecisionPublish),
		Entry("delete", "delete", cdc.DecisionPublish),
		Entry("drop", "drop", cdc.DecisionStructural),
		Entry("rename", "rename", cdc.DecisionStructural),
		Entry("dropDatabase", "dropDatabase", cdc.DecisionStructural),
		Entry("invalidate", "invalidate", cdc.DecisionInvalidated),
		Entry("createIndexes", "createIndexes", cdc.DecisionUnknown),
		Entry("empty operation type", "", cdc.DecisionUnknown),
	)

	It("normalizes inserts", func() {
		normalized := cdc.Normalize(loadRecord("insert"), observedAt)
		Expect(normalized.ShouldPublish()).To(BeTrue())

		event := normalized.Event
		Expect(event.EventID).To(HavePrefix("8266573A80"))
		Expect(event.OperationType).To(Equal(cdc.OperationTypeInsert))
		Expect(event.Namespace.String()).To(Equal("orders.orders_source"))
		Expect(cdc.FormatDocumentID(event.DocumentID())).To(Equal("66573a80c2b8a1d4e9f01001"))
		Expect(event.FullDocument.Lookup("status").StringValue()).To(Equal("pending"))
		Expect(event.FullDocument.Lookup("orderNumber").StringValue()).To(Equal("order-1001"))
		Expect(event.FullDocumentBeforeChange).To(BeNil())
		Expect(event.UpdateDescription).To(BeNil())
		Expect(event.ObservedAt).To(Equal(observedAt))
		Expect(event.SourceTimestamp).To(Equal(primitive.Timestamp{T: 1716992640, I: 1}))
		Expect(event.Timestamp).To(Equal(time.Unix(1716992640, 0).UTC()))
	})

	It("normalizes updates", func() {
		event := cdc.Normalize(loadRecord("update"), observedAt).Event
		Expect(event).ToNot(BeNil())
		Expect(event.OperationType).To(Equal(cdc.OperationTypeUpdate))
		Expect(event.UpdateDescription).ToNot(BeNil())
		Expect(event.UpdateDescription.UpdatedFields.Lookup("status").StringValue()).To(Equal("shipped"))
		Expect(event.UpdateDescription.RemovedFields).To(Equal([]string{"reservation"}))
		Expect(event.UpdateDescription.TruncatedArrays).To(Equal([]cdc.TruncatedArray{{Field: "items", NewSize: 1}}))
		Expect(event.FullDocument.Lookup("status").StringValue()).To(Equal("shipped"))
		Expect(event.FullDocumentBeforeChange).To(BeNil())
	})

	It("normalizes updates without a post-image", func() {
		record := loadRecord("update")
		record.FullDocument = bson.RawValue{}

		event := cdc.Normalize(record, observedAt).Event
		Expect(event.FullDocument).To(BeNil())
		Expect(event.UpdateDescription).ToNot(BeNil())
	})

	It("always sets the update description of updates", func() {
		event := cdc.Normalize(newRecord("update"), observedAt).Event
		Expect(event.UpdateDescription).ToNot(BeNil())
		Expect(event.UpdateDescription.UpdatedFields).To(Equal(bson.Raw{5, 0, 0, 0, 0}))
		Expect(event.UpdateDescription.RemovedFields).To(BeEmpty())

		_, err := bson.MarshalExtJSON(event, false, false)
		Expect(err).ToNot(HaveOccurred())
	})

	It("normalizes replaces", func() {
		event := cdc.Normalize(loadRecord("replace"), observedAt).Event
		Expect(event).ToNot(BeNil())
		Expect(event.OperationType).To(Equal(cdc.OperationTypeReplace))
		Expect(event.FullDocument.Lookup("status").StringValue()).To(Equal("cancelled"))
		Expect(event.FullDocumentBeforeChange).To(BeNil())
		Expect(event.UpdateDescription).To(BeNil())
	})

	It("normalizes deletes with the pre-image", func() {
		event := cdc.Normalize(loadRecord("delete"), observedAt).Event
		Expect(event).ToNot(BeNil())
		Expect(event.OperationType).To(Equal(cdc.OperationTypeDelete))
		Expect(cdc.FormatDocumentID(event.DocumentID())).To(Equal("66573a80c2b8a1d4e9f01001"))
		Expect(event.FullDocument).To(BeNil())
		Expect(event.FullDocumentBeforeChange.Lookup("status").StringValue()).To(Equal("cancelled"))
	})

	It("ignores null images", func() {
		data, err := bson.Marshal(bson.M{
			"_id":                      bson.M{"_data": "826657"},
			"operationType":            "delete",
			"ns":                       bson.M{"db": "orders", "coll": "orders_source"},
			"documentKey":              bson.M{"_id": "order-1"},
			"fullDocumentBeforeChange": nil,
		})
		Expect(err).ToNot(HaveOccurred())
		record := cdc.RawChangeRecord{}
		Expect(bson.Unmarshal(data, &record)).To(Succeed())

		event := cdc.Normalize(record, observedAt).Event
		Expect(event.FullDocumentBeforeChange).To(BeNil())
		Expect(event.Timestamp).To(Equal(observedAt))
	})

	It("doesn't publish renames", func() {
		record := loadRecord("rename")
		Expect(record.To.String()).To(Equal("orders.orders_archive"))
		Expect(cdc.Normalize(record, observedAt).Decision).To(Equal(cdc.DecisionStructural))
	})

	It("signals invalidation", func() {
		record := loadRecord("invalidate")
		Expect(record.Namespace).To(BeNil())

		normalized := cdc.Normalize(record, observedAt)
		Expect(normalized.Decision).To(Equal(cdc.DecisionInvalidated))
		Expect(normalized.Event).To(BeNil())
	})

	It("doesn't mutate the raw record", func() {
		record := loadRecord("update")
		removed := append([]string(nil), record.UpdateDescription.RemovedFields...)

		cdc.Normalize(record, observedAt)
		Expect(record.UpdateDescription.RemovedFields).To(Equal(removed))
		Expect(record.OperationType).To(Equal(cdc.OperationTypeUpdate))
	})
})

var _ = Describe("Event", func() {
	It("returns the document key as relaxed extended json", func() {
		event := cdc.Normalize(newRecord("insert"), time.Now()).Event
		key, err := event.Key()
		Expect(err).ToNot(HaveOccurred())
		Expect(key).To(Equal(`{"_id":"order-1"}`))
	})

	It("formats the position of the record", func() {
		record := newRecord("insert")
		Expect(cdc.FormatPosition(record.Position())).To(Equal("826657"))
		Expect(cdc.FormatPosition(nil)).To(Equal("now"))
	})

	It("prefers the resume token of the feed over the event id", func() {
		record := newRecord("insert")
		record.ResumeToken = cdc.NewResumeToken("826658")
		Expect(record.Position()).To(Equal(cdc.NewResumeToken("826658")))
	})
})
