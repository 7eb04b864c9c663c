package cdc

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FormatPosition returns a short, loggable form of a resume token
func FormatPosition(token bson.Raw) string {
	if len(token) == 0 {
		return "now"
	}
	if data := resumeTokenData(token); data != "" {
		return data
	}
	return token.String()
}

// FormatDocumentID returns a loggable form of a document _id
func FormatDocumentID(id bson.RawValue) string {
	if id.Type == 0 {
		return "N/A"
	}
	if oid, ok := id.ObjectIDOK(); ok {
		return oid.Hex()
	}
	if s, ok := id.StringValueOK(); ok {
		return s
	}
	return id.String()
}

// NewResumeToken builds a resume token document with the given _data value
func NewResumeToken(data string) bson.Raw {
	token, err := bson.Marshal(bson.D{{Key: "_data", Value: data}})
	if err != nil {
		return nil
	}
	return token
}

// TimestampToTime converts a BSON timestamp to wall-clock time with second precision
func TimestampToTime(ts primitive.Timestamp) time.Time {
	return time.Unix(int64(ts.T), 0).UTC()
}
