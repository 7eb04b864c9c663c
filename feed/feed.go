package feed

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/tidepool-org/cdc-worker/cdc"
)

type SubscribeOptions struct {
	IncludePostImage bool
	IncludePreImage  bool
}

// Source is a live, ordered and resumable feed of change records for a single collection
type Source interface {
	// Subscribe opens a new feed handle. A nil resumeFrom starts the feed from the current point in time.
	Subscribe(ctx context.Context, resumeFrom bson.Raw, opts SubscribeOptions) (Handle, error)
}

// Handle is an open subscription. It must be consumed by a single goroutine.
type Handle interface {
	// Next blocks until the next record is available, the context is done or the feed fails
	Next(ctx context.Context) (cdc.RawChangeRecord, error)
	// Position returns the resume position of the handle, before any record is received
	// it points at the moment the subscription was opened
	Position() bson.Raw
	Close(ctx context.Context) error
}
