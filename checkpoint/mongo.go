package checkpoint

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type checkpointDocument struct {
	Key         string    `bson:"_id"`
	ResumeToken bson.Raw  `bson:"resumeToken"`
	UpdatedTime time.Time `bson:"updatedTime"`
}

// Collection is the subset of *mongo.Collection used by the store
type Collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// MongoStore keeps checkpoints in a collection of the source database
type MongoStore struct {
	collection Collection
}

func NewMongoStore(collection Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

func (m *MongoStore) Load(ctx context.Context, key string) (bson.Raw, error) {
	doc := checkpointDocument{}
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "unable to load checkpoint %s", key)
	}
	return clone(doc.ResumeToken), nil
}

func (m *MongoStore) Save(ctx context.Context, key string, token bson.Raw) error {
	doc := checkpointDocument{
		Key:         key,
		ResumeToken: token,
		UpdatedTime: time.Now().UTC(),
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts); err != nil {
		return errors.Wrapf(err, "unable to save checkpoint %s", key)
	}
	return nil
}

func (m *MongoStore) Clear(ctx context.Context, key string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return errors.Wrapf(err, "unable to clear checkpoint %s", key)
	}
	return nil
}

// Close is a no-op, the client is owned by the feed
func (m *MongoStore) Close() error {
	return nil
}

var _ Store = &MongoStore{}
var _ Collection = &mongo.Collection{}
