package checkpoint_test

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/checkpoint"
	"github.com/tidepool-org/cdc-worker/feed"
)

const key = "cdc:checkpoint:orders.orders_source"

// storeBehaviour verifies the contract every backend must honor
func storeBehaviour(newStore func() checkpoint.Store) {
	var store checkpoint.Store
	ctx := context.Background()

	BeforeEach(func() {
		store = newStore()
	})

	It("returns nil when there's no checkpoint", func() {
		token, err := store.Load(ctx, key)
		Expect(err).ToNot(HaveOccurred())
		Expect(token).To(BeNil())
	})

	It("loads the last saved token", func() {
		Expect(store.Save(ctx, key, cdc.NewResumeToken("8266A1"))).To(Succeed())
		Expect(store.Save(ctx, key, cdc.NewResumeToken("8266A2"))).To(Succeed())

		token, err := store.Load(ctx, key)
		Expect(err).ToNot(HaveOccurred())
		Expect(token).To(Equal(cdc.NewResumeToken("8266A2")))
	})

	It("keeps checkpoints of different keys apart", func() {
		Expect(store.Save(ctx, key, cdc.NewResumeToken("8266A1"))).To(Succeed())

		token, err := store.Load(ctx, key+"_archive")
		Expect(err).ToNot(HaveOccurred())
		Expect(token).To(BeNil())
	})

	It("clears the checkpoint", func() {
		Expect(store.Save(ctx, key, cdc.NewResumeToken("8266A1"))).To(Succeed())
		Expect(store.Clear(ctx, key)).To(Succeed())

		token, err := store.Load(ctx, key)
		Expect(err).ToNot(HaveOccurred())
		Expect(token).To(BeNil())
	})

	It("clearing a missing checkpoint is not an error", func() {
		Expect(store.Clear(ctx, key)).To(Succeed())
	})
}

var _ = Describe("MemoryStore", func() {
	storeBehaviour(func() checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
})

// fakeCollection keeps documents in memory by _id
type fakeCollection struct {
	documents map[string]bson.Raw
	upserts   []bool
	err       error
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{documents: map[string]bson.Raw{}}
}

func documentID(filter interface{}) string {
	return filter.(bson.M)["_id"].(string)
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	if f.err != nil {
		return mongo.NewSingleResultFromDocument(bson.D{}, f.err, nil)
	}
	document, ok := f.documents[documentID(filter)]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(document, nil, nil)
}

func (f *fakeCollection) ReplaceOne(_ context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, opt := range opts {
		f.upserts = append(f.upserts, opt.Upsert != nil && *opt.Upsert)
	}
	document, err := bson.Marshal(replacement)
	if err != nil {
		return nil, err
	}
	f.documents[documentID(filter)] = document
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (f *fakeCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	id := documentID(filter)
	if _, ok := f.documents[id]; !ok {
		return &mongo.DeleteResult{}, nil
	}
	delete(f.documents, id)
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

var _ = Describe("MongoStore", func() {
	var collection *fakeCollection
	var store *checkpoint.MongoStore

	storeBehaviour(func() checkpoint.Store {
		collection = newFakeCollection()
		store = checkpoint.NewMongoStore(collection)
		return store
	})

	It("upserts a document keyed by the checkpoint key", func() {
		Expect(store.Save(context.Background(), key, cdc.NewResumeToken("8266A1"))).To(Succeed())
		Expect(collection.upserts).To(Equal([]bool{true}))

		document, ok := collection.documents[key]
		Expect(ok).To(BeTrue())
		Expect(document.Lookup("_id").StringValue()).To(Equal(key))
		Expect(document.Lookup("resumeToken", "_data").StringValue()).To(Equal("8266A1"))
		Expect(document.Lookup("updatedTime").Time()).To(BeTemporally("~", time.Now(), time.Minute))
	})

	It("returns an error when the collection fails", func() {
		collection.err = errors.New("connection refused")

		_, err := store.Load(context.Background(), key)
		Expect(err).To(MatchError(ContainSubstring("unable to load checkpoint")))
		Expect(store.Save(context.Background(), key, cdc.NewResumeToken("8266A1"))).ToNot(Succeed())
		Expect(store.Clear(context.Background(), key)).ToNot(Succeed())
	})
})

var _ = Describe("PebbleStore", func() {
	var dir string
	var store *checkpoint.PebbleStore

	storeBehaviour(func() checkpoint.Store {
		var err error
		dir, err = os.MkdirTemp("", "checkpoints")
		Expect(err).ToNot(HaveOccurred())
		store, err = checkpoint.OpenPebbleStore(dir)
		Expect(err).ToNot(HaveOccurred())
		return store
	})

	AfterEach(func() {
		if store != nil {
			Expect(store.Close()).To(Succeed())
		}
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("persists checkpoints across reopens", func() {
		Expect(store.Save(context.Background(), key, cdc.NewResumeToken("8266A1"))).To(Succeed())
		Expect(store.Close()).To(Succeed())

		var err error
		store, err = checkpoint.OpenPebbleStore(dir)
		Expect(err).ToNot(HaveOccurred())

		token, err := store.Load(context.Background(), key)
		Expect(err).ToNot(HaveOccurred())
		Expect(token).To(Equal(cdc.NewResumeToken("8266A1")))
	})
})

var _ = Describe("RedisStore", func() {
	var server *miniredis.Miniredis
	var store *checkpoint.RedisStore

	storeBehaviour(func() checkpoint.Store {
		var err error
		server, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		store = checkpoint.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
		return store
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
		server.Close()
	})

	It("stores the raw token under the key", func() {
		Expect(store.Save(context.Background(), key, cdc.NewResumeToken("8266A1"))).To(Succeed())

		value, err := server.Get(key)
		Expect(err).ToNot(HaveOccurred())
		Expect([]byte(value)).To(Equal([]byte(cdc.NewResumeToken("8266A1"))))
	})

	It("returns an error when redis fails", func() {
		server.SetError("ERR out of memory")
		_, err := store.Load(context.Background(), key)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("NoopStore", func() {
	It("never returns a checkpoint", func() {
		store := checkpoint.NoopStore{}
		Expect(store.Save(context.Background(), key, cdc.NewResumeToken("8266A1"))).To(Succeed())

		token, err := store.Load(context.Background(), key)
		Expect(err).ToNot(HaveOccurred())
		Expect(token).To(BeNil())
	})
})

var _ = Describe("NewStore", func() {
	var lifecycle *fxtest.Lifecycle

	params := func(backend string) checkpoint.Params {
		return checkpoint.Params{
			Config:     checkpoint.Config{Backend: backend, Collection: "cdc_checkpoints"},
			FeedConfig: feed.Config{Database: "orders", Collection: "orders_source"},
			Logger:     zap.NewNop().Sugar(),
			Lifecycle:  lifecycle,
		}
	}

	BeforeEach(func() {
		lifecycle = fxtest.NewLifecycle(GinkgoT())
	})

	It("creates the configured backend", func() {
		store, err := checkpoint.NewStore(params(checkpoint.BackendMemory))
		Expect(err).ToNot(HaveOccurred())
		Expect(store).To(BeAssignableToTypeOf(&checkpoint.MemoryStore{}))

		lifecycle.RequireStart().RequireStop()
	})

	It("requires a mongo client for the mongo backend", func() {
		_, err := checkpoint.NewStore(params(checkpoint.BackendMongo))
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown backends", func() {
		_, err := checkpoint.NewStore(params("etcd"))
		Expect(err).To(HaveOccurred())
	})

	It("builds the key from the prefix and the namespace", func() {
		config := checkpoint.Config{KeyPrefix: "cdc:checkpoint:"}
		Expect(checkpoint.Key(config, "orders.orders_source")).To(Equal(key))
	})
})
