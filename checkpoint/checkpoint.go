package checkpoint

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tidepool-org/cdc-worker/feed"
)

var Module = fx.Provide(
	NewConfig,
	NewStore,
)

// Store persists the last resolved resume position of a subscription, so that
// a restarted pipeline continues where the previous one left off
type Store interface {
	// Load returns nil if there's no checkpoint for the key
	Load(ctx context.Context, key string) (bson.Raw, error)
	Save(ctx context.Context, key string, token bson.Raw) error
	Clear(ctx context.Context, key string) error
	Close() error
}

type Params struct {
	fx.In

	Config      Config
	MongoClient *mongo.Client `optional:"true"`
	FeedConfig  feed.Config
	Logger      *zap.SugaredLogger
	Lifecycle   fx.Lifecycle
}

func NewStore(p Params) (Store, error) {
	store, err := newStore(p)
	if err != nil {
		return nil, err
	}

	p.Logger.Infow("using checkpoint store", "backend", p.Config.Backend)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})

	return store, nil
}

func newStore(p Params) (Store, error) {
	switch p.Config.Backend {
	case BackendRedis:
		return NewRedisStore(p.Config), nil
	case BackendMongo:
		if p.MongoClient == nil {
			return nil, errors.New("mongo client is required for the mongo checkpoint backend")
		}
		collection := p.MongoClient.Database(p.FeedConfig.Database).Collection(p.Config.Collection)
		return NewMongoStore(collection), nil
	case BackendPebble:
		return OpenPebbleStore(p.Config.Dir)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendNone:
		return NoopStore{}, nil
	default:
		return nil, errors.Errorf("unsupported checkpoint backend %q", p.Config.Backend)
	}
}

// Key returns the checkpoint key of a subscription to the namespace
func Key(config Config, namespace string) string {
	return config.KeyPrefix + namespace
}

func clone(token []byte) bson.Raw {
	if len(token) == 0 {
		return nil
	}
	return append(bson.Raw(nil), token...)
}
