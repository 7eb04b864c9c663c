package checkpoint

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(config Config) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{
		Addr:     config.RedisAddress(),
		Password: config.RedisPassword,
		DB:       config.RedisDatabase,
	}))
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Load(ctx context.Context, key string) (bson.Raw, error) {
	token, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "unable to load checkpoint %s", key)
	}
	return clone(token), nil
}

func (r *RedisStore) Save(ctx context.Context, key string, token bson.Raw) error {
	if err := r.client.Set(ctx, key, []byte(token), 0).Err(); err != nil {
		return errors.Wrapf(err, "unable to save checkpoint %s", key)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(err, "unable to clear checkpoint %s", key)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = &RedisStore{}
