package publisher

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

const (
	redisEventField = "event_data"
	redisKeyField   = "key"
)

// RedisDestination appends events to a redis stream with XADD
type RedisDestination struct {
	client *redis.Client
	config RedisConfig
}

func OpenRedisDestination(ctx context.Context, config RedisConfig) (*RedisDestination, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address(),
		Password: config.Password,
		DB:       config.Database,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fatalIfAuthError(errors.Wrap(err, "unable to ping redis"))
	}

	return NewRedisDestination(client, config), nil
}

func NewRedisDestination(client *redis.Client, config RedisConfig) *RedisDestination {
	return &RedisDestination{
		client: client,
		config: config,
	}
}

func (r *RedisDestination) Append(ctx context.Context, message Message) (string, error) {
	args := &redis.XAddArgs{
		Stream: r.config.StreamName,
		ID:     "*",
		Values: []interface{}{
			redisEventField, string(message.Value),
			redisKeyField, message.Key,
		},
	}
	if r.config.MaxLen > 0 {
		args.MaxLen = r.config.MaxLen
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", errors.Wrapf(err, "unable to write message to stream '%s'", r.config.StreamName)
	}
	return id, nil
}

func (r *RedisDestination) Close() error {
	return r.client.Close()
}

var _ Destination = &RedisDestination{}
