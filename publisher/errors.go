package publisher

import (
	"strings"

	"github.com/Shopify/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tidepool-org/cdc-worker/cdc"
)

var redisAuthErrorPrefixes = []string{"WRONGPASS", "NOAUTH", "NOPERM"}

// IsAuthError returns true if the destination rejected the credentials or the permissions
// of the publisher. Reconnecting won't fix these.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		for _, prefix := range redisAuthErrorPrefixes {
			if strings.HasPrefix(redisErr.Error(), prefix) {
				return true
			}
		}
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
		return true
	}

	var kafkaErr sarama.KError
	if errors.As(err, &kafkaErr) {
		switch kafkaErr {
		case sarama.ErrSASLAuthenticationFailed, sarama.ErrTopicAuthorizationFailed, sarama.ErrClusterAuthorizationFailed:
			return true
		}
	}

	return false
}

// fatalIfAuthError stops the pipeline instead of reconnecting when the credentials were rejected
func fatalIfAuthError(err error) error {
	if IsAuthError(err) {
		return cdc.Fatal(err)
	}
	return err
}
