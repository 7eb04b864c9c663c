package publisher

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/tidepool-org/cdc-worker/cdc"
)

// SyncProducerFactory creates the sarama producer, replaced with a mock in tests
type SyncProducerFactory func(brokers []string, config *sarama.Config) (sarama.SyncProducer, error)

func NewSyncProducer(brokers []string, config *sarama.Config) (sarama.SyncProducer, error) {
	return sarama.NewSyncProducer(brokers, config)
}

// KafkaDestination appends events to a kafka topic. Events are keyed by the document key,
// so changes to the same document land in the same partition in order.
type KafkaDestination struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaConfig(config KafkaConfig) (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(config.Version)
	if err != nil {
		return nil, cdc.Fatal(errors.Wrap(err, "invalid kafka version"))
	}

	cfg := sarama.NewConfig()
	cfg.Version = version
	cfg.ClientID = config.ClientID
	// We are using a sync producer which requires setting the variables below
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	// A single in-flight request preserves ordering when the producer retries
	cfg.Net.MaxOpenRequests = 1

	return cfg, nil
}

func OpenKafkaDestination(config KafkaConfig, newProducer SyncProducerFactory) (*KafkaDestination, error) {
	cfg, err := NewSaramaConfig(config)
	if err != nil {
		return nil, err
	}

	producer, err := newProducer(config.Brokers, cfg)
	if err != nil {
		return nil, fatalIfAuthError(errors.Wrap(err, "unable to create kafka producer"))
	}

	return &KafkaDestination{
		producer: producer,
		topic:    config.Topic,
	}, nil
}

func (k *KafkaDestination) Append(_ context.Context, message Message) (string, error) {
	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Value: sarama.ByteEncoder(message.Value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte(message.ContentType)},
			{Key: []byte("operation-type"), Value: []byte(message.OperationType)},
		},
	}
	if message.Key != "" {
		msg.Key = sarama.StringEncoder(message.Key)
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return "", errors.Wrapf(err, "unable to produce message to topic '%s'", k.topic)
	}

	return fmt.Sprintf("%d-%d", partition, offset), nil
}

func (k *KafkaDestination) Close() error {
	return k.producer.Close()
}

var _ Destination = &KafkaDestination{}
