package publisher

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tidepool-org/cdc-worker/cdc"
)

var Module = fx.Provide(
	NewConfig,
	NewEncoder,
	NewDestinationOpener,
	NewStreamFactory,
	func(factory *StreamFactory) Factory { return factory },
)

// Message is a serialized event ready to be appended to a destination
type Message struct {
	Key           string
	Value         []byte
	ContentType   string
	OperationType cdc.OperationType
	Namespace     string
}

//go:generate mockgen -destination=mock_destination.go -package=publisher -self_package=github.com/tidepool-org/cdc-worker/publisher github.com/tidepool-org/cdc-worker/publisher Destination

// Destination is an open connection to a durable append-only log
type Destination interface {
	// Append returns the id assigned to the entry by the destination
	Append(ctx context.Context, message Message) (string, error)
	Close() error
}

// DestinationOpener opens a new connection to the destination
type DestinationOpener func(ctx context.Context) (Destination, error)

func NewDestinationOpener(config Config, logger *zap.SugaredLogger) (DestinationOpener, error) {
	switch config.Destination {
	case DestinationRedis:
		return func(ctx context.Context) (Destination, error) {
			return OpenRedisDestination(ctx, config.Redis)
		}, nil
	case DestinationKafka:
		return func(ctx context.Context) (Destination, error) {
			return OpenKafkaDestination(config.Kafka, NewSyncProducer)
		}, nil
	case DestinationAMQP:
		return func(ctx context.Context) (Destination, error) {
			return OpenAMQPDestination(ctx, config.AMQP, logger)
		}, nil
	default:
		return nil, errors.Errorf("unsupported destination %q", config.Destination)
	}
}

// Handle is a publisher bound to a single destination connection
type Handle interface {
	cdc.Publisher
	Close() error
}

// Factory opens publisher handles. A new handle is opened for every run of the pipeline.
type Factory interface {
	Open(ctx context.Context) (Handle, error)
}

type StreamFactory struct {
	config  Config
	encoder Encoder
	open    DestinationOpener
	limiter *RateLimiter
	logger  *zap.SugaredLogger
}

func NewStreamFactory(config Config, encoder Encoder, open DestinationOpener, logger *zap.SugaredLogger) *StreamFactory {
	return &StreamFactory{
		config:  config,
		encoder: encoder,
		open:    open,
		limiter: NewRateLimiter(config.RateLimit),
		logger:  logger,
	}
}

func (s *StreamFactory) Open(ctx context.Context) (Handle, error) {
	destination, err := s.open(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to connect to %s destination", s.config.Destination)
	}

	s.logger.Infow("connected to destination",
		"destination", s.config.Destination,
		"name", s.config.Name(),
		"payloadFormat", s.config.PayloadFormat,
	)

	return NewStreamPublisher(destination, s.encoder, s.limiter), nil
}

// StreamPublisher serializes events and appends them to the destination
type StreamPublisher struct {
	destination Destination
	encoder     Encoder
	limiter     *RateLimiter
}

func NewStreamPublisher(destination Destination, encoder Encoder, limiter *RateLimiter) *StreamPublisher {
	if limiter == nil {
		limiter = NewRateLimiter(0)
	}
	return &StreamPublisher{
		destination: destination,
		encoder:     encoder,
		limiter:     limiter,
	}
}

func (s *StreamPublisher) Append(ctx context.Context, event *cdc.Event) (string, error) {
	if event == nil {
		return "", &cdc.PublishError{Err: errors.New("event is nil"), Permanent: true}
	}

	value, err := s.encoder.Encode(event)
	if err != nil {
		return "", &cdc.PublishError{Err: errors.Wrap(err, "unable to serialize event"), Permanent: true}
	}

	key, err := event.Key()
	if err != nil {
		return "", &cdc.PublishError{Err: errors.Wrap(err, "unable to serialize document key"), Permanent: true}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	id, err := s.destination.Append(ctx, Message{
		Key:           key,
		Value:         value,
		ContentType:   s.encoder.ContentType(),
		OperationType: event.OperationType,
		Namespace:     event.Namespace.String(),
	})
	if err != nil {
		return "", &cdc.PublishError{Err: err}
	}

	return id, nil
}

func (s *StreamPublisher) Close() error {
	return s.destination.Close()
}

var _ Handle = &StreamPublisher{}
