package publisher

import (
	"context"
	"io"
	"strconv"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Confirmer publishes a message and waits until the broker acks or nacks it
type Confirmer interface {
	PublishAndConfirm(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (deliveryTag uint64, acked bool, err error)
	Close() error
}

// channelConfirmer publishes on a channel in confirm mode
type channelConfirmer struct {
	channel *amqp.Channel
}

func (c *channelConfirmer) PublishAndConfirm(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (uint64, bool, error) {
	dc, err := c.channel.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return 0, false, errors.Wrap(err, "unable to publish message")
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return dc.DeliveryTag, false, errors.Wrap(err, "timeout while waiting publisher confirms")
	}
	return dc.DeliveryTag, acked, nil
}

func (c *channelConfirmer) Close() error {
	return c.channel.Close()
}

// AMQPDestination publishes events to an exchange on a confirm mode channel.
// An append succeeds only after the broker acked the message.
type AMQPDestination struct {
	conn      io.Closer
	confirmer Confirmer
	config    AMQPConfig
}

func OpenAMQPDestination(ctx context.Context, config AMQPConfig, logger *zap.SugaredLogger) (*AMQPDestination, error) {
	conn, err := amqp.DialConfig(config.URL, amqp.Config{
		Heartbeat: config.Heartbeat,
		Dial:      amqp.DefaultDial(config.ConnectionTimeout),
		Properties: amqp.Table{
			"connection_name": config.ConnectionName,
		},
	})
	if err != nil {
		return nil, fatalIfAuthError(errors.Wrap(err, "rabbitmq dial"))
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq channel")
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbitmq confirm mode")
	}

	if err := ch.ExchangeDeclare(config.Exchange, config.ExchangeType, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fatalIfAuthError(errors.Wrap(err, "rabbitmq topology"))
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			logger.Warnw("rabbitmq connection closed", "error", err.Error())
		}
	}()

	return NewAMQPDestination(&channelConfirmer{channel: ch}, conn, config), nil
}

func NewAMQPDestination(confirmer Confirmer, conn io.Closer, config AMQPConfig) *AMQPDestination {
	return &AMQPDestination{
		conn:      conn,
		confirmer: confirmer,
		config:    config,
	}
}

func (a *AMQPDestination) Append(ctx context.Context, message Message) (string, error) {
	headers := amqp.Table{}
	if message.Key != "" {
		headers["key"] = message.Key
	}

	tag, acked, err := a.confirmer.PublishAndConfirm(ctx, a.config.Exchange, a.config.RoutingKey, amqp.Publishing{
		ContentType:  message.ContentType,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         message.Value,
		Type:         string(message.OperationType),
	})
	if err != nil {
		return "", err
	}
	if !acked {
		return "", errors.Errorf("publisher nack, delivery_tag=%d", tag)
	}

	return strconv.FormatUint(tag, 10), nil
}

func (a *AMQPDestination) Close() error {
	var firstErr error
	if err := a.confirmer.Close(); err != nil {
		firstErr = err
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ Destination = &AMQPDestination{}
