package cdc

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
)

var (
	DefaultAttempts  = uint(5)
	DefaultDelay     = 500 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
	DefaultDelayType = retry.BackOffDelay
)

// Publisher appends a canonical event to the destination log and returns the append id
type Publisher interface {
	Append(ctx context.Context, event *Event) (string, error)
}

type RetryingPublisher struct {
	attempts  uint
	delay     time.Duration
	maxDelay  time.Duration
	delayType retry.DelayTypeFunc
	onRetry   retry.OnRetryFunc
	delegate  Publisher
}

type RetryOption func(r *RetryingPublisher)

func WithAttempts(attempts uint) RetryOption {
	return func(r *RetryingPublisher) {
		if attempts > 0 {
			r.attempts = attempts
		}
	}
}

func WithDelay(delay, maxDelay time.Duration) RetryOption {
	return func(r *RetryingPublisher) {
		r.delay = delay
		r.maxDelay = maxDelay
	}
}

// WithOnRetry registers a callback invoked after every failed attempt
func WithOnRetry(onRetry retry.OnRetryFunc) RetryOption {
	return func(r *RetryingPublisher) {
		if onRetry != nil {
			r.onRetry = onRetry
		}
	}
}

func NewRetryingPublisher(delegate Publisher, opts ...RetryOption) *RetryingPublisher {
	r := &RetryingPublisher{
		attempts:  DefaultAttempts,
		delay:     DefaultDelay,
		maxDelay:  DefaultMaxDelay,
		delayType: DefaultDelayType,
		onRetry:   func(n uint, err error) {},
		delegate:  delegate,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Append retries transient publish failures with exponential backoff. The returned error
// is either the context error (when the context was cancelled while waiting) or a FatalError.
func (r *RetryingPublisher) Append(ctx context.Context, event *Event) (string, error) {
	var id string
	retryFn := func() error {
		var err error
		id, err = r.delegate.Append(ctx, event)
		return err
	}

	err := retry.Do(
		retryFn,
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.MaxDelay(r.maxDelay),
		retry.DelayType(r.delayType),
		retry.RetryIf(IsRetryablePublishError),
		retry.OnRetry(r.onRetry),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err == nil {
		return id, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return "", Fatal(errors.Wrapf(err, "giving up publishing event after %d attempts", r.attempts))
}
