package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/feed"
	"github.com/tidepool-org/cdc-worker/publisher"
)

var errReconnectTimeout = errors.New("exceeded the maximum time allowed for reconnecting")

// run holds the handles and the resume position of a single pipeline run
type run struct {
	pipeline *Pipeline
	config   Config
	deps     Dependencies
	metrics  *Metrics
	logger   *zap.SugaredLogger
	backoff  *backoff.ExponentialBackOff

	publisherHandle publisher.Handle
	publisher       cdc.Publisher
	feedHandle      feed.Handle

	// position of the last resolved record, or the opening position of the subscription
	position bson.Raw
}

func newRun(p *Pipeline) *run {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.ReconnectInitialInterval
	b.MaxInterval = p.config.ReconnectMaxInterval
	b.MaxElapsedTime = p.config.ReconnectMaxElapsed
	b.Multiplier = 2
	b.Reset()

	return &run{
		pipeline: p,
		config:   p.config,
		deps:     p.deps,
		metrics:  p.deps.Metrics,
		logger:   p.logger.With("runId", uuid.NewString(), "checkpointKey", p.deps.CheckpointKey),
		backoff:  b,
	}
}

func (r *run) loop(ctx context.Context) error {
	if err := r.openPublisher(ctx); err != nil {
		return err
	}

	position, err := r.deps.Checkpoints.Load(ctx, r.deps.CheckpointKey)
	if err != nil {
		return cdc.Fatal(errors.Wrap(err, "unable to load checkpoint"))
	}
	r.position = position
	resumeFrom := position

	// time spent opening the publisher doesn't count against the reconnect budget
	r.backoff.Reset()

	for {
		subscribed := false
		err := r.subscribe(ctx, resumeFrom)
		if err == nil {
			subscribed = true
			r.pipeline.setState(StateSubscribed)
			err = r.consume(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}

		r.closeFeed()
		if subscribed {
			// the outage starts with this fault
			r.backoff.Reset()
		}

		class := cdc.Classify(err)
		r.logger.Warnw("change stream fault", "class", class.String(), zap.Error(err))

		switch class {
		case cdc.FaultTransient:
			resumeFrom = r.position
		case cdc.FaultInvalidating:
			r.metrics.invalidations.Inc()
			r.clearCheckpoint(ctx)
			if !r.config.AutoRecover {
				return cdc.Fatal(errors.Wrap(err, "change stream can't be resumed"))
			}
			r.logger.Warnw("resubscribing from the current point in time, changes made since the last published event may be lost",
				"lastPosition", cdc.FormatPosition(r.position),
			)
			r.position = nil
			resumeFrom = nil
		default:
			return cdc.Fatal(err)
		}

		r.pipeline.setState(StateReconnecting)
		r.metrics.reconnects.WithLabelValues(class.String()).Inc()
		if err := r.wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return cdc.Fatal(errors.Wrap(err, "unable to reconnect to the change stream"))
		}
	}
}

// openPublisher connects to the destination, retrying with the reconnect backoff
func (r *run) openPublisher(ctx context.Context) error {
	for {
		handle, err := r.deps.Publishers.Open(ctx)
		if err == nil {
			r.publisherHandle = handle
			r.publisher = cdc.NewRetryingPublisher(handle, append(r.config.RetryOptions(), cdc.WithOnRetry(r.onPublishRetry))...)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var fatal *cdc.FatalError
		if errors.As(err, &fatal) {
			return err
		}

		r.logger.Warnw("unable to open publisher", zap.Error(err))
		if err := r.wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return cdc.Fatal(errors.Wrap(err, "unable to open publisher"))
		}
	}
}

func (r *run) subscribe(ctx context.Context, resumeFrom bson.Raw) error {
	handle, err := r.deps.Source.Subscribe(ctx, resumeFrom, r.deps.SubscribeOptions)
	if err != nil {
		return errors.Wrap(err, "unable to subscribe to change stream")
	}

	r.feedHandle = handle
	if len(r.position) == 0 {
		// resume from the opening position if the feed faults before the first record,
		// it's only checkpointed once a record is resolved
		r.position = handle.Position()
	}
	r.logger.Infow("subscribed to change stream",
		"resumeFrom", cdc.FormatPosition(resumeFrom),
		"position", cdc.FormatPosition(r.position),
		"includePostImage", r.deps.SubscribeOptions.IncludePostImage,
		"includePreImage", r.deps.SubscribeOptions.IncludePreImage,
	)
	return nil
}

// consume processes records until the feed faults or ctx is cancelled.
// A record is fully resolved before the next one is requested.
func (r *run) consume(ctx context.Context) error {
	for {
		record, err := r.feedHandle.Next(ctx)
		if err != nil {
			return err
		}
		if err := r.handle(ctx, record); err != nil {
			return err
		}
	}
}

func (r *run) handle(ctx context.Context, record cdc.RawChangeRecord) error {
	normalized := cdc.Normalize(record, r.deps.Clock())

	switch normalized.Decision {
	case cdc.DecisionInvalidated:
		r.logger.Warnw("change stream invalidated", "position", cdc.FormatPosition(record.Position()))
		return cdc.ErrInvalidated
	case cdc.DecisionStructural:
		r.metrics.structural.WithLabelValues(string(record.OperationType)).Inc()
		fields := []interface{}{
			"operationType", record.OperationType,
			"namespace", record.Namespace.String(),
		}
		if record.To != nil {
			fields = append(fields, "to", record.To.String())
		}
		r.logger.Infow("structural change event, not publishing", fields...)
	case cdc.DecisionUnknown:
		r.metrics.skipped.WithLabelValues(string(record.OperationType)).Inc()
		r.logger.Warnw("unhandled operation type, not publishing",
			"operationType", record.OperationType,
			"namespace", record.Namespace.String(),
		)
	case cdc.DecisionPublish:
		if err := r.publish(ctx, normalized.Event); err != nil {
			return err
		}
	}

	r.advance(ctx, record.Position())
	return nil
}

func (r *run) publish(ctx context.Context, event *cdc.Event) error {
	start := time.Now()
	id, err := r.publisher.Append(ctx, event)
	if err != nil {
		if ctx.Err() == nil {
			r.metrics.publishErrors.Inc()
			r.logger.Errorw("unable to publish event",
				"operationType", event.OperationType,
				"documentId", cdc.FormatDocumentID(event.DocumentID()),
				"namespace", event.Namespace.String(),
				zap.Error(err),
			)
		}
		return err
	}

	r.metrics.publishLatency.Observe(time.Since(start).Seconds())
	r.metrics.published.WithLabelValues(string(event.OperationType)).Inc()
	r.logger.Infow("event published",
		"operationType", event.OperationType,
		"documentId", cdc.FormatDocumentID(event.DocumentID()),
		"namespace", event.Namespace.String(),
		"appendId", id,
	)
	return nil
}

func (r *run) onPublishRetry(attempt uint, err error) {
	r.metrics.publishRetries.Inc()
	r.logger.Warnw("publish attempt failed, retrying", "attempt", attempt+1, zap.Error(err))
}

// advance moves the resume position past a resolved record and persists it.
// Checkpoint failures only cause redelivery after a restart, so they don't stop the pipeline.
func (r *run) advance(ctx context.Context, position bson.Raw) {
	if len(position) == 0 {
		return
	}
	r.position = position

	if err := r.deps.Checkpoints.Save(ctx, r.deps.CheckpointKey, position); err != nil {
		r.metrics.checkpointErrors.Inc()
		r.logger.Warnw("unable to save checkpoint", "position", cdc.FormatPosition(position), zap.Error(err))
	}
}

func (r *run) clearCheckpoint(ctx context.Context) {
	if err := r.deps.Checkpoints.Clear(ctx, r.deps.CheckpointKey); err != nil {
		r.metrics.checkpointErrors.Inc()
		r.logger.Warnw("unable to clear checkpoint", zap.Error(err))
	}
}

// wait blocks for the next backoff interval or until ctx is cancelled
func (r *run) wait(ctx context.Context) error {
	delay := r.backoff.NextBackOff()
	if delay == backoff.Stop {
		return errReconnectTimeout
	}

	r.logger.Infow("reconnecting", "delay", delay.String())

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *run) closeFeed() {
	if r.feedHandle == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer cancel()

	if err := r.feedHandle.Close(ctx); err != nil {
		r.logger.Warnw("error closing change stream", zap.Error(err))
	}
	r.feedHandle = nil
}

// teardown releases both handles concurrently
func (r *run) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.ShutdownTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	if handle := r.feedHandle; handle != nil {
		g.Go(func() error {
			return errors.Wrap(handle.Close(ctx), "error closing change stream")
		})
	}
	if handle := r.publisherHandle; handle != nil {
		g.Go(func() error {
			return errors.Wrap(handle.Close(), "error closing publisher")
		})
	}

	if err := g.Wait(); err != nil {
		r.logger.Warnw("error releasing pipeline resources", zap.Error(err))
	}
	r.feedHandle = nil
	r.publisherHandle = nil
}
