package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/checkpoint"
	"github.com/tidepool-org/cdc-worker/feed"
	"github.com/tidepool-org/cdc-worker/publisher"
)

var Module = fx.Provide(
	NewConfig,
	NewMetrics,
	NewRunner,
)

type Params struct {
	fx.In

	Config           Config
	CDCConfig        cdc.Config
	FeedConfig       feed.Config
	CheckpointConfig checkpoint.Config
	Source           feed.Source
	Publishers       publisher.Factory
	Checkpoints      checkpoint.Store
	Metrics          *Metrics
	Logger           *zap.SugaredLogger
}

// NewRunner returns the pipeline, or a no-op runner if CDC is disabled
func NewRunner(p Params) cdc.Runner {
	if !p.CDCConfig.Enabled {
		p.Logger.Infow("cdc is disabled")
		return &cdc.DisabledRunner{}
	}

	return New(p.Config, Dependencies{
		Source:           p.Source,
		Publishers:       p.Publishers,
		Checkpoints:      p.Checkpoints,
		CheckpointKey:    checkpoint.Key(p.CheckpointConfig, p.FeedConfig.Namespace()),
		SubscribeOptions: p.FeedConfig.SubscribeOptions(),
		Metrics:          p.Metrics,
		Logger:           p.Logger,
	})
}

type Dependencies struct {
	Source           feed.Source
	Publishers       publisher.Factory
	Checkpoints      checkpoint.Store
	CheckpointKey    string
	SubscribeOptions feed.SubscribeOptions
	Metrics          *Metrics
	Logger           *zap.SugaredLogger
	// Clock returns the observation time of records, defaults to time.Now
	Clock func() time.Time
}

// Pipeline forwards the change events of a single subscription to the destination log.
// Records are processed one at a time in the order they were received from the feed.
type Pipeline struct {
	config Config
	deps   Dependencies
	logger *zap.SugaredLogger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func New(config Config, deps Dependencies) *Pipeline {
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Checkpoints == nil {
		deps.Checkpoints = checkpoint.NoopStore{}
	}

	done := make(chan struct{})
	close(done)

	return &Pipeline{
		config: config,
		deps:   deps,
		logger: deps.Logger,
		state:  StateStopped,
		done:   done,
	}
}

// Start begins a new run in the background. Calling Start on a running pipeline is a no-op.
func (p *Pipeline) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateStopped {
		return nil
	}

	// The run must outlive the start context, which is bound to the fx start timeout
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.cancel = cancel
	p.done = done
	p.err = nil
	p.transition(StateStarting)

	go p.run(ctx, done)
	return nil
}

// Stop interrupts the current run and waits until the handles are released or ctx expires.
// Calling Stop on a stopped pipeline is a no-op.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	done := p.done
	p.transition(StateStopping)
	p.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	r := newRun(p)
	err := r.loop(ctx)

	p.mu.Lock()
	p.transition(StateStopping)
	p.mu.Unlock()

	r.teardown()

	// A stop request always results in a clean stop
	if ctx.Err() != nil {
		err = nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.err = err
	p.transition(StateStopped)
	close(done)

	if err != nil {
		r.logger.Errorw("cdc pipeline stopped", zap.Error(err))
	} else {
		r.logger.Infow("cdc pipeline stopped")
	}
}

func (p *Pipeline) setState(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Only the run may complete a stop request
	if p.state == StateStopping || p.state == StateStopped {
		return
	}
	p.transition(state)
}

// transition must be called with the mutex held
func (p *Pipeline) transition(state State) {
	if p.state == state {
		return
	}
	p.logger.Infow("cdc pipeline state changed", "from", p.state.String(), "to", state.String())
	p.state = state
	p.deps.Metrics.state.Set(float64(state))
}

var _ cdc.Runner = &Pipeline{}
