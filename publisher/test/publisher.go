package test

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidepool-org/cdc-worker/cdc"
	"github.com/tidepool-org/cdc-worker/publisher"
)

// Factory is an in-memory destination log. Every handle opened by the factory appends to the same log.
type Factory struct {
	mu sync.Mutex

	openErrs   []error
	appendErrs []error
	block      bool

	Appended []*cdc.Event
	Attempts int
	Handles  []*Publisher
}

func NewFactory() *Factory {
	return &Factory{}
}

// FailOpen makes the next Open calls fail with the given errors
func (f *Factory) FailOpen(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErrs = append(f.openErrs, errs...)
}

// FailAppends makes the next append attempts fail with the given errors
func (f *Factory) FailAppends(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendErrs = append(f.appendErrs, errs...)
}

// BlockAppends makes appends block until their context is cancelled
func (f *Factory) BlockAppends() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = true
}

func (f *Factory) Open(_ context.Context) (publisher.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		return nil, err
	}

	handle := &Publisher{factory: f}
	f.Handles = append(f.Handles, handle)
	return handle, nil
}

// Events returns a copy of the appended events
func (f *Factory) Events() []*cdc.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*cdc.Event(nil), f.Appended...)
}

func (f *Factory) AttemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Attempts
}

func (f *Factory) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Handles)
}

// AllClosed returns true if every handle opened so far was closed
func (f *Factory) AllClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.Handles {
		if !h.closed {
			return false
		}
	}
	return true
}

type Publisher struct {
	factory *Factory
	closed  bool
}

func (p *Publisher) Append(ctx context.Context, event *cdc.Event) (string, error) {
	f := p.factory
	f.mu.Lock()
	f.Attempts++
	if p.closed {
		f.mu.Unlock()
		return "", &cdc.PublishError{Err: fmt.Errorf("publisher is closed")}
	}
	if f.block {
		f.mu.Unlock()
		<-ctx.Done()
		return "", ctx.Err()
	}
	if len(f.appendErrs) > 0 {
		err := f.appendErrs[0]
		f.appendErrs = f.appendErrs[1:]
		f.mu.Unlock()
		return "", err
	}
	defer f.mu.Unlock()

	f.Appended = append(f.Appended, event)
	return fmt.Sprintf("%d-0", len(f.Appended)), nil
}

func (p *Publisher) Close() error {
	p.factory.mu.Lock()
	defer p.factory.mu.Unlock()
	p.closed = true
	return nil
}

var _ publisher.Factory = &Factory{}
var _ publisher.Handle = &Publisher{}
