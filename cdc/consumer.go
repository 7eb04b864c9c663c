package cdc

import "context"

// DisabledRunner is used in place of the pipeline when CDC is disabled
type DisabledRunner struct{}

var closed = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (d *DisabledRunner) Start(_ context.Context) error {
	return nil
}

func (d *DisabledRunner) Stop(_ context.Context) error {
	return nil
}

func (d *DisabledRunner) Done() <-chan struct{} {
	return closed
}

func (d *DisabledRunner) Err() error {
	return nil
}
