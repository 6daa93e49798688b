package models

import (
	"context"
)

// Future is a handle to a pending result from work submitted to a
// scheduler. Stop cancels the work's context; C returns the channel the
// result arrives on exactly once.
type Future[T any] struct {
	input  chan T
	cancel context.CancelFunc
}

func NewFuture[T any](input chan T, cancel context.CancelFunc) *Future[T] {
	f := &Future[T]{
		input:  input,
		cancel: cancel,
	}

	return f
}

func (f *Future[T]) C() chan T {
	return f.input
}

func (f *Future[T]) Stop() {
	f.cancel()
}
