package models

import "context"

// Work is a unit of schedulable work: given a cancellable context it
// produces a value or an error.
type Work[T any] func(ctx context.Context) (T, error)

// Result is what a Future eventually delivers.
type Result[T any] struct {
	Data T
	Err  error
}
