package utils

import (
	"context"
	"errors"
	"time"
)

// ErrDeadlineExceeded is returned by Race when the deadline fires first.
var ErrDeadlineExceeded = errors.New("deadline exceeded")

type raceResult[T any] struct {
	value T
	err   error
}

// Race runs fn and resolves with whichever happens first: fn returning, the
// deadline channel firing, or ctx ending. Exactly one outcome is returned.
// When fn loses, its context is cancelled and it is not awaited.
func Race[T any](ctx context.Context, deadline <-chan time.Time, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithCancel(ctx)

	// buffered so the losing call can finish without a reader
	done := make(chan raceResult[T], 1)
	go func() {
		v, err := fn(callCtx)
		done <- raceResult[T]{value: v, err: err}
	}()

	var zero T
	select {
	case res := <-done:
		cancel()
		return res.value, res.err
	case <-deadline:
		cancel()
		return zero, ErrDeadlineExceeded
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}
