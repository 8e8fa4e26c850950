// Package chflow provides context-aware channel send and receive helpers so
// blocking channel operations honor cancellation.
package chflow

import "context"

// Receive waits for a value or for ctx to end. ok is false when ctx ended or
// the channel closed.
func Receive[T any](ctx context.Context, ch <-chan T) (T, bool) {
	var data T
	select {
	case <-ctx.Done():
		return data, false
	case data, ok := <-ch:
		return data, ok
	}
}

// Send delivers data unless ctx ends first, reporting whether it was sent.
func Send[T any](ctx context.Context, ch chan<- T, data T) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- data:
		return true
	}
}
