package scanner

import "context"

// future hands one value from a producer goroutine to any number of
// waiters.
type future[T any] struct {
	done chan struct{}
	val  T
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// resolve must be called exactly once.
func (f *future[T]) resolve(v T) {
	f.val = v
	close(f.done)
}

// wait returns the value, or false if ctx ends first.
func (f *future[T]) wait(ctx context.Context) (T, bool) {
	select {
	case <-f.done:
		return f.val, true
	default:
	}
	select {
	case <-f.done:
		return f.val, true
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}
