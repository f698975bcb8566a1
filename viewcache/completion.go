package viewcache

import (
	"context"
	"sync"
)

// completion is a result cell resolved exactly once. Any number of waiters may attach before
// or after it resolves; all of them observe the same value and error.
type completion[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newCompletion[T any]() *completion[T] {
	return &completion[T]{done: make(chan struct{})}
}

// resolve reports whether this call was the one that resolved the cell.
func (c *completion[T]) resolve(value T, err error) bool {
	resolved := false
	c.once.Do(func() {
		c.value, c.err = value, err
		close(c.done)
		resolved = true
	})
	return resolved
}

func (c *completion[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// result blocks until the cell is resolved.
func (c *completion[T]) result() (T, error) {
	<-c.done
	return c.value, c.err
}
