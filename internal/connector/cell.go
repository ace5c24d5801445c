package connector

import (
	"context"
	"sync"
)

// Cell is a single-assignment result. The first Resolve wins; later calls
// are no-ops, so a handshake reply, a timeout and a cancellation may all
// race to resolve the same cell safely.
type Cell[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
}

// NewCell returns an unresolved cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Resolve stores v if the cell is unresolved and reports whether it did.
func (c *Cell[T]) Resolve(v T) (won bool) {
	c.once.Do(func() {
		c.val = v
		close(c.done)
		won = true
	})
	return won
}

// Done is closed once the cell is resolved.
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// Value returns the resolved value, and false while unresolved.
func (c *Cell[T]) Value() (T, bool) {
	select {
	case <-c.done:
		return c.val, true
	default:
		var zero T
		return zero, false
	}
}

// Wait blocks until the cell resolves or ctx ends.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
