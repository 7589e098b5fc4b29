package notify

import (
	"context"
	"sync"
)

// Barrier is a one-shot gate. Waiters block until Open is called; once open
// it stays open.
type Barrier struct {
	once sync.Once
	ch   chan struct{}
}

// NewBarrier creates a closed barrier.
func NewBarrier() *Barrier {
	return &Barrier{ch: make(chan struct{})}
}

// Open releases all current and future waiters.
func (b *Barrier) Open() {
	b.once.Do(func() { close(b.ch) })
}

// IsOpen reports whether Open has been called.
func (b *Barrier) IsOpen() bool {
	select {
	case <-b.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the barrier opens or ctx is done.
func (b *Barrier) Wait(ctx context.Context) error {
	select {
	case <-b.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel that is closed when the barrier opens.
func (b *Barrier) Done() <-chan struct{} {
	return b.ch
}
