package dispatch

import (
	"context"
	"sync"
)

// Barrier holds a fixed number of participants until all have arrived, then
// releases them together. One-shot: a fresh barrier is created for every
// release group so recycled workers re-synchronize cleanly.
type Barrier struct {
	n       int
	mu      sync.Mutex
	arrived int
	release chan struct{}
}

// NewBarrier creates a barrier for n participants.
func NewBarrier(n int) *Barrier {
	return &Barrier{
		n:       n,
		release: make(chan struct{}),
	}
}

// Await registers arrival and blocks until every participant has arrived or
// the context is cancelled. The n-th arrival unblocks all waiters at once.
func (b *Barrier) Await(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
