package scanning

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// SocketBudget bounds the number of simultaneously open sockets across a
// scan and records the highest number it has handed out. A nil budget
// grants every request.
type SocketBudget struct {
	capacity int64
	sem      *semaphore.Weighted
	active   atomic.Int64
	peak     atomic.Int64
}

// NewSocketBudget creates a budget with the specified capacity.
func NewSocketBudget(capacity int) *SocketBudget {
	if capacity <= 0 {
		capacity = 1
	}

	return &SocketBudget{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire blocks until a socket slot is free or ctx is done.
func (b *SocketBudget) Acquire(ctx context.Context) error {
	if b == nil {
		return nil
	}
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	n := b.active.Add(1)
	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			return nil
		}
	}
}

// Release returns a slot taken by Acquire.
func (b *SocketBudget) Release() {
	if b == nil {
		return
	}
	b.active.Add(-1)
	b.sem.Release(1)
}

// Capacity returns the configured limit.
func (b *SocketBudget) Capacity() int {
	if b == nil {
		return 0
	}
	return int(b.capacity)
}

// Active returns the number of slots currently held.
func (b *SocketBudget) Active() int {
	if b == nil {
		return 0
	}
	return int(b.active.Load())
}

// Available returns the number of free slots.
func (b *SocketBudget) Available() int {
	if b == nil {
		return 0
	}
	return int(b.capacity - b.active.Load())
}

// Peak returns the highest number of slots held at once.
func (b *SocketBudget) Peak() int {
	if b == nil {
		return 0
	}
	return int(b.peak.Load())
}
