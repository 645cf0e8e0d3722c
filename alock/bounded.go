package alock

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Bounded pairs a Lock with a weighted semaphore holding one permit per slot, so
// any number of goroutines can contend without breaking the capacity discipline.
// Waiting for a permit is cancellable; the spin on the lock itself is not.
type Bounded struct {
	lock *Lock
	sem  *semaphore.Weighted
}

// NewBounded creates a Lock of the given capacity behind an admission gate.
func NewBounded(capacity int, opts ...Option) (*Bounded, error) {
	l, err := New(capacity, opts...)
	if err != nil {
		return nil, err
	}
	return &Bounded{lock: l, sem: semaphore.NewWeighted(int64(capacity))}, nil
}

// Acquire waits for a permit and then for the lock. If ctx is done before a permit
// is granted it returns ctx.Err() without touching the lock.
func (b *Bounded) Acquire(ctx context.Context) (Slot, error) {
	if err := b.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	return b.lock.Acquire(), nil
}

// Release releases the lock and returns the permit.
func (b *Bounded) Release(s Slot) {
	b.lock.Release(s)
	b.sem.Release(1)
}

// Lock returns the underlying lock.
func (b *Bounded) Lock() *Lock { return b.lock }
