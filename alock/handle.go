package alock

import (
	"context"
	"runtime"
)

// Handle is one goroutine's view of a Lock. It records the slot its owner holds so
// Lock and Unlock can be called without passing it around, which makes it a
// sync.Locker. A Handle must not be shared between goroutines.
type Handle struct {
	lock *Lock
	slot Slot
}

// Handle returns a new handle on l for the calling goroutine.
func (l *Lock) Handle() *Handle { return &Handle{lock: l} }

// Lock acquires the lock for the goroutine owning h.
func (h *Handle) Lock() { h.slot = h.lock.Acquire() }

// Unlock releases the lock, allowing the next goroutine in the queue to acquire it.
func (h *Handle) Unlock() { h.lock.Release(h.slot) }

// TryLock attempts to acquire the lock without blocking. Returns true if successful.
func (h *Handle) TryLock() bool {
	s, ok := h.lock.TryAcquire()
	if ok {
		h.slot = s
	}
	return ok
}

// LockContext acquires the lock or gives up when ctx is done.
func (h *Handle) LockContext(ctx context.Context) error {
	s, err := h.lock.AcquireContext(ctx)
	if err != nil {
		return err
	}
	h.slot = s
	return nil
}

// AcquireContext polls TryAcquire until it succeeds or ctx is done, in which case
// ctx.Err() is returned. A goroutine that has drawn a ticket cannot leave the queue
// without breaking the hand-off chain, so no ticket is taken until the lock is free.
// As a consequence AcquireContext only gets in when the queue drains and may be
// overtaken indefinitely by Acquire callers.
func (l *Lock) AcquireContext(ctx context.Context) (Slot, error) {
	for {
		if s, ok := l.TryAcquire(); ok {
			return s, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		runtime.Gosched()
	}
}
