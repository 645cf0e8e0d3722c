// Package alock implements an array-based queue lock, providing fair mutual exclusion for a
// fixed number of goroutines. The Lock type uses an array of flags to coordinate lock
// acquisition between goroutines, ensuring FIFO ordering by maintaining a circular queue.
//
// The array-based lock provides several benefits:
//   - Fair scheduling with FIFO ordering of lock acquisition
//   - Bounded memory usage fixed at construction, no allocation on Acquire or Release
//   - Each goroutine spins on its own dedicated flag, reducing contention
//
// Example usage:
//
//	lock := alock.MustNew(4) // Support up to 4 goroutines
//
//	// Explicit slot passing
//	s := lock.Acquire()
//	// ... critical section ...
//	lock.Release(s)
//
//	// sync.Locker, one Handle per goroutine
//	h := lock.Handle()
//	h.Lock()
//	// ... critical section ...
//	h.Unlock()
//
// The capacity must be known in advance. At most capacity goroutines may be between
// Acquire and Release at any instant. The lock does not detect a violation: an extra
// goroutine draws a ticket that aliases an occupied slot and both proceed into the
// critical section. Use Bounded when the number of contending goroutines is unbounded.
package alock

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// ErrInvalidCapacity is returned by New when the capacity is not positive.
var ErrInvalidCapacity = errors.New("capacity must be positive")

// cellStride is the number of flag words per cache line.
const cellStride = int(unsafe.Sizeof(cpu.CacheLinePad{}) / unsafe.Sizeof(uint32(0)))

// Slot identifies the flag cell a goroutine owns between Acquire and Release.
type Slot uint64

// Lock is an array queue lock for at most Capacity concurrent goroutines.
//
// Tickets are drawn from a 64-bit counter, so an instance admits at most 2^64
// acquisitions over its lifetime.
type Lock struct {
	_      noCopy
	flags  []atomic.Uint32 // Cell i lives at flags[i*stride]; exactly one cell is set
	tail   atomic.Uint64   // Next ticket to be issued
	size   uint64          // Number of cells
	stride int
}

type config struct {
	padded bool
}

// Option configures a Lock.
type Option func(*config)

// WithoutPadding packs the flag cells next to each other instead of giving each one
// its own cache line. Suitable for cache-less targets where footprint matters more
// than false sharing.
func WithoutPadding() Option {
	return func(c *config) { c.padded = false }
}

// New creates an array lock supporting up to capacity concurrent goroutines.
func New(capacity int, opts ...Option) (*Lock, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("alock: capacity %d: %w", capacity, ErrInvalidCapacity)
	}

	cfg := config{padded: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	stride := 1
	if cfg.padded && cellStride > 1 {
		stride = cellStride
	}

	l := &Lock{
		flags:  make([]atomic.Uint32, capacity*stride),
		size:   uint64(capacity),
		stride: stride,
	}
	l.cell(0).Store(1) // The first goroutine finds the token waiting.

	return l, nil
}

// MustNew is like New but panics if the capacity is invalid.
func MustNew(capacity int, opts ...Option) *Lock {
	l, err := New(capacity, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// Capacity returns the maximum number of goroutines the lock supports.
func (l *Lock) Capacity() int { return int(l.size) }

// Acquire takes the next ticket and spins until the token reaches its slot. The
// returned Slot must be passed to exactly one Release call.
func (l *Lock) Acquire() Slot {
	s := l.admit()
	l.await(s)
	return s
}

// Release hands the token to the slot after s.
func (l *Lock) Release(s Slot) { l.handoff(s) }

// TryAcquire acquires the lock only if no goroutine holds or waits for it. It never
// draws a ticket on failure, so a failed attempt leaves the queue untouched.
func (l *Lock) TryAcquire() (Slot, bool) {
	tail := l.tail.Load()
	s := l.slotOf(tail)
	if l.cell(s).Load() == 0 {
		return 0, false
	}
	if !l.tail.CompareAndSwap(tail, tail+1) {
		return 0, false
	}
	return s, true
}

// Tokens reports how many flag cells are set. While a goroutine holds the lock the
// result is exactly 1; concurrent hand-offs may make an unsynchronized scan read 0 or 2.
func (l *Lock) Tokens() int {
	n := 0
	for i := range l.size {
		if l.cell(Slot(i)).Load() != 0 {
			n++
		}
	}
	return n
}

// admit draws a ticket and maps it onto a slot.
func (l *Lock) admit() Slot { return l.slotOf(l.tail.Add(1) - 1) }

// await spins until the token reaches s.
func (l *Lock) await(s Slot) {
	flag := l.cell(s)
	for flag.Load() == 0 {
		runtime.Gosched()
	}
}

// handoff clears s and sets its successor. Nothing ever waits for a cell to be
// cleared, so the window between the two stores where no cell is set is harmless.
// With a single cell both stores hit flags[0] and the token stays there.
func (l *Lock) handoff(s Slot) {
	l.cell(s).Store(0)
	l.cell(l.next(s)).Store(1)
}

func (l *Lock) slotOf(ticket uint64) Slot { return Slot(ticket % l.size) }

func (l *Lock) next(s Slot) Slot { return Slot((uint64(s) + 1) % l.size) }

func (l *Lock) cell(s Slot) *atomic.Uint32 { return &l.flags[int(s)*l.stride] }

// noCopy may be embedded into structs which must not be copied after first use.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
