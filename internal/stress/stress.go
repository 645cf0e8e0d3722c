// Package stress drives an array lock with a pool of workers and checks, from inside
// every critical section, that the lock kept its promises: no two workers overlap,
// admissions follow consecutive slots, and exactly one flag carries the token.
//
// Running more workers than the lock has slots without the admission gate breaks the
// capacity discipline on purpose; the report then shows the resulting violations.
package stress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/valyala/fastrand"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-alock/alock"
)

// ErrOversubscribed is returned by Config.Validate when there are more workers than
// slots, no gate, and oversubscription was not asked for.
var ErrOversubscribed = errors.New("more workers than lock capacity")

// Config describes one stress run.
type Config struct {
	Capacity   int  // Lock capacity
	Workers    int  // Concurrent goroutines
	Iterations int  // Acquisitions per worker
	Work       int  // Upper bound of busy-loop iterations inside each critical section
	Bounded    bool // Admit workers through alock.Bounded
	Unpadded   bool // Pack flag cells without cache line padding

	// AllowOversubscribe lets Workers exceed Capacity without the gate, which
	// provokes slot aliasing.
	AllowOversubscribe bool
}

// Validate reports whether c describes a runnable configuration.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("capacity %d: %w", c.Capacity, alock.ErrInvalidCapacity)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.Iterations <= 0:
		return fmt.Errorf("iterations must be positive, got %d", c.Iterations)
	case c.Work < 0:
		return fmt.Errorf("work must not be negative, got %d", c.Work)
	case c.Workers > c.Capacity && !c.Bounded && !c.AllowOversubscribe:
		return fmt.Errorf("%d workers, capacity %d: %w", c.Workers, c.Capacity, ErrOversubscribed)
	}
	return nil
}

// Report summarizes a run.
type Report struct {
	Acquisitions int64
	// Overlaps counts critical sections entered while another was active.
	Overlaps int64
	// OutOfOrder counts admissions whose slot did not follow the previous one.
	OutOfOrder int64
	// TokenFaults counts critical sections that saw other than one token.
	TokenFaults int64
	Elapsed     time.Duration
}

// Violations is the total number of broken guarantees.
func (r Report) Violations() int64 { return r.Overlaps + r.OutOfOrder + r.TokenFaults }

// LogValue implements slog.LogValuer.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("acquisitions", r.Acquisitions),
		slog.Int64("overlaps", r.Overlaps),
		slog.Int64("out_of_order", r.OutOfOrder),
		slog.Int64("token_faults", r.TokenFaults),
		slog.Duration("elapsed", r.Elapsed),
	)
}

// acquirer abstracts over the plain and gated lock.
type acquirer interface {
	acquire(ctx context.Context) (alock.Slot, error)
	release(s alock.Slot)
}

type plain struct{ *alock.Lock }

func (p plain) acquire(context.Context) (alock.Slot, error) { return p.Acquire(), nil }
func (p plain) release(s alock.Slot)                         { p.Release(s) }

type gated struct{ *alock.Bounded }

func (g gated) acquire(ctx context.Context) (alock.Slot, error) { return g.Acquire(ctx) }
func (g gated) release(s alock.Slot)                             { g.Release(s) }

// checker holds the bookkeeping updated from inside critical sections. It uses
// atomics so that oversubscribed runs stay free of data races.
type checker struct {
	lock     *alock.Lock
	inside   atomic.Int32
	last     atomic.Int64
	acquired atomic.Int64
	overlaps atomic.Int64
	order    atomic.Int64
	tokens   atomic.Int64
	sink     atomic.Uint64
}

func (c *checker) enter(s alock.Slot) {
	if c.inside.Add(1) != 1 {
		c.overlaps.Add(1)
	}
	prev := c.last.Swap(int64(s))
	if prev >= 0 && alock.Slot((prev+1)%int64(c.lock.Capacity())) != s {
		c.order.Add(1)
	}
	if c.lock.Tokens() != 1 {
		c.tokens.Add(1)
	}
	c.acquired.Add(1)
}

func (c *checker) exit() { c.inside.Add(-1) }

// Run executes cfg and returns what the checker observed. It returns early with
// ctx.Err() when ctx is cancelled; a worker already queued on the lock still
// finishes its current critical section.
func Run(ctx context.Context, logger *slog.Logger, cfg Config) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}

	var opts []alock.Option
	if cfg.Unpadded {
		opts = append(opts, alock.WithoutPadding())
	}

	var (
		acq  acquirer
		lock *alock.Lock
	)
	if cfg.Bounded {
		b, err := alock.NewBounded(cfg.Capacity, opts...)
		if err != nil {
			return Report{}, err
		}
		acq, lock = gated{b}, b.Lock()
	} else {
		l, err := alock.New(cfg.Capacity, opts...)
		if err != nil {
			return Report{}, err
		}
		acq, lock = plain{l}, l
	}

	chk := &checker{lock: lock}
	chk.last.Store(-1)

	logger.Debug("stress run starting",
		"capacity", cfg.Capacity,
		"workers", cfg.Workers,
		"iterations", cfg.Iterations,
		"bounded", cfg.Bounded,
	)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Workers {
		g.Go(func() error {
			for i := range cfg.Iterations {
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("worker %d, iteration %d: %w", w, i, err)
				}
				s, err := acq.acquire(ctx)
				if err != nil {
					return fmt.Errorf("worker %d, iteration %d: %w", w, i, err)
				}
				chk.enter(s)
				chk.work(cfg.Work)
				chk.exit()
				acq.release(s)
			}
			return nil
		})
	}
	err := g.Wait()

	report := Report{
		Acquisitions: chk.acquired.Load(),
		Overlaps:     chk.overlaps.Load(),
		OutOfOrder:   chk.order.Load(),
		TokenFaults:  chk.tokens.Load(),
		Elapsed:      time.Since(start),
	}
	logger.Debug("stress run finished", "report", report)
	return report, err
}

// work spins for a random number of iterations below n.
func (c *checker) work(n int) {
	if n <= 0 {
		return
	}
	var acc uint64
	for range fastrand.Uint32n(uint32(n)) {
		acc++
	}
	c.sink.Add(acc)
}
