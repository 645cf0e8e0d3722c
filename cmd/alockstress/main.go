// alockstress hammers an array queue lock from a pool of goroutines and reports
// whether mutual exclusion, FIFO admission and the single-token invariant held.
//
// By default the worker count must not exceed the lock capacity. --bounded routes
// workers through the admission gate so any worker count is safe.
// --oversubscribe deliberately runs more workers than slots to show slot aliasing;
// violations are then expected and do not change the exit status.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/ahrav/go-alock/internal/stress"
)

// exitViolations is the exit status when a run within capacity observed violations.
const exitViolations = 2

type violationError struct{ count int64 }

func (e violationError) Error() string { return fmt.Sprintf("%d lock violations observed", e.count) }

func (violationError) ExitCode() int { return exitViolations }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run() error {
	var cfg stress.Config
	var timeout time.Duration
	var logFormat string
	var logLevel string

	flagSet := pflag.NewFlagSet("alockstress", pflag.ContinueOnError)
	flagSet.IntVarP(&cfg.Capacity, "capacity", "c", 4, "lock capacity (number of flag slots)")
	flagSet.IntVarP(&cfg.Workers, "workers", "w", 4, "number of contending goroutines")
	flagSet.IntVarP(&cfg.Iterations, "iterations", "n", 10000, "acquisitions per worker")
	flagSet.IntVar(&cfg.Work, "work", 64, "upper bound of busy-loop iterations inside each critical section")
	flagSet.BoolVar(&cfg.Bounded, "bounded", false, "admit workers through the capacity gate")
	flagSet.BoolVar(&cfg.Unpadded, "unpadded", false, "pack flag cells without cache line padding")
	flagSet.BoolVar(&cfg.AllowOversubscribe, "oversubscribe", false, "allow more workers than capacity without the gate")
	flagSet.DurationVar(&timeout, "timeout", time.Minute, "abort the run after this long")
	flagSet.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	logger, err := newLogger(logFormat, logLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := stress.Run(ctx, logger, cfg)
	if err != nil {
		return err
	}

	logger.Info("stress run complete",
		"capacity", cfg.Capacity,
		"workers", cfg.Workers,
		"report", report,
	)

	if v := report.Violations(); v > 0 {
		if cfg.AllowOversubscribe && cfg.Workers > cfg.Capacity && !cfg.Bounded {
			logger.Warn("violations observed under oversubscription", "violations", v)
			return nil
		}
		return violationError{count: v}
	}
	return nil
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
	}
}
