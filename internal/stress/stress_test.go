package stress

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-alock/alock"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestConfigValidate(t *testing.T) {
	valid := Config{Capacity: 4, Workers: 4, Iterations: 10}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		invalid bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantErr: alock.ErrInvalidCapacity},
		{name: "no workers", mutate: func(c *Config) { c.Workers = 0 }, invalid: true},
		{name: "no iterations", mutate: func(c *Config) { c.Iterations = -1 }, invalid: true},
		{name: "negative work", mutate: func(c *Config) { c.Work = -1 }, invalid: true},
		{name: "oversubscribed", mutate: func(c *Config) { c.Workers = 5 }, wantErr: ErrOversubscribed},
		{name: "oversubscribed with gate", mutate: func(c *Config) { c.Workers = 5; c.Bounded = true }},
		{name: "oversubscribed on purpose", mutate: func(c *Config) { c.Workers = 5; c.AllowOversubscribe = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.invalid:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunWithinCapacity(t *testing.T) {
	for _, unpadded := range []bool{false, true} {
		cfg := Config{Capacity: 4, Workers: 4, Iterations: 500, Work: 32, Unpadded: unpadded}
		report, err := Run(context.Background(), discardLogger(), cfg)
		require.NoError(t, err)

		assert.Equal(t, int64(cfg.Workers*cfg.Iterations), report.Acquisitions)
		assert.Zero(t, report.Violations(), "report: %+v", report)
	}
}

func TestRunBounded(t *testing.T) {
	cfg := Config{Capacity: 3, Workers: 24, Iterations: 100, Work: 16, Bounded: true}
	report, err := Run(context.Background(), discardLogger(), cfg)
	require.NoError(t, err)

	assert.Equal(t, int64(cfg.Workers*cfg.Iterations), report.Acquisitions)
	assert.Zero(t, report.Violations(), "report: %+v", report)
}

func TestRunRejectsOversubscription(t *testing.T) {
	_, err := Run(context.Background(), discardLogger(), Config{Capacity: 1, Workers: 2, Iterations: 1})
	assert.ErrorIs(t, err, ErrOversubscribed)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Run(ctx, discardLogger(), Config{Capacity: 2, Workers: 2, Iterations: 1000, Bounded: true})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, report.Acquisitions)
}

func TestReportLogValue(t *testing.T) {
	r := Report{Acquisitions: 10, Overlaps: 1, OutOfOrder: 2, TokenFaults: 3}
	assert.Equal(t, int64(6), r.Violations())

	attrs := r.LogValue().Group()
	require.Len(t, attrs, 5)
	assert.Equal(t, "acquisitions", attrs[0].Key)
	assert.Equal(t, int64(10), attrs[0].Value.Int64())
}
