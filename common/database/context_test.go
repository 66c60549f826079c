package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func assertDeadline(t *testing.T, ctx context.Context, start time.Time, want time.Duration) {
	t.Helper()
	deadline, ok := ctx.Deadline()
	require.True(t, ok, "expected a deadline")
	d := deadline.Sub(start)
	assert.LessOrEqual(t, d, want)
	assert.Greater(t, d, want-time.Second)
}

func TestTimeouts(t *testing.T) {
	configured := Timeouts{Query: 2 * time.Second, Write: 4 * time.Second, Bulk: 8 * time.Second, Probe: 1500 * time.Millisecond}

	tests := []struct {
		name     string
		timeouts Timeouts
		fn       func(Timeouts, context.Context) (context.Context, context.CancelFunc)
		want     time.Duration
	}{
		{"query default", DefaultTimeouts(), Timeouts.QueryContext, DefaultQueryTimeout},
		{"write default", DefaultTimeouts(), Timeouts.WriteContext, DefaultWriteTimeout},
		{"bulk default", DefaultTimeouts(), Timeouts.BulkContext, DefaultBulkTimeout},
		{"probe default", DefaultTimeouts(), Timeouts.ProbeContext, DefaultProbeTimeout},
		{"zero value falls back", Timeouts{}, Timeouts.ProbeContext, DefaultProbeTimeout},
		{"query configured", configured, Timeouts.QueryContext, 2 * time.Second},
		{"write configured", configured, Timeouts.WriteContext, 4 * time.Second},
		{"bulk configured", configured, Timeouts.BulkContext, 8 * time.Second},
		{"probe configured", configured, Timeouts.ProbeContext, 1500 * time.Millisecond},
		{"detached uses write", configured, Timeouts.DetachedContext, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			ctx, cancel := tt.fn(tt.timeouts, context.Background())
			defer cancel()
			assertDeadline(t, ctx, start, tt.want)
		})
	}
}

func TestTimeouts_ParentCanceled(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	cancel()

	ctx, done := DefaultTimeouts().WriteContext(parent)
	defer done()
	assert.Error(t, ctx.Err())

	detached, done := DefaultTimeouts().DetachedContext(parent)
	defer done()
	assert.NoError(t, detached.Err(), "detached write outlives its caller")
	assert.Equal(t, "req-1", detached.Value(ctxKey{}))
}
