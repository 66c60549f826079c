package database

import (
	"context"
	"time"
)

const (
	DefaultQueryTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultBulkTimeout  = 30 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Timeouts bounds each class of store call. A zero field uses the
// matching Default*Timeout.
type Timeouts struct {
	// Query bounds history list and get-one reads.
	Query time.Duration `mapstructure:"query" yaml:"query"`
	// Write bounds single inserts and identity upserts.
	Write time.Duration `mapstructure:"write" yaml:"write"`
	// Bulk bounds clearing an owner's history and migrations.
	Bulk time.Duration `mapstructure:"bulk" yaml:"bulk"`
	// Probe bounds readiness and keep-alive checks.
	Probe time.Duration `mapstructure:"probe" yaml:"probe"`
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Query: DefaultQueryTimeout,
		Write: DefaultWriteTimeout,
		Bulk:  DefaultBulkTimeout,
		Probe: DefaultProbeTimeout,
	}
}

func (t Timeouts) QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, or(t.Query, DefaultQueryTimeout))
}

func (t Timeouts) WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, or(t.Write, DefaultWriteTimeout))
}

func (t Timeouts) BulkContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, or(t.Bulk, DefaultBulkTimeout))
}

func (t Timeouts) ProbeContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, or(t.Probe, DefaultProbeTimeout))
}

// DetachedContext is WriteContext on a context that keeps parent's values
// but not its cancellation, for writes that must land after the caller
// has gone.
func (t Timeouts) DetachedContext(parent context.Context) (context.Context, context.CancelFunc) {
	return t.WriteContext(context.WithoutCancel(parent))
}

func or(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
