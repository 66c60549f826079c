// Package ratelimit implements per-client fixed-window request budgets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy names of the built-in budgets.
const (
	PolicyConvert = "convert"
	PolicyHistory = "history"
	PolicyAuth    = "auth"
)

// ErrInvalidPolicy is returned for a policy without a positive budget or window.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Policy is a budget of MaxRequests per Window.
type Policy struct {
	Name        string        `mapstructure:"-" yaml:"-"`
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
	Window      time.Duration `mapstructure:"window" yaml:"window"`
}

func (p Policy) Validate() error {
	if p.MaxRequests <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: %q (max_requests=%d window=%s)", ErrInvalidPolicy, p.Name, p.MaxRequests, p.Window)
	}
	return nil
}

// DefaultPolicies are 10/min for conversion, 30/min for history and
// 5/min for identity lookups.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicyConvert, MaxRequests: 10, Window: time.Minute},
		{Name: PolicyHistory, MaxRequests: 30, Window: time.Minute},
		{Name: PolicyAuth, MaxRequests: 5, Window: time.Minute},
	}
}

// Result is the outcome of one Check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r Result) RetryAfterSeconds() int64 {
	if r.RetryAfter <= 0 {
		return 0
	}
	ms := r.RetryAfter.Milliseconds()
	if r.RetryAfter%time.Millisecond != 0 {
		ms++
	}
	return (ms + 999) / 1000
}

// Limiter charges one request against key under policy p.
type Limiter interface {
	Check(ctx context.Context, key string, p Policy) (Result, error)
	Close() error
}

// Key namespaces a client key by policy so budgets never share a window.
func Key(policy, client string) string {
	return policy + ":" + client
}

// NoOpLimiter admits everything. Used when rate limiting is disabled.
type NoOpLimiter struct{}

func (NoOpLimiter) Check(_ context.Context, _ string, p Policy) (Result, error) {
	return Result{Allowed: true, Limit: p.MaxRequests, Remaining: p.MaxRequests}, nil
}

func (NoOpLimiter) Close() error {
	return nil
}
