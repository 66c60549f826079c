package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/telhawk-systems/tabula/internal/metrics"
)

// DefaultSweepInterval is how often expired windows are removed.
const DefaultSweepInterval = 5 * time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps fixed windows in a process-local map behind a single
// mutex. The lock is never held across I/O.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	now           func() time.Time
	sweepInterval time.Duration
	logger        *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now. Tests use it to cross window boundaries.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) { m.now = now }
}

// WithSweepInterval sets the sweeper period. Zero disables the sweeper.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryLimiter) { m.sweepInterval = d }
}

func WithLogger(l *slog.Logger) MemoryOption {
	return func(m *MemoryLimiter) { m.logger = l }
}

// NewMemoryLimiter creates a limiter and starts its sweeper.
// Close stops the sweeper.
func NewMemoryLimiter(opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		windows:       make(map[string]*window),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.sweepInterval > 0 {
		go m.sweepLoop()
	} else {
		close(m.done)
	}
	return m
}

// Check charges one request to key. A window that has reached its reset
// time is replaced by a fresh one holding this request.
func (m *MemoryLimiter) Check(_ context.Context, key string, p Policy) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 1, resetAt: now.Add(p.Window)}
		m.windows[key] = w
		metrics.RateLimitEntries.Set(float64(len(m.windows)))
		return Result{
			Allowed:   true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests - 1,
			ResetAt:   w.resetAt,
		}, nil
	}

	if w.count < p.MaxRequests {
		w.count++
		return Result{
			Allowed:   true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests - w.count,
			ResetAt:   w.resetAt,
		}, nil
	}

	metrics.RateLimitRejections.WithLabelValues(p.Name).Inc()
	return Result{
		Allowed:    false,
		Limit:      p.MaxRequests,
		Remaining:  0,
		ResetAt:    w.resetAt,
		RetryAfter: w.resetAt.Sub(now),
	}, nil
}

// Sweep removes every window whose reset time has passed and returns how
// many were removed. A Check for a swept key simply opens a new window.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
			removed++
		}
	}
	metrics.RateLimitEntries.Set(float64(len(m.windows)))
	metrics.RateLimitSwept.Add(float64(removed))
	return removed
}

// Len returns the number of tracked windows.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

func (m *MemoryLimiter) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("rate limit windows swept", slog.Int("removed", n))
			}
		case <-m.stop:
			return
		}
	}
}

// Close stops the sweeper and waits for it to exit.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}
