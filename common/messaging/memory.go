package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by a closed MemoryBus.
var ErrClosed = errors.New("messaging: bus closed")

// MemoryBus is an in-process Client. Handlers run synchronously on the
// publishing goroutine. It backs tests and single-node deployments
// without a broker.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	return b.PublishMsg(ctx, &Message{Subject: subject, Data: data})
}

func (b *MemoryBus) PublishMsg(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*memorySubscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.IsValid() && SubjectMatches(s.subject, msg.Subject) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	delivered := *msg
	if delivered.Timestamp.IsZero() {
		delivered.Timestamp = time.Now()
	}
	var errs []error
	for _, s := range targets {
		if err := s.handler(ctx, &delivered); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *MemoryBus) Subscribe(subject string, handler MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &memorySubscription{subject: subject, handler: handler}
	s.valid.Store(true)
	b.subs = append(b.subs, s)
	return s, nil
}

func (b *MemoryBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.valid.Store(false)
	}
	b.subs = nil
	b.closed = true
	return nil
}

type memorySubscription struct {
	subject string
	handler MessageHandler
	valid   atomic.Bool
}

func (s *memorySubscription) Unsubscribe() error {
	s.valid.Store(false)
	return nil
}

func (s *memorySubscription) Subject() string { return s.subject }

func (s *memorySubscription) IsValid() bool { return s.valid.Load() }

// SubjectMatches reports whether subject matches pattern using NATS token
// rules: "*" matches one token, a trailing ">" matches one or more.
func SubjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return i == len(p)-1 && len(s) > i
		}
		if i >= len(s) {
			return false
		}
		if tok != "*" && tok != s[i] {
			return false
		}
	}
	return len(p) == len(s)
}
