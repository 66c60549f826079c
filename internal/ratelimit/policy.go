package ratelimit

import (
	"fmt"
	"sort"
	"sync"
)

// PolicySet holds the active budgets. Replace swaps them atomically so a
// configuration reload never exposes a half-updated set.
type PolicySet struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewPolicySet(policies ...Policy) (*PolicySet, error) {
	s := &PolicySet{}
	if err := s.Replace(policies...); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the policy called name.
func (s *PolicySet) Get(name string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[name]
	return p, ok
}

// MustGet is Get for the built-in policy names.
func (s *PolicySet) MustGet(name string) Policy {
	p, ok := s.Get(name)
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown policy %q", name))
	}
	return p
}

// Replace validates every policy and installs them. On error the current
// set is left untouched.
func (s *PolicySet) Replace(policies ...Policy) error {
	next := make(map[string]Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		next[p.Name] = p
	}

	s.mu.Lock()
	s.policies = next
	s.mu.Unlock()
	return nil
}

// All returns the policies sorted by name.
func (s *PolicySet) All() []Policy {
	s.mu.RLock()
	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
