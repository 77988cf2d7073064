// Package quota holds the per-key sliding-window budget that caps calls to
// the external classifier.
package quota

import (
	"sync"
	"time"
)

// Service grants at most limit calls per key inside a sliding window.
// A zero or negative limit refuses every call.
type Service struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	calls  map[string][]time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(limit int, window time.Duration, opts ...Option) *Service {
	s := &Service{
		limit:  limit,
		window: window,
		now:    time.Now,
		calls:  map[string][]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records a call for key and reports whether it fits the budget.
// Refused calls are not recorded.
func (s *Service) Allow(key string) bool {
	if s == nil || s.limit <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)
	kept := s.calls[key][:0]
	for _, at := range s.calls[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) >= s.limit {
		s.calls[key] = kept
		return false
	}
	s.calls[key] = append(kept, now)
	return true
}
