package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps one sliding window per key in process memory.
// Safe for concurrent callers; all keys share a single mutex, which is
// fine at the call rates this limiter exists to enforce.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	now func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Acquire implements Store.
func (s *MemoryStore) Acquire(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	times := s.windows[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		s.windows[key] = kept
		return Decision{
			RetryAfter: kept[0].Add(window).Sub(now),
		}, nil
	}

	s.windows[key] = append(kept, now)
	return Decision{Granted: true}, nil
}
