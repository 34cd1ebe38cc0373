// Package ratelimit implements a sliding-window rate limiter keyed by
// integration name. The window state lives in a pluggable Store so a
// single process can use local memory while multi-process deployments
// share a Redis-backed window.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of an acquisition attempt. When not granted,
// RetryAfter is the duration until the oldest in-window call expires.
type Decision struct {
	Granted    bool
	RetryAfter time.Duration
}

// Store records call timestamps per key and answers sliding-window
// acquisition atomically.
type Store interface {
	Acquire(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Limiter bounds outbound calls per integration key: at most Limit calls
// within the trailing Window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// New creates a Limiter over the given store.
func New(store Store, limit int, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// TryAcquire records one call against key if the window has capacity.
func (l *Limiter) TryAcquire(ctx context.Context, key string) (Decision, error) {
	return l.store.Acquire(ctx, key, l.limit, l.window)
}
