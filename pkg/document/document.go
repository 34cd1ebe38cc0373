// Package document fetches and parses source documents from PubMed.
package document

import (
	"errors"
	"fmt"
	"time"
)

// SourceDocument is one fetched abstract with its metadata. It is owned
// by the pipeline run that fetched it and is never persisted beyond the
// optional read-through cache.
type SourceDocument struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	BodyText  string            `json:"body_text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// ErrNotFound means the upstream reports no record for the identifier.
// Never retried.
var ErrNotFound = errors.New("document: not found")

// ErrTimeout means the upstream did not respond within the configured
// deadline. Retried up to the policy budget.
var ErrTimeout = errors.New("document: upstream timeout")

// ErrUpstream covers non-2xx responses and parse failures. Server-side
// failures are retried; client-side ones are not.
var ErrUpstream = errors.New("document: upstream error")

// RateLimitedError means the local rate limiter denied acquisition.
// The caller should retry after the embedded duration.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("document: rate limited, retry after %s", e.RetryAfter)
}
