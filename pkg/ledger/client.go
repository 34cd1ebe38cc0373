package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/medhash-labs/medhash/pkg/commitment"
	"github.com/medhash-labs/medhash/pkg/resiliency"
)

// Client composes a Ledger backend with a circuit breaker and a retry
// policy. Retries are suppressed while the breaker is open: the open
// circuit surfaces immediately instead of feeding a retry storm. A call
// that reached the backend and was then cancelled still counts as a
// failure for breaker purposes.
type Client struct {
	inner   Ledger
	breaker *resiliency.CircuitBreaker
	retry   resiliency.RetryPolicy
	logger  *slog.Logger
}

// NewClient wraps inner with the given policies.
func NewClient(inner Ledger, breaker *resiliency.CircuitBreaker, retry resiliency.RetryPolicy, logger *slog.Logger) *Client {
	return &Client{
		inner:   inner,
		breaker: breaker,
		retry:   retry,
		logger:  logger.With("component", "ledgerclient"),
	}
}

// Breaker exposes the underlying breaker for health inspection.
func (c *Client) Breaker() *resiliency.CircuitBreaker { return c.breaker }

// Submit implements Ledger.
func (c *Client) Submit(ctx context.Context, cm commitment.Commitment, ts time.Time) (ProofRecord, error) {
	var rec ProofRecord
	attempt := 0
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := c.breaker.Allow(); err != nil {
			return resiliency.Permanent(err)
		}
		r, err := c.inner.Submit(ctx, cm, ts)
		if err != nil {
			c.breaker.RecordFailure()
			c.logger.WarnContext(ctx, "submit attempt failed",
				"commitment", cm.String(), "attempt", attempt, "error", err)
			return err
		}
		c.breaker.RecordSuccess()
		rec = r
		return nil
	})
	if err != nil {
		return ProofRecord{}, err
	}
	return rec, nil
}

// Lookup implements Ledger. A negative result is a backend success.
func (c *Client) Lookup(ctx context.Context, cm commitment.Commitment) (ProofRecord, bool, error) {
	var (
		rec   ProofRecord
		found bool
	)
	attempt := 0
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		if err := c.breaker.Allow(); err != nil {
			return resiliency.Permanent(err)
		}
		r, ok, err := c.inner.Lookup(ctx, cm)
		if err != nil {
			c.breaker.RecordFailure()
			c.logger.WarnContext(ctx, "lookup attempt failed",
				"commitment", cm.String(), "attempt", attempt, "error", err)
			return err
		}
		c.breaker.RecordSuccess()
		rec, found = r, ok
		return nil
	})
	if err != nil {
		return ProofRecord{}, false, err
	}
	return rec, found, nil
}
