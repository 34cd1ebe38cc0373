// Package ledger persists proof records against an append-only
// commitment-keyed store and looks them up during verification.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/medhash-labs/medhash/pkg/commitment"
)

// ProofRecord is one stored commitment with its timestamp and an opaque
// external locator. SubmissionRef exists for user-facing traceability
// only; verification is driven solely by lookup of the commitment and
// its stored timestamp.
type ProofRecord struct {
	Commitment    commitment.Commitment `json:"commitment"`
	Timestamp     time.Time             `json:"timestamp"`
	SubmissionRef string                `json:"submission_ref"`
	CreatedAt     time.Time             `json:"created_at"`

	// Lookup bookkeeping, user-facing only.
	Verifications int64      `json:"verifications,omitempty"`
	LastVerified  *time.Time `json:"last_verified,omitempty"`
}

// Ledger is the durable interface for proof records.
//
// Submit is store-if-absent: submitting a commitment that already
// exists returns the existing record with its original timestamp, so a
// retried submission is never double counted and never errors as a
// duplicate. Lookup reports absence as (zero, false, nil); errors are
// reserved for transport and storage failures.
type Ledger interface {
	Submit(ctx context.Context, c commitment.Commitment, ts time.Time) (ProofRecord, error)
	Lookup(ctx context.Context, c commitment.Commitment) (ProofRecord, bool, error)
}

// ExplorerURL renders the human-readable explorer link for a
// submission reference. Plain string templating, no cryptographic
// meaning: every "{ref}" in the template is replaced.
func ExplorerURL(template, ref string) string {
	if template == "" || ref == "" {
		return ""
	}
	return strings.ReplaceAll(template, "{ref}", ref)
}
