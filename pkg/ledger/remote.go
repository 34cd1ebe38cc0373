package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/medhash-labs/medhash/pkg/commitment"
)

// RemoteLedger talks JSON over HTTP to an external ledger endpoint
// exposing submit and lookup. The endpoint is expected to honor the
// same store-if-absent contract as the SQL store.
type RemoteLedger struct {
	baseURL string
	client  *http.Client
}

// NewRemoteLedger creates a client for the given endpoint base URL.
func NewRemoteLedger(baseURL string, timeout time.Duration) *RemoteLedger {
	return &RemoteLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	Commitment string `json:"commitment"`
	Timestamp  string `json:"timestamp"`
}

type recordResponse struct {
	Commitment    string     `json:"commitment"`
	Timestamp     time.Time  `json:"timestamp"`
	SubmissionRef string     `json:"submission_ref"`
	CreatedAt     time.Time  `json:"created_at"`
	Verifications int64      `json:"verifications,omitempty"`
	LastVerified  *time.Time `json:"last_verified,omitempty"`
}

// Submit implements Ledger.
func (r *RemoteLedger) Submit(ctx context.Context, c commitment.Commitment, ts time.Time) (ProofRecord, error) {
	body, err := json.Marshal(submitRequest{
		Commitment: c.String(),
		Timestamp:  commitment.CanonicalTimestamp(ts),
	})
	if err != nil {
		return ProofRecord{}, fmt.Errorf("ledger: marshal submit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/records", bytes.NewReader(body))
	if err != nil {
		return ProofRecord{}, fmt.Errorf("ledger: build submit: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return ProofRecord{}, fmt.Errorf("ledger: submit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return ProofRecord{}, fmt.Errorf("ledger: submit status %d", resp.StatusCode)
	}

	var parsed recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ProofRecord{}, fmt.Errorf("ledger: decode submit response: %w", err)
	}
	return parsed.toRecord()
}

// Lookup implements Ledger. A 404 from the endpoint is a normal
// negative result.
func (r *RemoteLedger) Lookup(ctx context.Context, c commitment.Commitment) (ProofRecord, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/records/"+c.String(), nil)
	if err != nil {
		return ProofRecord{}, false, fmt.Errorf("ledger: build lookup: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return ProofRecord{}, false, fmt.Errorf("ledger: lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ProofRecord{}, false, nil
	default:
		return ProofRecord{}, false, fmt.Errorf("ledger: lookup status %d", resp.StatusCode)
	}

	var parsed recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ProofRecord{}, false, fmt.Errorf("ledger: decode lookup response: %w", err)
	}
	rec, err := parsed.toRecord()
	if err != nil {
		return ProofRecord{}, false, err
	}
	return rec, true, nil
}

func (r *recordResponse) toRecord() (ProofRecord, error) {
	c, err := commitment.Parse(r.Commitment)
	if err != nil {
		return ProofRecord{}, fmt.Errorf("ledger: remote commitment: %w", err)
	}
	return ProofRecord{
		Commitment:    c,
		Timestamp:     r.Timestamp,
		SubmissionRef: r.SubmissionRef,
		CreatedAt:     r.CreatedAt,
		Verifications: r.Verifications,
		LastVerified:  r.LastVerified,
	}, nil
}
