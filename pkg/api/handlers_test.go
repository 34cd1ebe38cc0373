package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medhash-labs/medhash/pkg/commitment"
	"github.com/medhash-labs/medhash/pkg/document"
	"github.com/medhash-labs/medhash/pkg/ledger"
	"github.com/medhash-labs/medhash/pkg/proof"
	"github.com/medhash-labs/medhash/pkg/resiliency"
	"github.com/medhash-labs/medhash/pkg/summary"
	"github.com/medhash-labs/medhash/pkg/validate"
)

var apiGeneratedAt = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

type apiRetriever struct{ err error }

func (a *apiRetriever) Fetch(_ context.Context, id string) (*document.SourceDocument, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &document.SourceDocument{ID: id, Title: "T", BodyText: "B", FetchedAt: apiGeneratedAt}, nil
}

type apiSummarizer struct{ err error }

func (a *apiSummarizer) Summarize(_ context.Context, doc *document.SourceDocument) (*summary.SummarySet, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &summary.SummarySet{
		SourceID: doc.ID,
		Variants: map[string]string{
			"short": "S.", "medium": "M.", "long": "L.",
		},
		GeneratedAt: apiGeneratedAt,
		Provider:    "test",
	}, nil
}

func (a *apiSummarizer) Audiences() []string { return []string{"short", "medium", "long"} }

type apiLedger struct {
	records map[commitment.Commitment]ledger.ProofRecord
	err     error
}

func (a *apiLedger) Submit(_ context.Context, c commitment.Commitment, ts time.Time) (ledger.ProofRecord, error) {
	if a.err != nil {
		return ledger.ProofRecord{}, a.err
	}
	rec := ledger.ProofRecord{Commitment: c, Timestamp: ts.UTC().Truncate(time.Second), SubmissionRef: "ref-1", CreatedAt: apiGeneratedAt}
	a.records[c] = rec
	return rec, nil
}

func (a *apiLedger) Lookup(_ context.Context, c commitment.Commitment) (ledger.ProofRecord, bool, error) {
	if a.err != nil {
		return ledger.ProofRecord{}, false, a.err
	}
	rec, ok := a.records[c]
	return rec, ok, nil
}

type serverFixture struct {
	server     *Server
	retriever  *apiRetriever
	summarizer *apiSummarizer
	ledger     *apiLedger
	breaker    *resiliency.CircuitBreaker
}

func newFixture() *serverFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	retriever := &apiRetriever{}
	summarizer := &apiSummarizer{}
	led := &apiLedger{records: make(map[commitment.Commitment]ledger.ProofRecord)}
	breaker := resiliency.NewCircuitBreaker("ledger", resiliency.BreakerPolicy{
		FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute,
	})

	coord := proof.NewCoordinator(
		validate.New(), retriever, summarizer, commitment.Hasher{}, led,
		"medium", "https://explorer.example/tx/{ref}", nil, logger,
	)
	return &serverFixture{
		server:     NewServer(coord, breaker, logger),
		retriever:  retriever,
		summarizer: summarizer,
		ledger:     led,
		breaker:    breaker,
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleCreateProof(t *testing.T) {
	f := newFixture()
	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"12345678"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result proof.ProofResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "medium", result.Audience)
	assert.Equal(t, "ref-1", result.Record.SubmissionRef)
	assert.Equal(t, "https://explorer.example/tx/ref-1", result.ExplorerURL)
}

func TestHandleCreateProofValidation(t *testing.T) {
	f := newFixture()
	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"not-a-pmid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "validate", problem.Stage)
}

func TestHandleCreateProofNotFound(t *testing.T) {
	f := newFixture()
	f.retriever.err = document.ErrNotFound
	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"12345678"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCreateProofRateLimited(t *testing.T) {
	f := newFixture()
	f.retriever.err = &document.RateLimitedError{RetryAfter: 2 * time.Second}
	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"12345678"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestHandleCreateProofSummariesUnavailable(t *testing.T) {
	f := newFixture()
	f.summarizer.err = summary.ErrUnavailable
	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"12345678"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleCreateProofCircuitOpen(t *testing.T) {
	f := newFixture()
	f.ledger.err = resiliency.ErrCircuitOpen
	f.breaker.RecordFailure()

	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"12345678"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestHandleCreateProofUpstreamTimeout(t *testing.T) {
	f := newFixture()
	f.retriever.err = document.ErrTimeout
	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"12345678"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleVerifyRoundTrip(t *testing.T) {
	f := newFixture()
	rec := postJSON(t, f.server.HandleCreateProof, `{"id":"12345678"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := `{"id":"12345678","summary_text":"M.","timestamp":"2026-03-01T12:30:45Z"}`
	rec = postJSON(t, f.server.HandleVerify, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome proof.VerificationOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.Matched)
	assert.Equal(t, "ref-1", outcome.SubmissionRef)

	// Different text, no match, still 200.
	body = `{"id":"12345678","summary_text":"tampered","timestamp":"2026-03-01T12:30:45Z"}`
	rec = postJSON(t, f.server.HandleVerify, body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.False(t, outcome.Matched)
}

func TestHandleVerifyMissingFields(t *testing.T) {
	f := newFixture()
	rec := postJSON(t, f.server.HandleVerify, `{"id":"12345678"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFetchAndGenerate(t *testing.T) {
	f := newFixture()

	rec := postJSON(t, f.server.HandleFetchDocument, `{"id":"12345678"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc document.SourceDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "12345678", doc.ID)

	rec = postJSON(t, f.server.HandleGenerateSummaries, `{"id":"12345678"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"summaries"`))
}

func TestHandleMethodNotAllowed(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.server.HandleCreateProof(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.server.HandleHealth(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	f.breaker.RecordFailure()
	rec = httptest.NewRecorder()
	f.server.HandleHealth(rec, req)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestIdempotencyReplay(t *testing.T) {
	f := newFixture()
	handler := f.server.Routes(nil, NewIdempotencyStore(time.Minute))

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/proofs/submit",
			strings.NewReader(`{"id":"12345678"}`))
		req.Header.Set("Idempotency-Key", "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do()
	require.Equal(t, http.StatusCreated, first.Code)

	// Break the backend: the replay must come from the cache.
	f.ledger.err = resiliency.ErrCircuitOpen
	second := do()
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestRequestIDMiddleware(t *testing.T) {
	f := newFixture()
	handler := f.server.Routes(nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-supplied", rec.Header().Get("X-Request-ID"))
}
