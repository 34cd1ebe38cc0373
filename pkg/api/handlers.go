package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/medhash-labs/medhash/pkg/document"
	"github.com/medhash-labs/medhash/pkg/proof"
	"github.com/medhash-labs/medhash/pkg/resiliency"
	"github.com/medhash-labs/medhash/pkg/summary"
)

// Server exposes the proof pipeline over HTTP.
type Server struct {
	coordinator   *proof.Coordinator
	ledgerBreaker *resiliency.CircuitBreaker
	logger        *slog.Logger
}

// NewServer creates the HTTP surface. ledgerBreaker may be nil when the
// ledger client runs without one; it only feeds health and Retry-After.
func NewServer(coordinator *proof.Coordinator, ledgerBreaker *resiliency.CircuitBreaker, logger *slog.Logger) *Server {
	return &Server{
		coordinator:   coordinator,
		ledgerBreaker: ledgerBreaker,
		logger:        logger.With("component", "api"),
	}
}

// Routes builds the full handler chain: request IDs, per-IP rate
// limiting, and idempotent replay for mutating requests.
func (s *Server) Routes(rl *GlobalRateLimiter, idem *IdempotencyStore) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/documents/fetch", s.HandleFetchDocument)
	mux.HandleFunc("/v1/summaries/generate", s.HandleGenerateSummaries)
	mux.HandleFunc("/v1/proofs/submit", s.HandleCreateProof)
	mux.HandleFunc("/v1/proofs/verify", s.HandleVerify)
	mux.HandleFunc("/healthz", s.HandleHealth)

	var h http.Handler = mux
	if idem != nil {
		h = IdempotencyMiddleware(idem)(h)
	}
	if rl != nil {
		h = rl.Middleware(h)
	}
	return RequestID(h)
}

type fetchRequest struct {
	ID string `json:"id"`
}

// HandleFetchDocument handles POST /v1/documents/fetch.
func (s *Server) HandleFetchDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" {
		WriteBadRequest(w, "Missing required field: id")
		return
	}

	doc, err := s.coordinator.FetchDocument(r.Context(), req.ID)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type generateResponse struct {
	Document  *document.SourceDocument `json:"document"`
	Summaries *summary.SummarySet      `json:"summaries"`
}

// HandleGenerateSummaries handles POST /v1/summaries/generate.
func (s *Server) HandleGenerateSummaries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" {
		WriteBadRequest(w, "Missing required field: id")
		return
	}

	doc, set, err := s.coordinator.GenerateSummaries(r.Context(), req.ID)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Document: doc, Summaries: set})
}

type proofRequest struct {
	ID       string `json:"id"`
	Audience string `json:"audience,omitempty"`
}

// HandleCreateProof handles POST /v1/proofs/submit.
func (s *Server) HandleCreateProof(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req proofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" {
		WriteBadRequest(w, "Missing required field: id")
		return
	}

	result, err := s.coordinator.CreateProof(r.Context(), proof.ProofRequest{
		ID:       req.ID,
		Audience: req.Audience,
	})
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

type verifyRequest struct {
	ID          string    `json:"id"`
	SummaryText string    `json:"summary_text"`
	Timestamp   time.Time `json:"timestamp"`
}

// HandleVerify handles POST /v1/proofs/verify.
func (s *Server) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.ID == "" || req.SummaryText == "" || req.Timestamp.IsZero() {
		WriteBadRequest(w, "Missing required fields: id, summary_text, timestamp")
		return
	}

	outcome, err := s.coordinator.Verify(r.Context(), proof.VerifyRequest{
		ID:          req.ID,
		SummaryText: req.SummaryText,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type healthResponse struct {
	Status        string `json:"status"`
	LedgerBreaker string `json:"ledger_breaker,omitempty"`
}

// HandleHealth handles GET /healthz. The service is degraded, not down,
// while the ledger breaker is open: fetch and summarize still work.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	resp := healthResponse{Status: "ok"}
	if s.ledgerBreaker != nil {
		state := s.ledgerBreaker.State()
		resp.LedgerBreaker = state.String()
		if state == resiliency.StateOpen {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writePipelineError maps pipeline errors onto RFC 7807 responses. The
// stage annotation travels in the problem detail so callers can tell a
// fetch failure from a ledger failure.
func (s *Server) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	stage := ""
	var se *proof.StageError
	if errors.As(err, &se) {
		stage = string(se.Stage)
	}

	problem := &ProblemDetail{
		Instance: r.URL.Path,
		Stage:    stage,
		TraceID:  w.Header().Get("X-Request-ID"),
	}

	var rle *document.RateLimitedError
	switch {
	case errors.Is(err, proof.ErrValidation):
		problem.Status = http.StatusBadRequest
		problem.Title = "Bad Request"
		problem.Detail = err.Error()
	case errors.Is(err, document.ErrNotFound):
		problem.Status = http.StatusNotFound
		problem.Title = "Not Found"
		problem.Detail = "No document exists for the given identifier"
	case errors.As(err, &rle):
		secs := int(rle.RetryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
		problem.Status = http.StatusTooManyRequests
		problem.Title = "Too Many Requests"
		problem.Detail = "Upstream fetch budget exhausted. Retry after the specified interval."
	case errors.Is(err, document.ErrTimeout), errors.Is(err, document.ErrUpstream):
		problem.Status = http.StatusBadGateway
		problem.Title = "Bad Gateway"
		problem.Detail = "The document source did not return a usable response"
	case errors.Is(err, summary.ErrUnavailable):
		problem.Status = http.StatusServiceUnavailable
		problem.Title = "Service Unavailable"
		problem.Detail = "Summary generation is unavailable on all providers"
	case errors.Is(err, resiliency.ErrCircuitOpen):
		if s.ledgerBreaker != nil {
			secs := int(s.ledgerBreaker.RetryAfter().Round(time.Second).Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
		}
		problem.Status = http.StatusServiceUnavailable
		problem.Title = "Service Unavailable"
		problem.Detail = "The ledger is temporarily unreachable"
	case stage == string(proof.StageSubmit) || stage == string(proof.StageLookup):
		problem.Status = http.StatusBadGateway
		problem.Title = "Bad Gateway"
		problem.Detail = "The ledger returned an error"
	default:
		s.logger.Error("unmapped pipeline error", "error", err, "stage", stage)
		problem.Status = http.StatusInternalServerError
		problem.Title = "Internal Server Error"
		problem.Detail = "An unexpected error occurred. Please try again later."
	}

	s.logger.WarnContext(r.Context(), "request failed",
		"path", r.URL.Path, "status", problem.Status, "stage", stage, "error", err)
	WriteProblem(w, problem)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
