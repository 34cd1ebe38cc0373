// Package proof orchestrates the pipeline (validate, fetch, summarize,
// hash, submit) and the verification path (validate, hash, lookup).
package proof

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/medhash-labs/medhash/pkg/commitment"
	"github.com/medhash-labs/medhash/pkg/document"
	"github.com/medhash-labs/medhash/pkg/ledger"
	"github.com/medhash-labs/medhash/pkg/observability"
	"github.com/medhash-labs/medhash/pkg/summary"
	"github.com/medhash-labs/medhash/pkg/validate"
)

// Retriever fetches source documents.
type Retriever interface {
	Fetch(ctx context.Context, id string) (*document.SourceDocument, error)
}

// Summarizer produces audience variants for a document.
type Summarizer interface {
	Summarize(ctx context.Context, doc *document.SourceDocument) (*summary.SummarySet, error)
	Audiences() []string
}

// Coordinator drives the pipeline. All collaborators are injected so
// tests can substitute isolated instances.
type Coordinator struct {
	validator        *validate.Validator
	retriever        Retriever
	summarizer       Summarizer
	hasher           commitment.Hasher
	ledger           ledger.Ledger
	defaultAudience  string
	explorerTemplate string
	obs              *observability.Provider
	logger           *slog.Logger
}

// NewCoordinator wires a Coordinator.
func NewCoordinator(
	validator *validate.Validator,
	retriever Retriever,
	summarizer Summarizer,
	hasher commitment.Hasher,
	led ledger.Ledger,
	defaultAudience string,
	explorerTemplate string,
	obs *observability.Provider,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		validator:        validator,
		retriever:        retriever,
		summarizer:       summarizer,
		hasher:           hasher,
		ledger:           led,
		defaultAudience:  defaultAudience,
		explorerTemplate: explorerTemplate,
		obs:              obs,
		logger:           logger.With("component", "proof"),
	}
}

// ProofRequest asks for a full pipeline run over one identifier.
// Audience selects the variant that gets committed; empty means the
// configured default.
type ProofRequest struct {
	ID       string
	Audience string
}

// ProofResult is the composite outcome of a successful run.
type ProofResult struct {
	Document    *document.SourceDocument `json:"document"`
	Summaries   *summary.SummarySet      `json:"summaries"`
	Audience    string                   `json:"audience"`
	Commitment  commitment.Commitment    `json:"commitment"`
	Record      ledger.ProofRecord       `json:"record"`
	ExplorerURL string                   `json:"explorer_url,omitempty"`
}

// VerifyRequest asks whether a specific summary text for a source
// existed at a specific time.
type VerifyRequest struct {
	ID          string
	SummaryText string
	Timestamp   time.Time
}

// VerificationOutcome is derived fresh on every request, never stored.
type VerificationOutcome struct {
	Matched       bool                  `json:"matched"`
	Commitment    commitment.Commitment `json:"commitment"`
	Timestamp     *time.Time            `json:"timestamp,omitempty"`
	SubmissionRef string                `json:"submission_ref,omitempty"`
	ExplorerURL   string                `json:"explorer_url,omitempty"`
}

// FetchDocument runs the validate and fetch stages only.
func (c *Coordinator) FetchDocument(ctx context.Context, id string) (*document.SourceDocument, error) {
	if err := c.checkIdentifier(id); err != nil {
		return nil, err
	}
	return c.fetch(ctx, id)
}

// GenerateSummaries runs validate, fetch, then summarize.
func (c *Coordinator) GenerateSummaries(ctx context.Context, id string) (*document.SourceDocument, *summary.SummarySet, error) {
	if err := c.checkIdentifier(id); err != nil {
		return nil, nil, err
	}
	doc, err := c.fetch(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	set, err := c.summarize(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	return doc, set, nil
}

// CreateProof runs the full happy path and returns the composite
// result, or the first failing stage's error.
func (c *Coordinator) CreateProof(ctx context.Context, req ProofRequest) (*ProofResult, error) {
	audience := req.Audience
	if audience == "" {
		audience = c.defaultAudience
	}
	if err := c.checkIdentifier(req.ID); err != nil {
		return nil, err
	}
	if !contains(c.summarizer.Audiences(), audience) {
		return nil, stageErr(StageValidate, fmt.Errorf("%w: unknown audience %q", ErrValidation, audience))
	}

	doc, err := c.fetch(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	set, err := c.summarize(ctx, doc)
	if err != nil {
		return nil, err
	}

	text := set.Variants[audience]
	com := c.hasher.Commit(req.ID, text, set.GeneratedAt)

	rec, err := c.submit(ctx, req.ID, com, set.GeneratedAt)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "proof stored",
		"id", req.ID, "commitment", com.String(), "ref", rec.SubmissionRef)

	return &ProofResult{
		Document:    doc,
		Summaries:   set,
		Audience:    audience,
		Commitment:  com,
		Record:      rec,
		ExplorerURL: ledger.ExplorerURL(c.explorerTemplate, rec.SubmissionRef),
	}, nil
}

// Verify recomputes the commitment for the supplied triple and looks it
// up. A missing record is a normal negative outcome, not an error.
func (c *Coordinator) Verify(ctx context.Context, req VerifyRequest) (VerificationOutcome, error) {
	if c.validator.RejectsUnsafe(req.ID) || c.validator.RejectsUnsafe(req.SummaryText) {
		return VerificationOutcome{}, stageErr(StageValidate, fmt.Errorf("%w: unsafe input", ErrValidation))
	}
	if !c.validator.ValidIdentifier(req.ID) {
		return VerificationOutcome{}, stageErr(StageValidate, fmt.Errorf("%w: bad identifier", ErrValidation))
	}

	com := c.hasher.Commit(req.ID, req.SummaryText, req.Timestamp)

	finish := c.obs.StartStage(ctx, string(StageLookup))
	rec, found, err := c.ledger.Lookup(ctx, com)
	finish(err)
	if err != nil {
		return VerificationOutcome{}, stageErr(StageLookup, err)
	}

	outcome := VerificationOutcome{Commitment: com}
	if found {
		outcome.Matched = true
		ts := rec.Timestamp
		outcome.Timestamp = &ts
		outcome.SubmissionRef = rec.SubmissionRef
		outcome.ExplorerURL = ledger.ExplorerURL(c.explorerTemplate, rec.SubmissionRef)
	}
	c.logger.InfoContext(ctx, "verification computed",
		"id", req.ID, "commitment", com.String(), "matched", outcome.Matched)
	return outcome, nil
}

func (c *Coordinator) checkIdentifier(id string) error {
	if c.validator.RejectsUnsafe(id) {
		return stageErr(StageValidate, fmt.Errorf("%w: unsafe input", ErrValidation))
	}
	if !c.validator.ValidIdentifier(id) {
		return stageErr(StageValidate, fmt.Errorf("%w: identifier must be 1-20 decimal digits", ErrValidation))
	}
	return nil
}

func (c *Coordinator) fetch(ctx context.Context, id string) (*document.SourceDocument, error) {
	finish := c.obs.StartStage(ctx, string(StageFetch))
	doc, err := c.retriever.Fetch(ctx, id)
	finish(err)
	if err != nil {
		return nil, stageErr(StageFetch, err)
	}
	return doc, nil
}

func (c *Coordinator) summarize(ctx context.Context, doc *document.SourceDocument) (*summary.SummarySet, error) {
	finish := c.obs.StartStage(ctx, string(StageSummarize))
	set, err := c.summarizer.Summarize(ctx, doc)
	finish(err)
	if err != nil {
		return nil, stageErr(StageSummarize, err)
	}
	return set, nil
}

func (c *Coordinator) submit(ctx context.Context, id string, com commitment.Commitment, ts time.Time) (ledger.ProofRecord, error) {
	finish := c.obs.StartStage(ctx, string(StageSubmit))
	rec, err := c.ledger.Submit(ctx, com, ts)
	finish(err)
	if err != nil {
		c.logger.ErrorContext(ctx, "submit failed", "id", id, "commitment", com.String(), "error", err)
		return ledger.ProofRecord{}, stageErr(StageSubmit, err)
	}
	return rec, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
