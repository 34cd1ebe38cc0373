// Package summary turns a source document into a set of audience
// variants, trying an ordered chain of generators until one produces a
// complete set.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medhash-labs/medhash/pkg/document"
)

// ErrUnavailable means every configured generator failed or timed out.
var ErrUnavailable = errors.New("summary: generation unavailable")

// SummarySet is the output of one successful generation. Every
// requested audience maps to a non-empty variant; partial sets are
// never returned as success.
type SummarySet struct {
	SourceID    string            `json:"source_id"`
	Variants    map[string]string `json:"variants"`
	GeneratedAt time.Time         `json:"generated_at"`
	Provider    string            `json:"provider"`
}

// Generator produces all requested audience variants from one document.
// A generator either yields the full set or fails; variants are never
// mixed across generators within one call.
type Generator interface {
	Name() string
	Generate(ctx context.Context, doc *document.SourceDocument, audiences []string) (map[string]string, error)
}

// Orchestrator tries generators in order with a per-call timeout.
type Orchestrator struct {
	generators []Generator
	audiences  []string
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires the generator chain. Order matters: the first
// generator is the primary, the rest are fallbacks.
func NewOrchestrator(generators []Generator, audiences []string, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		generators: generators,
		audiences:  audiences,
		timeout:    timeout,
		logger:     logger.With("component", "summary"),
		now:        time.Now,
	}
}

// Audiences returns the configured audience tags.
func (o *Orchestrator) Audiences() []string {
	return o.audiences
}

// Summarize produces a complete SummarySet or fails with
// ErrUnavailable once the chain is exhausted. A generator returning an
// empty or whitespace-only variant for any audience counts as a failure
// of that generator, not a partial success.
func (o *Orchestrator) Summarize(ctx context.Context, doc *document.SourceDocument) (*SummarySet, error) {
	var lastErr error
	for _, gen := range o.generators {
		variants, err := o.tryGenerator(ctx, gen, doc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			o.logger.WarnContext(ctx, "generator failed",
				"id", doc.ID, "generator", gen.Name(), "error", err)
			lastErr = err
			continue
		}
		return &SummarySet{
			SourceID:    doc.ID,
			Variants:    variants,
			GeneratedAt: o.now().UTC(),
			Provider:    gen.Name(),
		}, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: last generator: %v", ErrUnavailable, lastErr)
	}
	return nil, ErrUnavailable
}

func (o *Orchestrator) tryGenerator(ctx context.Context, gen Generator, doc *document.SourceDocument) (map[string]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	variants, err := gen.Generate(callCtx, doc, o.audiences)
	if err != nil {
		return nil, err
	}

	complete := make(map[string]string, len(o.audiences))
	for _, audience := range o.audiences {
		text := strings.TrimSpace(variants[audience])
		if text == "" {
			return nil, fmt.Errorf("empty variant for audience %q", audience)
		}
		complete[audience] = text
	}
	return complete, nil
}
