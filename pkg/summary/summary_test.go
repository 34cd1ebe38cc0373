package summary

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medhash-labs/medhash/pkg/document"
)

type stubGenerator struct {
	name     string
	variants map[string]string
	err      error
	calls    int
}

func (s *stubGenerator) Name() string { return s.name }

func (s *stubGenerator) Generate(_ context.Context, _ *document.SourceDocument, _ []string) (map[string]string, error) {
	s.calls++
	return s.variants, s.err
}

func testDoc() *document.SourceDocument {
	return &document.SourceDocument{
		ID:       "12345678",
		Title:    "A study",
		BodyText: "**Objective:** Something was studied.",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testAudiences = []string{"short", "medium", "long"}

func fullSet() map[string]string {
	return map[string]string{
		"short":  "Short one.",
		"medium": "Medium one.",
		"long":   "Long one.",
	}
}

func TestSummarizePrimarySucceeds(t *testing.T) {
	primary := &stubGenerator{name: "primary", variants: fullSet()}
	fallback := &stubGenerator{name: "fallback", variants: fullSet()}
	o := NewOrchestrator([]Generator{primary, fallback}, testAudiences, time.Second, testLogger())

	set, err := o.Summarize(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, "primary", set.Provider)
	assert.Equal(t, "12345678", set.SourceID)
	assert.Len(t, set.Variants, 3)
	assert.False(t, set.GeneratedAt.IsZero())
	assert.Equal(t, 0, fallback.calls, "fallback must not run when primary succeeds")
}

func TestSummarizeFallsBackOnError(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: errors.New("upstream 500")}
	fallback := &stubGenerator{name: "fallback", variants: fullSet()}
	o := NewOrchestrator([]Generator{primary, fallback}, testAudiences, time.Second, testLogger())

	set, err := o.Summarize(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, "fallback", set.Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestSummarizeEmptyVariantIsFailure(t *testing.T) {
	incomplete := fullSet()
	incomplete["long"] = "   "
	primary := &stubGenerator{name: "primary", variants: incomplete}
	fallback := &stubGenerator{name: "fallback", variants: fullSet()}
	o := NewOrchestrator([]Generator{primary, fallback}, testAudiences, time.Second, testLogger())

	set, err := o.Summarize(context.Background(), testDoc())
	require.NoError(t, err)
	// A partial set never leaks through: the fallback's complete set wins.
	assert.Equal(t, "fallback", set.Provider)
	for _, a := range testAudiences {
		assert.NotEmpty(t, set.Variants[a])
	}
}

func TestSummarizeChainExhausted(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: errors.New("down")}
	fallback := &stubGenerator{name: "fallback", err: errors.New("also down")}
	o := NewOrchestrator([]Generator{primary, fallback}, testAudiences, time.Second, testLogger())

	_, err := o.Summarize(context.Background(), testDoc())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestSummarizeNoGenerators(t *testing.T) {
	o := NewOrchestrator(nil, testAudiences, time.Second, testLogger())
	_, err := o.Summarize(context.Background(), testDoc())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestSummarizeContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	primary := &stubGenerator{name: "primary", err: context.Canceled}
	o := NewOrchestrator([]Generator{primary}, testAudiences, time.Second, testLogger())

	_, err := o.Summarize(ctx, testDoc())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
