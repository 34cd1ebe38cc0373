package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/medhash-labs/medhash/pkg/document"
)

// ChatGenerator speaks the OpenAI-compatible chat completions protocol,
// which covers hosted APIs and local inference servers alike. One
// request is issued per audience.
type ChatGenerator struct {
	name    string
	url     string
	apiKey  string
	model   string
	client  *http.Client
	prompts map[string]promptSpec
}

type promptSpec struct {
	build     func(doc *document.SourceDocument) string
	maxTokens int
}

// NewChatGenerator creates a generator against an OpenAI-compatible
// endpoint. The http.Client's timeout is left to the orchestrator's
// per-call context.
func NewChatGenerator(name, url, apiKey, model string) *ChatGenerator {
	return &ChatGenerator{
		name:    name,
		url:     url,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
		prompts: defaultPrompts(),
	}
}

// Name implements Generator.
func (g *ChatGenerator) Name() string { return g.name }

// Generate implements Generator.
func (g *ChatGenerator) Generate(ctx context.Context, doc *document.SourceDocument, audiences []string) (map[string]string, error) {
	variants := make(map[string]string, len(audiences))
	for _, audience := range audiences {
		spec, ok := g.prompts[audience]
		if !ok {
			spec = promptSpec{
				build:     func(d *document.SourceDocument) string { return genericPrompt(audience, d) },
				maxTokens: 400,
			}
		}
		text, err := g.complete(ctx, spec.build(doc), spec.maxTokens)
		if err != nil {
			return nil, fmt.Errorf("audience %q: %w", audience, err)
		}
		variants[audience] = text
	}
	return variants, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *ChatGenerator) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generator status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// defaultPrompts carries the prompt intents for the standard audience
// set: a two-sentence plain-language result, a structured paragraph for
// clinicians, and a detailed markdown analysis.
func defaultPrompts() map[string]promptSpec {
	return map[string]promptSpec{
		"short": {
			maxTokens: 150,
			build: func(doc *document.SourceDocument) string {
				return fmt.Sprintf(`Provide a concise 2-sentence summary of this medical abstract. Focus on the key finding and clinical significance.

Abstract:
%s

Requirements:
- Exactly 2 sentences
- First sentence: main finding or result
- Second sentence: clinical significance or implication
- Plain language suitable for patients, no technical jargon
- Accurate to the original research

Summary:`, doc.BodyText)
			},
		},
		"medium": {
			maxTokens: 300,
			build: func(doc *document.SourceDocument) string {
				return fmt.Sprintf(`Write a clear, professional summary of this medical abstract for healthcare professionals.

Abstract:
%s

Format the summary with these sections clearly marked:
**Objective**: what the study aimed to investigate
**Methods**: brief overview of study design and key methods
**Results**: main findings with key data points
**Conclusion**: clinical implications

Requirements:
- One coherent paragraph with clear section markers
- Include key statistics if available in the abstract
- Professional tone, approximately 150-200 words
- Maintain scientific accuracy

Summary:`, doc.BodyText)
			},
		},
		"long": {
			maxTokens: 600,
			build: func(doc *document.SourceDocument) string {
				return fmt.Sprintf(`Create a detailed, structured analysis of this medical abstract.

Abstract:
%s

Provide a comprehensive summary with these sections:

## Background and Rationale
## Study Design and Methods
## Key Results
## Limitations
## Clinical Implications

Requirements:
- Comprehensive but concise
- Include specific numbers and statistics from the abstract
- Critical evaluation where appropriate
- Approximately 400-500 words, markdown formatting

Analysis:`, doc.BodyText)
			},
		},
	}
}

func genericPrompt(audience string, doc *document.SourceDocument) string {
	return fmt.Sprintf(`Summarize this medical abstract for a %q audience. Be accurate to the original research.

Abstract:
%s

Summary:`, audience, doc.BodyText)
}
