package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/ingestd/internal/resilience"
)

// OpenAIAnalyzer implements Analyzer by asking a chat model to surface
// clarifying questions grounded in the project's transcripts so far.
//
// Grounded on pkg/provider/llm/openai/openai.go's Provider: the same
// oai.Client construction and option pattern, narrowed to the single
// non-streaming Complete call this component needs (no tool-calling,
// no token counting — the worker pool has no use for either). Calls are
// wrapped in a circuit breaker so a degraded OpenAI backend doesn't pile
// up blocked analysis workers; an open breaker just skips this flush,
// the next coalescer trigger tries again.
type OpenAIAnalyzer struct {
	client  oai.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewOpenAIAnalyzer constructs an Analyzer backed by the OpenAI chat
// completions API.
func NewOpenAIAnalyzer(apiKey, model string) (*OpenAIAnalyzer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("ingest: openai analyzer: apiKey must not be empty")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "openai-analyzer"})
	return &OpenAIAnalyzer{client: client, model: model, breaker: breaker}, nil
}

type analyzerSuggestion struct {
	Question string `json:"question"`
	Grounding string `json:"grounding_span"`
}

type analyzerResponse struct {
	Suggestions []analyzerSuggestion `json:"suggestions"`
}

// Analyze implements Analyzer. It joins transcripts in creation order
// into a single prompt and asks the model to return a JSON object of
// suggestions; a model that ignores the JSON instruction degrades to
// one suggestion carrying the raw completion text.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, project ProjectId, transcripts []TranscriptRow) ([]AIResult, error) {
	if len(transcripts) == 0 {
		return nil, nil
	}

	var b strings.Builder
	for _, t := range transcripts {
		b.WriteString(t.Text)
		b.WriteString("\n")
	}

	params := oai.ChatCompletionNewParams{
		Model: oai.ChatModel(a.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage("You analyze interview/meeting transcripts and propose clarifying questions an active listener should ask next. Respond with a JSON object: {\"suggestions\": [{\"question\": ..., \"grounding_span\": ...}]}."),
			oai.UserMessage(b.String()),
		},
	}

	var resp *oai.ChatCompletion
	err := a.breaker.Execute(func() error {
		r, err := a.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: openai analyzer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("ingest: openai analyzer: empty choices")
	}

	content := resp.Choices[0].Message.Content

	var parsed analyzerResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil || len(parsed.Suggestions) == 0 {
		return []AIResult{{ID: NewAnalysisId(), Text: content}}, nil
	}

	results := make([]AIResult, 0, len(parsed.Suggestions))
	for _, s := range parsed.Suggestions {
		if s.Question == "" {
			continue
		}
		results = append(results, AIResult{ID: NewAnalysisId(), Text: s.Question, GroundingSpan: s.Grounding})
	}
	return results, nil
}
