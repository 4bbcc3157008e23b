package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bhandzo/cw-search-prototype/pkg/config"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini completes prompts through the Gemini API. Caller-supplied keys are
// OpenAI keys and are ignored here.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGemini creates a Gemini completer for the server key.
func NewGemini(ctx context.Context, cfg config.SummarizerConfig) (*Gemini, error) {
	apiKey := strings.TrimSpace(cfg.GeminiAPIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = defaultGeminiModel
	}
	return &Gemini{client: client, model: model, temperature: cfg.Temperature}, nil
}

func (g *Gemini) Provider() string { return config.ProviderGemini }

func (g *Gemini) Complete(ctx context.Context, c Completion) (string, error) {
	temperature := g.temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: c.System}}},
		Temperature:       &temperature,
	}
	if c.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(c.User), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &apperrors.UpstreamError{Operation: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message, Err: err}
		}
		return "", fmt.Errorf("generate content: %w", err)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini returned no response")
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || strings.TrimSpace(part.Text) == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(part.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("gemini returned empty response")
	}
	return out, nil
}
