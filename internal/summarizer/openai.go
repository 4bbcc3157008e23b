package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/bhandzo/cw-search-prototype/pkg/config"
	apperrors "github.com/bhandzo/cw-search-prototype/pkg/errors"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel = "gpt-4o-2024-08-06"
	// maxCallerClients caps the clients kept for caller-supplied keys.
	maxCallerClients = 256
)

// OpenAI completes prompts through the OpenAI chat completions API or any
// compatible endpoint.
type OpenAI struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float32

	server *openai.Client

	mu      sync.Mutex
	clients map[string]*openai.Client // by key digest
}

// NewOpenAI configures an OpenAI completer. The server key may be empty when
// every caller brings their own.
func NewOpenAI(cfg config.SummarizerConfig) *OpenAI {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	o := &OpenAI{
		apiKey:      strings.TrimSpace(cfg.OpenAIAPIKey),
		baseURL:     strings.TrimSpace(cfg.OpenAIURL),
		model:       model,
		temperature: cfg.Temperature,
		clients:     make(map[string]*openai.Client),
	}
	if o.apiKey != "" {
		o.server = o.newClient(o.apiKey)
	}
	return o
}

func (o *OpenAI) Provider() string { return config.ProviderOpenAI }

func (o *OpenAI) Complete(ctx context.Context, c Completion) (string, error) {
	client, err := o.client(c.APIKey)
	if err != nil {
		return "", err
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.System},
			{Role: openai.ChatMessageRoleUser, Content: c.User},
		},
		Temperature: o.temperature,
	}
	if c.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", parseOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("openai returned empty content")
	}
	return content, nil
}

// client returns the client for the caller's key, falling back to the
// server key. Caller clients are cached by key digest; past the cap an
// arbitrary one is dropped.
func (o *OpenAI) client(callerKey string) (*openai.Client, error) {
	key := strings.TrimSpace(callerKey)
	if key == "" || key == o.apiKey {
		if o.server == nil {
			return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "no OpenAI API key configured")
		}
		return o.server, nil
	}
	digest := keyDigest(key)
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.clients[digest]; ok {
		return c, nil
	}
	if len(o.clients) >= maxCallerClients {
		for d := range o.clients {
			delete(o.clients, d)
			break
		}
	}
	c := o.newClient(key)
	o.clients[digest] = c
	return c, nil
}

func (o *OpenAI) newClient(key string) *openai.Client {
	cfg := openai.DefaultConfig(key)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (o *OpenAI) cachedClients() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.clients)
}

func parseOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &apperrors.UpstreamError{
			Operation:  "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &apperrors.UpstreamError{
			Operation:  "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Body:       logger.Truncate(string(reqErr.Body), 512),
			Err:        err,
		}
	}
	return fmt.Errorf("openai request failed: %w", err)
}
