package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/parser"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/stream"
)

// Client talks to a running search service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

// APIError is a non-2xx answer carrying the service's {"error"} message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *Client) Login(ctx context.Context, creds session.Credentials) (*LoginResult, error) {
	var out LoginResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/credentials", creds, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Whoami(ctx context.Context) (*session.Redacted, error) {
	var out session.Redacted
	if err := c.do(ctx, http.MethodGet, "/api/v1/credentials", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/credentials", nil, http.StatusNoContent, nil)
}

func (c *Client) Keywords(ctx context.Context, query string) (parser.KeywordSet, error) {
	var out struct {
		Keywords parser.KeywordSet `json:"keywords"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/keywords", map[string]string{"query": query}, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Keywords, nil
}

// SearchRequest mirrors the body of POST /api/v1/search.
type SearchRequest struct {
	Keywords        parser.KeywordSet `json:"keywords"`
	OriginalQuery   string            `json:"originalQuery,omitempty"`
	RankingStrategy string            `json:"rankingStrategy,omitempty"`
}

// Search runs a streamed search and calls fn for every event until the
// stream ends or fn returns an error. A failure before the stream starts is
// returned as *APIError.
func (c *Client) Search(ctx context.Context, req SearchRequest, format stream.Format, fn func(stream.Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", format.ContentType())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := stream.NewDecoder(resp.Body, format)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading stream: %w", err)
		}
		if ev.Type == stream.EventError && resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: ev.Message}
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}
