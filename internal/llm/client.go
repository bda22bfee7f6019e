// Package llm talks to an OpenAI-compatible chat completion endpoint and
// exposes it as a field fixer for the corrector.
package llm

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

	"github.com/lucasnoah/mailgate/internal/prompt"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o-mini"
	defaultTimeout     = 30 * time.Second
	defaultRateLimit   = 2.0
	defaultBurst       = 4
	defaultMaxRetries  = 2
	defaultBaseBackoff = 500 * time.Millisecond
)

// Config holds connection settings. Zero values take defaults.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	MaxRetries int

	// Brand and Guidance fill the optional blocks of the fix-field prompt.
	Brand    string
	Guidance string
	// PromptDir may hold a fix-field.md overriding the built-in prompt.
	PromptDir string
}

// Client is a rate-limited, retrying chat completion client.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	fixPrompt   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// WithBackoff sets the base retry backoff.
func WithBackoff(d time.Duration) Option { return func(c *Client) { c.baseBackoff = d } }

// New builds a Client. An API key is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: api key required")
	}
	c := &Client{
		baseURL:     strings.TrimRight(firstNonEmpty(cfg.BaseURL, defaultBaseURL), "/"),
		apiKey:      cfg.APIKey,
		model:       firstNonEmpty(cfg.Model, defaultModel),
		httpClient:  &http.Client{Timeout: durationOr(cfg.Timeout, defaultTimeout)},
		limiter:     rate.NewLimiter(rate.Limit(floatOr(cfg.RateLimit, defaultRateLimit)), intOr(cfg.Burst, defaultBurst)),
		maxRetries:  defaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
	}
	if cfg.MaxRetries > 0 {
		c.maxRetries = cfg.MaxRetries
	}
	tmpl, err := prompt.Load(prompt.FixField, cfg.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	c.fixPrompt, err = prompt.Render(tmpl, prompt.Vars{"brand": cfg.Brand, "guidance": cfg.Guidance})
	if err != nil {
		return nil, fmt.Errorf("llm: render %s: %w", prompt.FixField, err)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// CompleteJSON sends a system and user prompt, asking for a JSON object back.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: rate limiter: %w", err)
	}
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		out, err := c.do(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err
		var re *retryableError
		if !errors.As(err, &re) {
			return "", err
		}
	}
	return "", fmt.Errorf("llm: max retries exceeded: %w", lastErr)
}

func (c *Client) do(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &retryableError{err: fmt.Errorf("llm: request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &retryableError{err: errors.New("llm: rate limited (429)")}
	case resp.StatusCode >= 500:
		return "", &retryableError{err: fmt.Errorf("llm: server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error.Message != "" {
			return "", fmt.Errorf("llm: api error (%d): %s", resp.StatusCode, ae.Error.Message)
		}
		return "", fmt.Errorf("llm: api error (%d)", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("llm: parse response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", errors.New("llm: empty response")
	}
	return cr.Choices[0].Message.Content, nil
}

func firstNonEmpty(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func floatOr(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func intOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
