package ai

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

	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
)

// Client implements Enricher, Validator and Extractor against an
// OpenAI-compatible chat completions endpoint.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client. Zero-valued config fields take DefaultConfig values.
func NewClient(cfg Config, opts ...Option) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "ai_client"), logging.F("model", cfg.Model))
	return c
}

var (
	_ Enricher  = (*Client)(nil)
	_ Validator = (*Client)(nil)
	_ Extractor = (*Client)(nil)
)

// Enrich asks the model for customs fields.
func (c *Client) Enrich(ctx context.Context, req EnrichRequest) (*EnrichResponse, error) {
	var out EnrichResponse
	if err := c.completeStructured(ctx, enrichPrompt(req), &out); err != nil {
		return nil, err
	}
	out.HSCode = strings.TrimSpace(out.HSCode)
	return &out, nil
}

// Validate asks the model to check a merged record.
func (c *Client) Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error) {
	prompt, err := validatePrompt(req)
	if err != nil {
		return nil, &Error{Code: ErrParseFailure, Message: fmt.Sprintf("marshal record: %v", err)}
	}
	var out ValidationResult
	if err := c.completeStructured(ctx, prompt, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extract asks the model to pull shipment details out of text.
func (c *Client) Extract(ctx context.Context, text string) (*Extraction, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNothingExtracted
	}
	var out Extraction
	if err := c.completeStructured(ctx, extractPrompt(text), &out); err != nil {
		return nil, err
	}
	if out.Empty() {
		return nil, ErrNothingExtracted
	}
	return &out, nil
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
	Temperature    float32         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// complete sends one chat completion and returns the first choice.
func (c *Client) complete(ctx context.Context, prompt string) (*chatChoice, *chatUsage, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, nil, &Error{Code: ErrParseFailure, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := fmt.Sprintf("%s/v1/chat/completions", c.config.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, &Error{Code: ErrUnavailable, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
			return nil, nil, &Error{Code: ErrTimeout, Message: "request timeout"}
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &Error{Code: ErrUnavailable, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, &Error{Code: ErrParseFailure, Message: fmt.Sprintf("read response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, nil, &Error{Code: ErrRateLimit, Message: fmt.Sprintf("HTTP %d: rate limited", resp.StatusCode), Details: string(respBody)}
	case resp.StatusCode != http.StatusOK:
		return nil, nil, &Error{
			Code:    ErrUnavailable,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, nil, &Error{Code: ErrParseFailure, Message: fmt.Sprintf("parse response: %v", err)}
	}
	if len(chatResp.Choices) == 0 {
		return nil, nil, &Error{Code: ErrParseFailure, Message: "no choices in response"}
	}

	c.logger.Debug("Model call completed",
		logging.F("duration", time.Since(start)),
		logging.F("completion_tokens", chatResp.Usage.CompletionTokens))

	return &chatResp.Choices[0], &chatResp.Usage, nil
}

// completeStructured sends prompt and decodes the JSON reply into target,
// re-asking up to MaxRetries times when the reply is not valid JSON.
func (c *Client) completeStructured(ctx context.Context, prompt string, target interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		choice, usage, err := c.complete(ctx, prompt)
		if err != nil {
			return err
		}

		if choice.FinishReason == "length" {
			return &Error{
				Code:    ErrTokenLimit,
				Message: fmt.Sprintf("response truncated: hit max_tokens limit (%d completion tokens used)", usage.CompletionTokens),
				Details: choice.Message.Content,
			}
		}

		content := StripFences(choice.Message.Content)
		if err := json.Unmarshal([]byte(content), target); err != nil {
			lastErr = &Error{
				Code:    ErrParseFailure,
				Message: fmt.Sprintf("parse JSON: %v", err),
				Details: choice.Message.Content,
			}
			c.logger.Warn("Model reply was not valid JSON",
				logging.F("attempt", attempt+1), logging.Err(err))
			prompt = prompt + "\n\nIMPORTANT: Respond with valid JSON only. No markdown, no explanations."
			continue
		}
		return nil
	}
	return lastErr
}

// StripFences removes a surrounding markdown code fence from a model reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// IsAvailable checks whether the model server answers its health endpoint.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
