package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/internal/metrics"
	"github.com/vantris/erpagent/internal/tlsutil"
)

// Config holds the connection settings for an OpenAI-compatible chat
// completions backend.
type Config struct {
	// APIKey authenticates requests via the Authorization header.
	APIKey string

	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// Model is the model identifier sent with every request.
	Model string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// Temperature for sampling. Zero means the backend default.
	Temperature float64
}

// Client is an OpenAI-compatible chat completions client. It
// implements the engine's Completer contract.
type Client struct {
	cfg       Config
	client    *http.Client
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewClient creates a completion client. collector may be nil.
func NewClient(cfg Config, collector *metrics.Collector, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:       cfg,
		client:    tlsutil.SecureHTTPClient(timeout),
		collector: collector,
		logger:    logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends prompt as a single user message and returns the
// first choice's text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	text, err := c.complete(ctx, prompt)
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.collector.RecordLLMRequest("completion", status, time.Since(start))
	return text, err
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		c.logger.Warn("completion backend error",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
		)
		return "", fmt.Errorf("completion backend returned status %d: %s", resp.StatusCode, msg)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("completion backend returned no choices")
	}

	c.logger.Debug("completion",
		zap.String("model", c.cfg.Model),
		zap.String("finish_reason", cr.Choices[0].FinishReason),
		zap.Int("prompt_tokens", cr.Usage.PromptTokens),
		zap.Int("completion_tokens", cr.Usage.CompletionTokens),
	)
	return cr.Choices[0].Message.Content, nil
}

// readErrorMessage extracts the error message from an OpenAI-style
// error body, falling back to the raw body.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 32*1024))
	if err != nil || len(data) == 0 {
		return "unknown error"
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(data))
}
