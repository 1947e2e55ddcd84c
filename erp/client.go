package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vantris/erpagent/internal/tlsutil"
)

// Client is the boundary to the ERP backend. Tool handlers are built on
// top of it; swapping the backend (or faking it in tests) happens here.
type Client interface {
	GetDoc(ctx context.Context, doctype, name string) (json.RawMessage, error)
	ListDocs(ctx context.Context, doctype string, filters map[string]string, limit int) (json.RawMessage, error)
	CreateDoc(ctx context.Context, doctype string, doc json.RawMessage) (json.RawMessage, error)
	UpdateDoc(ctx context.Context, doctype, name string, patch json.RawMessage) (json.RawMessage, error)
	DeleteDoc(ctx context.Context, doctype, name string) error
	SubmitDoc(ctx context.Context, doctype, name string) (json.RawMessage, error)
	RunReport(ctx context.Context, report string, filters map[string]string) (json.RawMessage, error)
	SearchKnowledge(ctx context.Context, query string, limit int) (string, error)
}

// Config holds the connection settings for the ERP REST API.
type Config struct {
	// BaseURL is the ERP instance root, e.g. "https://erp.example.com".
	BaseURL string `json:"base_url" yaml:"base_url" env:"BASE_URL"`

	// APIKey and APISecret form the token pair for API access.
	APIKey    string `json:"api_key" yaml:"api_key" env:"API_KEY"`
	APISecret string `json:"api_secret" yaml:"api_secret" env:"API_SECRET"`

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// HTTPClient talks to a Frappe-style REST API: documents live under
// /api/resource/{doctype}/{name} and server procedures under
// /api/method/{method}.
type HTTPClient struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the configured ERP instance.
func NewHTTPClient(cfg Config, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("erp: base url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "erp_client")),
	}, nil
}

// APIError is a non-2xx answer from the ERP backend. The body is kept
// verbatim so validation messages reach the correction loop intact.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("erp api error (status %d): %s", e.StatusCode, e.Body)
}

func (c *HTTPClient) GetDoc(ctx context.Context, doctype, name string) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/resource/%s/%s", url.PathEscape(doctype), url.PathEscape(name))
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c *HTTPClient) ListDocs(ctx context.Context, doctype string, filters map[string]string, limit int) (json.RawMessage, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit_page_length", strconv.Itoa(limit))
	}
	if len(filters) > 0 {
		clause := make([][3]string, 0, len(filters))
		for field, value := range filters {
			clause = append(clause, [3]string{field, "=", value})
		}
		encoded, err := json.Marshal(clause)
		if err != nil {
			return nil, fmt.Errorf("encode filters: %w", err)
		}
		query.Set("filters", string(encoded))
	}
	path := fmt.Sprintf("/api/resource/%s", url.PathEscape(doctype))
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *HTTPClient) CreateDoc(ctx context.Context, doctype string, doc json.RawMessage) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/resource/%s", url.PathEscape(doctype))
	return c.do(ctx, http.MethodPost, path, nil, doc)
}

func (c *HTTPClient) UpdateDoc(ctx context.Context, doctype, name string, patch json.RawMessage) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/resource/%s/%s", url.PathEscape(doctype), url.PathEscape(name))
	return c.do(ctx, http.MethodPut, path, nil, patch)
}

func (c *HTTPClient) DeleteDoc(ctx context.Context, doctype, name string) error {
	path := fmt.Sprintf("/api/resource/%s/%s", url.PathEscape(doctype), url.PathEscape(name))
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *HTTPClient) SubmitDoc(ctx context.Context, doctype, name string) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]string{"doctype": doctype, "name": name})
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, "/api/method/frappe.client.submit", nil, body)
}

func (c *HTTPClient) RunReport(ctx context.Context, report string, filters map[string]string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("report_name", report)
	if len(filters) > 0 {
		encoded, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("encode filters: %w", err)
		}
		query.Set("filters", string(encoded))
	}
	return c.do(ctx, http.MethodGet, "/api/method/frappe.desk.query_report.run", query, nil)
}

func (c *HTTPClient) SearchKnowledge(ctx context.Context, query string, limit int) (string, error) {
	if limit <= 0 {
		limit = 5
	}
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", strconv.Itoa(limit))
	raw, err := c.do(ctx, http.MethodGet, "/api/method/erpagent.search_knowledge", params, nil)
	if err != nil {
		return "", err
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Message == "" {
		// Backends without the wrapper return the text directly.
		return string(raw), nil
	}
	return payload.Message, nil
}

// do issues one request and unwraps the standard {"data": ...} envelope.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body json.RawMessage) (json.RawMessage, error) {
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+c.cfg.APISecret)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("erp request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read erp response: %w", err)
	}

	c.logger.Debug("erp request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data, nil
	}
	return data, nil
}
