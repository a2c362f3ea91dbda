// Package commerce talks to the commerce backend: static reference
// resources, the multipart product submission endpoint and replay of queued
// write requests.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/vendorhub/storefront/internal/domain/reference"
	"github.com/vendorhub/storefront/internal/domain/shared"
	"github.com/vendorhub/storefront/internal/infrastructure/config"
	"go.uber.org/zap"
)

const defaultMaxResponseBytes = 10 << 20 // 10MB

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// SubmitResult is the server's answer to a product submission
type SubmitResult struct {
	ID   string
	Body []byte
}

// Client issues single HTTP requests and maps failures onto the domain
// error taxonomy. It does not retry; see Fetcher.
type Client struct {
	cfg              config.CommerceConfig
	httpClient       *http.Client
	maxResponseBytes int64
	logger           *zap.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithClientLogger sets the logger
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a client for the configured backend
func NewClient(cfg config.CommerceConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg:              cfg,
		httpClient:       &http.Client{},
		maxResponseBytes: cfg.MaxResponseBytes,
		logger:           zap.NewNop(),
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = defaultMaxResponseBytes
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResourceURL returns the URL of a static reference resource
func (c *Client) ResourceURL(name reference.Collection) string {
	return c.cfg.ResourceURL(string(name))
}

// SubmitURL returns the product submission endpoint
func (c *Client) SubmitURL() string {
	return c.cfg.SubmitURL()
}

// URL resolves a backend path against the configured base URL
func (c *Client) URL(path string) string {
	return c.cfg.EndpointURL(path)
}

// Do sends one request. Non-2xx responses are returned as *shared.RequestError.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	return c.send(ctx, method, url, headers, reader)
}

// FetchResource downloads and decodes a static reference resource
func (c *Client) FetchResource(ctx context.Context, name reference.Collection) ([]reference.Entity, error) {
	resp, err := c.send(ctx, http.MethodGet, c.ResourceURL(name), map[string]string{"Accept": "application/json"}, nil)
	if err != nil {
		return nil, err
	}
	return DecodeResourceResponse(name, resp.Body)
}

// DecodeResourceResponse decodes a resource body, classifying decode errors
// as malformed responses
func DecodeResourceResponse(name reference.Collection, body []byte) ([]reference.Entity, error) {
	items, err := reference.DecodeResource(name, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrMalformedResponse, err)
	}
	return items, nil
}

// Submit posts a multipart product submission. The server must answer with
// a JSON object carrying an id.
func (c *Client) Submit(ctx context.Context, contentType string, body io.Reader) (*SubmitResult, error) {
	resp, err := c.send(ctx, http.MethodPost, c.SubmitURL(), map[string]string{
		"Content-Type": contentType,
		"Accept":       "application/json",
	}, body)
	if err != nil {
		return nil, err
	}

	id, err := parseSubmitID(resp.Body)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{ID: id, Body: resp.Body}, nil
}

func parseSubmitID(body []byte) (string, error) {
	var payload struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrMalformedResponse, err)
	}
	if len(payload.ID) == 0 || string(payload.ID) == "null" {
		return "", fmt.Errorf("%w: response has no id", shared.ErrMalformedResponse)
	}

	var s string
	if err := json.Unmarshal(payload.ID, &s); err == nil && s != "" {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(payload.ID, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String(), nil
		}
	}
	return "", fmt.Errorf("%w: invalid id %s", shared.ErrMalformedResponse, payload.ID)
}

func (c *Client) send(ctx context.Context, method, url string, headers map[string]string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("commerce: failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if c.cfg.SessionCookie != "" && req.Header.Get("Cookie") == "" {
		req.Header.Set("Cookie", c.cfg.SessionCookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	if int64(len(data)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", shared.ErrMalformedResponse, c.maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("commerce request failed",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return nil, shared.NewRequestError(resp.StatusCode, truncate(string(data), 512))
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", shared.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", shared.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", shared.ErrConnectivityLost, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func decodeJSON(body []byte, dest any) error {
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrMalformedResponse, err)
	}
	return nil
}
