// Package modelscope is a client for the ModelScope inference API: a
// synchronous chat endpoint used for vision tasks (OCR, description,
// object location) and an asynchronous image generation endpoint driven
// to completion by a polling loop.
package modelscope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"context"
)

const (
	defaultAPIRoot = "https://api-inference.modelscope.cn"

	visionModel   = "Qwen/Qwen3-VL-8B-Instruct"
	generateModel = "Tongyi-MAI/Z-Image-Turbo"
	editModel     = "Qwen/Qwen-Image-Edit-2511"

	// DefaultPollInterval is the fixed delay between task status checks.
	DefaultPollInterval = 5 * time.Second
	// DefaultPollTimeout bounds how long a task may stay non-terminal.
	DefaultPollTimeout = 5 * time.Minute
)

// Client talks to the ModelScope inference API.
type Client struct {
	httpClient   *http.Client
	apiKey       string
	apiRoot      string
	logger       *slog.Logger
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithAPIRoot overrides the API root URL. Used in tests.
func WithAPIRoot(root string) Option {
	return func(c *Client) { c.apiRoot = root }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithPollTimeout overrides the poll deadline.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Client) { c.pollTimeout = d }
}

// NewClient creates a ModelScope client authenticated with apiKey.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		apiKey:       apiKey,
		apiRoot:      defaultAPIRoot,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// postJSON sends an authenticated POST with a JSON body and decodes the
// JSON response into out. Extra headers are applied verbatim.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}, headers map[string]string, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiRoot+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req, out)
}

// getJSON sends an authenticated GET and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiRoot+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request to %s failed: HTTP %d: %s", req.URL.Path, resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w (body: %q)", req.URL.Path, err, string(data))
	}
	return nil
}

// apiError is the error shape embedded in ModelScope responses.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
