// Package service implements the image tool operations: fetch,
// rotate, crop, OCR (single and batch), image info, object location,
// AI generation and editing. Expensive external work is memoized
// through a content-addressed artifact store; identical requests hit
// the cache and serve the stored public URL.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/imgtoold/imgtoold/dedupe"
	"github.com/imgtoold/imgtoold/imaging"
	"github.com/imgtoold/imgtoold/modelscope"
	"github.com/imgtoold/imgtoold/storage"
)

// VisionClient answers synchronous vision queries about an image URL.
type VisionClient interface {
	ExtractText(ctx context.Context, imageURL string) (string, error)
	DescribeImage(ctx context.Context, imageURL, focus string) (name, description string, err error)
	LocateObject(ctx context.Context, imageURL, objectName string) ([]modelscope.BoundingBox, error)
}

// GenerationClient runs asynchronous image generation and edit tasks
// to completion.
type GenerationClient interface {
	GenerateImage(ctx context.Context, opts modelscope.GenerateOptions) (modelscope.GenerateResult, error)
	EditImage(ctx context.Context, imageURL, prompt, size string, steps int) (string, error)
}

// ToolResult is the uniform reply shape for every tool operation.
// Data carries the raw result bytes inline when the artifact could not
// be cached; URL is empty in that case.
type ToolResult struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
	Data     []byte `json:"data,omitempty"`
}

// Config carries the service dependencies.
type Config struct {
	Store   storage.Store
	BaseURL string
	Vision  VisionClient
	Gen     GenerationClient
	Dedupe  dedupe.Group
	HTTP    *http.Client
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service executes tool operations against a store and the remote
// inference clients. Vision and Gen may be nil; operations that need
// them fail with a configuration error, except fetch which degrades to
// placeholder descriptions.
type Service struct {
	store   storage.Store
	baseURL string
	vision  VisionClient
	gen     GenerationClient
	dedupe  dedupe.Group
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

func New(cfg Config) *Service {
	s := &Service{
		store:   cfg.Store,
		baseURL: cfg.BaseURL,
		vision:  cfg.Vision,
		gen:     cfg.Gen,
		dedupe:  cfg.Dedupe,
		http:    cfg.HTTP,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if s.dedupe == nil {
		s.dedupe = dedupe.NewNoOpGroup()
	}
	if s.http == nil {
		s.http = http.DefaultClient
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) publicURL(key string) string {
	return storage.PublicURL(s.baseURL, key)
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// fetchBytes downloads a URL and returns the body plus the media type
// from the Content-Type header (parameters stripped).
func (s *Service) fetchBytes(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("failed to fetch %s: HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body of %s: %w", url, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return data, strings.TrimSpace(contentType), nil
}

// resolveMIME prefers the sniffed signature over the transport header.
func resolveMIME(data []byte, headerType string) (string, error) {
	if mime := imaging.SniffMIME(data); mime != "" {
		return mime, nil
	}
	if headerType != "" {
		return headerType, nil
	}
	return "", fmt.Errorf("unsupported image type: no recognizable signature and no content-type header")
}
