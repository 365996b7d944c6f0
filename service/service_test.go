package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgtoold/imgtoold/modelscope"
	"github.com/imgtoold/imgtoold/storage"
)

func testPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imageServer serves the same PNG on every path and counts requests.
func imageServer(t *testing.T, body []byte) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

type fakeVision struct {
	extractCalls  atomic.Int64
	describeCalls atomic.Int64

	extractFn  func(url string) (string, error)
	describeFn func(url, focus string) (string, string, error)
	locateFn   func(url, objectName string) ([]modelscope.BoundingBox, error)
}

func (f *fakeVision) ExtractText(_ context.Context, url string) (string, error) {
	f.extractCalls.Add(1)
	if f.extractFn != nil {
		return f.extractFn(url)
	}
	return "text from " + url, nil
}

func (f *fakeVision) DescribeImage(_ context.Context, url, focus string) (string, string, error) {
	f.describeCalls.Add(1)
	if f.describeFn != nil {
		return f.describeFn(url, focus)
	}
	return "Test Image", "A test image.", nil
}

func (f *fakeVision) LocateObject(_ context.Context, url, objectName string) ([]modelscope.BoundingBox, error) {
	if f.locateFn != nil {
		return f.locateFn(url, objectName)
	}
	return []modelscope.BoundingBox{{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5}}, nil
}

type fakeGen struct {
	generateFn func(opts modelscope.GenerateOptions) (modelscope.GenerateResult, error)
	editFn     func(imageURL, prompt, size string, steps int) (string, error)
}

func (f *fakeGen) GenerateImage(_ context.Context, opts modelscope.GenerateOptions) (modelscope.GenerateResult, error) {
	if f.generateFn != nil {
		return f.generateFn(opts)
	}
	return modelscope.GenerateResult{ImageURL: "https://cdn.example.com/gen.png", TaskID: "t1"}, nil
}

func (f *fakeGen) EditImage(_ context.Context, imageURL, prompt, size string, steps int) (string, error) {
	if f.editFn != nil {
		return f.editFn(imageURL, prompt, size, steps)
	}
	return "https://cdn.example.com/edited.png", nil
}

// flakyStore fails Put for keys selected by failPut.
type flakyStore struct {
	storage.Store
	failPut func(key string) bool
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte) error {
	if f.failPut != nil && f.failPut(key) {
		return errors.New("simulated write failure")
	}
	return f.Store.Put(ctx, key, data)
}

func newDiskStore(t *testing.T) *storage.Disk {
	t.Helper()
	store, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)
	return store
}

func newTestService(t *testing.T, mutate func(*Config)) *Service {
	t.Helper()
	cfg := Config{
		Store:   newDiskStore(t),
		BaseURL: "http://cache.example.com",
		Vision:  &fakeVision{},
		Gen:     &fakeGen{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg)
}

func TestFetchImageCachesAndHits(t *testing.T) {
	server, requests := imageServer(t, testPNG(t, 8, 8))
	vision := &fakeVision{}
	svc := newTestService(t, func(cfg *Config) { cfg.Vision = vision })

	first, err := svc.FetchImage(context.Background(), server.URL+"/img.png", "")
	require.NoError(t, err)
	assert.Equal(t, "Test Image", first.Name)
	assert.Equal(t, "A test image.", first.Text)
	assert.Equal(t, "image/png", first.MimeType)
	assert.Contains(t, first.URL, "http://cache.example.com/images/")
	assert.Contains(t, first.URL, "/original.png")

	second, err := svc.FetchImage(context.Background(), server.URL+"/img.png", "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), requests.Load(), "second call must be served from cache")
	assert.Equal(t, int64(1), vision.describeCalls.Load())
}

func TestFetchImageFocusChangesCacheKey(t *testing.T) {
	server, requests := imageServer(t, testPNG(t, 8, 8))
	svc := newTestService(t, nil)

	_, err := svc.FetchImage(context.Background(), server.URL+"/img.png", "")
	require.NoError(t, err)
	_, err = svc.FetchImage(context.Background(), server.URL+"/img.png", "the sign")
	require.NoError(t, err)

	assert.Equal(t, int64(2), requests.Load(), "different focus must not share a cache entry")
}

func TestFetchImageWithoutVisionUsesPlaceholders(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 8, 8))
	svc := newTestService(t, func(cfg *Config) { cfg.Vision = nil })

	result, err := svc.FetchImage(context.Background(), server.URL+"/img.png", "")
	require.NoError(t, err)
	assert.Equal(t, defaultImageName, result.Name)
	assert.Equal(t, defaultDescription, result.Text)
}

func TestFetchImageDescriptionFailureIsNotFatal(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 8, 8))
	vision := &fakeVision{describeFn: func(string, string) (string, string, error) {
		return "", "", errors.New("model unavailable")
	}}
	svc := newTestService(t, func(cfg *Config) { cfg.Vision = vision })

	result, err := svc.FetchImage(context.Background(), server.URL+"/img.png", "")
	require.NoError(t, err)
	assert.Equal(t, defaultImageName, result.Name)
}

func TestFetchImageRejectsBadURL(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.FetchImage(context.Background(), "ftp://example.com/a.png", "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.FetchImage(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestFetchImageUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)
	svc := newTestService(t, nil)

	_, err := svc.FetchImage(context.Background(), server.URL+"/a.png", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestGetImageInfo(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 16, 8))
	svc := newTestService(t, nil)

	info, err := svc.GetImageInfo(context.Background(), server.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, 16, info.Width)
	assert.Equal(t, 8, info.Height)
	assert.Equal(t, int64(128), info.TotalPixels)
	assert.Equal(t, "image/png", info.MimeType)
	require.NotNil(t, info.AspectRatio)
	assert.InDelta(t, 2.0, *info.AspectRatio, 1e-9)
}

func TestLocateObject(t *testing.T) {
	svc := newTestService(t, nil)

	boxes, err := svc.LocateObject(context.Background(), "https://example.com/x.png", "cat")
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, 0.1, boxes[0].X1)

	_, err = svc.LocateObject(context.Background(), "https://example.com/x.png", "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidateHTTPURL(t *testing.T) {
	valid, err := ValidateHTTPURL("  https://example.com/a.png  ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.png", valid)

	for _, bad := range []string{"", "   ", "ftp://example.com/a", "file:///etc/passwd", "not a url", "https://"} {
		_, err := ValidateHTTPURL(bad)
		assert.ErrorIs(t, err, ErrInvalidInput, "input %q", bad)
	}
}

func TestServiceDefaults(t *testing.T) {
	svc := New(Config{Store: newDiskStore(t), BaseURL: "http://x"})
	assert.NotNil(t, svc.dedupe)
	assert.NotNil(t, svc.http)
	assert.NotNil(t, svc.logger)
	assert.WithinDuration(t, time.Now(), svc.now(), time.Minute)
}
