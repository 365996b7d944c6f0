package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imgtoold/imgtoold/modelscope"
	"github.com/imgtoold/imgtoold/service"
	"github.com/imgtoold/imgtoold/stats"
	"github.com/imgtoold/imgtoold/storage"
)

type stubVision struct{}

func (stubVision) ExtractText(context.Context, string) (string, error) {
	return "stub text", nil
}

func (stubVision) DescribeImage(context.Context, string, string) (string, string, error) {
	return "Stub", "A stub image.", nil
}

func (stubVision) LocateObject(context.Context, string, string) ([]modelscope.BoundingBox, error) {
	return nil, nil
}

func newTestHandler(t *testing.T) (http.Handler, string) {
	t.Helper()

	cacheDir := t.TempDir()
	store, err := storage.NewDisk(cacheDir)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(service.Config{
		Store:   store,
		BaseURL: "http://cache.example.com",
		Vision:  stubVision{},
		Logger:  logger,
	})
	return newServer(svc, stats.NewRecorder(), logger, cacheDir, true), cacheDir
}

func smallPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestServerFetchImageEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(smallPNG(t))
	}))
	t.Cleanup(source.Close)

	body, _ := json.Marshal(map[string]string{"url": source.URL + "/img.png"})
	req := httptest.NewRequest(http.MethodPost, "/tools/fetch_image", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var result service.ToolResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Stub", result.Name)
	assert.Contains(t, result.URL, "http://cache.example.com/images/")
}

func TestServerRejectsInvalidInput(t *testing.T) {
	handler, _ := newTestHandler(t)

	body, _ := json.Marshal(map[string]string{"url": "ftp://nope/a.png"})
	req := httptest.NewRequest(http.MethodPost, "/tools/fetch_image", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestServerRejectsMalformedBody(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/tools/crop_image", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerPropagatesRequestID(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
}

func TestServerListAIImagesEmpty(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/ai_images?limit=5&type=all", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestServerServesCachedArtifacts(t *testing.T) {
	handler, cacheDir := newTestHandler(t)

	store, err := storage.NewDisk(cacheDir)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "images/h/original.png", []byte("png-bytes")))

	req := httptest.NewRequest(http.MethodGet, "/cache/images/h/original.png", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
}
