package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCRExtractCachesTextAndImage(t *testing.T) {
	server, requests := imageServer(t, testPNG(t, 8, 8))
	store := newDiskStore(t)
	vision := &fakeVision{extractFn: func(string) (string, error) {
		return "recognized text", nil
	}}
	svc := newTestService(t, func(cfg *Config) {
		cfg.Store = store
		cfg.Vision = vision
	})

	first, err := svc.OCRExtract(context.Background(), server.URL+"/scan.png")
	require.NoError(t, err)
	assert.Equal(t, "recognized text", first.Text)
	assert.Equal(t, "ocr-image", first.Name)
	assert.Contains(t, first.URL, "/ocr/")

	// The text artifact is stored alongside the original.
	textKey := strings.Replace(resultKeyFromURL(t, first.URL), "/original.png", "/ocr.txt", 1)
	data, found, err := store.Get(context.Background(), textKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "recognized text", string(data))

	second, err := svc.OCRExtract(context.Background(), server.URL+"/scan.png")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), requests.Load())
	assert.Equal(t, int64(1), vision.extractCalls.Load(), "hit must not re-run extraction")
}

func TestOCRExtractTextWriteFailureIsFatal(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 8, 8))
	disk := newDiskStore(t)
	store := &flakyStore{Store: disk, failPut: func(key string) bool {
		return strings.HasSuffix(key, "/ocr.txt")
	}}
	svc := newTestService(t, func(cfg *Config) { cfg.Store = store })

	_, err := svc.OCRExtract(context.Background(), server.URL+"/scan.png")
	require.Error(t, err, "the text is required output, a failed write cannot degrade")
}

func TestOCRExtractMissingTextRecomputes(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 8, 8))
	store := newDiskStore(t)
	vision := &fakeVision{}
	svc := newTestService(t, func(cfg *Config) {
		cfg.Store = store
		cfg.Vision = vision
	})

	first, err := svc.OCRExtract(context.Background(), server.URL+"/scan.png")
	require.NoError(t, err)

	// Simulate a lost text artifact: metadata points at a key that no
	// longer resolves, so the extraction must run again.
	textKey := strings.Replace(resultKeyFromURL(t, first.URL), "/original.png", "/ocr.txt", 1)
	require.NoError(t, os.Remove(filepath.Join(store.BaseDir(), filepath.FromSlash(textKey))))

	_, err = svc.OCRExtract(context.Background(), server.URL+"/scan.png")
	require.NoError(t, err)
	assert.Equal(t, int64(2), vision.extractCalls.Load())
}

func TestOCRExtractWithoutVision(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 8, 8))
	svc := newTestService(t, func(cfg *Config) { cfg.Vision = nil })

	_, err := svc.OCRExtract(context.Background(), server.URL+"/scan.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestOCRBatchPreservesInputOrder(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 8, 8))
	vision := &fakeVision{extractFn: func(url string) (string, error) {
		return "text for " + url, nil
	}}
	svc := newTestService(t, func(cfg *Config) { cfg.Vision = vision })

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/img-%d.png", server.URL, i)
	}

	results, err := svc.OCRBatch(context.Background(), urls)
	require.NoError(t, err)
	require.Len(t, results, len(urls))
	for i, result := range results {
		assert.Equal(t, "text for "+urls[i], result.Text, "slot %d out of order", i)
	}
}

func TestOCRBatchFirstFailureFailsBatch(t *testing.T) {
	server, _ := imageServer(t, testPNG(t, 8, 8))
	vision := &fakeVision{extractFn: func(url string) (string, error) {
		if strings.Contains(url, "img-2") {
			return "", errors.New("extraction blew up")
		}
		return "ok", nil
	}}
	svc := newTestService(t, func(cfg *Config) { cfg.Vision = vision })

	urls := make([]string, 5)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/img-%d.png", server.URL, i)
	}

	results, err := svc.OCRBatch(context.Background(), urls)
	require.Error(t, err)
	assert.Nil(t, results, "a failed batch must not return partial results")
	assert.Contains(t, err.Error(), "extraction blew up")
}

func TestOCRBatchValidatesEveryURL(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.OCRBatch(context.Background(), []string{
		"https://example.com/a.png",
		"ftp://example.com/b.png",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "url 1")

	_, err = svc.OCRBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
