package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/imgtoold/imgtoold/cachekey"
	"github.com/imgtoold/imgtoold/imaging"
	"github.com/imgtoold/imgtoold/storage"
)

// OCRExtract runs text recognition over the image at rawURL and caches
// the original bytes, the extracted text and a metadata record keyed
// by "ocr:<url>". A hit requires both the metadata record and the text
// artifact; if either is missing the extraction is recomputed.
func (s *Service) OCRExtract(ctx context.Context, rawURL string) (ToolResult, error) {
	validURL, err := ValidateHTTPURL(rawURL)
	if err != nil {
		return ToolResult{}, err
	}

	cacheKeyInput := "ocr:" + validURL
	hash := cachekey.Compute(cacheKeyInput)
	prefix := storage.OCRPrefix(hash)
	metaKey := storage.MetaKey(prefix)

	if meta, ok := s.loadMetadata(ctx, metaKey); ok {
		textBytes, found, err := s.store.Get(ctx, meta.CachedTextKey)
		if err == nil && found {
			s.logger.Debug("ocr cache hit", "url", validURL, "hash", hash)
			return ToolResult{
				URL:      meta.CachedImageURL,
				Name:     "ocr-image",
				MimeType: meta.MimeType,
				Text:     string(textBytes),
			}, nil
		}
	}

	v, err, _ := s.dedupe.Do(hash, func() (interface{}, error) {
		return s.ocrMiss(ctx, validURL, cacheKeyInput, prefix, metaKey)
	})
	if err != nil {
		return ToolResult{}, err
	}
	return v.(ToolResult), nil
}

func (s *Service) ocrMiss(ctx context.Context, validURL, cacheKeyInput, prefix, metaKey string) (ToolResult, error) {
	if s.vision == nil {
		return ToolResult{}, fmt.Errorf("vision client is not configured")
	}

	data, headerType, err := s.fetchBytes(ctx, validURL)
	if err != nil {
		return ToolResult{}, err
	}
	mimeType, err := resolveMIME(data, headerType)
	if err != nil {
		return ToolResult{}, err
	}

	text, err := s.vision.ExtractText(ctx, validURL)
	if err != nil {
		return ToolResult{}, fmt.Errorf("text extraction failed: %w", err)
	}

	ext := imaging.ExtensionForMIME(mimeType)
	imageKey := storage.OriginalKey(prefix, ext)
	if err := s.store.Put(ctx, imageKey, data); err != nil {
		return ToolResult{}, fmt.Errorf("failed to cache image: %w", err)
	}
	imageURL := s.publicURL(imageKey)

	// The text is the operation's required output; a failed write is
	// fatal, unlike a transform's result artifact.
	textKey := storage.OCRTextKey(prefix)
	if err := s.store.Put(ctx, textKey, []byte(text)); err != nil {
		return ToolResult{}, fmt.Errorf("failed to cache extracted text: %w", err)
	}
	textURL := s.publicURL(textKey)

	meta := Metadata{
		Kind:           KindOCR,
		CacheKeyInput:  cacheKeyInput,
		CachedImageKey: imageKey,
		CachedImageURL: imageURL,
		MimeType:       mimeType,
		CreatedAt:      s.timestamp(),
		CachedTextKey:  textKey,
		CachedTextURL:  textURL,
	}
	if err := s.saveMetadata(ctx, metaKey, meta); err != nil {
		return ToolResult{}, err
	}

	return ToolResult{
		URL:      imageURL,
		Name:     "ocr-image",
		MimeType: mimeType,
		Text:     text,
	}, nil
}

// OCRBatch runs OCRExtract over every URL concurrently. Results keep
// the input order regardless of completion order. The first failure
// fails the whole batch; in-flight siblings are not cancelled, they
// run to completion and their cache writes are kept, but their results
// are discarded.
func (s *Service) OCRBatch(ctx context.Context, urls []string) ([]ToolResult, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no urls given", ErrInvalidInput)
	}
	for i, u := range urls {
		if _, err := ValidateHTTPURL(u); err != nil {
			return nil, fmt.Errorf("url %d: %w", i, err)
		}
	}

	// A plain errgroup, not WithContext: a failing unit must not
	// cancel its siblings, only stop the batch from reporting results.
	var g errgroup.Group
	results := make([]ToolResult, len(urls))
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			result, err := s.OCRExtract(ctx, u)
			if err != nil {
				return fmt.Errorf("url %d (%s): %w", i, u, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
