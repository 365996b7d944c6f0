package service

import (
	"context"
	"encoding/json"
	"fmt"
)

// Metadata kinds.
const (
	KindFetched   = "fetched"
	KindProcessed = "processed"
	KindOCR       = "ocr"
)

// Metadata is the per-operation cache record stored at
// <prefix>/meta.json. One tagged variant covers all operation kinds:
// the common fields are always set, the optional groups only for the
// kind that uses them. A metadata record is written only after every
// artifact it references, so its presence proves the artifacts exist.
type Metadata struct {
	Kind           string `json:"kind"`
	CacheKeyInput  string `json:"cache_key_input"`
	CachedImageKey string `json:"cached_image_key"`
	CachedImageURL string `json:"cached_image_url"`
	MimeType       string `json:"mime_type"`
	CreatedAt      string `json:"created_at"`

	// Fetched images only.
	OriginalURL string `json:"original_url,omitempty"`
	Name        string `json:"name,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// OCR results only.
	CachedTextKey string `json:"cached_text_key,omitempty"`
	CachedTextURL string `json:"cached_text_url,omitempty"`
}

// loadMetadata reads and parses the record at metaKey. Parse failures
// are treated as a cache miss so a corrupt record gets recomputed and
// overwritten rather than wedging the key.
func (s *Service) loadMetadata(ctx context.Context, metaKey string) (Metadata, bool) {
	data, found, err := s.store.Get(ctx, metaKey)
	if err != nil {
		s.logger.Warn("metadata read failed", "key", metaKey, "error", err)
		return Metadata{}, false
	}
	if !found {
		return Metadata{}, false
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		s.logger.Warn("metadata parse failed", "key", metaKey, "error", err)
		return Metadata{}, false
	}
	return meta, true
}

func (s *Service) saveMetadata(ctx context.Context, metaKey string, meta Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := s.store.Put(ctx, metaKey, data); err != nil {
		return fmt.Errorf("failed to save metadata at %s: %w", metaKey, err)
	}
	return nil
}
