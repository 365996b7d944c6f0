package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/imgtoold/imgtoold/cachekey"
)

const aiImageDir = "ai_images"

// AI image record types.
const (
	ImageTypeGenerated = "generated"
	ImageTypeEdited    = "edited"
)

// AIImageRecord is an append-only audit entry for one AI-generated or
// edited image. Records are never mutated or deleted.
type AIImageRecord struct {
	ImageURL       string `json:"image_url"`
	ImageType      string `json:"image_type"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	Steps          int    `json:"steps,omitempty"`
	SourceImageURL string `json:"source_image_url,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// saveAIImageRecord writes the record under a filename that sorts
// newest-first when keys are listed in descending order: the creation
// timestamp (colons replaced so the key stays path-safe) plus a hash
// of the record's identity.
func (s *Service) saveAIImageRecord(ctx context.Context, record AIImageRecord) error {
	createdAt := strings.ReplaceAll(record.CreatedAt, ":", "-")
	hash := cachekey.Compute(fmt.Sprintf("%s:%s:%s", record.ImageType, record.ImageURL, record.Prompt))
	key := fmt.Sprintf("%s/%s_%s.json", aiImageDir, createdAt, hash)

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := s.store.Put(ctx, key, payload); err != nil {
		return fmt.Errorf("failed to save record at %s: %w", key, err)
	}
	return nil
}

// ListAIImages returns up to limit audit records, newest first,
// optionally filtered by image type. imageType accepts "generated",
// "edited" or "all"; empty means all. A limit below 1 defaults to 10.
func (s *Service) ListAIImages(ctx context.Context, limit int, imageType string) ([]AIImageRecord, error) {
	imageType = strings.TrimSpace(imageType)
	if imageType == "" {
		imageType = "all"
	}
	if imageType != "all" && imageType != ImageTypeGenerated && imageType != ImageTypeEdited {
		return nil, fmt.Errorf("%w: image_type must be generated, edited or all, got %q", ErrInvalidInput, imageType)
	}
	if limit < 1 {
		limit = 10
	}

	keys, err := s.store.List(ctx, aiImageDir+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]AIImageRecord, 0, limit)
	for _, key := range keys {
		if len(records) >= limit {
			break
		}
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, found, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read record %s: %w", key, err)
		}
		if !found {
			continue
		}
		var record AIImageRecord
		if err := json.Unmarshal(data, &record); err != nil {
			// Skip unreadable records rather than failing the listing.
			s.logger.Warn("skipping unparsable record", "key", key, "error", err)
			continue
		}
		if imageType != "all" && record.ImageType != imageType {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
