package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/imgtoold/imgtoold/cachekey"
	"github.com/imgtoold/imgtoold/imaging"
	"github.com/imgtoold/imgtoold/modelscope"
	"github.com/imgtoold/imgtoold/storage"
)

const (
	defaultImageName   = "fetched-image"
	defaultImageTitle  = "Fetched Image"
	defaultDescription = "No description available."
)

// FetchImage downloads an image, caches the original bytes and serves
// the cached public URL. When a vision client is configured it also
// asks the model for a name and description; an optional focus string
// steers the description and becomes part of the cache key, so the
// same URL with different focus values caches independently.
func (s *Service) FetchImage(ctx context.Context, rawURL, focus string) (ToolResult, error) {
	validURL, err := ValidateHTTPURL(rawURL)
	if err != nil {
		return ToolResult{}, err
	}

	cacheKeyInput := validURL
	if f := strings.TrimSpace(focus); f != "" {
		cacheKeyInput = validURL + "::" + f
	}
	hash := cachekey.Compute(cacheKeyInput)
	prefix := storage.ImagePrefix(hash)
	metaKey := storage.MetaKey(prefix)

	if meta, ok := s.loadMetadata(ctx, metaKey); ok {
		s.logger.Debug("fetch cache hit", "url", validURL, "hash", hash)
		return ToolResult{
			URL:      meta.CachedImageURL,
			Name:     meta.Name,
			MimeType: meta.MimeType,
			Text:     meta.Description,
		}, nil
	}

	v, err, _ := s.dedupe.Do(hash, func() (interface{}, error) {
		return s.fetchImageMiss(ctx, validURL, focus, cacheKeyInput, prefix, metaKey)
	})
	if err != nil {
		return ToolResult{}, err
	}
	return v.(ToolResult), nil
}

func (s *Service) fetchImageMiss(ctx context.Context, validURL, focus, cacheKeyInput, prefix, metaKey string) (ToolResult, error) {
	data, headerType, err := s.fetchBytes(ctx, validURL)
	if err != nil {
		return ToolResult{}, err
	}
	mimeType, err := resolveMIME(data, headerType)
	if err != nil {
		return ToolResult{}, err
	}

	name := defaultImageName
	title := defaultImageTitle
	description := defaultDescription
	if s.vision != nil {
		// Description is best-effort; the fetch succeeds without it.
		descName, descText, err := s.vision.DescribeImage(ctx, validURL, focus)
		if err != nil {
			s.logger.Warn("image description failed", "url", validURL, "error", err)
		} else {
			if strings.TrimSpace(descName) != "" {
				name = strings.TrimSpace(descName)
				title = name
			}
			if strings.TrimSpace(descText) != "" {
				description = strings.TrimSpace(descText)
			}
		}
	}

	ext := imaging.ExtensionForMIME(mimeType)
	imageKey := storage.OriginalKey(prefix, ext)
	if err := s.store.Put(ctx, imageKey, data); err != nil {
		return ToolResult{}, fmt.Errorf("failed to cache image: %w", err)
	}
	imageURL := s.publicURL(imageKey)

	meta := Metadata{
		Kind:           KindFetched,
		CacheKeyInput:  cacheKeyInput,
		CachedImageKey: imageKey,
		CachedImageURL: imageURL,
		MimeType:       mimeType,
		CreatedAt:      s.timestamp(),
		OriginalURL:    validURL,
		Name:           name,
		Title:          title,
		Description:    description,
	}
	if err := s.saveMetadata(ctx, metaKey, meta); err != nil {
		return ToolResult{}, err
	}

	return ToolResult{
		URL:      imageURL,
		Name:     name,
		MimeType: mimeType,
		Text:     description,
	}, nil
}

// ImageInfo describes an image without caching it.
type ImageInfo struct {
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	TotalPixels int64    `json:"total_pixels"`
	MimeType    string   `json:"mime_type"`
	Size        int      `json:"size"`
	AspectRatio *float64 `json:"aspect_ratio"`
}

// GetImageInfo downloads an image and reports its dimensions, MIME
// type, byte size and aspect ratio. Results are not cached.
func (s *Service) GetImageInfo(ctx context.Context, rawURL string) (ImageInfo, error) {
	validURL, err := ValidateHTTPURL(rawURL)
	if err != nil {
		return ImageInfo{}, err
	}

	data, headerType, err := s.fetchBytes(ctx, validURL)
	if err != nil {
		return ImageInfo{}, err
	}
	mimeType, err := resolveMIME(data, headerType)
	if err != nil {
		mimeType = "unknown"
	}

	width, height, err := imaging.DecodeDimensions(data, mimeType)
	if err != nil {
		return ImageInfo{}, fmt.Errorf("failed to decode image: %w", err)
	}

	info := ImageInfo{
		Width:       width,
		Height:      height,
		TotalPixels: int64(width) * int64(height),
		MimeType:    mimeType,
		Size:        len(data),
	}
	if height != 0 {
		ratio := float64(width) / float64(height)
		info.AspectRatio = &ratio
	}
	return info, nil
}

// LocateObject asks the vision model for bounding boxes of every
// instance of objectName in the image. Results are not cached.
func (s *Service) LocateObject(ctx context.Context, rawURL, objectName string) ([]modelscope.BoundingBox, error) {
	validURL, err := ValidateHTTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(objectName) == "" {
		return nil, fmt.Errorf("%w: object name must not be empty", ErrInvalidInput)
	}
	if s.vision == nil {
		return nil, fmt.Errorf("vision client is not configured")
	}
	return s.vision.LocateObject(ctx, validURL, objectName)
}
