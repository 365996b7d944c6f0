package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/imgtoold/imgtoold/cachekey"
	"github.com/imgtoold/imgtoold/imaging"
	"github.com/imgtoold/imgtoold/storage"
)

// Rotation directions accepted by RotateImage.
const (
	DirectionRight90 = "right_90"
	DirectionLeft90  = "left_90"
	DirectionFlip180 = "flip_180"
)

var rotationAngles = map[string]int{
	DirectionRight90: 90,
	DirectionLeft90:  -90,
	DirectionFlip180: 180,
}

// RotateImage rotates the image at rawURL by a fixed direction and
// caches the PNG result keyed by "rotate:<url>:<direction>".
func (s *Service) RotateImage(ctx context.Context, rawURL, direction string) (ToolResult, error) {
	validURL, err := ValidateHTTPURL(rawURL)
	if err != nil {
		return ToolResult{}, err
	}
	angle, ok := rotationAngles[direction]
	if !ok {
		return ToolResult{}, fmt.Errorf("%w: direction must be one of right_90, left_90, flip_180, got %q", ErrInvalidInput, direction)
	}

	cacheKeyInput := "rotate:" + validURL + ":" + direction
	return s.transform(ctx, validURL, cacheKeyInput, "rotated-image", "Image rotated.",
		func(pixels []byte, width, height int) ([]byte, int, int, error) {
			rotated := imaging.Rotate(pixels, width, height, angle)
			if len(rotated) == 0 {
				return nil, 0, 0, fmt.Errorf("%w: pixel buffer does not match image dimensions", ErrInvalidInput)
			}
			newWidth, newHeight := imaging.RotatedDimensions(width, height, angle)
			return rotated, newWidth, newHeight, nil
		})
}

// CropImage crops the image at rawURL to the given ratio bounds, each
// in [0, 1], and caches the PNG result keyed by
// "crop:<url>:<left>:<top>:<right>:<bottom>". The textual form of the
// bounds is part of the key, so "0.5" and "0.50" cache separately.
func (s *Service) CropImage(ctx context.Context, rawURL string, left, top, right, bottom float64) (ToolResult, error) {
	validURL, err := ValidateHTTPURL(rawURL)
	if err != nil {
		return ToolResult{}, err
	}

	cacheKeyInput := fmt.Sprintf("crop:%s:%s:%s:%s:%s", validURL,
		formatBound(left), formatBound(top), formatBound(right), formatBound(bottom))
	return s.transform(ctx, validURL, cacheKeyInput, "cropped-image", "Image cropped.",
		func(pixels []byte, width, height int) ([]byte, int, int, error) {
			cropped := imaging.Crop(pixels, width, height, left, top, right, bottom)
			if len(cropped) == 0 {
				return nil, 0, 0, fmt.Errorf("%w: crop bounds produce an empty image", ErrInvalidInput)
			}
			newWidth, newHeight := imaging.CroppedDimensions(width, height, left, top, right, bottom)
			return cropped, newWidth, newHeight, nil
		})
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// transform runs the shared cache-or-compute flow for pixel
// transforms: check the metadata record, and on a miss fetch the
// source, decode, apply fn, encode to PNG and store result plus
// metadata. A failed result write degrades to returning the PNG bytes
// inline instead of failing the operation.
func (s *Service) transform(ctx context.Context, validURL, cacheKeyInput, name, text string,
	fn func(pixels []byte, width, height int) ([]byte, int, int, error)) (ToolResult, error) {

	hash := cachekey.Compute(cacheKeyInput)
	prefix := storage.ProcessedPrefix(hash)
	metaKey := storage.MetaKey(prefix)

	if meta, ok := s.loadMetadata(ctx, metaKey); ok {
		s.logger.Debug("transform cache hit", "key_input", cacheKeyInput, "hash", hash)
		return ToolResult{
			URL:      meta.CachedImageURL,
			Name:     name,
			MimeType: meta.MimeType,
			Text:     text,
		}, nil
	}

	v, err, _ := s.dedupe.Do(hash, func() (interface{}, error) {
		return s.transformMiss(ctx, validURL, cacheKeyInput, name, text, prefix, metaKey, fn)
	})
	if err != nil {
		return ToolResult{}, err
	}
	return v.(ToolResult), nil
}

func (s *Service) transformMiss(ctx context.Context, validURL, cacheKeyInput, name, text, prefix, metaKey string,
	fn func(pixels []byte, width, height int) ([]byte, int, int, error)) (ToolResult, error) {

	data, headerType, err := s.fetchBytes(ctx, validURL)
	if err != nil {
		return ToolResult{}, err
	}
	mimeType, err := resolveMIME(data, headerType)
	if err != nil {
		return ToolResult{}, err
	}

	pixels, width, height, err := imaging.Decode(data, mimeType)
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to decode image: %w", err)
	}

	result, newWidth, newHeight, err := fn(pixels, width, height)
	if err != nil {
		return ToolResult{}, err
	}

	pngBytes, err := imaging.EncodePNG(result, newWidth, newHeight)
	if err != nil {
		return ToolResult{}, fmt.Errorf("failed to encode result: %w", err)
	}

	resultKey := storage.ResultKey(prefix, "png")
	if err := s.store.Put(ctx, resultKey, pngBytes); err != nil {
		// The work is done; hand the bytes back instead of failing.
		s.logger.Warn("result write failed, returning bytes inline", "key", resultKey, "error", err)
		return ToolResult{
			Name:     name,
			MimeType: "image/png",
			Text:     text,
			Data:     pngBytes,
		}, nil
	}
	resultURL := s.publicURL(resultKey)

	meta := Metadata{
		Kind:           KindProcessed,
		CacheKeyInput:  cacheKeyInput,
		CachedImageKey: resultKey,
		CachedImageURL: resultURL,
		MimeType:       "image/png",
		CreatedAt:      s.timestamp(),
	}
	if err := s.saveMetadata(ctx, metaKey, meta); err != nil {
		return ToolResult{}, err
	}

	return ToolResult{
		URL:      resultURL,
		Name:     name,
		MimeType: "image/png",
		Text:     text,
	}, nil
}
