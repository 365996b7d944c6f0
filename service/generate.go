package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/imgtoold/imgtoold/modelscope"
)

// maxDimension is the generation model's per-side resolution limit.
const maxDimension = 1024 * 2

var aspectRatios = map[string][2]float64{
	"1:1":  {1, 1},
	"16:9": {16, 9},
	"9:16": {9, 16},
	"4:3":  {4, 3},
	"3:4":  {3, 4},
	"3:2":  {3, 2},
	"2:3":  {2, 3},
}

var resolutionBases = map[string]float64{
	"1k": 1024,
	"2k": 2048,
	// The model caps out at 2048 per side, so 4k degrades to 2k.
	"4k": 2048,
}

// GenerateParams are the caller-facing parameters for image
// generation. AspectRatio and Resolution default to "1:1" and "1k".
type GenerateParams struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Resolution     string
	Steps          int
}

// ComputeSize turns an aspect ratio and resolution into the
// "<width>x<height>" size string the generation model expects. The
// larger side gets the base resolution, the other follows the ratio,
// and both are capped at the model's per-side limit.
func ComputeSize(aspectRatio, resolution string) (string, error) {
	ratio := strings.TrimSpace(aspectRatio)
	if ratio == "" {
		ratio = "1:1"
	}
	res := strings.ToLower(strings.TrimSpace(resolution))
	if res == "" {
		res = "1k"
	}

	base, ok := resolutionBases[res]
	if !ok {
		return "", fmt.Errorf("%w: resolution must be one of 1k, 2k, 4k, got %q", ErrInvalidInput, resolution)
	}
	dims, ok := aspectRatios[ratio]
	if !ok {
		return "", fmt.Errorf("%w: aspect_ratio must be one of 1:1, 16:9, 9:16, 4:3, 3:4, 3:2, 2:3, got %q", ErrInvalidInput, aspectRatio)
	}

	scale := base / math.Max(dims[0], dims[1])
	w := math.Round(dims[0] * scale)
	h := math.Round(dims[1] * scale)
	if w > maxDimension || h > maxDimension {
		scaleDown := maxDimension / math.Max(w, h)
		w = math.Round(w * scaleDown)
		h = math.Round(h * scaleDown)
	}
	return fmt.Sprintf("%dx%d", int(w), int(h)), nil
}

// GenerateImage runs a text-to-image task to completion and saves an
// audit record of the generation. The resulting image is hosted by the
// remote service; only the audit record is persisted locally.
func (s *Service) GenerateImage(ctx context.Context, params GenerateParams) (ToolResult, error) {
	if strings.TrimSpace(params.Prompt) == "" {
		return ToolResult{}, fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}
	if s.gen == nil {
		return ToolResult{}, fmt.Errorf("generation client is not configured")
	}

	size, err := ComputeSize(params.AspectRatio, params.Resolution)
	if err != nil {
		return ToolResult{}, err
	}
	s.logger.Debug("generating image",
		"aspect_ratio", params.AspectRatio, "resolution", params.Resolution, "size", size)

	result, err := s.gen.GenerateImage(ctx, modelscope.GenerateOptions{
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		Size:           size,
		Steps:          params.Steps,
	})
	if err != nil {
		return ToolResult{}, err
	}

	record := AIImageRecord{
		ImageURL:       result.ImageURL,
		ImageType:      ImageTypeGenerated,
		Prompt:         params.Prompt,
		NegativePrompt: params.NegativePrompt,
		AspectRatio:    params.AspectRatio,
		Resolution:     params.Resolution,
		Steps:          params.Steps,
		CreatedAt:      s.timestamp(),
	}
	if err := s.saveAIImageRecord(ctx, record); err != nil {
		// Audit only; the generation itself succeeded.
		s.logger.Warn("failed to save generation record", "error", err)
	}

	return ToolResult{
		URL:      result.ImageURL,
		Name:     "generated-image",
		MimeType: "image/png",
		Text:     "Image generated.",
	}, nil
}

// EditParams are the caller-facing parameters for image editing.
type EditParams struct {
	ImageURL string
	Prompt   string
	Size     string
	Steps    int
}

// EditImage runs an instruction-driven edit task to completion and
// saves an audit record of the edit.
func (s *Service) EditImage(ctx context.Context, params EditParams) (ToolResult, error) {
	validURL, err := ValidateHTTPURL(params.ImageURL)
	if err != nil {
		return ToolResult{}, err
	}
	if strings.TrimSpace(params.Prompt) == "" {
		return ToolResult{}, fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}
	if s.gen == nil {
		return ToolResult{}, fmt.Errorf("generation client is not configured")
	}

	imageURL, err := s.gen.EditImage(ctx, validURL, params.Prompt, params.Size, params.Steps)
	if err != nil {
		return ToolResult{}, err
	}

	record := AIImageRecord{
		ImageURL:       imageURL,
		ImageType:      ImageTypeEdited,
		Prompt:         params.Prompt,
		Resolution:     params.Size,
		Steps:          params.Steps,
		SourceImageURL: validURL,
		CreatedAt:      s.timestamp(),
	}
	if err := s.saveAIImageRecord(ctx, record); err != nil {
		s.logger.Warn("failed to save edit record", "error", err)
	}

	return ToolResult{
		URL:      imageURL,
		Name:     "edited-image",
		MimeType: "image/png",
		Text:     "Image edited.",
	}, nil
}
