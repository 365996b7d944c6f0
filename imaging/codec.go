package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned when a MIME type has no registered
// decoder.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// SniffMIME detects the image MIME type from byte signatures.
// Returns the empty string when no signature matches, in which case a
// caller-supplied content-type header should be consulted instead.
func SniffMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}):
		return "image/png"
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg"
	case bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	case bytes.HasPrefix(data, []byte("BM")):
		return "image/bmp"
	default:
		return ""
	}
}

// Decode decodes encoded image bytes of the given MIME type into an
// interleaved RGBA buffer plus its dimensions.
func Decode(data []byte, mimeType string) ([]byte, int, int, error) {
	decode, err := decoderFor(mimeType)
	if err != nil {
		return nil, 0, 0, err
	}

	img, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image failed: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba.Pix, bounds.Dx(), bounds.Dy(), nil
}

// DecodeDimensions returns the dimensions of the encoded image without
// decoding pixel data.
func DecodeDimensions(data []byte, mimeType string) (int, int, error) {
	decodeConfig, err := configDecoderFor(mimeType)
	if err != nil {
		return 0, 0, err
	}

	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image failed: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodePNG encodes an interleaved RGBA buffer as PNG bytes.
func EncodePNG(pixels []byte, width, height int) ([]byte, error) {
	if len(pixels) != width*height*BytesPerPixel {
		return nil, fmt.Errorf("invalid rgba buffer: got %d bytes, want %d", len(pixels), width*height*BytesPerPixel)
	}

	img := &image.NRGBA{
		Pix:    pixels,
		Stride: width * BytesPerPixel,
		Rect:   image.Rect(0, 0, width, height),
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png failed: %w", err)
	}
	return buf.Bytes(), nil
}

// ExtensionForMIME maps a MIME type to the file extension used in
// storage keys. Unknown types map to "bin".
func ExtensionForMIME(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/bmp":
		return "bmp"
	case "image/svg+xml":
		return "svg"
	case "image/avif":
		return "avif"
	default:
		return "bin"
	}
}

func decoderFor(mimeType string) (func(io.Reader) (image.Image, error), error) {
	switch mimeType {
	case "image/png":
		return png.Decode, nil
	case "image/jpeg", "image/jpg":
		return jpeg.Decode, nil
	case "image/gif":
		return gif.Decode, nil
	case "image/webp":
		return webp.Decode, nil
	case "image/bmp":
		return bmp.Decode, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}

func configDecoderFor(mimeType string) (func(io.Reader) (image.Config, error), error) {
	switch mimeType {
	case "image/png":
		return png.DecodeConfig, nil
	case "image/jpeg", "image/jpg":
		return jpeg.DecodeConfig, nil
	case "image/gif":
		return gif.DecodeConfig, nil
	case "image/webp":
		return webp.DecodeConfig, nil
	case "image/bmp":
		return bmp.DecodeConfig, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}
