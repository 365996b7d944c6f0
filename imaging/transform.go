// Package imaging implements raw-pixel transforms over interleaved RGBA
// buffers and the byte-level codec used to move between encoded images
// and those buffers.
//
// The pixel format is fixed: 4 bytes per pixel (R, G, B, A), row-major,
// origin top-left. Transform functions validate the buffer length
// against the declared dimensions and return an empty result on any
// mismatch or invalid bounds; callers must treat an empty result as a
// validation failure.
package imaging

import "math"

// BytesPerPixel is the size of one interleaved RGBA sample.
const BytesPerPixel = 4

// Rotate returns a new buffer with the pixels rotated by angle degrees.
// Supported angles are exactly 90, -90 and 180; any other value passes
// the input through unchanged (identity). For ±90 the output dimensions
// are (height, width).
func Rotate(pixels []byte, width, height, angle int) []byte {
	if len(pixels) != width*height*BytesPerPixel {
		return nil
	}

	newWidth, newHeight := RotatedDimensions(width, height, angle)
	output := make([]byte, newWidth*newHeight*BytesPerPixel)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			var newX, newY int
			switch angle {
			case 90:
				newX, newY = height-1-y, x
			case -90:
				newX, newY = y, width-1-x
			case 180:
				newX, newY = width-1-x, height-1-y
			default:
				newX, newY = x, y
			}

			srcIndex := (y*width + x) * BytesPerPixel
			dstIndex := (newY*newWidth + newX) * BytesPerPixel
			copy(output[dstIndex:dstIndex+BytesPerPixel], pixels[srcIndex:srcIndex+BytesPerPixel])
		}
	}

	return output
}

// RotatedDimensions returns the output dimensions of Rotate without
// touching pixel data.
func RotatedDimensions(width, height, angle int) (int, int) {
	switch angle {
	case 90, -90:
		return height, width
	default:
		return width, height
	}
}

// Crop returns a new buffer containing the region selected by the four
// ratio bounds, each clamped to [0,1] independently. A degenerate
// region (left >= right, top >= bottom, or zero area after rounding)
// yields an empty result.
func Crop(pixels []byte, width, height int, left, top, right, bottom float64) []byte {
	if len(pixels) != width*height*BytesPerPixel {
		return nil
	}

	left, top, right, bottom = clampBounds(left, top, right, bottom)
	if left >= right || top >= bottom {
		return nil
	}

	startX, startY, endX, endY := pixelBounds(width, height, left, top, right, bottom)
	newWidth := saturatingSub(endX, startX)
	newHeight := saturatingSub(endY, startY)
	if newWidth == 0 || newHeight == 0 {
		return nil
	}

	output := make([]byte, newWidth*newHeight*BytesPerPixel)

	for y := 0; y < newHeight; y++ {
		for x := 0; x < newWidth; x++ {
			srcIndex := ((startY+y)*width + (startX + x)) * BytesPerPixel
			dstIndex := (y*newWidth + x) * BytesPerPixel
			copy(output[dstIndex:dstIndex+BytesPerPixel], pixels[srcIndex:srcIndex+BytesPerPixel])
		}
	}

	return output
}

// CroppedDimensions returns the output dimensions of Crop without
// touching pixel data. A degenerate region yields (0, 0).
func CroppedDimensions(width, height int, left, top, right, bottom float64) (int, int) {
	left, top, right, bottom = clampBounds(left, top, right, bottom)
	if left >= right || top >= bottom {
		return 0, 0
	}

	startX, startY, endX, endY := pixelBounds(width, height, left, top, right, bottom)
	return saturatingSub(endX, startX), saturatingSub(endY, startY)
}

func clampBounds(left, top, right, bottom float64) (float64, float64, float64, float64) {
	return clamp01(left), clamp01(top), clamp01(right), clamp01(bottom)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pixelBounds(width, height int, left, top, right, bottom float64) (startX, startY, endX, endY int) {
	startX = int(math.Round(float64(width) * left))
	startY = int(math.Round(float64(height) * top))
	endX = int(math.Round(float64(width) * right))
	endY = int(math.Round(float64(height) * bottom))
	return startX, startY, endX, endY
}

func saturatingSub(a, b int) int {
	if a <= b {
		return 0
	}
	return a - b
}
