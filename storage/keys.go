package storage

import "strings"

// Key layout on the artifact namespace:
//
//	images/<hash>/{meta.json,original.<ext>}
//	processed/<hash>/{meta.json,result.png}
//	ocr/<hash>/{meta.json,original.<ext>,ocr.txt}
//	ai_images/<timestamp>_<hash>.json

// ImagePrefix returns the key prefix for a fetched image.
func ImagePrefix(hash string) string {
	return "images/" + hash
}

// ProcessedPrefix returns the key prefix for a transformed image.
func ProcessedPrefix(hash string) string {
	return "processed/" + hash
}

// OCRPrefix returns the key prefix for an OCR result.
func OCRPrefix(hash string) string {
	return "ocr/" + hash
}

// MetaKey returns the metadata key under prefix.
func MetaKey(prefix string) string {
	return prefix + "/meta.json"
}

// OriginalKey returns the key of the original bytes under prefix.
func OriginalKey(prefix, ext string) string {
	return prefix + "/original." + ext
}

// ResultKey returns the key of the result bytes under prefix.
func ResultKey(prefix, ext string) string {
	return prefix + "/result." + ext
}

// OCRTextKey returns the key of the extracted text under prefix.
func OCRTextKey(prefix string) string {
	return prefix + "/ocr.txt"
}

// PublicURL joins a configured base URL with a storage key.
//
// Base URLs assembled from environment pieces occasionally end up with
// a doubled scheme ("http://http://..."); the doubled prefix is
// collapsed before joining. The normalization is idempotent.
func PublicURL(baseURL, key string) string {
	base := NormalizeSchemePrefix(strings.TrimRight(baseURL, "/"))
	return base + "/" + strings.TrimLeft(key, "/")
}

// NormalizeSchemePrefix repeatedly collapses doubled scheme prefixes
// until none remains. Cross-scheme doubles resolve to the inner scheme:
// "http://https://" becomes "https://" and vice versa.
func NormalizeSchemePrefix(u string) string {
	for {
		switch {
		case strings.HasPrefix(u, "http://http://"):
			u = strings.Replace(u, "http://http://", "http://", 1)
		case strings.HasPrefix(u, "https://https://"):
			u = strings.Replace(u, "https://https://", "https://", 1)
		case strings.HasPrefix(u, "http://https://"):
			u = strings.Replace(u, "http://https://", "https://", 1)
		case strings.HasPrefix(u, "https://http://"):
			u = strings.Replace(u, "https://http://", "http://", 1)
		default:
			return u
		}
	}
}
