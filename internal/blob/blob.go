// Package blob stores user face images in a local volume or an S3-compatible bucket.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/kozaktomas/face-gate/internal/apperr"
	_ "golang.org/x/image/webp" // register decoder
)

// UserPrefix is the directory holding user images.
const UserPrefix = "users"

// Store persists image bytes under relative paths such as "users/<uuid>.jpg".
type Store interface {
	// Save writes data and returns its relative path.
	Save(ctx context.Context, data []byte, info ImageInfo) (string, error)
	// Load returns the data and its content type. Missing paths match apperr.ErrNotFound.
	Load(ctx context.Context, relPath string) ([]byte, string, error)
	// Delete removes the object. Deleting a missing path is not an error.
	Delete(ctx context.Context, relPath string) error
}

// ImageInfo describes a decoded image header.
type ImageInfo struct {
	Format      string // "jpeg", "png" or "webp"
	ContentType string
	Ext         string
	Width       int
	Height      int
}

var formats = map[string]ImageInfo{
	"jpeg": {Format: "jpeg", ContentType: "image/jpeg", Ext: ".jpg"},
	"png":  {Format: "png", ContentType: "image/png", Ext: ".png"},
	"webp": {Format: "webp", ContentType: "image/webp", Ext: ".webp"},
}

// Sniff decodes the image header and reports its format and size.
// Anything that is not a decodable JPEG, PNG or WebP is a validation error.
func Sniff(data []byte) (ImageInfo, error) {
	if len(data) == 0 {
		return ImageInfo{ContentType: "application/octet-stream"}, apperr.Invalid("imagen", "image is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{ContentType: "application/octet-stream"}, apperr.Invalid("imagen", "unsupported or corrupt image: %v", err)
	}
	info, ok := formats[format]
	if !ok {
		return ImageInfo{ContentType: "application/octet-stream"}, apperr.Invalid("imagen", "unsupported image format %q", format)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return info, apperr.Invalid("imagen", "image has no pixels")
	}
	info.Width, info.Height = cfg.Width, cfg.Height
	return info, nil
}

// NewUserPath returns a fresh unique relative path for a user image.
func NewUserPath(info ImageInfo) string {
	ext := info.Ext
	if ext == "" {
		ext = ".jpg"
	}
	return path.Join(UserPrefix, uuid.NewString()+ext)
}

// ContentTypeFor guesses a content type from the path extension.
func ContentTypeFor(relPath string) string {
	switch strings.ToLower(path.Ext(relPath)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// CleanPath validates a client-supplied relative path. Absolute paths and
// paths escaping the store root are reported as not found.
func CleanPath(relPath string) (string, error) {
	if relPath == "" || strings.Contains(relPath, "\\") {
		return "", fmt.Errorf("blob %q: %w", relPath, apperr.ErrNotFound)
	}
	cleaned := path.Clean("/" + relPath)[1:]
	if cleaned == "" || cleaned != relPath {
		return "", fmt.Errorf("blob %q: %w", relPath, apperr.ErrNotFound)
	}
	return cleaned, nil
}
