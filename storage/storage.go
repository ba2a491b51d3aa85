// Package storage uploads rendered slide images to object storage and
// issues presigned download URLs for them.
package storage

import (
	"context"
	"path"
	"strings"
	"time"
)

// DefaultURLExpiry is how long presigned download URLs stay valid.
const DefaultURLExpiry = time.Hour

// Uploader stores rendered artifacts and hands out download URLs. The
// worker executor uploads each page image after a successful conversion;
// object storage is optional, jobs without an uploader serve artifacts
// from local disk.
type Uploader interface {
	// EnsureBucket creates the bucket if it does not exist.
	EnsureBucket(ctx context.Context, bucket string) error

	// UploadFile stores the file at filePath under objectName and
	// returns the number of bytes written.
	UploadFile(ctx context.Context, bucket, objectName, filePath string) (int64, error)

	// PresignedURL returns a time-limited download URL for objectName.
	PresignedURL(ctx context.Context, bucket, objectName string, expiry time.Duration) (string, error)
}

// ObjectName builds the storage key for one slide image, namespaced by
// the deck name so slides from different decks never collide.
func ObjectName(deck, filename string) string {
	return path.Join(deck, filename)
}

// ContentTypeFor maps an image filename to its MIME type.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".svg":
		return "image/svg+xml"
	default:
		return "image/jpeg"
	}
}
