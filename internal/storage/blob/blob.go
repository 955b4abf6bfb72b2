package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("blob not found")

// Store is the object storage contract used by workers. Keys are
// deterministic, so an Upload repeated on retry overwrites in place.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string, w io.Writer) error
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
	HealthCheck(ctx context.Context) bool
}
