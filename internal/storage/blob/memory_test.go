package blob

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMemory_UploadDownload(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Upload(ctx, "videos/720p/a.mp4", strings.NewReader("first"), 5, "video/mp4"))
	// Same key overwrites.
	require.NoError(t, m.Upload(ctx, "videos/720p/a.mp4", strings.NewReader("second"), 6, "video/mp4"))

	var buf bytes.Buffer
	require.NoError(t, m.Download(ctx, "videos/720p/a.mp4", &buf))
	require.Equal(t, "second", buf.String())

	data, ct, ok := m.Object("videos/720p/a.mp4")
	require.True(t, ok)
	require.Equal(t, "video/mp4", ct)
	require.Equal(t, []byte("second"), data)
	require.Len(t, m.Keys(), 1)
}

func TestMemory_MissingKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Download(ctx, "nope", &bytes.Buffer{})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.PresignDownload(ctx, "nope", time.Hour)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PresignAndHealth(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Upload(ctx, "k", strings.NewReader("x"), 1, "text/plain"))

	u, err := m.PresignDownload(ctx, "k", 24*time.Hour)
	require.NoError(t, err)
	require.Contains(t, u, "expires=86400")

	require.True(t, m.HealthCheck(ctx))
	m.SetHealthy(false)
	require.False(t, m.HealthCheck(ctx))
}

// Runs against a real S3-compatible endpoint when TEST_S3_ENDPOINT is set.
func TestMinIO_Integration(t *testing.T) {
	endpoint := os.Getenv("TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_S3_ENDPOINT not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, err := NewMinIO(ctx, MinIOConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("TEST_S3_SECRET_KEY"),
		Bucket:    "media-jobs-test",
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	require.True(t, m.HealthCheck(ctx))

	key := "videos/360p/integration.mp4"
	require.NoError(t, m.Upload(ctx, key, strings.NewReader("payload"), 7, "video/mp4"))

	var buf bytes.Buffer
	require.NoError(t, m.Download(ctx, key, &buf))
	require.Equal(t, "payload", buf.String())

	u, err := m.PresignDownload(ctx, key, time.Hour)
	require.NoError(t, err)
	require.Contains(t, u, key)

	require.ErrorIs(t, m.Download(ctx, "videos/missing.mp4", &bytes.Buffer{}), ErrNotFound)
}
