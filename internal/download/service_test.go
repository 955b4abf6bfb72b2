package download

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/storage/blob"
)

type serviceFixture struct {
	svc   *Service
	store *MemoryGrantStore
	blobs *blob.Memory
	now   time.Time
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store: NewMemoryGrantStore(),
		blobs: blob.NewMemory(),
		now:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(newTestCipher(t), f.store, f.blobs, Config{Logger: zerolog.Nop()})
	f.svc.clock = func() time.Time { return f.now }
	f.store.clock = func() time.Time { return f.now }
	return f
}

func TestIssueGrant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	videoID := uuid.New()

	g, err := f.svc.IssueGrant(ctx, "user-1", "device-1", videoID, "720p")
	require.NoError(t, err)
	require.NotEmpty(t, g.Token)
	require.Equal(t, f.now.Add(30*24*time.Hour), g.ExpiresAt)
	require.False(t, g.Revoked)

	ok, err := f.svc.Verify(ctx, g.Token, "user-1", "device-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestIssueGrant_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name    string
		user    string
		device  string
		video   uuid.UUID
		quality string
	}{
		{name: "empty user", user: "", device: "d", video: uuid.New(), quality: "720p"},
		{name: "empty device", user: "u", device: " ", video: uuid.New(), quality: "720p"},
		{name: "nil video", user: "u", device: "d", video: uuid.Nil, quality: "720p"},
		{name: "unknown quality", user: "u", device: "d", video: uuid.New(), quality: "4k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.IssueGrant(ctx, tt.user, tt.device, tt.video, tt.quality)
			require.ErrorIs(t, err, models.ErrInvalidArgument)
		})
	}
}

func TestVerify_RejectsWrongHolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	g, err := f.svc.IssueGrant(ctx, "user-1", "device-1", uuid.New(), "480p")
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		user   string
		device string
	}{
		{name: "other device", token: g.Token, user: "user-1", device: "device-2"},
		{name: "other user", token: g.Token, user: "user-2", device: "device-1"},
		{name: "garbage", token: "not-a-token", user: "user-1", device: "device-1"},
		{name: "truncated", token: g.Token[:10], user: "user-1", device: "device-1"},
		{name: "tampered", token: tamper(g.Token), user: "user-1", device: "device-1"},
		{name: "empty", token: "", user: "user-1", device: "device-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := f.svc.Verify(ctx, tt.token, tt.user, tt.device)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func tamper(token string) string {
	last := token[len(token)-2]
	repl := byte('A')
	if last == 'A' {
		repl = 'B'
	}
	return token[:len(token)-2] + string(repl) + token[len(token)-1:]
}

func TestVerify_Expiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	g, err := f.svc.IssueGrant(ctx, "user-1", "device-1", uuid.New(), "1080p")
	require.NoError(t, err)

	f.now = f.now.Add(29 * 24 * time.Hour)
	ok, err := f.svc.Verify(ctx, g.Token, "user-1", "device-1")
	require.NoError(t, err)
	require.True(t, ok)

	f.now = f.now.Add(2 * 24 * time.Hour)
	ok, err = f.svc.Verify(ctx, g.Token, "user-1", "device-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	videoID := uuid.New()

	g1, err := f.svc.IssueGrant(ctx, "user-1", "device-1", videoID, "720p")
	require.NoError(t, err)
	g2, err := f.svc.IssueGrant(ctx, "user-1", "device-2", videoID, "720p")
	require.NoError(t, err)

	n, err := f.svc.Revoke(ctx, "user-1", "device-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	ok, err := f.svc.Verify(ctx, g1.Token, "user-1", "device-1")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.svc.Verify(ctx, g2.Token, "user-1", "device-2")
	require.NoError(t, err)
	require.True(t, ok)

	// Revocation sticks.
	_, err = f.svc.IssueGrant(ctx, "user-1", "device-1", videoID, "720p")
	require.ErrorIs(t, err, ErrGrantRevoked)

	n, err = f.svc.Revoke(ctx, "user-1", "")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	ok, err = f.svc.Verify(ctx, g2.Token, "user-1", "device-2")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.svc.Revoke(ctx, "", "")
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestReissue_ReplacesToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	videoID := uuid.New()

	first, err := f.svc.IssueGrant(ctx, "user-1", "device-1", videoID, "720p")
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	second, err := f.svc.IssueGrant(ctx, "user-1", "device-1", videoID, "720p")
	require.NoError(t, err)
	require.NotEqual(t, first.Token, second.Token)
	require.True(t, second.ExpiresAt.After(first.ExpiresAt))

	ok, err := f.svc.Verify(ctx, first.Token, "user-1", "device-1")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = f.svc.Verify(ctx, second.Token, "user-1", "device-1")
	require.NoError(t, err)
	require.True(t, ok)
}

type brokenGrantStore struct{ *MemoryGrantStore }

func (brokenGrantStore) Get(context.Context, string, string, uuid.UUID) (*Grant, error) {
	return nil, errors.New("connection refused")
}

func TestVerify_StoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g, err := f.svc.IssueGrant(ctx, "user-1", "device-1", uuid.New(), "720p")
	require.NoError(t, err)

	f.svc.store = brokenGrantStore{f.store}
	ok, err := f.svc.Verify(ctx, g.Token, "user-1", "device-1")
	require.Error(t, err)
	require.False(t, ok)
}

func TestRequestDownload(t *testing.T) {
	ctx := context.Background()
	videoID := uuid.New()
	key := "videos/720p/" + videoID.String() + ".mp4"
	req := Request{UserID: "user-1", DeviceID: "device-1", VideoID: videoID, Quality: "720p"}

	tests := []struct {
		name     string
		upload   bool
		healthy  bool
		wantLink bool
	}{
		{name: "variant present", upload: true, healthy: true, wantLink: true},
		{name: "variant not uploaded", upload: false, healthy: true},
		{name: "storage unhealthy", upload: true, healthy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.upload {
				body := []byte("mp4-bytes")
				require.NoError(t, f.blobs.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), "video/mp4"))
			}
			f.blobs.SetHealthy(tt.healthy)

			ticket, err := f.svc.RequestDownload(ctx, req)
			require.NoError(t, err)
			require.Equal(t, key, ticket.StorageKey)
			require.NotEmpty(t, ticket.Grant.Token)

			if tt.wantLink {
				require.True(t, strings.HasPrefix(ticket.PresignedURL, "memory://"))
				require.Contains(t, ticket.PresignedURL, key)
			} else {
				require.Empty(t, ticket.PresignedURL)
			}

			ok, err := f.svc.Verify(ctx, ticket.Grant.Token, "user-1", "device-1")
			require.NoError(t, err)
			require.True(t, ok)
		})
	}
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.IssueGrant(ctx, "user-1", "device-1", uuid.New(), "720p")
	require.NoError(t, err)
	f.now = f.now.Add(10 * 24 * time.Hour)
	fresh, err := f.svc.IssueGrant(ctx, "user-2", "device-1", uuid.New(), "720p")
	require.NoError(t, err)

	n, err := f.svc.CleanupExpired(ctx, f.now.Add(25*24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = f.store.Get(ctx, "user-2", "device-1", fresh.VideoID)
	require.NoError(t, err)
}
