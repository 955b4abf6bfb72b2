package download

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/storage/blob"
	"github.com/romariotrain/media-jobs/internal/transcode"
)

var ErrGrantRevoked = errors.New("download grant revoked")

const (
	DefaultGrantTTL   = 30 * 24 * time.Hour
	DefaultPresignTTL = 24 * time.Hour
)

type Config struct {
	GrantTTL   time.Duration
	PresignTTL time.Duration
	Logger     zerolog.Logger
}

// Service issues, verifies and revokes offline playback grants.
type Service struct {
	cipher *Cipher
	store  GrantStore
	blobs  blob.Store
	config Config
	logger zerolog.Logger
	clock  func() time.Time
}

func NewService(cipher *Cipher, store GrantStore, blobs blob.Store, cfg Config) *Service {
	if cfg.GrantTTL <= 0 {
		cfg.GrantTTL = DefaultGrantTTL
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	return &Service{
		cipher: cipher,
		store:  store,
		blobs:  blobs,
		config: cfg,
		logger: cfg.Logger.With().Str("component", "download_service").Logger(),
		clock:  time.Now,
	}
}

func validQuality(q string) bool {
	for _, r := range transcode.Ladder {
		if r.Quality == q {
			return true
		}
	}
	return false
}

// IssueGrant creates or refreshes the grant for (user, device, video).
func (s *Service) IssueGrant(ctx context.Context, userID, deviceID string, videoID uuid.UUID, quality string) (*Grant, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(deviceID) == "" || videoID == uuid.Nil || !validQuality(quality) {
		return nil, models.ErrInvalidArgument
	}

	now := s.clock()
	expires := now.Add(s.config.GrantTTL)
	token, err := s.cipher.sealToken(claims{
		UserID:    userID,
		DeviceID:  deviceID,
		VideoID:   videoID,
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: expires.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}

	g, err := s.store.Upsert(ctx, &Grant{
		UserID:    userID,
		DeviceID:  deviceID,
		VideoID:   videoID,
		Quality:   quality,
		Token:     token,
		IssuedAt:  now,
		ExpiresAt: expires,
	})
	if err != nil {
		if errors.Is(err, ErrGrantRevoked) {
			return nil, err
		}
		return nil, fmt.Errorf("store grant: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Str("video_id", videoID.String()).
		Str("quality", quality).
		Time("expires_at", expires).
		Msg("download grant issued")
	return g, nil
}

// Verify reports whether token is a live grant for this user and device.
// Invalid, expired and revoked tokens give (false, nil); only persistence
// failures return an error.
func (s *Service) Verify(ctx context.Context, token, userID, deviceID string) (bool, error) {
	if token == "" || userID == "" || deviceID == "" {
		return false, nil
	}

	cl, err := s.cipher.openToken(token, userID, deviceID)
	if err != nil {
		return false, nil
	}
	if cl.UserID != userID || cl.DeviceID != deviceID {
		return false, nil
	}
	now := s.clock()
	if !now.Before(cl.expiresAt()) {
		return false, nil
	}

	g, err := s.store.Get(ctx, userID, deviceID, cl.VideoID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load grant: %w", err)
	}
	if g.Revoked || !now.Before(g.ExpiresAt) {
		return false, nil
	}
	// A re-issue replaces the stored token; older tokens stop working.
	if subtle.ConstantTimeCompare([]byte(g.Token), []byte(token)) != 1 {
		return false, nil
	}
	return true, nil
}

// Revoke invalidates grants for one device, or all devices when deviceID is
// empty. Revocation is permanent.
func (s *Service) Revoke(ctx context.Context, userID, deviceID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, models.ErrInvalidArgument
	}
	n, err := s.store.Revoke(ctx, userID, deviceID)
	if err != nil {
		return 0, fmt.Errorf("revoke grants: %w", err)
	}
	s.logger.Info().
		Str("user_id", userID).
		Str("device_id", deviceID).
		Int64("revoked", n).
		Msg("download grants revoked")
	return n, nil
}

type Request struct {
	UserID   string
	DeviceID string
	VideoID  uuid.UUID
	Quality  string
}

type Ticket struct {
	Grant      *Grant
	StorageKey string
	// PresignedURL is empty when blob storage is unavailable.
	PresignedURL string
}

// RequestDownload issues a grant and, when storage is reachable, a
// short-lived URL for the variant file.
func (s *Service) RequestDownload(ctx context.Context, req Request) (*Ticket, error) {
	g, err := s.IssueGrant(ctx, req.UserID, req.DeviceID, req.VideoID, req.Quality)
	if err != nil {
		return nil, err
	}

	t := &Ticket{
		Grant:      g,
		StorageKey: transcode.StorageKey(req.Quality, req.VideoID.String()),
	}
	if s.blobs == nil || !s.blobs.HealthCheck(ctx) {
		s.logger.Warn().Str("video_id", req.VideoID.String()).Msg("storage unavailable, no presigned url")
		return t, nil
	}

	u, err := s.blobs.PresignDownload(ctx, t.StorageKey, s.config.PresignTTL)
	if errors.Is(err, blob.ErrNotFound) {
		s.logger.Warn().
			Str("video_id", req.VideoID.String()).
			Str("quality", req.Quality).
			Msg("variant not in storage, no presigned url")
		return t, nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("key", t.StorageKey).Msg("presign failed")
		return t, nil
	}
	t.PresignedURL = u
	return t, nil
}

// CleanupExpired deletes grants that expired before the cutoff.
func (s *Service) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired grants: %w", err)
	}
	if n > 0 {
		s.logger.Info().Int64("deleted", n).Msg("expired download grants removed")
	}
	return n, nil
}
