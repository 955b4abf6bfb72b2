package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-jobs/internal/download"
	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

const grantColumns = `user_id, device_id, video_id, quality, decryption_token, issued_at, expires_at, revoked, created_at, updated_at`

type GrantRepo struct {
	db *sqlx.DB
}

func NewGrantRepo(db *sqlx.DB) *GrantRepo {
	return &GrantRepo{db: db}
}

var _ download.GrantStore = (*GrantRepo)(nil)

// Upsert refreshes the token of a live grant. The conflict branch skips
// revoked rows, so a revoked grant comes back as ErrGrantRevoked.
func (r *GrantRepo) Upsert(ctx context.Context, g *download.Grant) (*download.Grant, error) {
	const q = `
		INSERT INTO download_grants (user_id, device_id, video_id, quality, decryption_token, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, device_id, video_id) DO UPDATE SET
			quality = EXCLUDED.quality,
			decryption_token = EXCLUDED.decryption_token,
			issued_at = EXCLUDED.issued_at,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		WHERE download_grants.revoked = FALSE
		RETURNING ` + grantColumns

	var out download.Grant
	err := r.db.GetContext(ctx, &out, q, g.UserID, g.DeviceID, g.VideoID, g.Quality, g.Token, g.IssuedAt, g.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, download.ErrGrantRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("grant upsert: %w", err)
	}
	return &out, nil
}

func (r *GrantRepo) Get(ctx context.Context, userID, deviceID string, videoID uuid.UUID) (*download.Grant, error) {
	const q = `
		SELECT ` + grantColumns + `
		FROM download_grants
		WHERE user_id = $1 AND device_id = $2 AND video_id = $3
	`

	var g download.Grant
	if err := r.db.GetContext(ctx, &g, q, userID, deviceID, videoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("grant get: %w", err)
	}
	return &g, nil
}

func (r *GrantRepo) Revoke(ctx context.Context, userID, deviceID string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if deviceID == "" {
		const q = `UPDATE download_grants SET revoked = TRUE, updated_at = NOW() WHERE user_id = $1 AND NOT revoked`
		res, err = r.db.ExecContext(ctx, q, userID)
	} else {
		const q = `UPDATE download_grants SET revoked = TRUE, updated_at = NOW() WHERE user_id = $1 AND device_id = $2 AND NOT revoked`
		res, err = r.db.ExecContext(ctx, q, userID, deviceID)
	}
	if err != nil {
		return 0, fmt.Errorf("grant revoke: %w", err)
	}
	return res.RowsAffected()
}

func (r *GrantRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM download_grants WHERE expires_at < $1`

	res, err := r.db.ExecContext(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("grant delete expired: %w", err)
	}
	return res.RowsAffected()
}
