package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/transcode"
)

// VideoRepo writes transcoding results onto the catalogue tables.
type VideoRepo struct {
	db *sqlx.DB
}

func NewVideoRepo(db *sqlx.DB) *VideoRepo {
	return &VideoRepo{db: db}
}

var (
	_ transcode.VariantStore = (*VideoRepo)(nil)
	_ transcode.VideoStore   = (*VideoRepo)(nil)
)

func (r *VideoRepo) UpsertVariant(ctx context.Context, v *transcode.Variant) error {
	const q = `
		INSERT INTO video_variants
			(video_id, quality, width, height, video_bitrate, audio_bitrate, storage_key, url, file_size_mb, is_active)
		VALUES
			(:video_id, :quality, :width, :height, :video_bitrate, :audio_bitrate, :storage_key, :url, :file_size_mb, :is_active)
		ON CONFLICT (video_id, quality) DO UPDATE SET
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			video_bitrate = EXCLUDED.video_bitrate,
			audio_bitrate = EXCLUDED.audio_bitrate,
			storage_key = EXCLUDED.storage_key,
			url = EXCLUDED.url,
			file_size_mb = EXCLUDED.file_size_mb,
			is_active = EXCLUDED.is_active,
			updated_at = NOW()
	`
	if _, err := r.db.NamedExecContext(ctx, q, v); err != nil {
		return fmt.Errorf("variant upsert: %w", err)
	}
	return nil
}

func (r *VideoRepo) SetProcessingStatus(ctx context.Context, videoID uuid.UUID, status transcode.ProcessingStatus) error {
	const q = `UPDATE videos SET processing_status = $2, updated_at = NOW() WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, videoID, status)
	if err != nil {
		return fmt.Errorf("video set processing status: %w", err)
	}
	return requireRow(res)
}

// SetPrimary points playback at the given variant. Duration is only
// overwritten when known.
func (r *VideoRepo) SetPrimary(ctx context.Context, videoID uuid.UUID, p transcode.Primary) error {
	const q = `
		UPDATE videos
		SET video_url = $2,
			quality = $3,
			duration_seconds = COALESCE($4, duration_seconds),
			updated_at = NOW()
		WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, q, videoID, p.URL, p.Quality, p.DurationSeconds)
	if err != nil {
		return fmt.Errorf("video set primary: %w", err)
	}
	return requireRow(res)
}

// ListVariants returns the active variants of a video, highest quality first.
func (r *VideoRepo) ListVariants(ctx context.Context, videoID uuid.UUID) ([]transcode.Variant, error) {
	const q = `
		SELECT video_id, quality, width, height, video_bitrate, audio_bitrate, storage_key, url, file_size_mb, is_active
		FROM video_variants
		WHERE video_id = $1 AND is_active
		ORDER BY height DESC
	`

	var out []transcode.Variant
	if err := r.db.SelectContext(ctx, &out, q, videoID); err != nil {
		return nil, fmt.Errorf("variant list: %w", err)
	}
	return out, nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffected) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
