package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-jobs/internal/campaign"
	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

const campaignColumns = `id, video_id, total_count, executed_count, remaining_count, duration_days, pattern, daily_limit, status, created_by, started_at, ended_at, created_at, updated_at`

type CampaignRepo struct {
	db *sqlx.DB
}

func NewCampaignRepo(db *sqlx.DB) *CampaignRepo {
	return &CampaignRepo{db: db}
}

var _ campaign.Store = (*CampaignRepo)(nil)

func (r *CampaignRepo) Create(ctx context.Context, c *campaign.Campaign) error {
	if c == nil || c.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}

	const q = `
		INSERT INTO campaigns (` + campaignColumns + `)
		VALUES (:id, :video_id, :total_count, :executed_count, :remaining_count, :duration_days, :pattern,
		        :daily_limit, :status, :created_by, :started_at, :ended_at, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, q, c); err != nil {
		return fmt.Errorf("campaign create: %w", err)
	}
	return nil
}

func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error) {
	const q = `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`

	var c campaign.Campaign
	if err := r.db.GetContext(ctx, &c, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("campaign get by id: %w", err)
	}
	return &c, nil
}

func (r *CampaignRepo) List(ctx context.Context) ([]*campaign.Campaign, error) {
	const q = `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC`

	var out []*campaign.Campaign
	if err := r.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("campaign list: %w", err)
	}
	return out, nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to campaign.Status, at time.Time) (*campaign.Campaign, error) {
	const q = `
		UPDATE campaigns
		SET status = $3,
			started_at = CASE WHEN $3 = 'running' AND started_at IS NULL THEN $4 ELSE started_at END,
			ended_at = CASE WHEN $5 THEN $4 ELSE ended_at END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + campaignColumns

	var c campaign.Campaign
	err := r.db.GetContext(ctx, &c, q, id, from, to, at, to.Terminal())
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, models.ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("campaign update status: %w", err)
	}
	return &c, nil
}

// ApplyBatch moves n units from remaining to executed and credits the
// video's boosted views in one transaction.
func (r *CampaignRepo) ApplyBatch(ctx context.Context, id uuid.UUID, n int) (*campaign.Campaign, error) {
	if n <= 0 {
		return nil, models.ErrInvalidArgument
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		UPDATE campaigns
		SET executed_count = executed_count + $2,
			remaining_count = remaining_count - $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'running' AND remaining_count >= $2
		RETURNING ` + campaignColumns

	var c campaign.Campaign
	if err := tx.GetContext(ctx, &c, q, id, n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrConflict
		}
		return nil, fmt.Errorf("campaign apply batch: %w", err)
	}

	const views = `UPDATE videos SET boosted_view_count = boosted_view_count + $2, updated_at = NOW() WHERE id = $1`
	res, err := tx.ExecContext(ctx, views, c.VideoID, n)
	if err != nil {
		return nil, fmt.Errorf("video add views: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, fmt.Errorf("video %s: %w", c.VideoID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &c, nil
}

func (r *CampaignRepo) MonthlyExecuted(ctx context.Context, since time.Time) (int64, error) {
	const q = `SELECT COALESCE(SUM(executed_count), 0) FROM campaigns WHERE created_at >= $1`

	var total int64
	if err := r.db.GetContext(ctx, &total, q, since); err != nil {
		return 0, fmt.Errorf("campaign monthly executed: %w", err)
	}
	return total, nil
}
