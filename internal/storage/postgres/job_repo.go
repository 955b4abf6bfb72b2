package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-jobs/internal/jobs/domain"
	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/repository"
)

const jobColumns = `id, type, payload, dedup_key, status, attempts, max_attempts, last_error, run_at, created_at, updated_at, finished_at`

// JobRepo is the Postgres job ledger. Every status change is recorded in the
// outbox within the same transaction.
type JobRepo struct {
	db     *sqlx.DB
	outbox *OutboxRepo
}

func NewJobRepo(db *sqlx.DB, outbox *OutboxRepo) *JobRepo {
	return &JobRepo{db: db, outbox: outbox}
}

var _ repository.JobLedger = (*JobRepo)(nil)

func (r *JobRepo) Create(ctx context.Context, j *models.Job) (*models.Job, error) {
	if j == nil || j.ID == uuid.Nil || j.Type == "" {
		return nil, models.ErrInvalidArgument
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (type, dedup_key)
			WHERE dedup_key IS NOT NULL AND status IN ('queued', 'active', 'retrying')
		DO NOTHING
		RETURNING ` + jobColumns

	var out models.Job
	err = tx.GetContext(ctx, &out, q,
		j.ID, j.Type, j.Payload, j.DedupKey, j.Status, j.Attempts, j.MaxAttempts,
		j.LastError, j.RunAt, j.CreatedAt, j.UpdatedAt, j.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		existing, lookupErr := r.liveByDedup(ctx, tx, j.Type, j.DedupKey)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return existing, models.ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("job create: %w", err)
	}

	if err := r.outbox.Add(ctx, tx, models.NewJobStatusChanged(&out, "", out.Status)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &out, nil
}

func (r *JobRepo) liveByDedup(ctx context.Context, tx *sqlx.Tx, t models.JobType, key *string) (*models.Job, error) {
	if key == nil {
		return nil, fmt.Errorf("job create: insert returned no row")
	}
	const q = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE type = $1 AND dedup_key = $2 AND status IN ('queued', 'active', 'retrying')
	`
	var j models.Job
	if err := tx.GetContext(ctx, &j, q, t, *key); err != nil {
		return nil, fmt.Errorf("job lookup dedup: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}

	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var j models.Job
	if err := r.db.GetContext(ctx, &j, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("job get by id: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) Claim(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev models.Status
	const lock = `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &prev, lock, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("job claim lock: %w", err)
	}

	const q = `
		UPDATE jobs
		SET status = 'active', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
		  AND status IN ('queued', 'retrying')
		  AND attempts < max_attempts
		RETURNING ` + jobColumns

	var j models.Job
	if err := tx.GetContext(ctx, &j, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrConflict
		}
		return nil, fmt.Errorf("job claim: %w", err)
	}

	if err := r.outbox.Add(ctx, tx, models.NewJobStatusChanged(&j, prev, j.Status)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) Transition(ctx context.Context, id uuid.UUID, to models.Status, mutate repository.Mutator) (*models.Job, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const sel = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	var j models.Job
	if err := tx.GetContext(ctx, &j, sel, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("job transition lock: %w", err)
	}

	from := j.Status
	if err := domain.ValidateTransition(from, to); err != nil {
		return nil, err
	}

	if mutate != nil {
		mutate(&j)
	}
	j.Status = to
	j.UpdatedAt = time.Now().UTC()
	if to.Terminal() {
		finished := j.UpdatedAt
		j.FinishedAt = &finished
	}

	const upd = `
		UPDATE jobs
		SET status = $2, attempts = $3, last_error = $4, run_at = $5, updated_at = $6, finished_at = $7
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, upd, j.ID, j.Status, j.Attempts, j.LastError, j.RunAt, j.UpdatedAt, j.FinishedAt); err != nil {
		return nil, fmt.Errorf("job transition: %w", err)
	}

	if err := r.outbox.Add(ctx, tx, models.NewJobStatusChanged(&j, from, to)); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) ListRecoverable(ctx context.Context, staleBefore time.Time) ([]*models.Job, error) {
	const q = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN ('queued', 'retrying')
		   OR (status = 'active' AND updated_at < $1)
		ORDER BY run_at ASC
	`

	var jobs []*models.Job
	if err := r.db.SelectContext(ctx, &jobs, q, staleBefore); err != nil {
		return nil, fmt.Errorf("job list recoverable: %w", err)
	}
	return jobs, nil
}

func (r *JobRepo) PruneTerminal(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	const q = `
		DELETE FROM jobs
		WHERE (status = 'completed' AND finished_at < $1)
		   OR (status = 'failed' AND finished_at < $2)
	`

	res, err := r.db.ExecContext(ctx, q, completedBefore, failedBefore)
	if err != nil {
		return 0, fmt.Errorf("job prune: %w", err)
	}
	return res.RowsAffected()
}

func (r *JobRepo) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	const q = `SELECT status, COUNT(*) AS n FROM jobs GROUP BY status`

	var rows []struct {
		Status models.Status `db:"status"`
		N      int64         `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("job count by status: %w", err)
	}

	out := make(map[models.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
