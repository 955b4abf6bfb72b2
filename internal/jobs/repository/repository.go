package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

// Mutator adjusts a job inside a status transition, before it is persisted.
type Mutator func(j *models.Job)

// JobLedger is the durable record of every job. The broker may lose entries;
// the ledger may not.
type JobLedger interface {
	// Create persists a new job. If a live job with the same type and dedup key
	// exists, it returns that job together with models.ErrDuplicate.
	Create(ctx context.Context, j *models.Job) (*models.Job, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// Claim moves a queued or retrying job to active and counts the attempt.
	// It returns models.ErrConflict when the job is not claimable.
	Claim(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Transition(ctx context.Context, id uuid.UUID, to models.Status, mutate Mutator) (*models.Job, error)
	ListRecoverable(ctx context.Context, staleBefore time.Time) ([]*models.Job, error)
	PruneTerminal(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
}
