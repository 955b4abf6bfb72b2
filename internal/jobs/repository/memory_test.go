package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-jobs/internal/jobs/domain"
	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

func newJob(key *string) *models.Job {
	now := time.Now()
	return &models.Job{
		ID:          uuid.New(),
		Type:        models.TranscodeJob,
		DedupKey:    key,
		Status:      models.QueuedStatus,
		MaxAttempts: 3,
		RunAt:       now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryLedger_CreateDedup(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryLedger()
	key := "video-1"

	first, err := r.Create(ctx, newJob(&key))
	require.NoError(t, err)

	existing, err := r.Create(ctx, newJob(&key))
	require.ErrorIs(t, err, models.ErrDuplicate)
	assert.Equal(t, first.ID, existing.ID)

	// Once the first job is terminal, the key is free again.
	_, err = r.Transition(ctx, first.ID, models.ActiveStatus, nil)
	require.NoError(t, err)
	_, err = r.Transition(ctx, first.ID, models.CompletedStatus, nil)
	require.NoError(t, err)

	_, err = r.Create(ctx, newJob(&key))
	require.NoError(t, err)
}

func TestMemoryLedger_CreateInvalid(t *testing.T) {
	r := NewMemoryLedger()

	_, err := r.Create(context.Background(), nil)
	require.ErrorIs(t, err, models.ErrInvalidArgument)

	j := newJob(nil)
	j.ID = uuid.Nil
	_, err = r.Create(context.Background(), j)
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestMemoryLedger_TransitionTerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryLedger()

	j, err := r.Create(ctx, newJob(nil))
	require.NoError(t, err)

	_, err = r.Transition(ctx, j.ID, models.ActiveStatus, func(j *models.Job) { j.Attempts++ })
	require.NoError(t, err)
	failed, err := r.Transition(ctx, j.ID, models.FailedStatus, func(j *models.Job) { j.LastError = "boom" })
	require.NoError(t, err)
	assert.Equal(t, 1, failed.Attempts)
	assert.Equal(t, "boom", failed.LastError)
	require.NotNil(t, failed.FinishedAt)

	_, err = r.Transition(ctx, j.ID, models.RetryingStatus, nil)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMemoryLedger_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryLedger()

	j, err := r.Create(ctx, newJob(nil))
	require.NoError(t, err)
	j.Status = models.FailedStatus

	got, err := r.GetByID(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueuedStatus, got.Status)
}

func TestMemoryLedger_ListRecoverableAndPrune(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryLedger()
	base := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return base }

	queued, _ := r.Create(ctx, newJob(nil))
	stale, _ := r.Create(ctx, newJob(nil))
	done, _ := r.Create(ctx, newJob(nil))

	_, err := r.Transition(ctx, stale.ID, models.ActiveStatus, nil)
	require.NoError(t, err)
	_, err = r.Transition(ctx, done.ID, models.ActiveStatus, nil)
	require.NoError(t, err)
	_, err = r.Transition(ctx, done.ID, models.CompletedStatus, nil)
	require.NoError(t, err)

	jobs, err := r.ListRecoverable(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	ids := map[uuid.UUID]bool{}
	for _, j := range jobs {
		ids[j.ID] = true
	}
	assert.True(t, ids[queued.ID])
	assert.True(t, ids[stale.ID])
	assert.False(t, ids[done.ID])

	counts, err := r.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[models.CompletedStatus])

	n, err := r.PruneTerminal(ctx, base.Add(time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = r.GetByID(ctx, done.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryLedger_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryLedger()

	j := newJob(nil)
	j.MaxAttempts = 1
	_, err := r.Create(ctx, j)
	require.NoError(t, err)

	claimed, err := r.Claim(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActiveStatus, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	_, err = r.Claim(ctx, j.ID)
	require.ErrorIs(t, err, models.ErrConflict)

	// Back to retrying but with no attempts left: still not claimable.
	_, err = r.Transition(ctx, j.ID, models.RetryingStatus, nil)
	require.NoError(t, err)
	_, err = r.Claim(ctx, j.ID)
	require.ErrorIs(t, err, models.ErrConflict)
}
