package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-jobs/internal/jobs/domain"
	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

type MemoryLedger struct {
	mu    sync.RWMutex
	data  map[uuid.UUID]*models.Job
	clock func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		data:  make(map[uuid.UUID]*models.Job),
		clock: time.Now,
	}
}

func (r *MemoryLedger) Create(ctx context.Context, j *models.Job) (*models.Job, error) {
	if j == nil || j.ID == uuid.Nil || j.Type == "" {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[j.ID]; exists {
		return nil, models.ErrConflict
	}
	if j.DedupKey != nil {
		for _, existing := range r.data {
			if existing.Type == j.Type && existing.DedupKey != nil &&
				*existing.DedupKey == *j.DedupKey && !existing.Status.Terminal() {
				cp := copyJob(existing)
				return cp, models.ErrDuplicate
			}
		}
	}

	r.data[j.ID] = copyJob(j)
	return copyJob(j), nil
}

func (r *MemoryLedger) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyJob(j), nil
}

func (r *MemoryLedger) Claim(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if j.Status != models.QueuedStatus && j.Status != models.RetryingStatus {
		return nil, models.ErrConflict
	}
	if j.Attempts >= j.MaxAttempts {
		return nil, models.ErrConflict
	}

	next := copyJob(j)
	next.Status = models.ActiveStatus
	next.Attempts++
	next.UpdatedAt = r.clock()
	r.data[id] = next
	return copyJob(next), nil
}

func (r *MemoryLedger) Transition(ctx context.Context, id uuid.UUID, to models.Status, mutate Mutator) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.data[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if err := domain.ValidateTransition(j.Status, to); err != nil {
		return nil, err
	}

	next := copyJob(j)
	if mutate != nil {
		mutate(next)
	}
	next.Status = to
	next.UpdatedAt = r.clock()
	if to.Terminal() {
		finished := next.UpdatedAt
		next.FinishedAt = &finished
	}
	r.data[id] = next
	return copyJob(next), nil
}

func (r *MemoryLedger) ListRecoverable(ctx context.Context, staleBefore time.Time) ([]*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Job
	for _, j := range r.data {
		switch j.Status {
		case models.QueuedStatus, models.RetryingStatus:
			out = append(out, copyJob(j))
		case models.ActiveStatus:
			if j.UpdatedAt.Before(staleBefore) {
				out = append(out, copyJob(j))
			}
		}
	}
	return out, nil
}

func (r *MemoryLedger) PruneTerminal(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, j := range r.data {
		if j.FinishedAt == nil {
			continue
		}
		if (j.Status == models.CompletedStatus && j.FinishedAt.Before(completedBefore)) ||
			(j.Status == models.FailedStatus && j.FinishedAt.Before(failedBefore)) {
			delete(r.data, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryLedger) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.Status]int64)
	for _, j := range r.data {
		out[j.Status]++
	}
	return out, nil
}

// copyJob keeps callers from mutating stored state through shared pointers.
func copyJob(j *models.Job) *models.Job {
	cp := *j
	if j.DedupKey != nil {
		k := *j.DedupKey
		cp.DedupKey = &k
	}
	if j.FinishedAt != nil {
		f := *j.FinishedAt
		cp.FinishedAt = &f
	}
	if j.Payload != nil {
		cp.Payload = append([]byte(nil), j.Payload...)
	}
	return &cp
}
