package campaign

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

type Store interface {
	Create(ctx context.Context, c *Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*Campaign, error)
	List(ctx context.Context) ([]*Campaign, error)
	// UpdateStatus is a compare-and-set on the current status. It stamps
	// started_at on the first move to running and ended_at on terminal moves.
	// Returns models.ErrConflict when the status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Campaign, error)
	// ApplyBatch adds n views to the campaign's video and moves n units from
	// remaining to executed in one transaction, only while running.
	ApplyBatch(ctx context.Context, id uuid.UUID, n int) (*Campaign, error)
	MonthlyExecuted(ctx context.Context, since time.Time) (int64, error)
}

type MemoryStore struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]*Campaign
	views     map[uuid.UUID]int64
	clock     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[uuid.UUID]*Campaign),
		views:     make(map[uuid.UUID]int64),
		clock:     time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, c *Campaign) error {
	if c == nil || c.ID == uuid.Nil {
		return models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.campaigns[c.ID]; ok {
		return models.ErrConflict
	}
	s.campaigns[c.ID] = copyCampaign(c)
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		out = append(out, copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if c.Status != from {
		return nil, models.ErrConflict
	}

	next := copyCampaign(c)
	next.Status = to
	next.UpdatedAt = s.clock()
	if to == StatusRunning && next.StartedAt == nil {
		t := at
		next.StartedAt = &t
	}
	if to.Terminal() {
		t := at
		next.EndedAt = &t
	}
	s.campaigns[id] = next
	return copyCampaign(next), nil
}

func (s *MemoryStore) ApplyBatch(ctx context.Context, id uuid.UUID, n int) (*Campaign, error) {
	if n <= 0 {
		return nil, models.ErrInvalidArgument
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if c.Status != StatusRunning || c.RemainingCount < n {
		return nil, models.ErrConflict
	}

	next := copyCampaign(c)
	next.ExecutedCount += n
	next.RemainingCount -= n
	next.UpdatedAt = s.clock()
	s.campaigns[id] = next
	s.views[c.VideoID] += int64(n)
	return copyCampaign(next), nil
}

func (s *MemoryStore) MonthlyExecuted(ctx context.Context, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, c := range s.campaigns {
		if !c.CreatedAt.Before(since) {
			sum += int64(c.ExecutedCount)
		}
	}
	return sum, nil
}

// BoostedViews returns the views injected into a video so far.
func (s *MemoryStore) BoostedViews(videoID uuid.UUID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.views[videoID]
}

func copyCampaign(c *Campaign) *Campaign {
	cp := *c
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
