package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

// Broker is the delivery transport. Entries are job ids scheduled at a point
// in time; pushing an id that is already scheduled just moves it.
type Broker interface {
	Push(ctx context.Context, t models.JobType, id uuid.UUID, runAt time.Time) error
	// Pop removes and returns the earliest id due at or before now.
	Pop(ctx context.Context, t models.JobType, now time.Time) (uuid.UUID, bool, error)
	Len(ctx context.Context, t models.JobType) (int64, error)
}

type memoryEntry struct {
	id    uuid.UUID
	runAt time.Time
}

type MemoryBroker struct {
	mu    sync.Mutex
	items map[models.JobType][]memoryEntry
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{items: make(map[models.JobType][]memoryEntry)}
}

func (b *MemoryBroker) Push(ctx context.Context, t models.JobType, id uuid.UUID, runAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.items[t]
	for i, e := range entries {
		if e.id == id {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	entries = append(entries, memoryEntry{id: id, runAt: runAt})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].runAt.Before(entries[j].runAt) })
	b.items[t] = entries
	return nil
}

func (b *MemoryBroker) Pop(ctx context.Context, t models.JobType, now time.Time) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.items[t]
	if len(entries) == 0 || entries[0].runAt.After(now) {
		return uuid.Nil, false, nil
	}
	head := entries[0]
	b.items[t] = entries[1:]
	return head.id, true, nil
}

func (b *MemoryBroker) Len(_ context.Context, t models.JobType) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.items[t])), nil
}
