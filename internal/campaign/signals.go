package campaign

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Signals wakes a running batch loop early after an operator action so the
// new status is read without waiting out the inter-batch delay. A signal
// carries no state; the store remains authoritative.
type Signals interface {
	Notify(ctx context.Context, campaignID uuid.UUID) error
	Subscribe(ctx context.Context, campaignID uuid.UUID) (<-chan struct{}, func(), error)
}

type MemorySignals struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan struct{}]struct{}
}

func NewMemorySignals() *MemorySignals {
	return &MemorySignals{subs: make(map[uuid.UUID]map[chan struct{}]struct{})}
}

func (m *MemorySignals) Notify(_ context.Context, campaignID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[campaignID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (m *MemorySignals) Subscribe(_ context.Context, campaignID uuid.UUID) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	if m.subs[campaignID] == nil {
		m.subs[campaignID] = make(map[chan struct{}]struct{})
	}
	m.subs[campaignID][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs[campaignID], ch)
			if len(m.subs[campaignID]) == 0 {
				delete(m.subs, campaignID)
			}
		})
	}
	return ch, cancel, nil
}
