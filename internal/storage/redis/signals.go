package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/romariotrain/media-jobs/internal/campaign"
)

// Signals carries campaign control nudges over Redis pub/sub, so a pause
// issued on one node wakes the engine running on another.
type Signals struct {
	client goredis.UniversalClient
	prefix string
}

func NewSignals(client goredis.UniversalClient, prefix string) *Signals {
	if prefix == "" {
		prefix = "campaign:control"
	}
	return &Signals{client: client, prefix: prefix}
}

var _ campaign.Signals = (*Signals)(nil)

func (s *Signals) channel(id uuid.UUID) string {
	return s.prefix + ":" + id.String()
}

func (s *Signals) Notify(ctx context.Context, id uuid.UUID) error {
	if err := s.client.Publish(ctx, s.channel(id), "wake").Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (s *Signals) Subscribe(ctx context.Context, id uuid.UUID) (<-chan struct{}, func(), error) {
	ps := s.client.Subscribe(ctx, s.channel(id))
	// Wait for the subscription to be confirmed so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan struct{}, 1)
	msgs := ps.Channel()
	go func() {
		for range msgs {
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { _ = ps.Close() })
	}
	return out, unsubscribe, nil
}
