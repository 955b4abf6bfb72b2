package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/jobs/kafka"
	"github.com/romariotrain/media-jobs/internal/storage/postgres"
)

type Store interface {
	GetPending(ctx context.Context, limit int) ([]postgres.OutboxRecord, error)
	MarkProcessed(ctx context.Context, ids ...int64) (int64, error)
}

type Producer interface {
	PublishBatch(ctx context.Context, messages []kafka.Message) error
}

// Publisher relays job status events from the outbox table to Kafka.
// Delivery is at-least-once: a crash between publish and mark resends the batch.
type Publisher struct {
	store     Store
	producer  Producer
	interval  time.Duration
	batchSize int
	logger    zerolog.Logger
}

type PublisherConfig struct {
	Store     Store
	Producer  Producer
	Interval  time.Duration
	BatchSize int
	Logger    zerolog.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("kafka producer is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got: %v", cfg.Interval)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got: %d", cfg.BatchSize)
	}

	return &Publisher{
		store:     cfg.Store,
		producer:  cfg.Producer,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger.With().Str("component", "outbox_publisher").Logger(),
	}, nil
}

// Start polls the outbox until ctx is cancelled. A tick keeps draining
// while pages come back full, so a backlog does not wait one interval per page.
func (p *Publisher) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().
		Dur("interval", p.interval).
		Int("batch_size", p.batchSize).
		Msg("outbox publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Err(ctx.Err()).Msg("outbox publisher stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.drain(ctx); err != nil {
				p.logger.Error().Err(err).Msg("outbox relay failed")
			}
		}
	}
}

// drain relays pages until one comes back short. It returns the number of
// events marked as published.
func (p *Publisher) drain(ctx context.Context) (int, error) {
	total := 0
	for ctx.Err() == nil {
		n, full, err := p.publishBatch(ctx)
		total += n
		if err != nil || !full {
			return total, err
		}
	}
	return total, ctx.Err()
}

// publishBatch sends one page of pending events. full reports whether the
// page was as large as the batch size.
func (p *Publisher) publishBatch(ctx context.Context) (marked int, full bool, err error) {
	records, err := p.store.GetPending(ctx, p.batchSize)
	if err != nil {
		return 0, false, fmt.Errorf("get pending records: %w", err)
	}
	if len(records) == 0 {
		return 0, false, nil
	}

	messages := make([]kafka.Message, len(records))
	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
		// Keyed by job so one job's events stay ordered within a partition.
		messages[i] = kafka.Message{
			Key:   r.AggregateID,
			Value: r.Payload,
			Headers: map[string]string{
				"event_id":    r.EventID,
				"event_type":  r.EventType,
				"occurred_at": r.OccurredAt.UTC().Format(time.RFC3339Nano),
			},
		}
	}

	if err := p.producer.PublishBatch(ctx, messages); err != nil {
		return 0, false, fmt.Errorf("publish %d events: %w", len(records), err)
	}

	n, err := p.store.MarkProcessed(ctx, ids...)
	if err != nil {
		// The batch is resent next tick; consumers dedupe on event_id.
		return 0, false, fmt.Errorf("mark %d events: %w", len(ids), err)
	}

	p.logger.Debug().
		Int("published", len(records)).
		Int64("marked", n).
		Int64("first_id", ids[0]).
		Msg("outbox batch relayed")

	return int(n), len(records) == p.batchSize, nil
}
