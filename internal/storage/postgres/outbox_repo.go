package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

type OutboxRepo struct {
	db *sqlx.DB
}

type OutboxRecord struct {
	ID          int64           `db:"id"`
	EventID     string          `db:"event_id"`
	EventType   string          `db:"event_type"`
	AggregateID string          `db:"aggregate_id"`
	Payload     json.RawMessage `db:"payload"`
	OccurredAt  time.Time       `db:"occurred_at"`
}

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

// Add writes the event inside the caller's transaction, so it commits or
// rolls back together with the state change it describes.
func (r *OutboxRepo) Add(ctx context.Context, tx *sqlx.Tx, event models.DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}

	rec := OutboxRecord{
		EventID:     event.EventID().String(),
		EventType:   event.EventType(),
		AggregateID: event.AggregateID().String(),
		Payload:     payload,
		OccurredAt:  event.OccurredAt(),
	}
	const q = `
		INSERT INTO outbox (event_id, event_type, aggregate_id, payload, occurred_at)
		VALUES (:event_id, :event_type, :aggregate_id, :payload, :occurred_at)
	`
	if _, err := tx.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("insert outbox %s: %w", rec.EventID, err)
	}
	return nil
}

// GetPending returns the oldest unpublished events in insertion order.
func (r *OutboxRepo) GetPending(ctx context.Context, limit int) ([]OutboxRecord, error) {
	const q = `
		SELECT id, event_id, event_type, aggregate_id, payload, occurred_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1
	`

	records := make([]OutboxRecord, 0, limit)
	if err := r.db.SelectContext(ctx, &records, q, limit); err != nil {
		return nil, fmt.Errorf("select pending outbox: %w", err)
	}
	return records, nil
}

// MarkProcessed stamps the given rows in one statement. Rows that were
// already stamped keep their original processed_at.
func (r *OutboxRepo) MarkProcessed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	q, args, err := sqlx.In(`UPDATE outbox SET processed_at = NOW() WHERE processed_at IS NULL AND id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("build mark query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("mark %d outbox rows: %w", len(ids), err)
	}
	return res.RowsAffected()
}

// DeleteProcessed drops published events older than the cutoff.
func (r *OutboxRepo) DeleteProcessed(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM outbox WHERE processed_at IS NOT NULL AND processed_at < $1`

	res, err := r.db.ExecContext(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("delete processed: %w", err)
	}
	return res.RowsAffected()
}
