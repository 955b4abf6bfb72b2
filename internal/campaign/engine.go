package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
)

type EngineConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	Logger     zerolog.Logger
}

// Engine executes campaign jobs batch by batch. Status is re-read before
// every batch, so pause and cancel land at the next boundary.
type Engine struct {
	store   Store
	signals Signals
	config  EngineConfig
	logger  zerolog.Logger
	clock   func() time.Time
}

func NewEngine(store Store, signals Signals, cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	return &Engine{
		store:   store,
		signals: signals,
		config:  cfg,
		logger:  cfg.Logger.With().Str("component", "campaign_engine").Logger(),
		clock:   time.Now,
	}
}

// Handle is the queue handler for campaign jobs.
func (e *Engine) Handle(ctx context.Context, job *models.Job) error {
	var payload models.CampaignPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return queue.Permanent(fmt.Errorf("decode campaign payload: %w", err))
	}
	if payload.CampaignID == uuid.Nil {
		return queue.Permanent(fmt.Errorf("%w: campaign id is required", models.ErrInvalidArgument))
	}

	_, err := e.Execute(ctx, payload.CampaignID)
	if errors.Is(err, models.ErrNotFound) {
		return queue.Permanent(err)
	}
	if err != nil && job.Attempts >= job.MaxAttempts && ctx.Err() == nil {
		e.park(ctx, payload.CampaignID, err)
	}
	return err
}

// park pauses a running campaign whose job is out of attempts, so an
// operator Resume schedules a fresh job for it.
func (e *Engine) park(ctx context.Context, id uuid.UUID, cause error) {
	logger := e.logger.With().Str("campaign_id", id.String()).Logger()
	if _, err := e.store.UpdateStatus(ctx, id, StatusRunning, StatusPaused, e.clock()); err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("campaign job exhausted, failed to pause campaign")
		return
	}
	logger.Error().Err(cause).Msg("campaign job exhausted, campaign paused")
}

// Execute runs batches until the campaign is no longer running or has no
// remaining units. It returns the last observed campaign state.
func (e *Engine) Execute(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	logger := e.logger.With().Str("campaign_id", id.String()).Logger()

	var wake <-chan struct{}
	if e.signals != nil {
		ch, unsubscribe, err := e.signals.Subscribe(ctx, id)
		if err != nil {
			logger.Warn().Err(err).Msg("control signal unavailable, relying on polling")
		} else {
			defer unsubscribe()
			wake = ch
		}
	}

	batches := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, err := e.store.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load campaign: %w", err)
		}
		if c.Status != StatusRunning {
			logger.Info().
				Str("status", string(c.Status)).
				Int("batches", batches).
				Int("executed_count", c.ExecutedCount).
				Float64("progress", c.Progress()).
				Msg("campaign not running, stopping")
			return c, nil
		}
		if c.RemainingCount == 0 {
			return e.complete(ctx, c, logger)
		}

		n := min(e.config.BatchSize, c.RemainingCount)
		updated, err := e.store.ApplyBatch(ctx, id, n)
		if err != nil {
			if errors.Is(err, models.ErrConflict) {
				// Status changed under us; the next read decides.
				continue
			}
			return nil, fmt.Errorf("apply batch: %w", err)
		}
		batches++

		logger.Debug().
			Int("batch", batches).
			Int("views", n).
			Int("executed_count", updated.ExecutedCount).
			Int("remaining_count", updated.RemainingCount).
			Msg("batch applied")

		if updated.RemainingCount == 0 {
			return e.complete(ctx, updated, logger)
		}

		if err := e.sleep(ctx, wake); err != nil {
			return nil, err
		}
	}
}

func (e *Engine) complete(ctx context.Context, c *Campaign, logger zerolog.Logger) (*Campaign, error) {
	done, err := e.store.UpdateStatus(ctx, c.ID, StatusRunning, StatusCompleted, e.clock())
	if errors.Is(err, models.ErrConflict) {
		// Paused or cancelled right at the end; leave it for the operator.
		return e.store.GetByID(ctx, c.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("complete campaign: %w", err)
	}
	logger.Info().
		Int("executed_count", done.ExecutedCount).
		Msg("campaign completed")
	return done, nil
}

// sleep waits out the inter-batch delay. A control signal cuts it short.
func (e *Engine) sleep(ctx context.Context, wake <-chan struct{}) error {
	if e.config.BatchDelay == 0 {
		return nil
	}
	t := time.NewTimer(e.config.BatchDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	case <-t.C:
		return nil
	}
}
