package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/jobs/repository"
)

type PrunerConfig struct {
	Schedule           string
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	Logger             zerolog.Logger
}

// Pruner deletes terminal jobs once their retention window has passed.
type Pruner struct {
	ledger repository.JobLedger
	config PrunerConfig
	logger zerolog.Logger
	clock  func() time.Time
}

func NewPruner(ledger repository.JobLedger, cfg PrunerConfig) *Pruner {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 10m"
	}
	if cfg.CompletedRetention == 0 {
		cfg.CompletedRetention = 24 * time.Hour
	}
	if cfg.FailedRetention == 0 {
		cfg.FailedRetention = 7 * 24 * time.Hour
	}
	return &Pruner{
		ledger: ledger,
		config: cfg,
		logger: cfg.Logger.With().Str("component", "job_pruner").Logger(),
		clock:  time.Now,
	}
}

// PruneOnce runs a single retention pass.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	now := p.clock()
	n, err := p.ledger.PruneTerminal(ctx,
		now.Add(-p.config.CompletedRetention),
		now.Add(-p.config.FailedRetention),
	)
	if err != nil {
		return 0, fmt.Errorf("prune terminal jobs: %w", err)
	}
	if n > 0 {
		p.logger.Info().Int64("deleted", n).Msg("pruned terminal jobs")
	}
	return n, nil
}

// Run schedules PruneOnce on the configured cron spec until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(p.config.Schedule, func() {
		if _, err := p.PruneOnce(ctx); err != nil {
			p.logger.Error().Err(err).Msg("prune failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule pruner %q: %w", p.config.Schedule, err)
	}

	c.Start()
	p.logger.Info().Str("schedule", p.config.Schedule).Msg("pruner started")

	<-ctx.Done()
	<-c.Stop().Done()
	p.logger.Info().Msg("pruner stopped")
	return nil
}
