package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/repository"
)

// Handler processes one delivery of a job. Deliveries are at-least-once, so
// handlers must tolerate running again after a partial success.
type Handler func(ctx context.Context, job *models.Job) error

type Options struct {
	DedupKey    string
	MaxAttempts int
	Delay       time.Duration
}

type Config struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	MaxBackoff      time.Duration
	PollInterval    time.Duration
	RecoverInterval time.Duration
	StaleAfter      time.Duration
	Logger          zerolog.Logger
}

type registration struct {
	concurrency int
	handler     Handler
}

type Queue struct {
	ledger   repository.JobLedger
	broker   Broker
	config   Config
	logger   zerolog.Logger
	tracer   trace.Tracer
	clock    func() time.Time
	idGen    func() uuid.UUID
	mu       sync.RWMutex
	handlers map[models.JobType]registration
}

func New(ledger repository.JobLedger, broker Broker, cfg Config) (*Queue, error) {
	if ledger == nil {
		return nil, fmt.Errorf("job ledger is required")
	}
	if broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)

	return &Queue{
		ledger:   ledger,
		broker:   broker,
		config:   cfg,
		logger:   cfg.Logger.With().Str("component", "job_queue").Logger(),
		tracer:   otel.Tracer("github.com/romariotrain/media-jobs/internal/jobs/queue"),
		clock:    time.Now,
		idGen:    uuid.New,
		handlers: make(map[models.JobType]registration),
	}, nil
}

func validateConfig(cfg *Config) error {
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts cannot be negative")
	}
	if cfg.BackoffBase < 0 {
		return fmt.Errorf("backoff_base cannot be negative")
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll_interval cannot be negative")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = time.Hour
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.RecoverInterval == 0 {
		cfg.RecoverInterval = time.Minute
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
}

// Register binds a handler and its worker pool size to a job type. Call it
// before Run.
func (q *Queue) Register(t models.JobType, concurrency int, h Handler) error {
	if t == "" || h == nil {
		return models.ErrInvalidArgument
	}
	if concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got: %d", concurrency)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = registration{concurrency: concurrency, handler: h}
	return nil
}

// Enqueue records the job in the ledger and schedules it on the broker.
// With a dedup key and a live job under the same key, the existing id is
// returned along with models.ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, t models.JobType, payload any, opts Options) (uuid.UUID, error) {
	if t == "" {
		return uuid.Nil, models.ErrInvalidArgument
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.config.MaxAttempts
	}

	now := q.clock()
	job := &models.Job{
		ID:          q.idGen(),
		Type:        t,
		Payload:     raw,
		Status:      models.QueuedStatus,
		MaxAttempts: maxAttempts,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.DedupKey != "" {
		key := opts.DedupKey
		job.DedupKey = &key
	}

	created, err := q.ledger.Create(ctx, job)
	if err != nil {
		if errors.Is(err, models.ErrDuplicate) && created != nil {
			q.logger.Info().
				Str("job_type", string(t)).
				Str("dedup_key", opts.DedupKey).
				Str("job_id", created.ID.String()).
				Msg("duplicate enqueue skipped")
			return created.ID, err
		}
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}

	if err := q.broker.Push(ctx, t, created.ID, created.RunAt); err != nil {
		// The ledger row is durable; the recovery sweep will push it again.
		q.logger.Warn().
			Err(err).
			Str("job_id", created.ID.String()).
			Msg("broker push failed, job left for recovery")
	}

	q.logger.Debug().
		Str("job_id", created.ID.String()).
		Str("job_type", string(t)).
		Msg("job enqueued")

	return created.ID, nil
}

// Recover re-schedules every job the ledger says should be pending. Active
// jobs not touched since StaleAfter belong to a dead worker and go back to
// retrying. Pushing is idempotent, so running this alongside live workers is safe.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	now := q.clock()
	jobs, err := q.ledger.ListRecoverable(ctx, now.Add(-q.config.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("list recoverable: %w", err)
	}

	pushed := 0
	for _, j := range jobs {
		if j.Status == models.ActiveStatus {
			to := models.RetryingStatus
			if j.Attempts >= j.MaxAttempts {
				to = models.FailedStatus
			}
			updated, err := q.ledger.Transition(ctx, j.ID, to, func(j *models.Job) {
				j.RunAt = now
				j.LastError = "worker lost"
			})
			if err != nil {
				q.logger.Warn().Err(err).Str("job_id", j.ID.String()).Msg("failed to reset stale job")
				continue
			}
			if updated.Status.Terminal() {
				continue
			}
			j = updated
		}
		if err := q.broker.Push(ctx, j.Type, j.ID, j.RunAt); err != nil {
			return pushed, fmt.Errorf("push %s: %w", j.ID, err)
		}
		pushed++
	}

	if pushed > 0 {
		q.logger.Info().Int("count", pushed).Msg("recovered jobs")
	}
	return pushed, nil
}

// Run starts one dispatcher per registered type plus the recovery sweep and
// blocks until ctx is cancelled and in-flight handlers have returned.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.RLock()
	regs := make(map[models.JobType]registration, len(q.handlers))
	for t, r := range q.handlers {
		regs[t] = r
	}
	q.mu.RUnlock()

	if len(regs) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	if _, err := q.Recover(ctx); err != nil {
		q.logger.Error().Err(err).Msg("initial recovery failed")
	}

	var wg sync.WaitGroup
	for t, r := range regs {
		wg.Add(1)
		go func(t models.JobType, r registration) {
			defer wg.Done()
			q.dispatch(ctx, t, r)
		}(t, r)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.recoverLoop(ctx)
	}()

	q.logger.Info().Int("types", len(regs)).Msg("job queue started")
	wg.Wait()
	q.logger.Info().Msg("job queue stopped")
	return ctx.Err()
}

func (q *Queue) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(q.config.RecoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Recover(ctx); err != nil {
				q.logger.Error().Err(err).Msg("recovery sweep failed")
			}
		}
	}
}

func (q *Queue) dispatch(ctx context.Context, t models.JobType, r registration) {
	logger := q.logger.With().Str("job_type", string(t)).Int("concurrency", r.concurrency).Logger()
	logger.Info().Msg("dispatcher started")

	sem := make(chan struct{}, r.concurrency)
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("dispatcher stopping")
			return
		case sem <- struct{}{}:
		}

		id, ok, err := q.broker.Pop(ctx, t, q.clock())
		if err != nil || !ok {
			<-sem
			if err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("broker pop failed")
			}
			select {
			case <-ctx.Done():
				logger.Info().Msg("dispatcher stopping")
				return
			case <-time.After(q.config.PollInterval):
			}
			continue
		}

		inflight.Add(1)
		go func(id uuid.UUID) {
			defer inflight.Done()
			defer func() { <-sem }()
			q.process(ctx, r.handler, id)
		}(id)
	}
}

// process runs one delivery through the job state machine.
func (q *Queue) process(ctx context.Context, h Handler, id uuid.UUID) {
	job, err := q.ledger.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrConflict) || errors.Is(err, models.ErrNotFound) {
			q.discard(ctx, id)
			return
		}
		q.logger.Error().Err(err).Str("job_id", id.String()).Msg("claim failed")
		return
	}

	logger := q.logger.With().
		Str("job_id", job.ID.String()).
		Str("job_type", string(job.Type)).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Logger()

	spanCtx, span := q.tracer.Start(ctx, "job."+string(job.Type), trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.type", string(job.Type)),
		attribute.Int("job.attempt", job.Attempts),
	))
	defer span.End()

	logger.Info().Msg("job started")
	start := q.clock()
	herr := h(logger.WithContext(spanCtx), job)
	elapsed := q.clock().Sub(start)

	// Transitions below must land even while shutting down.
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch {
	case herr == nil:
		if _, err := q.ledger.Transition(bg, job.ID, models.CompletedStatus, nil); err != nil {
			logger.Error().Err(err).Msg("failed to mark job completed")
			return
		}
		logger.Info().Dur("elapsed", elapsed).Msg("job completed")

	case ctx.Err() != nil && !IsPermanent(herr):
		// Interrupted by shutdown: give the attempt back and reschedule now.
		updated, err := q.ledger.Transition(bg, job.ID, models.RetryingStatus, func(j *models.Job) {
			j.Attempts--
			j.RunAt = q.clock()
			j.LastError = herr.Error()
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to release interrupted job")
			return
		}
		if err := q.broker.Push(bg, updated.Type, updated.ID, updated.RunAt); err != nil {
			logger.Warn().Err(err).Msg("failed to reschedule interrupted job")
		}
		logger.Info().Msg("job interrupted, released for retry")

	case IsPermanent(herr) || job.Attempts >= job.MaxAttempts:
		span.RecordError(herr)
		span.SetStatus(codes.Error, herr.Error())
		if _, err := q.ledger.Transition(bg, job.ID, models.FailedStatus, func(j *models.Job) {
			j.LastError = herr.Error()
		}); err != nil {
			logger.Error().Err(err).Msg("failed to mark job failed")
			return
		}
		logger.Error().
			Err(herr).
			Bool("permanent", IsPermanent(herr)).
			Msg("job failed")

	default:
		span.RecordError(herr)
		delay := Backoff(q.config.BackoffBase, job.Attempts, q.config.MaxBackoff)
		updated, err := q.ledger.Transition(bg, job.ID, models.RetryingStatus, func(j *models.Job) {
			j.RunAt = q.clock().Add(delay)
			j.LastError = herr.Error()
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to mark job retrying")
			return
		}
		if err := q.broker.Push(bg, updated.Type, updated.ID, updated.RunAt); err != nil {
			logger.Warn().Err(err).Msg("failed to reschedule job, left for recovery")
		}
		logger.Warn().
			Err(herr).
			Dur("backoff", delay).
			Msg("job failed, retry scheduled")
	}
}

// discard drops a broker entry whose ledger row is gone or already claimed.
func (q *Queue) discard(ctx context.Context, id uuid.UUID) {
	job, err := q.ledger.GetByID(ctx, id)
	if err != nil {
		q.logger.Debug().Str("job_id", id.String()).Msg("dropping delivery for unknown job")
		return
	}
	if job.Status == models.RetryingStatus && job.Attempts >= job.MaxAttempts {
		if _, err := q.ledger.Transition(ctx, id, models.FailedStatus, nil); err != nil {
			q.logger.Warn().Err(err).Str("job_id", id.String()).Msg("failed to close exhausted job")
		}
		return
	}
	q.logger.Debug().
		Str("job_id", id.String()).
		Str("status", string(job.Status)).
		Msg("dropping duplicate delivery")
}

// Backoff returns base × 2^(attempt-1) for the attempt that just failed,
// capped at maxDelay.
func Backoff(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// Status returns ledger counts per job status.
func (q *Queue) Status(ctx context.Context) (map[models.Status]int64, error) {
	return q.ledger.CountByStatus(ctx)
}
