package campaign

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
	"github.com/romariotrain/media-jobs/internal/jobs/queue"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, t models.JobType, payload any, opts queue.Options) (uuid.UUID, error)
}

type CreateInput struct {
	VideoID      uuid.UUID
	TotalCount   int
	DurationDays int
	Pattern      Pattern
	DailyLimit   int
	CreatedBy    string
}

// Service is the admin surface for campaigns.
type Service struct {
	store   Store
	jobs    Enqueuer
	signals Signals
	limits  Limits
	logger  zerolog.Logger
	clock   func() time.Time
	idGen   func() uuid.UUID
}

func NewService(store Store, jobs Enqueuer, signals Signals, limits Limits, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		jobs:    jobs,
		signals: signals,
		limits:  limits,
		logger:  logger.With().Str("component", "campaign_service").Logger(),
		clock:   time.Now,
		idGen:   uuid.New,
	}
}

// Create validates caps, computes the schedule and stores a pending campaign.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Campaign, []int, error) {
	if in.VideoID == uuid.Nil || in.TotalCount <= 0 || in.DurationDays <= 0 || in.DailyLimit <= 0 || !in.Pattern.Valid() {
		return nil, nil, models.ErrInvalidArgument
	}
	if err := s.checkLimits(ctx, in); err != nil {
		return nil, nil, err
	}

	dist, err := Distribute(in.TotalCount, in.DurationDays, in.Pattern, in.DailyLimit)
	if err != nil {
		return nil, nil, err
	}

	now := s.clock()
	c := &Campaign{
		ID:             s.idGen(),
		VideoID:        in.VideoID,
		TotalCount:     in.TotalCount,
		RemainingCount: in.TotalCount,
		DurationDays:   in.DurationDays,
		Pattern:        in.Pattern,
		DailyLimit:     in.DailyLimit,
		Status:         StatusPending,
		CreatedBy:      in.CreatedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, nil, fmt.Errorf("create campaign: %w", err)
	}

	s.audit(c, "created").
		Int("total_count", c.TotalCount).
		Int("duration_days", c.DurationDays).
		Str("pattern", string(c.Pattern)).
		Int("daily_limit", c.DailyLimit).
		Ints("distribution", dist).
		Msg("campaign log")
	return c, dist, nil
}

func (s *Service) checkLimits(ctx context.Context, in CreateInput) error {
	if in.DailyLimit > s.limits.MaxPerDay {
		return fmt.Errorf("%w: daily limit exceeds maximum of %d", ErrCapacityExceeded, s.limits.MaxPerDay)
	}
	if int64(in.DailyLimit)*int64(in.DurationDays) < int64(in.TotalCount) {
		return fmt.Errorf("%w: daily limit cannot satisfy total count over duration", ErrCapacityExceeded)
	}

	monthly, err := s.store.MonthlyExecuted(ctx, monthStart(s.clock()))
	if err != nil {
		return fmt.Errorf("monthly total: %w", err)
	}
	if monthly+int64(in.TotalCount) > s.limits.GlobalMonthlyCap {
		return fmt.Errorf("%w: campaign would exceed global monthly cap", ErrCapacityExceeded)
	}
	return nil
}

// Start moves a pending campaign to running and enqueues its job.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	c, err := s.transition(ctx, id, StatusRunning, StatusPending)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, c, false); err != nil {
		// Without a job nothing would ever advance it; put it back.
		if _, rerr := s.store.UpdateStatus(ctx, id, StatusRunning, StatusPending, s.clock()); rerr != nil {
			s.logger.Error().Err(rerr).Str("campaign_id", id.String()).Msg("failed to roll back start")
		}
		return nil, err
	}
	s.audit(c, "started").Msg("campaign log")
	return c, nil
}

func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	c, err := s.transition(ctx, id, StatusPaused, StatusRunning)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, id)
	s.audit(c, "paused").Int("executed_count", c.ExecutedCount).Msg("campaign log")
	return c, nil
}

// Resume puts a paused campaign back to running and makes sure a job will
// pick it up.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	c, err := s.transition(ctx, id, StatusRunning, StatusPaused)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, c, true); err != nil {
		if _, rerr := s.store.UpdateStatus(ctx, id, StatusRunning, StatusPaused, s.clock()); rerr != nil {
			s.logger.Error().Err(rerr).Str("campaign_id", id.String()).Msg("failed to roll back resume")
		}
		return nil, err
	}
	s.audit(c, "resumed").Int("remaining_count", c.RemainingCount).Msg("campaign log")
	return c, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	c, err := s.transition(ctx, id, StatusCancelled, StatusPending, StatusRunning, StatusPaused)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, id)
	s.audit(c, "cancelled").Int("executed_count", c.ExecutedCount).Msg("campaign log")
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	return s.store.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Campaign, error) {
	return s.store.List(ctx)
}

func (s *Service) Limits(ctx context.Context) (LimitsView, error) {
	monthly, err := s.store.MonthlyExecuted(ctx, monthStart(s.clock()))
	if err != nil {
		return LimitsView{}, fmt.Errorf("monthly total: %w", err)
	}
	return LimitsView{
		MaxPerDay:         s.limits.MaxPerDay,
		GlobalMonthlyCap:  s.limits.GlobalMonthlyCap,
		CurrentMonthTotal: monthly,
	}, nil
}

// Distribution recomputes the day-by-day schedule for a stored campaign.
func (s *Service) Distribution(c *Campaign) ([]int, error) {
	return Distribute(c.TotalCount, c.DurationDays, c.Pattern, c.DailyLimit)
}

// transition moves the campaign to `to`, but only out of one of the listed
// source statuses.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Campaign, error) {
	if id == uuid.Nil {
		return nil, models.ErrInvalidArgument
	}
	cur, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, cur.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}
	if err := ValidateTransition(cur.Status, to); err != nil {
		return nil, err
	}
	updated, err := s.store.UpdateStatus(ctx, id, cur.Status, to, s.clock())
	if err != nil {
		return nil, fmt.Errorf("update campaign status: %w", err)
	}
	return updated, nil
}

// enqueue schedules the campaign job under the campaign id. On resume a live
// job under that key may already have seen the pause and be on its way out,
// so a duplicate is followed by a job keyed to this run. Two executors never
// over-count: ApplyBatch refuses batches larger than what remains.
func (s *Service) enqueue(ctx context.Context, c *Campaign, resume bool) error {
	payload := models.CampaignPayload{
		CampaignID:   c.ID,
		VideoID:      c.VideoID,
		TotalCount:   c.TotalCount,
		DurationDays: c.DurationDays,
		Pattern:      string(c.Pattern),
		DailyLimit:   c.DailyLimit,
	}

	_, err := s.jobs.Enqueue(ctx, models.CampaignJob, payload, queue.Options{DedupKey: c.ID.String()})
	if errors.Is(err, models.ErrDuplicate) && resume {
		key := fmt.Sprintf("%s:%d", c.ID, c.UpdatedAt.UnixNano())
		_, err = s.jobs.Enqueue(ctx, models.CampaignJob, payload, queue.Options{DedupKey: key})
	}
	if err != nil && !errors.Is(err, models.ErrDuplicate) {
		return fmt.Errorf("enqueue campaign job: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, id uuid.UUID) {
	if s.signals == nil {
		return
	}
	if err := s.signals.Notify(ctx, id); err != nil {
		// Polling at the next batch boundary still picks the change up.
		s.logger.Warn().Err(err).Str("campaign_id", id.String()).Msg("campaign signal failed")
	}
}

func (s *Service) audit(c *Campaign, action string) *zerolog.Event {
	return s.logger.Info().
		Str("campaign_id", c.ID.String()).
		Str("video_id", c.VideoID.String()).
		Str("action", action).
		Str("status", string(c.Status))
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
