package campaign

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrCapacityExceeded  = errors.New("campaign exceeds capacity limits")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Pattern string

const (
	PatternSteady Pattern = "steady"
	PatternBurst  Pattern = "burst"
)

func (p Pattern) Valid() bool {
	return p == PatternSteady || p == PatternBurst
}

type Campaign struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	VideoID        uuid.UUID  `db:"video_id" json:"video_id"`
	TotalCount     int        `db:"total_count" json:"total_count"`
	ExecutedCount  int        `db:"executed_count" json:"executed_count"`
	RemainingCount int        `db:"remaining_count" json:"remaining_count"`
	DurationDays   int        `db:"duration_days" json:"duration_days"`
	Pattern        Pattern    `db:"pattern" json:"pattern"`
	DailyLimit     int        `db:"daily_limit" json:"daily_limit"`
	Status         Status     `db:"status" json:"status"`
	CreatedBy      string     `db:"created_by" json:"created_by"`
	StartedAt      *time.Time `db:"started_at" json:"started_at,omitempty"`
	EndedAt        *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Progress is the executed fraction in [0, 1].
func (c *Campaign) Progress() float64 {
	if c.TotalCount == 0 {
		return 1
	}
	return float64(c.ExecutedCount) / float64(c.TotalCount)
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCancelled, StatusCompleted},
	StatusPaused:  {StatusRunning, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Limits are the global safety caps applied at creation time.
type Limits struct {
	MaxPerDay        int
	GlobalMonthlyCap int64
}

func DefaultLimits() Limits {
	return Limits{MaxPerDay: 100_000, GlobalMonthlyCap: 5_000_000}
}

type LimitsView struct {
	MaxPerDay         int   `json:"max_per_day"`
	GlobalMonthlyCap  int64 `json:"global_monthly_cap"`
	CurrentMonthTotal int64 `json:"current_month_total"`
}
