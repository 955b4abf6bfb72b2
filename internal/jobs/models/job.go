package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	QueuedStatus    Status = "queued"
	ActiveStatus    Status = "active"
	RetryingStatus  Status = "retrying"
	CompletedStatus Status = "completed"
	FailedStatus    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == CompletedStatus || s == FailedStatus
}

type JobType string

const (
	TranscodeJob JobType = "transcode"
	CampaignJob  JobType = "campaign"
)

type Job struct {
	ID          uuid.UUID       `db:"id"`
	Type        JobType         `db:"type"`
	Payload     json.RawMessage `db:"payload"`
	DedupKey    *string         `db:"dedup_key"`
	Status      Status          `db:"status"`
	Attempts    int             `db:"attempts"`
	MaxAttempts int             `db:"max_attempts"`
	LastError   string          `db:"last_error"`
	RunAt       time.Time       `db:"run_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	FinishedAt  *time.Time      `db:"finished_at"`
}

// TranscodePayload references the raw upload by storage key; bytes never travel through the queue.
type TranscodePayload struct {
	VideoID          uuid.UUID `json:"video_id"`
	SourceStorageKey string    `json:"source_storage_key"`
	MimeType         string    `json:"mime_type"`
}

type CampaignPayload struct {
	CampaignID   uuid.UUID `json:"campaign_id"`
	VideoID      uuid.UUID `json:"video_id"`
	TotalCount   int       `json:"total_count"`
	DurationDays int       `json:"duration_days"`
	Pattern      string    `json:"pattern"`
	DailyLimit   int       `json:"daily_limit"`
}
