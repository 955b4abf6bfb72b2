package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

type JobStatusChanged struct {
	eventID    uuid.UUID
	jobID      uuid.UUID
	jobType    JobType
	from       Status
	to         Status
	attempts   int
	occurredAt time.Time
}

func NewJobStatusChanged(job *Job, from, to Status) *JobStatusChanged {
	return &JobStatusChanged{
		eventID:    uuid.New(),
		jobID:      job.ID,
		jobType:    job.Type,
		from:       from,
		to:         to,
		attempts:   job.Attempts,
		occurredAt: time.Now(),
	}
}

func (e *JobStatusChanged) EventID() uuid.UUID     { return e.eventID }
func (e *JobStatusChanged) EventType() string      { return "JobStatusChanged" }
func (e *JobStatusChanged) AggregateID() uuid.UUID { return e.jobID }
func (e *JobStatusChanged) OccurredAt() time.Time  { return e.occurredAt }

func (e *JobStatusChanged) From() Status { return e.from }
func (e *JobStatusChanged) To() Status   { return e.to }

func (e *JobStatusChanged) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EventID    uuid.UUID `json:"event_id"`
		JobID      uuid.UUID `json:"job_id"`
		JobType    JobType   `json:"job_type"`
		From       Status    `json:"from"`
		To         Status    `json:"to"`
		Attempts   int       `json:"attempts"`
		OccurredAt time.Time `json:"occurred_at"`
	}{
		EventID:    e.eventID,
		JobID:      e.jobID,
		JobType:    e.jobType,
		From:       e.from,
		To:         e.to,
		Attempts:   e.attempts,
		OccurredAt: e.occurredAt,
	})
}
