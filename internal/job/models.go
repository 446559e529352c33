// Package job implements the Job API and Worker: credit-held job
// enqueueing, SKIP LOCKED claiming, provider dispatch, and terminal
// settlement with exponential-backoff retries.
package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is a unit of provider work admitted by the Job API and driven to
// completion by the Worker.
type Job struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Provider       string
	Operation      string
	Input          json.RawMessage
	Status         Status
	AttemptCount   int
	MaxAttempts    int
	CreditsCost    int64
	IdempotencyKey *string
	AvailableAt    time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	ProviderJobID  *string
	Result         json.RawMessage
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventType classifies a job_events row.
type EventType string

const (
	EventQueued         EventType = "queued"
	EventStarted        EventType = "started"
	EventRetryScheduled EventType = "retry_scheduled"
	EventSucceeded      EventType = "succeeded"
	EventFailed         EventType = "failed"
)

// Event is an append-only job_events row.
type Event struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	EventType EventType
	Payload   json.RawMessage
	CreatedAt time.Time
}

// DeadLetter is created at most once per job, when retries are exhausted.
type DeadLetter struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	UserID    uuid.UUID
	Reason    string
	Payload   json.RawMessage
	CreatedAt time.Time
}
