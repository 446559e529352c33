// Package incident implements the Incident SLA sub-core: task CRUD with
// optimistic concurrency on updated_at, a per-field audit trail, overdue
// tracking, and deduplicated P1 SLA alert dispatch.
package incident

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IncidentStatus is an incident's lifecycle state.
type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "open"
	IncidentAck      IncidentStatus = "ack"
	IncidentResolved IncidentStatus = "resolved"
)

// Incident is a deduplicated guardrail condition, keyed by fingerprint.
type Incident struct {
	ID             uuid.UUID
	Fingerprint    string
	Severity       string
	IncidentType   string
	Channel        string
	Title          string
	Details        json.RawMessage
	Status         IncidentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// TaskStatus is an incident task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskCancelled
}

// Priority is an incident task's urgency tier, driving SLA alerting.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Task is a unit of remediation work against an open incident.
type Task struct {
	ID                 uuid.UUID
	IncidentID         uuid.UUID
	Status             TaskStatus
	Owner              string
	Priority           Priority
	DueAt              time.Time
	Title              string
	ActionType         string
	Payload            json.RawMessage
	UpdatedAt          time.Time
	CreatedAt          time.Time
	DoneAt             *time.Time
	OverdueSince       *time.Time
	RetryCount         int
	ReopenCount        int
	LastSLAAlertBucket *string
	LastSLAAlertAt     *time.Time
}

// Audit is an append-only diff of a single task mutation.
type Audit struct {
	ID        uuid.UUID
	TaskID    uuid.UUID
	Actor     string
	Action    string
	Change    json.RawMessage
	CreatedAt time.Time
}

// SLABucket classifies how overdue a task is.
type SLABucket string

const (
	BucketOnTime SLABucket = "on_time"
	Bucket0to4h  SLABucket = "0-4h"
	Bucket4to24h SLABucket = "4-24h"
	Bucket24hPlus SLABucket = "24h+"
)

// Bucket computes the SLA bucket for a task given overdueHours (negative or
// zero means not yet due).
func Bucket(overdueHours float64) SLABucket {
	switch {
	case overdueHours <= 0:
		return BucketOnTime
	case overdueHours <= 4:
		return Bucket0to4h
	case overdueHours <= 24:
		return Bucket4to24h
	default:
		return Bucket24hPlus
	}
}
