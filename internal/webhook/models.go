// Package webhook implements the Webhook Ingestor: signature verification,
// (provider, event_id) deduplication, and single-transaction dispatch into
// the Ledger.
package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal disposition of a webhook_events row.
type Status string

const (
	StatusReceived Status = "received"
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
	StatusIgnored   Status = "ignored"
)

// Event is a persisted webhook_events row.
type Event struct {
	ID          uuid.UUID
	Provider    string
	EventID     string
	EventType   string
	Payload     json.RawMessage
	Status      Status
	Message     string
	ProcessedAt *time.Time
	CreatedAt   time.Time
}
