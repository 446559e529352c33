// Package ledger is the sole writer of credit_ledger: every credit
// movement in the system — topups, holds, releases, consumption, and
// admin adjustments — passes through here so the running balance can
// never be computed two different ways.
package ledger

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntryType classifies a ledger row and constrains its amount's sign.
type EntryType string

const (
	EntryTopup      EntryType = "topup"
	EntryHold       EntryType = "hold"
	EntryRelease    EntryType = "release"
	EntryConsume    EntryType = "consume"
	EntryAdjustment EntryType = "adjustment"
)

// Entry is a single append-only credit_ledger row. BalanceAfter is the
// running sum of AmountSigned for the user up to and including this row.
type Entry struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	EntryType      EntryType
	AmountSigned   int64
	BalanceAfter   int64
	SourceType     string
	SourceID       string
	IdempotencyKey string
	Meta           json.RawMessage
	CreatedAt      time.Time
}

// ReleaseReason distinguishes why a hold was released, both for the
// idempotency key and for downstream reporting.
type ReleaseReason string

const (
	ReleaseOnSuccess ReleaseReason = "release_on_success"
	ReleaseOnFail    ReleaseReason = "release_on_fail"
)
