package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/store"
)

// Ledger is the sole writer of credit_ledger. Every method runs inside the
// caller's transaction (db is typically a pgx.Tx passed down from the
// calling component) so credit movements compose atomically with the
// mutation that caused them.
type Ledger struct {
	db store.DBTX
}

func New(db store.DBTX) *Ledger {
	return &Ledger{db: db}
}

// TopupResult is returned by ApplyTopup.
type TopupResult struct {
	Applied bool
	Entry   *Entry
}

// ApplyTopup credits a user's balance. Idempotent on idempotencyKey: a
// second call with the same key is a no-op reporting Applied=false.
func (l *Ledger) ApplyTopup(ctx context.Context, userID uuid.UUID, credits int64, sourceType, sourceID, idempotencyKey string) (*TopupResult, error) {
	if credits <= 0 {
		return nil, apperr.New(apperr.KindValidation, "topup credits must be positive")
	}
	return l.insertSigned(ctx, userID, EntryTopup, credits, sourceType, sourceID, idempotencyKey, nil)
}

// HoldResult is returned by PlaceHold.
type HoldResult struct {
	BalanceAfter int64
}

// PlaceHold locks the user's balance, verifies sufficient credits, and
// inserts a negative hold entry keyed job:{jobID}:hold. Fails with
// apperr.KindInsufficientCredits if the balance would go negative.
func (l *Ledger) PlaceHold(ctx context.Context, userID uuid.UUID, jobID uuid.UUID, creditsCost int64) (*HoldResult, error) {
	if creditsCost <= 0 {
		return nil, apperr.New(apperr.KindValidation, "credits_cost must be positive")
	}

	balance, err := l.lockedBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < creditsCost {
		return nil, apperr.New(apperr.KindInsufficientCredits, "insufficient credits")
	}

	key := fmt.Sprintf("job:%s:hold", jobID)
	res, err := l.insertSigned(ctx, userID, EntryHold, -creditsCost, "job", jobID.String(), key, nil)
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		// Hold already placed for this job; report the balance as-is.
		bal, err := l.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &HoldResult{BalanceAfter: bal}, nil
	}
	return &HoldResult{BalanceAfter: res.Entry.BalanceAfter}, nil
}

// ReleaseHold restores a held amount. Idempotent via job:{jobID}:{reason}.
func (l *Ledger) ReleaseHold(ctx context.Context, userID, jobID uuid.UUID, creditsCost int64, reason ReleaseReason) error {
	if creditsCost <= 0 {
		return apperr.New(apperr.KindValidation, "credits_cost must be positive")
	}
	key := fmt.Sprintf("job:%s:%s", jobID, reason)
	_, err := l.insertSigned(ctx, userID, EntryRelease, creditsCost, "job", jobID.String(), key, nil)
	return err
}

// ConsumeForJob permanently debits a successfully completed job's cost.
// Idempotent via job:{jobID}:consume.
func (l *Ledger) ConsumeForJob(ctx context.Context, userID, jobID uuid.UUID, creditsCost int64) error {
	if creditsCost <= 0 {
		return apperr.New(apperr.KindValidation, "credits_cost must be positive")
	}
	key := fmt.Sprintf("job:%s:consume", jobID)
	_, err := l.insertSigned(ctx, userID, EntryConsume, -creditsCost, "job", jobID.String(), key, nil)
	return err
}

// AdjustResult is returned by Adjust.
type AdjustResult struct {
	Applied      bool
	Amount       int64
	BalanceAfter int64
}

// Adjust applies an admin-initiated, arbitrary-sign credit adjustment.
func (l *Ledger) Adjust(ctx context.Context, userID uuid.UUID, delta int64, reason, idempotencyKey string) (*AdjustResult, error) {
	if delta == 0 {
		return nil, apperr.New(apperr.KindValidation, "adjustment amount must be non-zero")
	}
	meta, _ := json.Marshal(map[string]string{"reason": reason})
	res, err := l.insertSigned(ctx, userID, EntryAdjustment, delta, "admin", "", idempotencyKey, meta)
	if err != nil {
		return nil, err
	}
	if !res.Applied {
		bal, err := l.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &AdjustResult{Applied: false, Amount: delta, BalanceAfter: bal}, nil
	}
	return &AdjustResult{Applied: true, Amount: delta, BalanceAfter: res.Entry.BalanceAfter}, nil
}

// Balance returns the sum of amount_signed for the user, uncontended (no
// row lock).
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_signed), 0) FROM credit_ledger WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("computing balance: %w", err)
	}
	return balance, nil
}

// lockedBalance locks the user's ledger rows (via a row lock on the users
// table, which every ledger mutation contends on) and returns the current
// balance, recomputed from a consistent read.
func (l *Ledger) lockedBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var exists bool
	err := l.db.QueryRow(ctx, `SELECT true FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.New(apperr.KindNotFound, "user not found")
		}
		return 0, fmt.Errorf("locking user row: %w", err)
	}
	return l.Balance(ctx, userID)
}

// insertSigned performs the common insert-with-idempotency-and-balance
// pattern shared by every entry type.
func (l *Ledger) insertSigned(ctx context.Context, userID uuid.UUID, entryType EntryType, amount int64, sourceType, sourceID, idempotencyKey string, meta json.RawMessage) (*TopupResult, error) {
	balance, err := l.lockedBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	balanceAfter := balance + amount

	if meta == nil {
		meta = json.RawMessage("{}")
	}

	e := &Entry{
		UserID:         userID,
		EntryType:      entryType,
		AmountSigned:   amount,
		BalanceAfter:   balanceAfter,
		SourceType:     sourceType,
		SourceID:       sourceID,
		IdempotencyKey: idempotencyKey,
	}

	err = l.db.QueryRow(ctx,
		`INSERT INTO credit_ledger
			(id, user_id, entry_type, amount_signed, balance_after, source_type, source_id, idempotency_key, meta, created_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING id, created_at`,
		userID, entryType, amount, balanceAfter, sourceType, sourceID, idempotencyKey, meta,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &TopupResult{Applied: false}, nil
		}
		if isUniqueViolation(err) {
			return &TopupResult{Applied: false}, nil
		}
		return nil, fmt.Errorf("inserting ledger entry: %w", err)
	}
	e.Meta = meta
	return &TopupResult{Applied: true, Entry: e}, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
