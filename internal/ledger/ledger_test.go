package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/ledgerforge/ops/internal/apperr"
)

// Validation failures are checked before any DBTX method is touched, so a
// nil db is safe to pass in these cases.

func wantValidation(t *testing.T, err error) {
	t.Helper()
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindValidation {
		t.Errorf("err = %v, want KindValidation", err)
	}
}

func TestApplyTopupRejectsNonPositiveCredits(t *testing.T) {
	l := New(nil)
	for _, credits := range []int64{0, -1, -100} {
		_, err := l.ApplyTopup(context.Background(), uuid.New(), credits, "stripe", "ch_1", "idem-1")
		wantValidation(t, err)
	}
}

func TestPlaceHoldRejectsNonPositiveCost(t *testing.T) {
	l := New(nil)
	_, err := l.PlaceHold(context.Background(), uuid.New(), uuid.New(), 0)
	wantValidation(t, err)
}

func TestReleaseHoldRejectsNonPositiveCost(t *testing.T) {
	l := New(nil)
	err := l.ReleaseHold(context.Background(), uuid.New(), uuid.New(), -5, ReleaseOnFail)
	wantValidation(t, err)
}

func TestConsumeForJobRejectsNonPositiveCost(t *testing.T) {
	l := New(nil)
	err := l.ConsumeForJob(context.Background(), uuid.New(), uuid.New(), 0)
	wantValidation(t, err)
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	l := New(nil)
	_, err := l.Adjust(context.Background(), uuid.New(), 0, "correction", "idem-2")
	wantValidation(t, err)
}

func TestIsUniqueViolation(t *testing.T) {
	err := errDuplicateKey{}
	if !isUniqueViolation(err) {
		t.Error("isUniqueViolation should detect a duplicate key error message")
	}
}

type errDuplicateKey struct{}

func (errDuplicateKey) Error() string {
	return `ERROR: duplicate key value violates unique constraint "credit_ledger_idempotency_key_key" (SQLSTATE 23505)`
}
