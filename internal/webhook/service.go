package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/ledger"
	"github.com/ledgerforge/ops/internal/store"
)

// Service verifies and dispatches Stripe webhook deliveries.
type Service struct {
	pool          *pgxpool.Pool
	webhookSecret string
}

func NewService(pool *pgxpool.Pool, webhookSecret string) *Service {
	return &Service{pool: pool, webhookSecret: webhookSecret}
}

// Outcome is the disposition reported back to the caller (and to Stripe).
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
)

type checkoutMetadata struct {
	Credits string `json:"credits"`
	UserID  string `json:"user_id"`
}

// StripeResult is returned by HandleStripe: the disposition plus the
// Stripe event identity, both of which the handler surfaces in its
// response.
type StripeResult struct {
	Outcome   Outcome
	EventID   string
	EventType string
}

// HandleStripe verifies the signature on body, then runs the whole
// dedup-and-dispatch sequence inside one transaction.
func (s *Service) HandleStripe(ctx context.Context, body []byte, signatureHeader string) (*StripeResult, error) {
	event, err := webhook.ConstructEvent(body, signatureHeader, s.webhookSecret)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid webhook signature", err)
	}

	result := &StripeResult{EventID: event.ID, EventType: string(event.Type)}

	err = store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		whStore := NewStore(tx)

		id, created, err := whStore.Insert(ctx, "stripe", event.ID, string(event.Type), body)
		if err != nil {
			return err
		}
		if !created {
			result.Outcome = OutcomeDuplicate
			return nil
		}

		switch event.Type {
		case "checkout.session.completed":
			result.Outcome, err = s.handleCheckoutCompleted(ctx, tx, id, event)
		default:
			result.Outcome = OutcomeIgnored
			err = whStore.Finalize(ctx, id, StatusIgnored, "")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, tx pgx.Tx, eventRowID uuid.UUID, event stripe.Event) (Outcome, error) {
	whStore := NewStore(tx)

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		_ = whStore.Finalize(ctx, eventRowID, StatusFailed, "malformed checkout session payload")
		return OutcomeFailed, nil
	}

	var meta checkoutMetadata
	if session.Metadata != nil {
		meta.Credits = session.Metadata["credits"]
		meta.UserID = session.Metadata["user_id"]
	}
	if meta.UserID == "" {
		meta.UserID = session.ClientReferenceID
	}

	userID, err := uuid.Parse(meta.UserID)
	if err != nil {
		_ = whStore.Finalize(ctx, eventRowID, StatusFailed, "missing or invalid metadata.user_id")
		return OutcomeFailed, nil
	}

	credits, err := parsePositiveInt(meta.Credits)
	if err != nil {
		_ = whStore.Finalize(ctx, eventRowID, StatusFailed, "missing or invalid metadata.credits")
		return OutcomeFailed, nil
	}

	led := ledger.New(tx)
	idempotencyKey := fmt.Sprintf("stripe:%s:topup", event.ID)
	if _, err := led.ApplyTopup(ctx, userID, credits, "stripe_checkout_session", session.ID, idempotencyKey); err != nil {
		return "", err
	}

	if err := whStore.Finalize(ctx, eventRowID, StatusProcessed, ""); err != nil {
		return "", err
	}
	return OutcomeProcessed, nil
}

func parsePositiveInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing integer: %w", err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("value must be positive")
	}
	return n, nil
}
