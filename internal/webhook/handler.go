package webhook

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/auth"
	"github.com/ledgerforge/ops/internal/httpx"
	"github.com/ledgerforge/ops/internal/ledger"
)

// entryRow is the scan target for a credit_ledger row.
type entryRow struct {
	ID           uuid.UUID
	EntryType    string
	AmountSigned int64
	BalanceAfter int64
	SourceType   string
	SourceID     string
	CreatedAt    time.Time
}

// Handler wires the Webhook Ingestor and its thin billing companion routes
// to HTTP: checkout session creation, the Stripe webhook, and credit
// balance/ledger reads.
type Handler struct {
	svc               *Service
	pool              *pgxpool.Pool
	creditPriceCents  int64
}

func NewHandler(svc *Service, pool *pgxpool.Pool, creditPriceCents int64) *Handler {
	return &Handler{svc: svc, pool: pool, creditPriceCents: creditPriceCents}
}

func (h *Handler) BillingRoutes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/stripe/webhook", h.stripeWebhook)
	r.With(requireSession).Post("/checkout-session", h.createCheckoutSession)
	return r
}

func (h *Handler) CreditsRoutes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSession)
	r.Get("/balance", h.balance)
	r.Get("/ledger", h.ledgerHistory)
	return r
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(apperr.KindValidation), "failed to read request body")
		return
	}

	result, err := h.svc.HandleStripe(r.Context(), body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			httpx.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
		return
	}

	httpx.Respond(w, http.StatusOK, map[string]any{
		"ok":         true,
		"status":     result.Outcome,
		"event_id":   result.EventID,
		"event_type": result.EventType,
	})
}

type checkoutSessionRequest struct {
	Credits    int64  `json:"credits" validate:"required,min=1"`
	SuccessURL string `json:"success_url" validate:"required,url"`
	CancelURL  string `json:"cancel_url" validate:"required,url"`
	Currency   string `json:"currency" validate:"required,len=3"`
}

// createCheckoutSession is a thin wrapper around Stripe's Checkout Session
// API: it never touches the ledger directly, the webhook does that once
// payment completes.
func (h *Handler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "not authenticated")
		return
	}

	var req checkoutSessionRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	amountCents := req.Credits * h.creditPriceCents

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		ClientReferenceID:  stripe.String(id.UserID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(amountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Credits top-up"),
					},
				},
			},
		},
	}
	params.AddMetadata("user_id", id.UserID.String())
	params.AddMetadata("credits", strconv.FormatInt(req.Credits, 10))

	sess, err := session.New(params)
	if err != nil {
		httpx.RespondError(w, http.StatusBadGateway, string(apperr.KindExternalDependency), "failed to create checkout session")
		return
	}

	httpx.Respond(w, http.StatusOK, map[string]any{
		"checkout_session_id": sess.ID,
		"url":                 sess.URL,
		"amount_cents":        amountCents,
	})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "not authenticated")
		return
	}

	led := ledger.New(h.pool)
	balance, err := led.Balance(r.Context(), id.UserID)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
		return
	}

	httpx.Respond(w, http.StatusOK, map[string]any{"balance": balance})
}

func (h *Handler) ledgerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "not authenticated")
		return
	}

	limit := httpx.ParseLimit(r, 50, 500)

	rows, err := h.pool.Query(r.Context(),
		`SELECT id, entry_type, amount_signed, balance_after, source_type, source_id, created_at
		 FROM credit_ledger WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		id.UserID, limit,
	)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
		return
	}
	defer rows.Close()

	type entryView struct {
		ID           string `json:"id"`
		EntryType    string `json:"entry_type"`
		AmountSigned int64  `json:"amount_signed"`
		BalanceAfter int64  `json:"balance_after"`
		SourceType   string `json:"source_type"`
		SourceID     string `json:"source_id"`
		CreatedAt    string `json:"created_at"`
	}
	var out []entryView
	for rows.Next() {
		var ev entryRow
		if err := rows.Scan(&ev.ID, &ev.EntryType, &ev.AmountSigned, &ev.BalanceAfter, &ev.SourceType, &ev.SourceID, &ev.CreatedAt); err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
			return
		}
		out = append(out, entryView{
			ID:           ev.ID.String(),
			EntryType:    ev.EntryType,
			AmountSigned: ev.AmountSigned,
			BalanceAfter: ev.BalanceAfter,
			SourceType:   ev.SourceType,
			SourceID:     ev.SourceID,
			CreatedAt:    ev.CreatedAt.Format(time.RFC3339),
		})
	}

	httpx.Respond(w, http.StatusOK, map[string]any{"entries": out})
}
