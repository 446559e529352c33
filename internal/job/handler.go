package job

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/auth"
	"github.com/ledgerforge/ops/internal/httpx"
)

// Handler wires the Job API to HTTP routes.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes(requireSession func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireSession)
	r.Post("/", h.createJob)
	r.Get("/", h.listJobs)
	r.Get("/{id}", h.getJob)
	return r
}

func (h *Handler) AdminRoutes(requireAdmin func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(requireAdmin)
	r.Get("/metrics", h.metrics)
	r.Get("/dead-letters", h.deadLetters)
	r.Post("/credits/adjust", h.adjustCredits)
	return r
}

type createJobRequest struct {
	Provider    string          `json:"provider" validate:"required"`
	Operation   string          `json:"operation" validate:"required"`
	Input       json.RawMessage `json:"input"`
	CreditsCost int64           `json:"credits_cost" validate:"required,min=1"`
	MaxAttempts int             `json:"max_attempts" validate:"required,min=1,max=20"`
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "not authenticated")
		return
	}

	var req createJobRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.CreateJob(r.Context(), CreateJobParams{
		UserID:         id.UserID,
		Provider:       req.Provider,
		Operation:      req.Operation,
		Input:          req.Input,
		CreditsCost:    req.CreditsCost,
		MaxAttempts:    req.MaxAttempts,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	httpx.Respond(w, http.StatusCreated, map[string]any{
		"job":              result.Job,
		"idempotent_replay": result.IdempotentReplay,
	})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "not authenticated")
		return
	}

	limit := httpx.ParseLimit(r, 50, 200)

	jobs, err := h.svc.ListJobs(r.Context(), id.UserID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpx.Respond(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "not authenticated")
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid job id")
		return
	}

	j, err := h.svc.GetJob(r.Context(), id.UserID, jobID)
	if err != nil {
		writeErr(w, err)
		return
	}

	events, err := h.svc.GetJobEvents(r.Context(), id.UserID, jobID)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpx.Respond(w, http.StatusOK, map[string]any{"job": j, "events": events})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Metrics(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, m)
}

func (h *Handler) deadLetters(w http.ResponseWriter, r *http.Request) {
	limit := httpx.ParseLimit(r, 100, 500)

	dls, err := h.svc.DeadLetters(r.Context(), limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"dead_letters": dls})
}

type adjustCreditsRequest struct {
	UserID         string `json:"user_id" validate:"required,uuid"`
	Amount         int64  `json:"amount" validate:"required"`
	Reason         string `json:"reason" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) adjustCredits(w http.ResponseWriter, r *http.Request) {
	var req adjustCreditsRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid user_id")
		return
	}

	idemKey := req.IdempotencyKey
	if idemKey == "" {
		idemKey = uuid.New().String()
	}

	result, err := h.svc.AdjustCredits(r.Context(), userID, req.Amount, req.Reason, idemKey)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpx.Respond(w, http.StatusOK, result)
}

func writeErr(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		httpx.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
		return
	}
	httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
}
