package incident

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/httpx"
)

// Handler wires the Incident SLA guardrail task routes.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Routes mounts the admin-only guardrail task surface. Caller mounts this
// under a path already wrapped with requireAdmin.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/tasks", h.listTasks)
	r.Get("/tasks/audit", h.listAudit)
	r.Post("/tasks/{id}/status", h.updateStatus)
	r.Post("/tasks/batch/done", h.batchDone)
	r.Post("/tasks/batch/postpone", h.batchPostpone)
	return r
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := httpx.ParseLimit(r, 120, 500)

	tasks, err := h.svc.ListTasks(r.Context(), status, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	var taskID *uuid.UUID
	if v := r.URL.Query().Get("task_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid task_id")
			return
		}
		taskID = &id
	}

	limit := httpx.ParseLimit(r, 200, 1000)

	rows, err := h.svc.GetAudit(r.Context(), taskID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, map[string]any{"audit": rows})
}

type updateStatusRequest struct {
	Status            string     `json:"status" validate:"omitempty,oneof=pending in_progress done cancelled"`
	Owner             string     `json:"owner"`
	Priority          string     `json:"priority" validate:"omitempty,oneof=P1 P2 P3"`
	DueAt             *time.Time `json:"due_at"`
	ExpectedUpdatedAt *time.Time `json:"expected_updated_at"`
	Actor             string     `json:"actor"`
	Reason            string     `json:"reason"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	taskID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid task id")
		return
	}

	var req updateStatusRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	task, err := h.svc.UpdateTaskStatus(r.Context(), UpdateTaskStatusParams{
		TaskID:            taskID,
		Status:            TaskStatus(req.Status),
		Owner:             req.Owner,
		Priority:          Priority(req.Priority),
		DueAt:             req.DueAt,
		ExpectedUpdatedAt: req.ExpectedUpdatedAt,
		Actor:             req.Actor,
		Reason:            req.Reason,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	httpx.Respond(w, http.StatusOK, map[string]any{"task": task})
}

type batchItemRequest struct {
	TaskID            string     `json:"task_id" validate:"required,uuid"`
	ExpectedUpdatedAt *time.Time `json:"expected_updated_at"`
}

type batchRequest struct {
	Items []batchItemRequest `json:"items" validate:"required,min=1,dive"`
	Actor string             `json:"actor"`
}

func parseBatchItems(items []batchItemRequest) ([]BatchItem, error) {
	out := make([]BatchItem, 0, len(items))
	for _, it := range items {
		id, err := uuid.Parse(it.TaskID)
		if err != nil {
			return nil, err
		}
		out = append(out, BatchItem{TaskID: id, ExpectedUpdatedAt: it.ExpectedUpdatedAt})
	}
	return out, nil
}

func (h *Handler) batchDone(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	items, err := parseBatchItems(req.Items)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid task_id in batch")
		return
	}

	result := h.svc.BatchDone(r.Context(), items, req.Actor)
	respondBatch(w, result)
}

func (h *Handler) batchPostpone(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	items, err := parseBatchItems(req.Items)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid task_id in batch")
		return
	}

	result := h.svc.BatchPostpone24h(r.Context(), items, req.Actor)
	respondBatch(w, result)
}

func respondBatch(w http.ResponseWriter, result *BatchResult) {
	httpx.Respond(w, http.StatusOK, map[string]any{
		"changed":   result.Changed,
		"conflicts": result.Conflicts,
		"task_ids":  result.TaskIDs,
	})
}

func writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrConflict) {
		httpx.RespondError(w, http.StatusConflict, string(apperr.KindConflict), "task was modified concurrently")
		return
	}
	if errors.Is(err, ErrNotFound) {
		httpx.RespondError(w, http.StatusNotFound, string(apperr.KindNotFound), "task not found")
		return
	}
	if appErr, ok := apperr.As(err); ok {
		httpx.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
		return
	}
	httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
}
