package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/httpx"
)

// Handler wires the Auth service to HTTP routes.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
	r.With(RequireSession(h.svc)).Get("/me", h.me)
	return r
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type sessionResponse struct {
	OK        bool      `json:"ok"`
	User      UserInfo  `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.svc.OriginAllowed(origin) {
		httpx.RespondError(w, http.StatusForbidden, string(apperr.KindForbidden), "origin not allowed")
		return
	}

	var req registerRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	user, token, sess, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeErr(w, err)
		return
	}

	httpx.Respond(w, http.StatusCreated, sessionResponse{OK: true, User: user.Info(), Token: token, ExpiresAt: sess.ExpiresAt})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && !h.svc.OriginAllowed(origin) {
		httpx.RespondError(w, http.StatusForbidden, string(apperr.KindForbidden), "origin not allowed")
		return
	}

	var req loginRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	user, token, sess, err := h.svc.Login(r.Context(), req.Email, req.Password, ClientIP(r))
	if err != nil {
		writeErr(w, err)
		return
	}

	httpx.Respond(w, http.StatusOK, sessionResponse{OK: true, User: user.Info(), Token: token, ExpiresAt: sess.ExpiresAt})
}

type logoutResponse struct {
	OK      bool  `json:"ok"`
	Revoked int64 `json:"revoked"`
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		httpx.Respond(w, http.StatusOK, logoutResponse{OK: true, Revoked: 0})
		return
	}
	revoked, err := h.svc.Logout(r.Context(), token)
	if err != nil {
		writeErr(w, err)
		return
	}
	httpx.Respond(w, http.StatusOK, logoutResponse{OK: true, Revoked: revoked})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "not authenticated")
		return
	}
	httpx.Respond(w, http.StatusOK, UserInfo{ID: id.UserID.String(), Email: id.Email})
}

func writeErr(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		httpx.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
		return
	}
	httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
}
