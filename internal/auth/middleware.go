package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/httpx"
)

type identityCtxKey struct{}

// IdentityFromContext returns the authenticated caller attached by
// RequireSession, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// Authenticator resolves bearer tokens to identities. Implemented by
// *Service.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// RequireSession extracts a Bearer token, resolves it to an Identity, and
// attaches it to the request context. Requests with a missing, malformed,
// expired, or revoked token are rejected.
func RequireSession(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				httpx.RespondError(w, apperr.HTTPStatus(apperr.KindUnauthorized), string(apperr.KindUnauthorized), "missing bearer token")
				return
			}

			id, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if appErr, ok := apperr.As(err); ok {
					httpx.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
					return
				}
				httpx.RespondError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized), "invalid session")
				return
			}

			ctx := context.WithValue(r.Context(), identityCtxKey{}, id)

			if fields := httpx.LogFieldsFromContext(ctx); fields != nil {
				fields["user_id"] = id.UserID.String()
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin compares the X-Admin-Token header against the configured
// admin token using a constant-time comparison. It does not require a user
// session: the admin token is a standalone shared secret, per the
// operations endpoints' design.
func RequireAdmin(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				httpx.RespondError(w, http.StatusInternalServerError, string(apperr.KindInternal), "admin token not configured")
				return
			}
			supplied := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(supplied), []byte(adminToken)) != 1 {
				httpx.RespondError(w, apperr.HTTPStatus(apperr.KindForbidden), string(apperr.KindForbidden), "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// clockNow is overridable in tests.
var clockNow = time.Now
