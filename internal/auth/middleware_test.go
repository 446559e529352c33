package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/ledgerforge/ops/internal/apperr"
)

type fakeAuthenticator struct {
	identity Identity
	err      error
}

func (f fakeAuthenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	return f.identity, f.err
}

func TestRequireSessionRejectsMissingToken(t *testing.T) {
	handler := RequireSession(fakeAuthenticator{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached without a bearer token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRequireSessionRejectsInvalidToken(t *testing.T) {
	authn := fakeAuthenticator{err: apperr.New(apperr.KindUnauthorized, "session expired")}
	handler := RequireSession(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached with an invalid token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestRequireSessionAttachesIdentity(t *testing.T) {
	want := Identity{UserID: uuid.New(), Email: "a@b.com", SessionID: uuid.New()}
	authn := fakeAuthenticator{identity: want}

	var got Identity
	var ok bool
	handler := RequireSession(authn)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !ok {
		t.Fatal("identity should be present in context")
	}
	if got != want {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
}

func TestRequireAdminRejectsWrongToken(t *testing.T) {
	handler := RequireAdmin("correct-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached with wrong admin token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Token", "wrong-secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRequireAdminAcceptsCorrectToken(t *testing.T) {
	called := false
	handler := RequireAdmin("correct-secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Token", "correct-secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if !called {
		t.Error("handler should be reached with the correct admin token")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRequireAdminRejectsWhenUnconfigured(t *testing.T) {
	handler := RequireAdmin("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached when admin token is unconfigured")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Admin-Token", "")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
