package auth

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ledgerforge/ops/internal/apperr"
)

// Service implements the Auth component: registration, login, logout, and
// bearer-token resolution. It is the sole owner of the users and
// auth_sessions tables.
type Service struct {
	store           *Store
	limiter         *RateLimiter
	sessionDays     int
	allowedOrigins  []string
}

func NewService(store *Store, limiter *RateLimiter, sessionDays int, allowedOrigins []string) *Service {
	return &Service{
		store:          store,
		limiter:        limiter,
		sessionDays:    sessionDays,
		allowedOrigins: allowedOrigins,
	}
}

// OriginAllowed reports whether origin is present in the configured
// allowlist. An empty allowlist, or one containing "*", permits all
// origins, matching a development-mode default.
func (s *Service) OriginAllowed(origin string) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	if origin == "" {
		return false
	}
	for _, o := range s.allowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// issueSession generates a bearer token and persists its session row,
// shared by Register and Login so both endpoints return a ready-to-use
// session rather than requiring a follow-up login.
func (s *Service) issueSession(ctx context.Context, userID uuid.UUID) (string, *Session, error) {
	token, err := generateToken()
	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindInternal, "generating session token", err)
	}
	sess, err := s.store.InsertSession(ctx, userID, HashToken(token), sessionTTL(s.sessionDays))
	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindInternal, "creating session", err)
	}
	return token, sess, nil
}

// Register creates a new account and immediately issues a session for it,
// the same way Login does, so the caller does not need a follow-up login.
func (s *Service) Register(ctx context.Context, email, password string) (*User, string, *Session, error) {
	if !PasswordPolicyOK(password) {
		return nil, "", nil, apperr.New(apperr.KindValidation, "password does not meet policy requirements")
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", nil, apperr.Wrap(apperr.KindInternal, "hashing password", err)
	}
	user, err := s.store.CreateUser(ctx, strings.ToLower(email), hash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, "", nil, apperr.New(apperr.KindConflict, "an account with this email already exists")
		}
		return nil, "", nil, apperr.Wrap(apperr.KindInternal, "creating user", err)
	}

	token, sess, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, "", nil, err
	}
	return user, token, sess, nil
}

// Login verifies credentials, enforces the per-(email,ip) rate limit, and
// issues a new session on success. The returned string is the raw bearer
// token; only its hash is persisted. Invalid credentials are reported as
// KindUnauthorized and count toward the rate limit; a disabled account is
// reported separately as KindForbidden and does not count as a failed
// attempt, since the credentials themselves were correct.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*User, string, *Session, error) {
	limit, err := s.limiter.Check(ctx, email, ip)
	if err != nil {
		return nil, "", nil, apperr.Wrap(apperr.KindInternal, "checking rate limit", err)
	}
	if !limit.Allowed {
		return nil, "", nil, apperr.New(apperr.KindRateLimited, "too many login attempts; try again later")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		_ = s.limiter.Record(ctx, email, ip)
		return nil, "", nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
	}

	ok, err := VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return nil, "", nil, apperr.Wrap(apperr.KindInternal, "verifying password", err)
	}
	if !ok {
		_ = s.limiter.Record(ctx, email, ip)
		return nil, "", nil, apperr.New(apperr.KindUnauthorized, "invalid email or password")
	}
	if !user.IsActive {
		return nil, "", nil, apperr.New(apperr.KindForbidden, "user is disabled")
	}

	token, sess, err := s.issueSession(ctx, user.ID)
	if err != nil {
		return nil, "", nil, err
	}

	_ = s.limiter.Reset(ctx, email, ip)

	return user, token, sess, nil
}

// Logout revokes the session that owns the given raw token, reporting how
// many sessions were revoked (0 if the token was already unknown/revoked).
func (s *Service) Logout(ctx context.Context, token string) (int64, error) {
	sess, err := s.store.GetSessionByTokenHash(ctx, HashToken(token))
	if err != nil {
		if err == ErrSessionNotFound {
			return 0, nil
		}
		return 0, apperr.Wrap(apperr.KindInternal, "looking up session", err)
	}
	revoked, err := s.store.RevokeSession(ctx, sess.ID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "revoking session", err)
	}
	return revoked, nil
}

// Authenticate resolves a raw bearer token to an Identity, touching the
// session's last_used_at timestamp. It implements Authenticator.
func (s *Service) Authenticate(ctx context.Context, token string) (Identity, error) {
	sess, err := s.store.GetSessionByTokenHash(ctx, HashToken(token))
	if err != nil {
		if err == ErrSessionNotFound {
			return Identity{}, apperr.New(apperr.KindUnauthorized, "invalid session")
		}
		return Identity{}, apperr.Wrap(apperr.KindInternal, "looking up session", err)
	}
	if !sess.Valid(clockNow()) {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "session expired or revoked")
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return Identity{}, apperr.Wrap(apperr.KindInternal, "looking up user", err)
	}
	if !user.IsActive {
		return Identity{}, apperr.New(apperr.KindUnauthorized, "account disabled")
	}

	_ = s.store.TouchSession(ctx, sess.ID)

	return Identity{UserID: user.ID, Email: user.Email, SessionID: sess.ID}, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}

// ClientIP extracts the request's source IP, honoring X-Forwarded-For when
// present (the service typically sits behind a trusted proxy).
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
