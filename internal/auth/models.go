package auth

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Email is stored lowercased; uniqueness is
// enforced case-insensitively at the database level.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

// UserInfo is the public projection of User returned in API responses.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u *User) Info() UserInfo {
	return UserInfo{ID: u.ID.String(), Email: u.Email}
}

// Session is a server-side record of an issued bearer token. Only the
// SHA-256 hash of the token is ever persisted.
type Session struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	TokenHash   string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	LastUsedAt  time.Time
	RevokedAt   *time.Time
}

// Valid reports whether the session is usable at the given instant: not
// revoked and not expired.
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Identity is the authenticated caller attached to a request's context.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	SessionID uuid.UUID
}
