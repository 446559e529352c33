package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerforge/ops/internal/store"
)

// Store provides the persistence operations Auth needs: user rows and
// session rows.
type Store struct {
	db store.DBTX
}

func NewStore(db store.DBTX) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to tx, for callers composing auth operations
// inside a larger transaction.
func (s *Store) WithTx(tx pgx.Tx) *Store {
	return &Store{db: tx}
}

// CreateUser inserts a new user row. Returns apperr-compatible duplicate
// detection via the unique index on lower(email).
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (*User, error) {
	u := &User{Email: email, PasswordHash: passwordHash, IsActive: true}
	err := s.db.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash, is_active, created_at)
		 VALUES (gen_random_uuid(), $1, $2, true, now())
		 RETURNING id, created_at`,
		email, passwordHash,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.IsActive = true
	return u, nil
}

// GetUserByEmail looks up a user by case-insensitive email match.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at
		 FROM users WHERE lower(email) = lower($1)`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}
	return u, nil
}

// GetUserByID looks up a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(ctx,
		`SELECT id, email, password_hash, is_active, created_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("looking up user by id: %w", err)
	}
	return u, nil
}

// ErrUserNotFound is returned by user lookups that find no matching row.
var ErrUserNotFound = errors.New("user not found")

// InsertSession creates a session row for the given token hash, returning the
// stored session including its expiry.
func (s *Store) InsertSession(ctx context.Context, userID uuid.UUID, tokenHash string, ttl time.Duration) (*Session, error) {
	sess := &Session{UserID: userID, TokenHash: tokenHash}
	err := s.db.QueryRow(ctx,
		`INSERT INTO auth_sessions (id, user_id, token_hash, created_at, expires_at, last_used_at)
		 VALUES (gen_random_uuid(), $1, $2, now(), now() + $3::interval, now())
		 RETURNING id, created_at, expires_at, last_used_at`,
		userID, tokenHash, ttl.String(),
	).Scan(&sess.ID, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastUsedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

// GetSessionByTokenHash looks up a session by its token hash.
func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRow(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at, last_used_at, revoked_at
		 FROM auth_sessions WHERE token_hash = $1`,
		tokenHash,
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CreatedAt, &sess.ExpiresAt, &sess.LastUsedAt, &sess.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	return sess, nil
}

// ErrSessionNotFound is returned when no session row matches a token hash.
var ErrSessionNotFound = errors.New("session not found")

// TouchSession updates last_used_at to now for the given session.
func (s *Store) TouchSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE auth_sessions SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// RevokeSession marks a session revoked. Returns the number of rows affected
// (0 or 1) so the caller can report how many sessions were revoked.
func (s *Store) RevokeSession(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE auth_sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return 0, fmt.Errorf("revoking session: %w", err)
	}
	return tag.RowsAffected(), nil
}
