package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerforge/ops/internal/store"
)

// Store persists webhook_events rows.
type Store struct {
	db store.DBTX
}

func NewStore(db store.DBTX) *Store {
	return &Store{db: db}
}

// Insert inserts a received event, returning the new row id and ok=true, or
// ok=false if an event with the same (provider, event_id) already exists.
func (s *Store) Insert(ctx context.Context, provider, eventID, eventType string, payload []byte) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO webhook_events (id, provider, event_id, event_type, payload, status, created_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, 'received', now())
		 ON CONFLICT (provider, event_id) DO NOTHING
		 RETURNING id`,
		provider, eventID, eventType, payload,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("inserting webhook event: %w", err)
	}
	return id, true, nil
}

// Finalize sets the terminal status, optional message, and processed_at for
// an event row.
func (s *Store) Finalize(ctx context.Context, id uuid.UUID, status Status, message string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhook_events SET status = $1, message = $2, processed_at = now() WHERE id = $3`,
		status, message, id,
	)
	if err != nil {
		return fmt.Errorf("finalizing webhook event: %w", err)
	}
	return nil
}
