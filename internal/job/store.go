package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerforge/ops/internal/store"
)

// Store persists jobs, job_events, and dead_letters rows.
type Store struct {
	db store.DBTX
}

func NewStore(db store.DBTX) *Store {
	return &Store{db: db}
}

// ErrNotFound is returned when a job lookup finds no matching row.
var ErrNotFound = errors.New("job not found")

type createParams struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Provider       string
	Operation      string
	Input          json.RawMessage
	CreditsCost    int64
	MaxAttempts    int
	IdempotencyKey *string
}

// Insert inserts a new queued job under a caller-chosen id. The id is
// generated by the caller (rather than by the database) so it can be used
// to key the opening hold's idempotency key before the row exists.
func (s *Store) Insert(ctx context.Context, p createParams) (*Job, error) {
	j := &Job{
		ID:             p.ID,
		UserID:         p.UserID,
		Provider:       p.Provider,
		Operation:      p.Operation,
		Input:          p.Input,
		Status:         StatusQueued,
		MaxAttempts:    p.MaxAttempts,
		CreditsCost:    p.CreditsCost,
		IdempotencyKey: p.IdempotencyKey,
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO jobs (id, user_id, provider, operation, input, status, attempt_count, max_attempts, credits_cost, idempotency_key, available_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'queued', 0, $6, $7, $8, now(), now(), now())
		 RETURNING created_at, updated_at, available_at`,
		p.ID, p.UserID, p.Provider, p.Operation, p.Input, p.MaxAttempts, p.CreditsCost, p.IdempotencyKey,
	).Scan(&j.CreatedAt, &j.UpdatedAt, &j.AvailableAt)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}
	return j, nil
}

// GetByIdempotencyKey looks up a job previously created with the given
// idempotency key, for replay detection.
func (s *Store) GetByIdempotencyKey(ctx context.Context, key string) (*Job, error) {
	return s.scanOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
}

// GetByID looks up a job by id, without scoping it to a user.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.scanOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
}

// GetByIDForUser looks up a job by id, scoped to a user.
func (s *Store) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*Job, error) {
	return s.scanOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID)
}

// ListByUser returns the most recent jobs for a user, newest first.
func (s *Store) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// LockForUpdate locks the job row and returns its current state.
func (s *Store) LockForUpdate(ctx context.Context, id uuid.UUID) (*Job, error) {
	return s.scanOne(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
}

// ClaimNext atomically claims the oldest available queued job, marking it
// running and incrementing its attempt count.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	j, err := s.scanOne(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'queued' AND available_at <= now()
		 ORDER BY available_at, created_at
		 FOR UPDATE SKIP LOCKED
		 LIMIT 1`,
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	err = s.db.QueryRow(ctx,
		`UPDATE jobs
		 SET status = 'running', attempt_count = attempt_count + 1,
		     started_at = COALESCE(started_at, now()), updated_at = now()
		 WHERE id = $1
		 RETURNING `+jobColumns,
		j.ID,
	).Scan(scanTargets(j)...)
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return j, nil
}

// FindStaleRunning returns running jobs whose updated_at is older than the
// given cutoff, locking each under the caller's transaction as it scans.
func (s *Store) FindStaleRunning(ctx context.Context, cutoff interface{}) ([]*Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'running' AND updated_at < $1
		 ORDER BY updated_at
		 FOR UPDATE SKIP LOCKED`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("finding stale running jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// MarkSucceeded transitions a running job to succeeded.
func (s *Store) MarkSucceeded(ctx context.Context, id uuid.UUID, providerJobID *string, result json.RawMessage) error {
	_, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = 'succeeded', provider_job_id = COALESCE($2, provider_job_id),
		     result = $3, finished_at = now(), updated_at = now()
		 WHERE id = $1`,
		id, providerJobID, result,
	)
	if err != nil {
		return fmt.Errorf("marking job succeeded: %w", err)
	}
	return nil
}

// MarkRetryScheduled requeues a job with a new available_at and records the
// failure reason.
func (s *Store) MarkRetryScheduled(ctx context.Context, id uuid.UUID, availableAt interface{}, lastError string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = 'queued', available_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, availableAt, lastError,
	)
	if err != nil {
		return fmt.Errorf("scheduling job retry: %w", err)
	}
	return nil
}

// MarkFailed transitions a job to its terminal failed state.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE jobs
		 SET status = 'failed', last_error = $2, finished_at = now(), updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	return nil
}

// AppendEvent appends a job_events row.
func (s *Store) AppendEvent(ctx context.Context, jobID uuid.UUID, eventType EventType, payload json.RawMessage) error {
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO job_events (id, job_id, event_type, payload, created_at) VALUES (gen_random_uuid(), $1, $2, $3, now())`,
		jobID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("appending job event: %w", err)
	}
	return nil
}

// ListEvents returns a job's event history in chronological order.
func (s *Store) ListEvents(ctx context.Context, jobID uuid.UUID) ([]*Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_id, event_type, payload, created_at FROM job_events WHERE job_id = $1 ORDER BY created_at ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing job events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning job event: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// InsertDeadLetter inserts a dead_letters row; a second call for the same
// job is a no-op.
func (s *Store) InsertDeadLetter(ctx context.Context, jobID, userID uuid.UUID, reason string, payload json.RawMessage) error {
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO dead_letters (id, job_id, user_id, reason, payload, created_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, now())
		 ON CONFLICT (job_id) DO NOTHING`,
		jobID, userID, reason, payload,
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns the most recent dead letters.
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_id, user_id, reason, payload, created_at FROM dead_letters ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		d := &DeadLetter{}
		if err := rows.Scan(&d.ID, &d.JobID, &d.UserID, &d.Reason, &d.Payload, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

const jobColumns = `id, user_id, provider, operation, input, status, attempt_count, max_attempts,
	credits_cost, idempotency_key, available_at, started_at, finished_at,
	provider_job_id, result, last_error, created_at, updated_at`

func scanTargets(j *Job) []any {
	return []any{
		&j.ID, &j.UserID, &j.Provider, &j.Operation, &j.Input, &j.Status, &j.AttemptCount, &j.MaxAttempts,
		&j.CreditsCost, &j.IdempotencyKey, &j.AvailableAt, &j.StartedAt, &j.FinishedAt,
		&j.ProviderJobID, &j.Result, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	}
}

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	if err := row.Scan(scanTargets(j)...); err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	return j, nil
}

func (s *Store) scanOne(ctx context.Context, sql string, args ...any) (*Job, error) {
	j := &Job{}
	err := s.db.QueryRow(ctx, sql, args...).Scan(scanTargets(j)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return j, nil
}
