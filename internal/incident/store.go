package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerforge/ops/internal/store"
)

// Store persists incidents, incident_tasks, and incident_task_audit rows.
type Store struct {
	db store.DBTX
}

func NewStore(db store.DBTX) *Store {
	return &Store{db: db}
}

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("not found")

const incidentColumns = `id, fingerprint, severity, incident_type, channel, title, details, status,
	created_at, updated_at, acknowledged_at, resolved_at`

func scanIncident(row pgx.Row) (*Incident, error) {
	inc := &Incident{}
	err := row.Scan(&inc.ID, &inc.Fingerprint, &inc.Severity, &inc.IncidentType, &inc.Channel, &inc.Title,
		&inc.Details, &inc.Status, &inc.CreatedAt, &inc.UpdatedAt, &inc.AcknowledgedAt, &inc.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning incident: %w", err)
	}
	return inc, nil
}

// GetByFingerprint looks up an incident by its dedup key, locking the row.
func (s *Store) GetByFingerprint(ctx context.Context, fingerprint string) (*Incident, error) {
	return scanIncident(s.db.QueryRow(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE fingerprint = $1 FOR UPDATE`, fingerprint))
}

// Insert creates a new open incident.
func (s *Store) Insert(ctx context.Context, fingerprint, severity, incidentType, channel, title string, details []byte) (*Incident, error) {
	return scanIncident(s.db.QueryRow(ctx,
		`INSERT INTO incidents (id, fingerprint, severity, incident_type, channel, title, details, status, created_at, updated_at)
		 VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, 'open', now(), now())
		 RETURNING `+incidentColumns,
		fingerprint, severity, incidentType, channel, title, details,
	))
}

// UpdateFields updates an existing incident's mutable fields, reopening it
// (clearing ack/resolve timestamps) if it was resolved.
func (s *Store) UpdateFields(ctx context.Context, id uuid.UUID, severity, incidentType, channel, title string, details []byte, reopen bool) (*Incident, error) {
	if reopen {
		return scanIncident(s.db.QueryRow(ctx,
			`UPDATE incidents
			 SET severity = $2, incident_type = $3, channel = $4, title = $5, details = $6,
			     status = 'open', acknowledged_at = NULL, resolved_at = NULL, updated_at = now()
			 WHERE id = $1
			 RETURNING `+incidentColumns,
			id, severity, incidentType, channel, title, details,
		))
	}
	return scanIncident(s.db.QueryRow(ctx,
		`UPDATE incidents
		 SET severity = $2, incident_type = $3, channel = $4, title = $5, details = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING `+incidentColumns,
		id, severity, incidentType, channel, title, details,
	))
}

// ListOpen returns every incident not in a terminal (resolved) state.
func (s *Store) ListOpen(ctx context.Context) ([]*Incident, error) {
	rows, err := s.db.Query(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE status != 'resolved' ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing open incidents: %w", err)
	}
	defer rows.Close()

	var out []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

const taskColumns = `id, incident_id, status, owner, priority, due_at, title, action_type, payload,
	updated_at, created_at, done_at, overdue_since, retry_count, reopen_count,
	last_sla_alert_bucket, last_sla_alert_at`

func scanTask(row pgx.Row) (*Task, error) {
	t := &Task{}
	err := row.Scan(&t.ID, &t.IncidentID, &t.Status, &t.Owner, &t.Priority, &t.DueAt, &t.Title, &t.ActionType,
		&t.Payload, &t.UpdatedAt, &t.CreatedAt, &t.DoneAt, &t.OverdueSince, &t.RetryCount, &t.ReopenCount,
		&t.LastSLAAlertBucket, &t.LastSLAAlertAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning incident task: %w", err)
	}
	return t, nil
}

// HasActiveTask reports whether a pending/in_progress task already exists
// for (incidentID, actionType).
func (s *Store) HasActiveTask(ctx context.Context, incidentID uuid.UUID, actionType string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT true FROM incident_tasks WHERE incident_id = $1 AND action_type = $2 AND status IN ('pending', 'in_progress') LIMIT 1`,
		incidentID, actionType,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking active task: %w", err)
	}
	return exists, nil
}

// InsertTask creates a new pending task.
func (s *Store) InsertTask(ctx context.Context, incidentID uuid.UUID, dueAt time.Time, owner string, priority Priority, title, actionType string, payload []byte) (*Task, error) {
	return scanTask(s.db.QueryRow(ctx,
		`INSERT INTO incident_tasks (id, incident_id, status, owner, priority, due_at, title, action_type, payload, updated_at, created_at, retry_count, reopen_count)
		 VALUES (gen_random_uuid(), $1, 'pending', $2, $3, $4, $5, $6, $7, now(), now(), 0, 0)
		 RETURNING `+taskColumns,
		incidentID, owner, priority, dueAt, title, actionType, payload,
	))
}

// GetForUpdate locks and returns a task by id.
func (s *Store) GetForUpdate(ctx context.Context, id uuid.UUID) (*Task, error) {
	return scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM incident_tasks WHERE id = $1 FOR UPDATE`, id))
}

// GetByID returns a task by id without locking.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	return scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM incident_tasks WHERE id = $1`, id))
}

// ListTasks returns tasks, optionally filtered by status, ordered by due date.
func (s *Store) ListTasks(ctx context.Context, status string, limit int) ([]*Task, error) {
	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = s.db.Query(ctx, `SELECT `+taskColumns+` FROM incident_tasks WHERE status = $1 ORDER BY due_at ASC, updated_at DESC LIMIT $2`, status, limit)
	} else {
		rows, err = s.db.Query(ctx, `SELECT `+taskColumns+` FROM incident_tasks ORDER BY due_at ASC, updated_at DESC LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing incident tasks: %w", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateParams carries the persisted fields for a task update.
type UpdateParams struct {
	Status             TaskStatus
	Owner              string
	Priority           Priority
	DueAt              time.Time
	DoneAt             *time.Time
	OverdueSince       *time.Time
	RetryCount         int
	ReopenCount        int
	LastSLAAlertBucket *string
	LastSLAAlertAt     *time.Time
}

// Update persists a task's next state and returns the updated row.
func (s *Store) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*Task, error) {
	return scanTask(s.db.QueryRow(ctx,
		`UPDATE incident_tasks
		 SET status = $2, owner = $3, priority = $4, due_at = $5, updated_at = now(),
		     done_at = $6, overdue_since = $7, retry_count = $8, reopen_count = $9,
		     last_sla_alert_bucket = $10, last_sla_alert_at = $11
		 WHERE id = $1
		 RETURNING `+taskColumns,
		id, p.Status, p.Owner, p.Priority, p.DueAt, p.DoneAt, p.OverdueSince, p.RetryCount, p.ReopenCount,
		p.LastSLAAlertBucket, p.LastSLAAlertAt,
	))
}

// MarkSLAAlert records that an SLA alert fired for bucket, without
// advancing updated_at: this preserves the optimistic-concurrency token
// held by any client currently editing the task.
func (s *Store) MarkSLAAlert(ctx context.Context, id uuid.UUID, bucket string, at time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE incident_tasks SET last_sla_alert_bucket = $2, last_sla_alert_at = $3 WHERE id = $1`,
		id, bucket, at,
	)
	if err != nil {
		return 0, fmt.Errorf("marking sla alert: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertAudit appends an audit row.
func (s *Store) InsertAudit(ctx context.Context, taskID uuid.UUID, actor, action string, change []byte) error {
	if change == nil {
		change = []byte("{}")
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO incident_task_audit (id, task_id, actor, action, change, created_at) VALUES (gen_random_uuid(), $1, $2, $3, $4, now())`,
		taskID, actor, action, change,
	)
	if err != nil {
		return fmt.Errorf("inserting audit row: %w", err)
	}
	return nil
}

// ListAudit returns audit rows, optionally filtered by task, newest first.
func (s *Store) ListAudit(ctx context.Context, taskID *uuid.UUID, limit int) ([]*Audit, error) {
	var rows pgx.Rows
	var err error
	if taskID != nil {
		rows, err = s.db.Query(ctx,
			`SELECT id, task_id, actor, action, change, created_at FROM incident_task_audit WHERE task_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
			*taskID, limit,
		)
	} else {
		rows, err = s.db.Query(ctx,
			`SELECT id, task_id, actor, action, change, created_at FROM incident_task_audit ORDER BY created_at DESC, id DESC LIMIT $1`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing audit rows: %w", err)
	}
	defer rows.Close()

	var out []*Audit
	for rows.Next() {
		a := &Audit{}
		if err := rows.Scan(&a.ID, &a.TaskID, &a.Actor, &a.Action, &a.Change, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
