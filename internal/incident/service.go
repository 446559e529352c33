package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/ops/internal/metrics"
	"github.com/ledgerforge/ops/internal/slackalert"
	"github.com/ledgerforge/ops/internal/store"
)

var clockNow = time.Now

// Service implements the Incident SLA sub-core: incident dedup, default
// task sync, optimistic-concurrency task edits with a per-field audit
// trail, and deduplicated P1 SLA alert dispatch.
type Service struct {
	pool   *pgxpool.Pool
	slack  *slackalert.Notifier
	logger *slog.Logger
}

func NewService(pool *pgxpool.Pool, slack *slackalert.Notifier, logger *slog.Logger) *Service {
	return &Service{pool: pool, slack: slack, logger: logger}
}

// UpsertIncident creates or updates the incident identified by fingerprint.
// A prior 'resolved' incident is reopened: status resets to open and the
// ack/resolve timestamps are cleared.
func (s *Service) UpsertIncident(ctx context.Context, severity, incidentType, channel, title string, details json.RawMessage) (*Incident, error) {
	fingerprint := Fingerprint(incidentType, channel, title)
	if details == nil {
		details = json.RawMessage("{}")
	}

	var result *Incident
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := NewStore(tx)
		existing, err := st.GetByFingerprint(ctx, fingerprint)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("looking up incident by fingerprint: %w", err)
		}
		if err == nil {
			updated, err := st.UpdateFields(ctx, existing.ID, severity, incidentType, channel, title, details, existing.Status == IncidentResolved)
			if err != nil {
				return fmt.Errorf("updating incident: %w", err)
			}
			result = updated
			return nil
		}
		created, err := st.Insert(ctx, fingerprint, severity, incidentType, channel, title, details)
		if err != nil {
			return fmt.Errorf("inserting incident: %w", err)
		}
		result = created
		return nil
	})
	return result, err
}

// taskTemplate is one row of the default task set for a given
// (incident_type, severity) pairing.
type taskTemplate struct {
	actionType string
	title      string
	priority   Priority
	owner      string
	dueIn      time.Duration
}

// defaultTasksFor computes the default task set a newly opened or reopened
// incident should carry. Severity drives urgency: critical incidents get a
// P1 page-and-contain pair, everything else gets a single P2 triage task.
func defaultTasksFor(incidentType, severity, channel string) []taskTemplate {
	if severity == "critical" {
		return []taskTemplate{
			{actionType: "page_oncall", title: fmt.Sprintf("Page on-call for %s", incidentType), priority: PriorityP1, owner: "oncall", dueIn: 15 * time.Minute},
			{actionType: "contain", title: fmt.Sprintf("Contain %s on %s", incidentType, channel), priority: PriorityP1, owner: "oncall", dueIn: 1 * time.Hour},
		}
	}
	return []taskTemplate{
		{actionType: "triage", title: fmt.Sprintf("Triage %s on %s", incidentType, channel), priority: PriorityP2, owner: "ops", dueIn: 24 * time.Hour},
	}
}

// SyncTasksFromOpenIncidents walks every non-resolved incident and inserts
// any missing default task, skipping (incident_id, action_type) pairs that
// already have a pending or in-progress task. Returns the number created.
func (s *Service) SyncTasksFromOpenIncidents(ctx context.Context) (int, error) {
	created := 0
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := NewStore(tx)
		incidents, err := st.ListOpen(ctx)
		if err != nil {
			return fmt.Errorf("listing open incidents: %w", err)
		}

		now := clockNow()
		for _, inc := range incidents {
			for _, tmpl := range defaultTasksFor(inc.IncidentType, inc.Severity, inc.Channel) {
				active, err := st.HasActiveTask(ctx, inc.ID, tmpl.actionType)
				if err != nil {
					return fmt.Errorf("checking active task: %w", err)
				}
				if active {
					continue
				}
				task, err := st.InsertTask(ctx, inc.ID, now.Add(tmpl.dueIn), tmpl.owner, tmpl.priority, tmpl.title, tmpl.actionType, json.RawMessage("{}"))
				if err != nil {
					return fmt.Errorf("inserting default task: %w", err)
				}
				audit, _ := json.Marshal(map[string]any{
					"created": true, "status": string(task.Status), "owner": task.Owner,
					"priority": string(task.Priority), "due_at": task.DueAt,
				})
				if err := st.InsertAudit(ctx, task.ID, "system", "create", audit); err != nil {
					return fmt.Errorf("inserting create audit: %w", err)
				}
				created++
			}
		}
		return nil
	})
	return created, err
}

// UpdateTaskStatusParams describes a requested task mutation.
type UpdateTaskStatusParams struct {
	TaskID            uuid.UUID
	Status            TaskStatus
	Owner             string
	Priority          Priority
	DueAt             *time.Time
	ExpectedUpdatedAt *time.Time
	Actor             string
	Reason            string
}

// ErrConflict is returned when ExpectedUpdatedAt does not match the task's
// current updated_at: another writer changed the row first.
var ErrConflict = errors.New("task was modified concurrently")

// UpdateTaskStatus applies a status/owner/priority/due_at change under
// optimistic concurrency, recomputes overdue_since, and appends a
// field-diff audit row. Mirrors update_incident_task_status exactly,
// including the done_at and last_sla_alert_* reset rules.
func (s *Service) UpdateTaskStatus(ctx context.Context, p UpdateTaskStatusParams) (*Task, error) {
	var result *Task
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		st := NewStore(tx)
		prev, err := st.GetForUpdate(ctx, p.TaskID)
		if err != nil {
			return err
		}

		if p.ExpectedUpdatedAt != nil && !p.ExpectedUpdatedAt.Equal(prev.UpdatedAt) {
			return ErrConflict
		}

		next := prev.Status
		if p.Status != "" {
			next = p.Status
		}
		nextOwner := prev.Owner
		if p.Owner != "" {
			nextOwner = p.Owner
		}
		nextPriority := prev.Priority
		if p.Priority != "" {
			nextPriority = p.Priority
		}
		if nextPriority != PriorityP1 && nextPriority != PriorityP2 && nextPriority != PriorityP3 {
			nextPriority = PriorityP2
		}
		nextDueAt := prev.DueAt
		if p.DueAt != nil {
			nextDueAt = *p.DueAt
		}

		nextRetry := prev.RetryCount
		nextReopen := prev.ReopenCount
		wasTerminal := prev.Status.Terminal()
		isReopen := wasTerminal && next == TaskInProgress
		if isReopen {
			nextRetry++
			nextReopen++
		}

		doneAt := prev.DoneAt
		if next == TaskDone {
			if prev.Status != TaskDone {
				now := clockNow()
				doneAt = &now
			}
		} else if p.Status != "" {
			doneAt = nil
		}

		overdueSince := prev.OverdueSince
		lastBucket := prev.LastSLAAlertBucket
		lastAlertAt := prev.LastSLAAlertAt
		if next.Terminal() {
			overdueSince, lastBucket, lastAlertAt = nil, nil, nil
		} else if p.DueAt != nil {
			overdueSince, lastBucket, lastAlertAt = nil, nil, nil
		}
		now := clockNow()
		if !next.Terminal() && nextDueAt.Before(now) && overdueSince == nil {
			overdueSince = &now
		}

		updated, err := st.Update(ctx, p.TaskID, UpdateParams{
			Status: next, Owner: nextOwner, Priority: nextPriority, DueAt: nextDueAt,
			DoneAt: doneAt, OverdueSince: overdueSince, RetryCount: nextRetry, ReopenCount: nextReopen,
			LastSLAAlertBucket: lastBucket, LastSLAAlertAt: lastAlertAt,
		})
		if err != nil {
			return fmt.Errorf("persisting task update: %w", err)
		}

		change := map[string]any{}
		diff := func(key string, oldV, newV any) {
			if fmt.Sprint(oldV) != fmt.Sprint(newV) {
				change[key] = map[string]any{"from": oldV, "to": newV}
			}
		}
		diff("status", prev.Status, next)
		diff("owner", prev.Owner, nextOwner)
		diff("priority", prev.Priority, nextPriority)
		diff("due_at", prev.DueAt, nextDueAt)
		diff("done_at", timePtrOrNil(prev.DoneAt), timePtrOrNil(doneAt))
		diff("overdue_since", timePtrOrNil(prev.OverdueSince), timePtrOrNil(overdueSince))
		diff("retry_count", prev.RetryCount, nextRetry)
		diff("reopen_count", prev.ReopenCount, nextReopen)
		if reason := strings.TrimSpace(p.Reason); reason != "" {
			if len(reason) > 300 {
				reason = reason[:300]
			}
			change["reason"] = reason
		}
		if isReopen {
			change["reopen_rule"] = "done_or_cancelled_to_in_progress"
		}
		if len(change) > 0 {
			actor := p.Actor
			if actor == "" {
				actor = "admin"
			}
			if len(actor) > 120 {
				actor = actor[:120]
			}
			payload, _ := json.Marshal(change)
			if err := st.InsertAudit(ctx, p.TaskID, actor, "update", payload); err != nil {
				return fmt.Errorf("inserting update audit: %w", err)
			}
		}

		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func timePtrOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// BatchResult is the outcome of a batch done/postpone operation.
type BatchResult struct {
	Changed   int
	Conflicts []uuid.UUID
	TaskIDs   []uuid.UUID
}

// BatchItem is a single entry of a batch request.
type BatchItem struct {
	TaskID            uuid.UUID
	ExpectedUpdatedAt *time.Time
}

// BatchDone marks each listed task done, independently.
func (s *Service) BatchDone(ctx context.Context, items []BatchItem, actor string) *BatchResult {
	return s.batchApply(ctx, items, actor, func(p *UpdateTaskStatusParams) { p.Status = TaskDone })
}

// BatchPostpone24h sets each listed task's due_at to 24 hours from now.
func (s *Service) BatchPostpone24h(ctx context.Context, items []BatchItem, actor string) *BatchResult {
	return s.batchApply(ctx, items, actor, func(p *UpdateTaskStatusParams) {
		due := clockNow().Add(24 * time.Hour)
		p.DueAt = &due
	})
}

func (s *Service) batchApply(ctx context.Context, items []BatchItem, actor string, mutate func(*UpdateTaskStatusParams)) *BatchResult {
	result := &BatchResult{}
	for _, item := range items {
		p := UpdateTaskStatusParams{TaskID: item.TaskID, ExpectedUpdatedAt: item.ExpectedUpdatedAt, Actor: actor}
		mutate(&p)

		_, err := s.UpdateTaskStatus(ctx, p)
		result.TaskIDs = append(result.TaskIDs, item.TaskID)
		switch {
		case errors.Is(err, ErrConflict):
			result.Conflicts = append(result.Conflicts, item.TaskID)
		case err != nil:
			s.logger.Error("batch task update failed", "task_id", item.TaskID, "error", err)
			result.Conflicts = append(result.Conflicts, item.TaskID)
		default:
			result.Changed++
		}
	}
	return result
}

// taskView is a Task enriched with its computed SLA bucket, returned from
// list queries.
type taskView struct {
	*Task
	OverdueHours float64   `json:"overdue_hours"`
	SLABucket    SLABucket `json:"sla_bucket"`
}

// ListTasks returns tasks with their computed SLA bucket, dispatching a
// dedup'd P1 alert for any task whose bucket advanced since the last
// recorded alert.
func (s *Service) ListTasks(ctx context.Context, status string, limit int) ([]*taskView, error) {
	st := NewStore(s.pool)
	tasks, err := st.ListTasks(ctx, status, limit)
	if err != nil {
		return nil, err
	}

	now := clockNow()
	views := make([]*taskView, 0, len(tasks))
	for _, t := range tasks {
		overdueHours := now.Sub(t.DueAt).Hours()
		bucket := Bucket(overdueHours)
		views = append(views, &taskView{Task: t, OverdueHours: overdueHours, SLABucket: bucket})

		if t.Priority == PriorityP1 && !t.Status.Terminal() && bucket != BucketOnTime {
			s.maybeAlert(ctx, t, bucket, overdueHours)
		}
	}
	return views, nil
}

// maybeAlert fires a Slack SLA alert if bucket hasn't already been alerted
// for this task, then records the bucket so it fires at most once.
func (s *Service) maybeAlert(ctx context.Context, t *Task, bucket SLABucket, overdueHours float64) {
	if t.LastSLAAlertBucket != nil && *t.LastSLAAlertBucket == string(bucket) {
		return
	}

	alertErr := s.slack.PostSLAAlert(ctx, slackalert.SLAAlert{
		TaskID:       t.ID.String(),
		IncidentID:   t.IncidentID.String(),
		Title:        t.Title,
		ActionType:   t.ActionType,
		Owner:        t.Owner,
		Bucket:       string(bucket),
		OverdueHours: overdueHours,
	})
	if alertErr != nil {
		s.logger.Error("posting sla alert failed", "task_id", t.ID, "error", alertErr)
		return
	}

	now := clockNow()
	st := NewStore(s.pool)
	rows, err := st.MarkSLAAlert(ctx, t.ID, string(bucket), now)
	if err != nil {
		s.logger.Error("marking sla alert failed", "task_id", t.ID, "error", err)
		return
	}
	if rows > 0 {
		payload, _ := json.Marshal(map[string]any{"bucket": string(bucket)})
		if err := st.InsertAudit(ctx, t.ID, "system", "sla_alert", payload); err != nil {
			s.logger.Error("inserting sla alert audit failed", "task_id", t.ID, "error", err)
		}
		metrics.SLAAlertsTotal.WithLabelValues(string(bucket)).Inc()
	}
}

// GetAudit returns audit rows, optionally scoped to one task.
func (s *Service) GetAudit(ctx context.Context, taskID *uuid.UUID, limit int) ([]*Audit, error) {
	st := NewStore(s.pool)
	return st.ListAudit(ctx, taskID, limit)
}
