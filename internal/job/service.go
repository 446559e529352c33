package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/ops/internal/apperr"
	"github.com/ledgerforge/ops/internal/ledger"
	"github.com/ledgerforge/ops/internal/store"
)

// Service implements the Job API: authenticated enqueue with credit hold,
// scoped reads, and admin operations. It is the sole writer that inserts
// queued jobs and their opening hold.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// CreateJobParams are the fields a caller supplies to enqueue a job.
type CreateJobParams struct {
	UserID         uuid.UUID
	Provider       string
	Operation      string
	Input          json.RawMessage
	CreditsCost    int64
	MaxAttempts    int
	IdempotencyKey string
}

// CreateResult wraps the created (or replayed) job.
type CreateResult struct {
	Job             *Job
	IdempotentReplay bool
}

// CreateJob places a credit hold and inserts a queued job in a single
// transaction. If IdempotencyKey matches a prior successful call, the
// existing job is returned instead and no new hold is created.
func (s *Service) CreateJob(ctx context.Context, p CreateJobParams) (*CreateResult, error) {
	if p.CreditsCost < 1 {
		return nil, apperr.New(apperr.KindValidation, "credits_cost must be at least 1")
	}
	if p.MaxAttempts < 1 || p.MaxAttempts > 20 {
		return nil, apperr.New(apperr.KindValidation, "max_attempts must be between 1 and 20")
	}

	if p.IdempotencyKey != "" {
		jobStore := NewStore(s.pool)
		existing, err := jobStore.GetByIdempotencyKey(ctx, p.IdempotencyKey)
		if err == nil {
			return &CreateResult{Job: existing, IdempotentReplay: true}, nil
		}
		if err != ErrNotFound {
			return nil, apperr.Wrap(apperr.KindInternal, "checking idempotency key", err)
		}
	}

	jobID := uuid.New()

	var result CreateResult
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		jobStore := NewStore(tx)
		led := ledger.New(tx)

		hold, err := led.PlaceHold(ctx, p.UserID, jobID, p.CreditsCost)
		if err != nil {
			return err
		}

		var idemKey *string
		if p.IdempotencyKey != "" {
			idemKey = &p.IdempotencyKey
		}

		j, err := jobStore.Insert(ctx, createParams{
			ID:             jobID,
			UserID:         p.UserID,
			Provider:       p.Provider,
			Operation:      p.Operation,
			Input:          p.Input,
			CreditsCost:    p.CreditsCost,
			MaxAttempts:    p.MaxAttempts,
			IdempotencyKey: idemKey,
		})
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, "inserting job", err)
		}

		eventPayload, _ := json.Marshal(map[string]any{
			"credits_cost":  p.CreditsCost,
			"balance_after": hold.BalanceAfter,
		})
		if err := jobStore.AppendEvent(ctx, j.ID, EventQueued, eventPayload); err != nil {
			return apperr.Wrap(apperr.KindInternal, "appending job event", err)
		}

		result = CreateResult{Job: j, IdempotentReplay: false}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob returns a job scoped to its owning user.
func (s *Service) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*Job, error) {
	j, err := NewStore(s.pool).GetByIDForUser(ctx, jobID, userID)
	if err != nil {
		if err == ErrNotFound {
			return nil, apperr.New(apperr.KindNotFound, "job not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "looking up job", err)
	}
	return j, nil
}

// GetJobEvents returns a job's event history, scoped to its owning user.
func (s *Service) GetJobEvents(ctx context.Context, userID, jobID uuid.UUID) ([]*Event, error) {
	store := NewStore(s.pool)
	if _, err := store.GetByIDForUser(ctx, jobID, userID); err != nil {
		if err == ErrNotFound {
			return nil, apperr.New(apperr.KindNotFound, "job not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "looking up job", err)
	}
	events, err := store.ListEvents(ctx, jobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing job events", err)
	}
	return events, nil
}

// ListJobs returns the most recent jobs for a user.
func (s *Service) ListJobs(ctx context.Context, userID uuid.UUID, limit int) ([]*Job, error) {
	jobs, err := NewStore(s.pool).ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing jobs", err)
	}
	return jobs, nil
}

// AdjustCredits applies an admin-initiated ledger adjustment.
func (s *Service) AdjustCredits(ctx context.Context, userID uuid.UUID, amount int64, reason, idempotencyKey string) (*ledger.AdjustResult, error) {
	var result *ledger.AdjustResult
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		led := ledger.New(tx)
		r, err := led.Adjust(ctx, userID, amount, reason, idempotencyKey)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DeadLetters returns the most recent dead letters.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	dls, err := NewStore(s.pool).ListDeadLetters(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "listing dead letters", err)
	}
	return dls, nil
}

// Metrics reports a snapshot of job queue health for the ops surface.
func (s *Service) Metrics(ctx context.Context) (map[string]any, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying job counts by status: %w", err)
	}
	defer rows.Close()

	byStatus := map[string]int64{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning job count: %w", err)
		}
		byStatus[status] = count
	}

	var webhookFailuresLastHour, jobFailuresLastHour, deadLettersLast24h int64
	var p95Seconds float64

	_ = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM webhook_events WHERE status = 'failed' AND created_at > now() - interval '1 hour'`,
	).Scan(&webhookFailuresLastHour)

	_ = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE status = 'failed' AND finished_at > now() - interval '1 hour'`,
	).Scan(&jobFailuresLastHour)

	_ = s.pool.QueryRow(ctx,
		`SELECT count(*) FROM dead_letters WHERE created_at > now() - interval '24 hours'`,
	).Scan(&deadLettersLast24h)

	_ = s.pool.QueryRow(ctx,
		`SELECT COALESCE(percentile_cont(0.95) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM (finished_at - started_at))), 0)
		 FROM jobs
		 WHERE status = 'succeeded' AND finished_at > now() - interval '24 hours' AND started_at IS NOT NULL`,
	).Scan(&p95Seconds)

	return map[string]any{
		"jobs_by_status":             byStatus,
		"webhook_failures_last_hour": webhookFailuresLastHour,
		"job_failures_last_hour":     jobFailuresLastHour,
		"dead_letters_last_24h":      deadLettersLast24h,
		"job_duration_p95_seconds":   p95Seconds,
	}, nil
}
