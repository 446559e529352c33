package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ledgerforge/ops/internal/ledger"
	"github.com/ledgerforge/ops/internal/metrics"
	"github.com/ledgerforge/ops/internal/store"
)

// Worker runs the single-flight claim loop: claim a queued job, dispatch it
// to a provider adapter outside the claim transaction, then settle success
// or failure/retry in a fresh transaction.
type Worker struct {
	pool            *pgxpool.Pool
	registry        Registry
	logger          *slog.Logger
	pollInterval    time.Duration
	staleAfter      time.Duration
	heartbeatUnixNs atomic.Int64
}

func NewWorker(pool *pgxpool.Pool, registry Registry, logger *slog.Logger, pollInterval, staleAfter time.Duration) *Worker {
	return &Worker{
		pool:         pool,
		registry:     registry,
		logger:       logger,
		pollInterval: pollInterval,
		staleAfter:   staleAfter,
	}
}

// HeartbeatAge reports how long ago the worker last completed a loop
// iteration. Used by the readiness probe.
func (w *Worker) HeartbeatAge() time.Duration {
	last := w.heartbeatUnixNs.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(time.Unix(0, last))
}

func (w *Worker) beat() {
	w.heartbeatUnixNs.Store(time.Now().UnixNano())
	metrics.WorkerHeartbeatTimestamp.SetToCurrentTime()
}

// Run drives the claim loop until ctx is cancelled. Shutdown is
// cooperative: once a claim+dispatch+settle cycle is in flight it is
// allowed to finish before Run returns.
func (w *Worker) Run(ctx context.Context) {
	w.RecoverStale(ctx)
	w.beat()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	staleTicker := time.NewTicker(w.staleAfter)
	defer staleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-staleTicker.C:
			w.RecoverStale(ctx)
		case <-ticker.C:
			w.beat()
			claimed, err := w.runOnce(ctx)
			if err != nil {
				w.logger.Error("worker iteration failed", "error", err)
				continue
			}
			if !claimed {
				continue
			}
			// Drain the queue aggressively when work is available, instead
			// of waiting a full poll interval between every job.
			for {
				claimed, err := w.runOnce(ctx)
				if err != nil {
					w.logger.Error("worker iteration failed", "error", err)
					break
				}
				if !claimed {
					break
				}
				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// runOnce claims at most one job and drives it to a terminal or
// retry-scheduled state. Returns claimed=false when the queue was empty.
func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	j, err := w.claim(ctx)
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}

	metrics.JobsClaimedTotal.Inc()
	// A claimed job is driven to completion even if ctx is cancelled
	// meanwhile, so shutdown never strands it in running.
	w.dispatchAndSettle(context.WithoutCancel(ctx), j)
	return true, nil
}

func (w *Worker) claim(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := store.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		jobStore := NewStore(tx)
		j, err := jobStore.ClaimNext(ctx)
		if err != nil {
			return fmt.Errorf("claiming next job: %w", err)
		}
		if j == nil {
			return nil
		}
		payload, _ := json.Marshal(map[string]any{"attempt": j.AttemptCount})
		if err := jobStore.AppendEvent(ctx, j.ID, EventStarted, payload); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	return claimed, err
}

func (w *Worker) dispatchAndSettle(ctx context.Context, j *Job) {
	adapter := w.registry.Resolve(j.Provider)
	providerJobID, result, runErr := adapter.Run(ctx, j.Operation, j.Input)

	if runErr == nil {
		if err := w.settleSuccess(ctx, j, providerJobID, result); err != nil {
			w.logger.Error("settling job success failed", "job_id", j.ID, "error", err)
		}
		return
	}

	if err := w.settleFailure(ctx, j, runErr.Error(), false); err != nil {
		w.logger.Error("settling job failure failed", "job_id", j.ID, "error", err)
	}
}

func (w *Worker) settleSuccess(ctx context.Context, j *Job, providerJobID string, result json.RawMessage) error {
	return store.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		jobStore := NewStore(tx)
		led := ledger.New(tx)

		locked, err := jobStore.LockForUpdate(ctx, j.ID)
		if err != nil {
			return err
		}
		if locked.Status != StatusRunning {
			return nil
		}

		if err := led.ReleaseHold(ctx, locked.UserID, locked.ID, locked.CreditsCost, ledger.ReleaseOnSuccess); err != nil {
			return err
		}
		if err := led.ConsumeForJob(ctx, locked.UserID, locked.ID, locked.CreditsCost); err != nil {
			return err
		}

		var providerJobIDPtr *string
		if providerJobID != "" {
			providerJobIDPtr = &providerJobID
		}
		if err := jobStore.MarkSucceeded(ctx, locked.ID, providerJobIDPtr, result); err != nil {
			return err
		}
		if err := jobStore.AppendEvent(ctx, locked.ID, EventSucceeded, result); err != nil {
			return err
		}

		metrics.JobsSucceededTotal.Inc()
		return nil
	})
}

func (w *Worker) settleFailure(ctx context.Context, j *Job, lastError string, recovered bool) error {
	return store.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		jobStore := NewStore(tx)
		led := ledger.New(tx)

		locked, err := jobStore.LockForUpdate(ctx, j.ID)
		if err != nil {
			return err
		}
		if locked.Status != StatusRunning {
			return nil
		}

		if locked.AttemptCount < locked.MaxAttempts {
			delay := backoff(locked.AttemptCount)
			availableAt := time.Now().Add(delay)
			if err := jobStore.MarkRetryScheduled(ctx, locked.ID, availableAt, lastError); err != nil {
				return err
			}
			payload, _ := json.Marshal(map[string]any{
				"next_retry_seconds": int(delay.Seconds()),
				"error":              lastError,
				"attempt":            locked.AttemptCount,
				"recovered":          recovered,
			})
			if err := jobStore.AppendEvent(ctx, locked.ID, EventRetryScheduled, payload); err != nil {
				return err
			}
			metrics.JobsRetriedTotal.Inc()
			if recovered {
				metrics.JobsStaleRecoveredTotal.WithLabelValues("retry_scheduled").Inc()
			}
			return nil
		}

		if err := led.ReleaseHold(ctx, locked.UserID, locked.ID, locked.CreditsCost, ledger.ReleaseOnFail); err != nil {
			return err
		}
		if err := jobStore.MarkFailed(ctx, locked.ID, lastError); err != nil {
			return err
		}
		payload, _ := json.Marshal(map[string]any{"error": lastError, "recovered": recovered})
		if err := jobStore.AppendEvent(ctx, locked.ID, EventFailed, payload); err != nil {
			return err
		}
		dlPayload, _ := json.Marshal(map[string]any{"last_error": lastError})
		if err := jobStore.InsertDeadLetter(ctx, locked.ID, locked.UserID, lastError, dlPayload); err != nil {
			return err
		}

		metrics.JobsFailedTotal.Inc()
		if recovered {
			metrics.JobsStaleRecoveredTotal.WithLabelValues("failed").Inc()
		}
		return nil
	})
}

// RecoverStale finds jobs stuck in running past the stale threshold
// (typically because a worker crashed mid-dispatch) and re-queues or fails
// them so their holds never leak.
func (w *Worker) RecoverStale(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)

	var stale []*Job
	err := store.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		jobStore := NewStore(tx)
		jobs, err := jobStore.FindStaleRunning(ctx, cutoff)
		if err != nil {
			return err
		}
		stale = jobs
		return nil
	})
	if err != nil {
		w.logger.Error("finding stale running jobs failed", "error", err)
		return
	}

	for _, j := range stale {
		if err := w.settleFailure(ctx, j, "recovered stale running job", true); err != nil {
			w.logger.Error("recovering stale job failed", "job_id", j.ID, "error", err)
		}
	}
}
