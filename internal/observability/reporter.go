package observability

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Failure stages.
const (
	StageInline    = "inline"
	StageRetry     = "retry"
	StageExhausted = "exhausted"
)

// FailureStore persists revenue failures for operators.
type FailureStore interface {
	Save(ctx context.Context, failure *shared.RevenueComputationFailure, stage string) error
}

// RecomputeScheduler queues a revenue rebuild.
type RecomputeScheduler interface {
	ScheduleRecompute(ctx context.Context, reservationID, listingID int64) error
}

// Reporter fans revenue failures out to logs, metrics, the failure table and
// the recompute queue. A nil store or scheduler is skipped.
type Reporter struct {
	logger    *slog.Logger
	metrics   *Metrics
	store     FailureStore
	scheduler RecomputeScheduler
}

// NewReporter builds a Reporter.
func NewReporter(logger *slog.Logger, metrics *Metrics, store FailureStore, scheduler RecomputeScheduler) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{logger: logger, metrics: metrics, store: store, scheduler: scheduler}
}

// RevenueFailed records an inline failure and schedules a rebuild.
func (r *Reporter) RevenueFailed(ctx context.Context, failure *shared.RevenueComputationFailure) {
	r.report(ctx, failure, StageInline)
	if r.scheduler == nil {
		return
	}
	if err := r.scheduler.ScheduleRecompute(ctx, failure.ReservationID, failure.ListingID); err != nil {
		r.logger.Error("schedule revenue recompute",
			slog.Int64("reservation_id", failure.ReservationID),
			slog.Any("error", err),
		)
	}
}

// RecomputeFailed records a failed rebuild attempt. Exhausted attempts are
// left for an operator.
func (r *Reporter) RecomputeFailed(ctx context.Context, failure *shared.RevenueComputationFailure, exhausted bool) {
	stage := StageRetry
	if exhausted {
		stage = StageExhausted
	}
	r.report(ctx, failure, stage)
}

// EventProcessed counts a channel event outcome.
func (r *Reporter) EventProcessed(action, result string) {
	r.metrics.EventProcessed(action, result)
}

// ReconciliationCommitted counts a reconciliation commit outcome.
func (r *Reporter) ReconciliationCommitted(result string) {
	r.metrics.ReconciliationCommitted(result)
}

func (r *Reporter) report(ctx context.Context, failure *shared.RevenueComputationFailure, stage string) {
	level := slog.LevelWarn
	if stage == StageExhausted {
		level = slog.LevelError
	}
	r.logger.Log(ctx, level, "revenue computation failed",
		slog.Int64("reservation_id", failure.ReservationID),
		slog.Int64("listing_id", failure.ListingID),
		slog.String("stage", stage),
		slog.Any("error", failure.Err),
	)
	r.metrics.revenueFailed(stage)
	if r.store == nil {
		return
	}
	// Detach from the request so the record survives a cancelled caller.
	if err := r.store.Save(context.WithoutCancel(ctx), failure, stage); err != nil {
		r.logger.Error("persist revenue failure", slog.Int64("reservation_id", failure.ReservationID), slog.Any("error", err))
	}
}

// PGFailureStore writes into revenue_failures.
type PGFailureStore struct {
	pool *pgxpool.Pool
}

// NewPGFailureStore constructs PGFailureStore.
func NewPGFailureStore(pool *pgxpool.Pool) *PGFailureStore {
	return &PGFailureStore{pool: pool}
}

// Save inserts one failure row.
func (s *PGFailureStore) Save(ctx context.Context, failure *shared.RevenueComputationFailure, stage string) error {
	msg := ""
	if failure.Err != nil {
		msg = failure.Err.Error()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO revenue_failures (reservation_id, listing_id, stage, error, occurred_at)
VALUES ($1, NULLIF($2, 0), $3, $4, NOW())`, failure.ReservationID, failure.ListingID, stage, msg)
	return err
}
