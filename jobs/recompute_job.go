package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stay-revenue/internal/jobs"
	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// RevenueRebuilder rebuilds revenue from a reservation's stored payload.
type RevenueRebuilder interface {
	RebuildRevenue(ctx context.Context, reservationID int64) error
}

// FailureReporter records recompute attempts that failed.
type FailureReporter interface {
	RecomputeFailed(ctx context.Context, failure *shared.RevenueComputationFailure, exhausted bool)
}

// RecomputeJob handles revenue:recompute tasks.
type RecomputeJob struct {
	Rebuilder RevenueRebuilder
	Reporter  FailureReporter
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewRecomputeJob constructs the job handler.
func NewRecomputeJob(rebuilder RevenueRebuilder, reporter FailureReporter, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecomputeJob {
	return &RecomputeJob{Rebuilder: rebuilder, Reporter: reporter, Logger: logger, Metrics: metrics}
}

// Handle rebuilds one reservation's revenue. Failures that a retry cannot
// fix are reported as exhausted and not retried.
func (j *RecomputeJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Rebuilder == nil {
		return errors.New("revenue recompute: dependencies not configured")
	}
	var payload RecomputePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.ReservationID <= 0 {
		return fmt.Errorf("revenue recompute: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRevenueRecompute)
	err := j.Rebuilder.RebuildRevenue(ctx, payload.ReservationID)
	if err == nil {
		j.log().Info("revenue rebuilt", slog.Int64("reservation_id", payload.ReservationID))
		return tracker.End(nil)
	}
	tracker.End(err)

	if permanentRebuildError(err) {
		if j.Reporter != nil {
			j.Reporter.RecomputeFailed(ctx, recomputeFailure(payload, err), true)
		}
		return fmt.Errorf("revenue recompute %d: %v: %w", payload.ReservationID, err, asynq.SkipRetry)
	}
	return fmt.Errorf("revenue recompute %d: %w", payload.ReservationID, err)
}

// recomputeFailure prefers the listing the rebuild resolved over the one in
// the payload.
func recomputeFailure(payload RecomputePayload, err error) *shared.RevenueComputationFailure {
	failure := &shared.RevenueComputationFailure{ReservationID: payload.ReservationID, ListingID: payload.ListingID, Err: err}
	var rebuilt *shared.RevenueComputationFailure
	if errors.As(err, &rebuilt) {
		if rebuilt.ListingID != 0 {
			failure.ListingID = rebuilt.ListingID
		}
		failure.Err = rebuilt.Err
	}
	return failure
}

func permanentRebuildError(err error) bool {
	return errors.Is(err, httpx.ErrNotFound) || errors.Is(err, httpx.ErrValidation)
}

func (j *RecomputeJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RecomputeJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRevenueRecompute))
	}
	return slog.Default().With(slog.String("job", TaskRevenueRecompute))
}
