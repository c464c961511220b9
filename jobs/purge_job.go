package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stay-revenue/internal/jobs"
)

// KeyPurger removes idempotency keys older than a retention window.
type KeyPurger interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// PurgeJob handles idempotency:purge tasks.
type PurgeJob struct {
	Purger    KeyPurger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPurgeJob constructs the job handler.
func NewPurgeJob(purger KeyPurger, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeJob {
	return &PurgeJob{Purger: purger, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle drops expired keys. A non-positive retention keeps everything.
func (j *PurgeJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Purger == nil {
		return errors.New("idempotency purge: dependencies not configured")
	}
	if j.Retention <= 0 {
		return nil
	}
	tracker := j.metrics().Track(TaskIdempotencyPurge)
	removed, err := j.Purger.Cleanup(ctx, j.Retention)
	if err != nil {
		j.log().Error("purge idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddPurged(removed)
	j.log().Info("idempotency keys purged", slog.Int64("removed", removed))
	return tracker.End(nil)
}

func (j *PurgeJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PurgeJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyPurge))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyPurge))
}
