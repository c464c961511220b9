package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stay-revenue/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	maxRetry  int
}

// NewJobsCLI initialises the CLI helpers using the provided Redis options.
func NewJobsCLI(opt asynq.RedisClientOpt, maxRetry int) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opt), inspector: asynq.NewInspector(opt), maxRetry: maxRetry}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerSync enqueues a reservation sync, optionally for one listing.
func (c *JobsCLI) TriggerSync(ctx context.Context, productID string, since time.Time) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewSyncTask(productID, since)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(c.maxRetry))
}

// TriggerRecompute enqueues a revenue rebuild for one reservation.
func (c *JobsCLI) TriggerRecompute(ctx context.Context, reservationID int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewRecomputeTask(reservationID, 0)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(c.maxRetry))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("jobs cli: recompute for reservation %d already queued", reservationID)
	}
	return info, err
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListArchived returns tasks that exhausted their retries.
func (c *JobsCLI) ListArchived(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListArchivedTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}
