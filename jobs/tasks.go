package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReservationSync pulls reservation changes from channel feeds.
	TaskReservationSync = "reservation:sync"
	// TaskRevenueRecompute rebuilds the revenue of one reservation.
	TaskRevenueRecompute = "revenue:recompute"
	// TaskIdempotencyPurge drops expired idempotency keys.
	TaskIdempotencyPurge = "idempotency:purge"
)

// SyncPayload scopes a sync run. An empty ProductID syncs every active
// listing; a zero Since uses the job's lookback window.
type SyncPayload struct {
	ProductID string    `json:"product_id,omitempty"`
	Since     time.Time `json:"since,omitempty"`
}

// RecomputePayload identifies the reservation to rebuild. ListingID is the
// listing known when the rebuild was queued, zero if none was.
type RecomputePayload struct {
	ReservationID int64 `json:"reservation_id"`
	ListingID     int64 `json:"listing_id,omitempty"`
}

// NewSyncTask builds a reservation sync task.
func NewSyncTask(productID string, since time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(SyncPayload{ProductID: productID, Since: since})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationSync, body, asynq.Queue(QueueDefault)), nil
}

// NewRecomputeTask builds a revenue recompute task. The task id dedupes
// rebuilds queued for the same reservation.
func NewRecomputeTask(reservationID, listingID int64) (*asynq.Task, error) {
	if reservationID <= 0 {
		return nil, fmt.Errorf("jobs: reservation id must be positive")
	}
	body, err := json.Marshal(RecomputePayload{ReservationID: reservationID, ListingID: listingID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRevenueRecompute, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(fmt.Sprintf("%s:%d", TaskRevenueRecompute, reservationID)),
	), nil
}

// NewPurgeTask builds an idempotency key purge task.
func NewPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPurge, nil, asynq.Queue(QueueDefault))
}
