package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stay-revenue/internal/ingestion"
	jobmetrics "github.com/odyssey-erp/stay-revenue/internal/jobs"
	"github.com/odyssey-erp/stay-revenue/internal/listings"
)

// ListingSource lists the listings to sync.
type ListingSource interface {
	ListActive(ctx context.Context) ([]listings.Listing, error)
	FindByProductID(ctx context.Context, productID string) (listings.Listing, error)
}

// ListingSyncer pulls and applies one listing's changes.
type ListingSyncer interface {
	SyncListing(ctx context.Context, listing listings.Listing, since time.Time) (ingestion.SyncResult, error)
}

// SyncJob fans a sync run out over listings.
type SyncJob struct {
	Listings    ListingSource
	Syncer      ListingSyncer
	Concurrency int
	Lookback    time.Duration
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewSyncJob constructs the job handler.
func NewSyncJob(source ListingSource, syncer ListingSyncer, concurrency int, lookback time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *SyncJob {
	return &SyncJob{
		Listings:    source,
		Syncer:      syncer,
		Concurrency: concurrency,
		Lookback:    lookback,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one sync run. Every listing is attempted; failures are
// joined so asynq retries the run.
func (j *SyncJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Listings == nil || j.Syncer == nil {
		return errors.New("reservation sync: dependencies not configured")
	}
	var payload SyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("reservation sync: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskReservationSync)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	targets, err := j.resolveListings(ctx, payload.ProductID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve listings", slog.String("product_id", payload.ProductID), slog.Any("error", err))
		return resultErr
	}
	since := payload.Since
	if since.IsZero() {
		since = j.now().Add(-j.lookback())
	}

	start := j.now()
	var (
		mu    sync.Mutex
		total ingestion.SyncResult
		errs  []error
	)
	var g errgroup.Group
	g.SetLimit(j.concurrency())
	for _, listing := range targets {
		g.Go(func() error {
			res, err := j.Syncer.SyncListing(ctx, listing, since)
			mu.Lock()
			defer mu.Unlock()
			total.Fetched += res.Fetched
			total.Applied += res.Applied
			total.Rejected += res.Rejected
			total.RevenueFailed += res.RevenueFailed
			if err != nil {
				errs = append(errs, fmt.Errorf("listing %s: %w", listing.ProductID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	m := j.metrics()
	m.AddSynced("applied", total.Applied)
	m.AddSynced("rejected", total.Rejected)
	m.AddSynced("revenue_failed", total.RevenueFailed)

	resultErr = errors.Join(errs...)
	logAttrs := []any{
		slog.Int("listings", len(targets)),
		slog.Int("fetched", total.Fetched),
		slog.Int("applied", total.Applied),
		slog.Int("rejected", total.Rejected),
		slog.Int("revenue_failed", total.RevenueFailed),
		slog.Duration("duration", time.Since(start)),
	}
	if resultErr != nil {
		j.log().Error("reservation sync finished with failures", append(logAttrs, slog.Int("failed_listings", len(errs)), slog.Any("error", resultErr))...)
		return resultErr
	}
	j.log().Info("reservation sync finished", logAttrs...)
	return resultErr
}

func (j *SyncJob) resolveListings(ctx context.Context, productID string) ([]listings.Listing, error) {
	if productID == "" {
		return j.Listings.ListActive(ctx)
	}
	listing, err := j.Listings.FindByProductID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return []listings.Listing{listing}, nil
}

func (j *SyncJob) concurrency() int {
	if j.Concurrency > 0 {
		return j.Concurrency
	}
	return 4
}

func (j *SyncJob) lookback() time.Duration {
	if j.Lookback > 0 {
		return j.Lookback
	}
	return 48 * time.Hour
}

func (j *SyncJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SyncJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReservationSync))
	}
	return slog.Default().With(slog.String("job", TaskReservationSync))
}

func (j *SyncJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *SyncJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
