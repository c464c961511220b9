package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stay-revenue/internal/ingestion"
	jobmetrics "github.com/odyssey-erp/stay-revenue/internal/jobs"
	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

type stubListings struct {
	active []listings.Listing
	err    error
}

func (s stubListings) ListActive(ctx context.Context) ([]listings.Listing, error) {
	return s.active, s.err
}

func (s stubListings) FindByProductID(ctx context.Context, productID string) (listings.Listing, error) {
	for _, l := range s.active {
		if l.ProductID == productID {
			return l, nil
		}
	}
	return listings.Listing{}, &shared.NotFoundError{Entity: "listing", Key: productID}
}

type stubSyncer struct {
	mu      sync.Mutex
	calls   map[string]time.Time
	failFor map[string]error
}

func (s *stubSyncer) SyncListing(ctx context.Context, listing listings.Listing, since time.Time) (ingestion.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]time.Time{}
	}
	s.calls[listing.ProductID] = since
	if err := s.failFor[listing.ProductID]; err != nil {
		return ingestion.SyncResult{ProductID: listing.ProductID}, err
	}
	return ingestion.SyncResult{ProductID: listing.ProductID, Fetched: 2, Applied: 2}, nil
}

func syncTask(t *testing.T, productID string, since time.Time) *asynq.Task {
	t.Helper()
	task, err := NewSyncTask(productID, since)
	require.NoError(t, err)
	return task
}

func threeListings() stubListings {
	return stubListings{active: []listings.Listing{{ID: 1, ProductID: "p1"}, {ID: 2, ProductID: "p2"}, {ID: 3, ProductID: "p3"}}}
}

func TestSyncJobSyncsEveryActiveListing(t *testing.T) {
	syncer := &stubSyncer{}
	job := NewSyncJob(threeListings(), syncer, 2, 24*time.Hour, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job.WithClock(func() time.Time { return now })

	require.NoError(t, job.Handle(context.Background(), syncTask(t, "", time.Time{})))
	require.Len(t, syncer.calls, 3)
	require.Equal(t, now.Add(-24*time.Hour), syncer.calls["p2"])
}

func TestSyncJobJoinsFailuresAndKeepsGoing(t *testing.T) {
	feedErr := &shared.UpstreamIntegrationError{Source: "channel feed", Err: errors.New("503")}
	syncer := &stubSyncer{failFor: map[string]error{"p2": feedErr}}
	job := NewSyncJob(threeListings(), syncer, 1, 0, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), syncTask(t, "", time.Time{}))
	require.Error(t, err)
	var upstream *shared.UpstreamIntegrationError
	require.ErrorAs(t, err, &upstream)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	require.Len(t, syncer.calls, 3)
}

func TestSyncJobSingleListing(t *testing.T) {
	syncer := &stubSyncer{}
	job := NewSyncJob(threeListings(), syncer, 0, 0, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	since := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, job.Handle(context.Background(), syncTask(t, "p3", since)))
	require.Equal(t, map[string]time.Time{"p3": since}, syncer.calls)

	err := job.Handle(context.Background(), syncTask(t, "missing", since))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSyncJobRejectsBadPayload(t *testing.T) {
	job := NewSyncJob(threeListings(), &stubSyncer{}, 0, 0, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskReservationSync, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubRebuilder struct {
	err   error
	calls []int64
}

func (s *stubRebuilder) RebuildRevenue(ctx context.Context, reservationID int64) error {
	s.calls = append(s.calls, reservationID)
	return s.err
}

type stubFailureReporter struct {
	exhausted []bool
	failures  []*shared.RevenueComputationFailure
}

func (s *stubFailureReporter) RecomputeFailed(ctx context.Context, failure *shared.RevenueComputationFailure, exhausted bool) {
	s.exhausted = append(s.exhausted, exhausted)
	s.failures = append(s.failures, failure)
}

func recomputeTask(t *testing.T, id int64) *asynq.Task {
	t.Helper()
	task, err := NewRecomputeTask(id, 0)
	require.NoError(t, err)
	return task
}

func TestRecomputeJob(t *testing.T) {
	rebuilder := &stubRebuilder{}
	reporter := &stubFailureReporter{}
	job := NewRecomputeJob(rebuilder, reporter, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), recomputeTask(t, 42)))
	require.Equal(t, []int64{42}, rebuilder.calls)

	rebuilder.err = errors.New("connection reset")
	err := job.Handle(context.Background(), recomputeTask(t, 42))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry))
	require.Empty(t, reporter.exhausted)

	rebuilder.err = shared.Invalid("channel_payload", "missing")
	err = job.Handle(context.Background(), recomputeTask(t, 42))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, []bool{true}, reporter.exhausted)
}

func TestRecomputeFailuresCarryListing(t *testing.T) {
	rebuilder := &stubRebuilder{}
	reporter := &stubFailureReporter{}
	job := NewRecomputeJob(rebuilder, reporter, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	queued, err := NewRecomputeTask(42, 9)
	require.NoError(t, err)

	rebuilder.err = &shared.RevenueComputationFailure{ReservationID: 42, ListingID: 5, Err: shared.Invalid("channel_payload", "missing")}
	require.ErrorIs(t, job.Handle(context.Background(), queued), asynq.SkipRetry)
	require.Equal(t, int64(5), reporter.failures[0].ListingID)
	require.True(t, shared.IsValidation(reporter.failures[0].Err))

	rebuilder.err = &shared.NotFoundError{Entity: "reservation", Key: "42"}
	require.ErrorIs(t, job.Handle(context.Background(), queued), asynq.SkipRetry)
	require.Equal(t, int64(9), reporter.failures[1].ListingID)
}

func TestErrorHandlerReportsListing(t *testing.T) {
	reporter := &stubFailureReporter{}
	handler := NewErrorHandler(reporter, slog.New(slog.NewTextHandler(io.Discard, nil)))

	cause := &shared.RevenueComputationFailure{ReservationID: 42, ListingID: 4, Err: errors.New("connection reset")}
	handler.HandleError(context.Background(), recomputeTask(t, 42), fmt.Errorf("revenue recompute 42: %w", cause))

	require.Len(t, reporter.failures, 1)
	require.Equal(t, int64(42), reporter.failures[0].ReservationID)
	require.Equal(t, int64(4), reporter.failures[0].ListingID)
	require.EqualError(t, reporter.failures[0].Err, "connection reset")
	require.Equal(t, []bool{true}, reporter.exhausted)
}

func TestNewRecomputeTask(t *testing.T) {
	_, err := NewRecomputeTask(0, 1)
	require.Error(t, err)

	task, err := NewRecomputeTask(7, 3)
	require.NoError(t, err)
	require.Equal(t, TaskRevenueRecompute, task.Type())
	var payload RecomputePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, int64(7), payload.ReservationID)
	require.Equal(t, int64(3), payload.ListingID)
}

type stubPurger struct {
	retention time.Duration
	removed   int64
	err       error
}

func (s *stubPurger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	s.retention = retention
	return s.removed, s.err
}

func TestPurgeJob(t *testing.T) {
	purger := &stubPurger{removed: 3}
	job := NewPurgeJob(purger, 72*time.Hour, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), NewPurgeTask()))
	require.Equal(t, 72*time.Hour, purger.retention)

	purger.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), NewPurgeTask()))

	idle := &stubPurger{}
	require.NoError(t, NewPurgeJob(idle, 0, nil, nil).Handle(context.Background(), NewPurgeTask()))
	require.Zero(t, idle.retention)
}

func TestFixedRetryDelay(t *testing.T) {
	fn := FixedRetryDelay(30 * time.Second)
	require.Equal(t, 30*time.Second, fn(1, errors.New("x"), nil))
	require.Equal(t, 30*time.Second, fn(5, errors.New("x"), nil))
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1}}, nil).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":3,"active":0,"retry":1,"archived":0,"scheduled":0}`, rec.Body.String())

	r = chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
