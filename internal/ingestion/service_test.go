package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
	"github.com/odyssey-erp/stay-revenue/internal/reservations"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// memoryStore holds its mutex for a whole WithTx call, so transactions never
// interleave here. Tests can only check which lock names a transaction asks
// for; Postgres advisory locking is what serialises them in production.
type memoryStore struct {
	mu       sync.Mutex
	rows     map[int64]reservations.Reservation
	events   map[int64]reservations.CalendarEvent
	releases []reservations.AvailabilityRelease
	locks    [][]string
	nextID   int64
	failOn   string
}

type memoryStoreTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rows:   make(map[int64]reservations.Reservation),
		events: make(map[int64]reservations.CalendarEvent),
	}
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, reservations.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make(map[int64]reservations.Reservation, len(s.rows))
	for k, v := range s.rows {
		rows[k] = v
	}
	events := make(map[int64]reservations.CalendarEvent, len(s.events))
	for k, v := range s.events {
		events[k] = v
	}
	releases := append([]reservations.AvailabilityRelease(nil), s.releases...)
	nextID := s.nextID
	if err := fn(ctx, &memoryStoreTx{store: s}); err != nil {
		s.rows, s.events, s.releases, s.nextID = rows, events, releases, nextID
		return err
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (reservations.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.rows[id]
	if !ok {
		return reservations.Reservation{}, reservations.ErrNotFound
	}
	return res, nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (t *memoryStoreTx) LockKey(ctx context.Context, key reservations.Key) error {
	t.store.locks = append(t.store.locks, key.LockNames())
	return nil
}

func (t *memoryStoreTx) FindByExternalID(ctx context.Context, channel channels.Channel, externalID string) (reservations.Reservation, bool, error) {
	for _, r := range t.store.rows {
		if r.Channel == channel && r.ExternalID == externalID {
			return r, true, nil
		}
	}
	return reservations.Reservation{}, false, nil
}

func (t *memoryStoreTx) FindByConfirmationCode(ctx context.Context, channel channels.Channel, code string) (reservations.Reservation, bool, error) {
	for _, r := range t.store.rows {
		if r.Channel == channel && r.ConfirmationCode == code {
			return r, true, nil
		}
	}
	return reservations.Reservation{}, false, nil
}

func (t *memoryStoreTx) Insert(ctx context.Context, res reservations.Reservation) (reservations.Reservation, error) {
	if _, ok, _ := t.FindByExternalID(ctx, res.Channel, res.ExternalID); ok {
		return reservations.Reservation{}, reservations.ErrDuplicate
	}
	t.store.nextID++
	res.ID = t.store.nextID
	res.CreatedAt = time.Now()
	res.UpdatedAt = res.CreatedAt
	t.store.rows[res.ID] = res
	return res, nil
}

func (t *memoryStoreTx) Update(ctx context.Context, res reservations.Reservation) (reservations.Reservation, error) {
	if _, ok := t.store.rows[res.ID]; !ok {
		return reservations.Reservation{}, reservations.ErrNotFound
	}
	res.UpdatedAt = time.Now()
	t.store.rows[res.ID] = res
	return res, nil
}

func (t *memoryStoreTx) SetExternalID(ctx context.Context, id int64, externalID string) error {
	res := t.store.rows[id]
	res.ExternalID = externalID
	t.store.rows[id] = res
	return nil
}

func (t *memoryStoreTx) SetStatus(ctx context.Context, id int64, status reservations.Status) error {
	res, ok := t.store.rows[id]
	if !ok {
		return reservations.ErrNotFound
	}
	res.Status = status
	t.store.rows[id] = res
	return nil
}

func (t *memoryStoreTx) InsertCalendarEvent(ctx context.Context, ev reservations.CalendarEvent) (reservations.CalendarEvent, error) {
	if t.store.failOn == "calendar" {
		return reservations.CalendarEvent{}, errors.New("calendar unavailable")
	}
	ev.ID = int64(len(t.store.events) + 1)
	t.store.events[ev.ReservationID] = ev
	return ev, nil
}

func (t *memoryStoreTx) UpdateCalendarEvent(ctx context.Context, reservationID int64, start, end time.Time) error {
	ev := t.store.events[reservationID]
	ev.StartDate, ev.EndDate = start, end
	t.store.events[reservationID] = ev
	return nil
}

func (t *memoryStoreTx) InsertAvailabilityRelease(ctx context.Context, rel reservations.AvailabilityRelease) (reservations.AvailabilityRelease, error) {
	rel.ID = int64(len(t.store.releases) + 1)
	t.store.releases = append(t.store.releases, rel)
	return rel, nil
}

type stubListings struct {
	mu       sync.Mutex
	listings map[string]listings.Listing
	calls    int
}

func (s *stubListings) FindByProductID(ctx context.Context, productID string) (listings.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	l, ok := s.listings[productID]
	if !ok {
		return listings.Listing{}, &shared.NotFoundError{Entity: "listing", Key: productID}
	}
	return l, nil
}

type stubRevenue struct {
	mu    sync.Mutex
	saved map[int64]revenue.Revenue
	err   error
	panic bool
	calls int
}

func (s *stubRevenue) Recompute(ctx context.Context, reservationID int64, rev revenue.Revenue) (revenue.Revenue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panic {
		panic("nil fee rule")
	}
	if s.err != nil {
		return revenue.Revenue{}, s.err
	}
	rev.ReservationID = reservationID
	s.saved[reservationID] = rev
	return rev, nil
}

type stubReporter struct {
	mu       sync.Mutex
	failures []*shared.RevenueComputationFailure
	events   map[string]int
}

func (s *stubReporter) RevenueFailed(ctx context.Context, failure *shared.RevenueComputationFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure)
}

func (s *stubReporter) EventProcessed(action, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[string]int)
	}
	s.events[action+":"+result]++
}

type fixture struct {
	svc      *Service
	store    *memoryStore
	listings *stubListings
	revenue  *stubRevenue
	reporter *stubReporter
}

const secret = "s3cret-key"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auth, err := NewAuthenticator(secret, "")
	require.NoError(t, err)
	f := &fixture{
		store: newMemoryStore(),
		listings: &stubListings{listings: map[string]listings.Listing{
			"P-1": {ID: 1, ProductID: "P-1", Currency: "USD", PmcShare: decimal.RequireFromString("0.4"), Active: true},
		}},
		revenue:  &stubRevenue{saved: make(map[int64]revenue.Revenue)},
		reporter: &stubReporter{},
	}
	f.svc = NewService(Deps{
		Store:    f.store,
		Listings: f.listings,
		Revenue:  f.revenue,
		Auth:     auth,
		Reporter: f.reporter,
	})
	return f
}

func createPayload() Payload {
	return Payload{
		ReservationID:  "BP-1001",
		ProductID:      "P-1",
		UniqueKey:      secret,
		Action:         ActionCreate,
		ChannelName:    "Airbnb",
		ConfirmationID: "HM4KX2",
		FromDate:       "2025-06-01",
		ToDate:         "2025-06-04",
		Adult:          2,
		CustomerName:   "Dana Reyes",
		Email:          "dana@example.com",
		Rate:           Rate{NewPublishedRackRate: decimal.NewFromInt(100)},
		Taxes: []Charge{
			{ID: "t1", Name: "Municipal tax", Value: decimal.NewFromInt(2)},
			{ID: "t2", Name: "County tax", Value: decimal.NewFromInt(1)},
			{ID: "t3", Name: "State tax", Value: decimal.NewFromInt(3)},
		},
	}
}

func TestCreateComputesRevenue(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Handle(context.Background(), createPayload())
	require.NoError(t, err)
	require.True(t, out.Created)
	require.Equal(t, reservations.NotFound, out.Resolution)
	require.False(t, out.RevenueFailed())
	require.Equal(t, channels.Airbnb, out.Reservation.Channel)
	require.Equal(t, reservations.StatusConfirmed, out.Reservation.Status)
	require.Contains(t, f.store.events, out.Reservation.ID)

	rev := f.revenue.saved[out.Reservation.ID]
	b, err := revenue.Compute(rev)
	require.NoError(t, err)
	require.Equal(t, "94", b.NetRevenue.Amount().String())
	require.Equal(t, "37.6", b.NetRevenue.ManagerAmount().String())
	require.Equal(t, "56.4", b.NetRevenue.OwnerAmount().String())
	require.True(t, b.Taxes.Amount().Equal(decimal.NewFromInt(6)))
}

func TestReplayedCreateKeepsOneRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Handle(ctx, createPayload())
	require.NoError(t, err)
	second, err := f.svc.Handle(ctx, createPayload())
	require.NoError(t, err)

	require.Equal(t, 1, f.store.count())
	require.False(t, second.Created)
	require.Equal(t, reservations.FoundByID, second.Resolution)
	require.Equal(t, first.Reservation.ID, second.Reservation.ID)
}

func TestConcurrentCreatesKeepOneRow(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Apply(context.Background(), createPayload())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, f.store.count())
}

func TestCreateMatchedByConfirmationCodeAdoptsNewID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.Handle(ctx, createPayload())
	require.NoError(t, err)

	confirmed := createPayload()
	confirmed.ReservationID = "BP-2002"
	out, err := f.svc.Handle(ctx, confirmed)
	require.NoError(t, err)
	require.Equal(t, reservations.FoundByFallback, out.Resolution)
	require.Equal(t, first.Reservation.ID, out.Reservation.ID)
	require.Equal(t, "BP-2002", out.Reservation.ExternalID)
	require.Equal(t, 1, f.store.count())
}

func TestEventsSharingConfirmationCodeShareLock(t *testing.T) {
	f := newFixture(t)
	first := createPayload()
	first.ReservationID = "RTB-1"
	second := createPayload()
	second.ReservationID = "BP-2002"

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []Payload{first, second} {
		wg.Add(1)
		go func(i int, p Payload) {
			defer wg.Done()
			_, errs[i] = f.svc.Handle(context.Background(), p)
		}(i, p)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 1, f.store.count())

	require.Len(t, f.store.locks, 2)
	require.Contains(t, f.store.locks[0], "reservation:AIRBNB/code:HM4KX2")
	require.Contains(t, f.store.locks[1], "reservation:AIRBNB/code:HM4KX2")
}

func TestUpdateUnknownReservation(t *testing.T) {
	f := newFixture(t)
	p := createPayload()
	p.Action = ActionUpdate
	_, err := f.svc.Handle(context.Background(), p)

	var nf *reservations.ReservationNotFoundError
	require.ErrorAs(t, err, &nf)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Zero(t, f.store.count())
	require.Zero(t, f.revenue.calls)
}

func TestUpdateReplacesFieldsAndRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Handle(ctx, createPayload())
	require.NoError(t, err)

	p := createPayload()
	p.Action = ActionUpdate
	p.ToDate = "2025-06-06"
	p.Rate.NewPublishedRackRate = decimal.NewFromInt(150)
	out, err := f.svc.Handle(ctx, p)
	require.NoError(t, err)
	require.Equal(t, created.Reservation.ID, out.Reservation.ID)
	require.Equal(t, 5, out.Reservation.Nights())
	require.Equal(t, 5, int(f.store.events[out.Reservation.ID].EndDate.Sub(f.store.events[out.Reservation.ID].StartDate).Hours()/24))
	require.True(t, f.revenue.saved[out.Reservation.ID].AccommodationRevenue.Equal(decimal.NewFromInt(150)))
}

func TestCancelKeepsRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.svc.Handle(ctx, createPayload())
	require.NoError(t, err)
	calls := f.revenue.calls

	p := createPayload()
	p.Action = ActionCancel
	out, err := f.svc.Handle(ctx, p)
	require.NoError(t, err)
	require.Equal(t, reservations.StatusCancelled, out.Reservation.Status)
	require.Len(t, f.store.releases, 1)
	require.Equal(t, created.Reservation.ID, f.store.releases[0].ReservationID)
	require.Equal(t, calls, f.revenue.calls)
	require.Contains(t, f.revenue.saved, created.Reservation.ID)

	again, err := f.svc.Handle(ctx, p)
	require.NoError(t, err)
	require.True(t, again.Unchanged)
	require.Len(t, f.store.releases, 1)

	p.Action = ActionUpdate
	_, err = f.svc.Handle(ctx, p)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCancelUnknownReservation(t *testing.T) {
	f := newFixture(t)
	p := createPayload()
	p.Action = ActionCancel
	_, err := f.svc.Handle(context.Background(), p)
	require.True(t, reservations.IsNotFound(err))
	require.Empty(t, f.store.releases)
}

func TestUnauthorizedRejectedBeforeProcessing(t *testing.T) {
	f := newFixture(t)
	p := createPayload()
	p.UniqueKey = "wrong"
	_, err := f.svc.Handle(context.Background(), p)

	var unauthorized *shared.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	require.Zero(t, f.listings.calls)
	require.Zero(t, f.store.count())
	require.Equal(t, 1, f.reporter.events["CREATE:unauthorized"])
}

func TestValidationRejectedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	p := createPayload()
	p.ToDate = p.FromDate
	_, err := f.svc.Handle(context.Background(), p)
	require.True(t, shared.IsValidation(err))

	p = createPayload()
	p.Action = "DELETE"
	_, err = f.svc.Handle(context.Background(), p)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Equal(t, "must be one of CREATE UPDATE CANCEL", shared.Fields(err)["action"])
	require.Zero(t, f.store.count())
}

func TestUnknownListing(t *testing.T) {
	f := newFixture(t)
	p := createPayload()
	p.ProductID = "P-404"
	_, err := f.svc.Handle(context.Background(), p)
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.Zero(t, f.store.count())
}

func TestRevenueFailureDoesNotFailReservation(t *testing.T) {
	f := newFixture(t)
	f.revenue.err = errors.New("revenue table locked")

	out, err := f.svc.Handle(context.Background(), createPayload())
	require.NoError(t, err)
	require.True(t, out.Created)
	require.True(t, out.RevenueFailed())

	stored, err := f.store.Get(context.Background(), out.Reservation.ID)
	require.NoError(t, err)
	require.Equal(t, "BP-1001", stored.ExternalID)
	require.Equal(t, "Dana Reyes", stored.GuestName)

	require.Len(t, f.reporter.failures, 1)
	require.Equal(t, out.Reservation.ID, f.reporter.failures[0].ReservationID)
	require.Equal(t, int64(1), f.reporter.failures[0].ListingID)
	require.Equal(t, 1, f.reporter.events["CREATE:revenue_failed"])
}

func TestRevenuePanicIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.revenue.panic = true

	out, err := f.svc.Handle(context.Background(), createPayload())
	require.NoError(t, err)
	require.True(t, out.RevenueFailed())
	require.Equal(t, 1, f.store.count())
	require.Len(t, f.reporter.failures, 1)
}

func TestReservationFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.failOn = "calendar"
	_, err := f.svc.Handle(context.Background(), createPayload())
	require.Error(t, err)
	require.Zero(t, f.store.count())
	require.Zero(t, f.revenue.calls)
}

func TestRebuildRevenueFromStoredPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.revenue.err = errors.New("transient")
	out, err := f.svc.Handle(ctx, createPayload())
	require.NoError(t, err)
	require.True(t, out.RevenueFailed())

	f.revenue.err = nil
	require.NoError(t, f.svc.RebuildRevenue(ctx, out.Reservation.ID))
	rev := f.revenue.saved[out.Reservation.ID]
	require.True(t, rev.AccommodationRevenue.Equal(decimal.NewFromInt(100)))
	require.Len(t, rev.Fees[0].Deductions, 3)

	require.ErrorIs(t, f.svc.RebuildRevenue(ctx, 999), httpx.ErrNotFound)
}

func TestRebuildRevenueFailureNamesListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	out, err := f.svc.Handle(ctx, createPayload())
	require.NoError(t, err)

	f.revenue.err = errors.New("transient")
	err = f.svc.RebuildRevenue(ctx, out.Reservation.ID)
	var failure *shared.RevenueComputationFailure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, out.Reservation.ID, failure.ReservationID)
	require.Equal(t, int64(1), failure.ListingID)
	require.EqualError(t, failure.Err, "transient")
}

func TestStoredPayloadOmitsSecret(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.Handle(context.Background(), createPayload())
	require.NoError(t, err)
	require.NotContains(t, string(out.Reservation.Payload), secret)
}
