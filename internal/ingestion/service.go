package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/reservations"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// ReservationStore is the reservation persistence used by Service.
type ReservationStore interface {
	WithTx(ctx context.Context, fn func(context.Context, reservations.TxRepository) error) error
	Get(ctx context.Context, id int64) (reservations.Reservation, error)
}

// ListingLookup resolves channel product ids.
type ListingLookup interface {
	FindByProductID(ctx context.Context, productID string) (listings.Listing, error)
}

// RevenueRecorder persists a reservation's revenue.
type RevenueRecorder interface {
	Recompute(ctx context.Context, reservationID int64, rev revenue.Revenue) (revenue.Revenue, error)
}

// Reporter receives outcomes that need operator attention.
type Reporter interface {
	RevenueFailed(ctx context.Context, failure *shared.RevenueComputationFailure)
	EventProcessed(action, result string)
}

// Outcome describes what one event did. The reservation half and the revenue
// half fail independently: a non-nil RevenueErr with a nil error from Handle
// means the reservation change is committed and only bookkeeping failed.
type Outcome struct {
	Action      Action
	Resolution  reservations.ResolutionKind
	Reservation reservations.Reservation
	Created     bool
	Unchanged   bool
	RevenueErr  error
}

// RevenueFailed reports whether the revenue step failed.
func (o Outcome) RevenueFailed() bool { return o.RevenueErr != nil }

// Service applies channel events.
type Service struct {
	store    ReservationStore
	listings ListingLookup
	revenue  RevenueRecorder
	channels *channels.Table
	auth     *Authenticator
	reporter Reporter
	mapper   Mapper
	logger   *slog.Logger
}

// Deps groups Service collaborators.
type Deps struct {
	Store    ReservationStore
	Listings ListingLookup
	Revenue  RevenueRecorder
	Channels *channels.Table
	Auth     *Authenticator
	Reporter Reporter
	Logger   *slog.Logger
}

// NewService constructs the ingestion service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	table := deps.Channels
	if table == nil {
		table = channels.Default()
	}
	return &Service{
		store:    deps.Store,
		listings: deps.Listings,
		revenue:  deps.Revenue,
		channels: table,
		auth:     deps.Auth,
		reporter: deps.Reporter,
		logger:   logger,
	}
}

// Handle authenticates and applies a webhook event.
func (s *Service) Handle(ctx context.Context, p Payload) (Outcome, error) {
	if err := s.auth.Check(p.UniqueKey); err != nil {
		s.processed(p.Action, "unauthorized")
		return Outcome{Action: p.Action}, err
	}
	return s.Apply(ctx, p)
}

// Apply runs an event from a trusted source, skipping the secret check.
func (s *Service) Apply(ctx context.Context, p Payload) (Outcome, error) {
	out := Outcome{Action: p.Action}
	if err := p.Validate(); err != nil {
		s.processed(p.Action, "invalid")
		return out, err
	}
	listing, err := s.listings.FindByProductID(ctx, p.ProductID)
	if err != nil {
		s.processed(p.Action, "unknown_listing")
		return out, err
	}
	channel := s.channels.Lookup(p.ChannelName)
	key := p.Key(channel)
	from, to, err := p.Dates()
	if err != nil {
		return out, err
	}
	incoming := reservations.Reservation{
		ListingID:        listing.ID,
		Channel:          channel,
		ExternalID:       key.ExternalID,
		ConfirmationCode: key.ConfirmationCode,
		Status:           reservations.StatusConfirmed,
		CheckIn:          from,
		CheckOut:         to,
		Adults:           p.Adult,
		Children:         p.Child,
		GuestName:        p.CustomerName,
		Email:            p.Email,
		Phone:            p.Phone,
		Payload:          p.Redacted(),
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx reservations.TxRepository) error {
		if err := tx.LockKey(ctx, key); err != nil {
			return err
		}
		switch p.Action {
		case ActionCreate:
			return s.create(ctx, tx, key, incoming, &out)
		case ActionUpdate:
			return s.update(ctx, tx, key, incoming, &out)
		case ActionCancel:
			return s.cancel(ctx, tx, key, &out)
		default:
			return shared.Invalid("action", "unsupported action "+string(p.Action))
		}
	})
	if err != nil {
		s.processed(p.Action, "failed")
		return Outcome{Action: p.Action}, err
	}

	if p.Action != ActionCancel {
		stay := revenue.Stay{Nights: out.Reservation.Nights(), Guests: out.Reservation.Guests()}
		if rerr := s.recordRevenue(ctx, out.Reservation.ID, p, listing, stay); rerr != nil {
			failure := &shared.RevenueComputationFailure{
				ReservationID: out.Reservation.ID,
				ListingID:     listing.ID,
				Err:           rerr,
			}
			out.RevenueErr = failure
			s.logger.Error("revenue computation failed",
				slog.Int64("reservation_id", out.Reservation.ID),
				slog.Int64("listing_id", listing.ID),
				slog.String("channel", string(channel)),
				slog.Any("error", rerr),
			)
			if s.reporter != nil {
				s.reporter.RevenueFailed(ctx, failure)
			}
		}
	}

	result := "ok"
	if out.RevenueFailed() {
		result = "revenue_failed"
	}
	s.processed(p.Action, result)
	s.logger.Info("reservation event applied",
		slog.String("action", string(p.Action)),
		slog.String("channel", string(channel)),
		slog.String("external_id", key.ExternalID),
		slog.Int64("reservation_id", out.Reservation.ID),
		slog.String("resolution", out.Resolution.String()),
		slog.Bool("created", out.Created),
	)
	return out, nil
}

func (s *Service) create(ctx context.Context, tx reservations.TxRepository, key reservations.Key, incoming reservations.Reservation, out *Outcome) error {
	res, err := reservations.Resolve(ctx, tx, key)
	if err != nil {
		return err
	}
	out.Resolution = res.Kind
	switch res.Kind {
	case reservations.NotFound:
		created, err := tx.Insert(ctx, incoming)
		if errors.Is(err, reservations.ErrDuplicate) {
			// Another writer took the slot without holding our lock.
			existing, ok, ferr := tx.FindByExternalID(ctx, key.Channel, key.ExternalID)
			if ferr != nil {
				return ferr
			}
			if !ok {
				return err
			}
			out.Resolution = reservations.FoundByID
			return s.refresh(ctx, tx, existing, incoming, out)
		}
		if err != nil {
			return err
		}
		if _, err := tx.InsertCalendarEvent(ctx, reservations.CalendarEvent{
			ReservationID: created.ID,
			ListingID:     created.ListingID,
			StartDate:     created.CheckIn,
			EndDate:       created.CheckOut,
		}); err != nil {
			return err
		}
		out.Reservation = created
		out.Created = true
		return nil
	case reservations.FoundByFallback:
		if err := tx.SetExternalID(ctx, res.Reservation.ID, key.ExternalID); err != nil {
			return err
		}
		res.Reservation.ExternalID = key.ExternalID
		return s.refresh(ctx, tx, res.Reservation, incoming, out)
	default:
		return s.refresh(ctx, tx, res.Reservation, incoming, out)
	}
}

// refresh applies a replayed or re-keyed CREATE. Status is left alone so a
// late replay cannot revive a cancelled booking.
func (s *Service) refresh(ctx context.Context, tx reservations.TxRepository, existing, incoming reservations.Reservation, out *Outcome) error {
	incoming.ID = existing.ID
	incoming.ExternalID = existing.ExternalID
	incoming.Status = existing.Status
	incoming.CreatedAt = existing.CreatedAt
	updated, err := tx.Update(ctx, incoming)
	if err != nil {
		return err
	}
	if err := tx.UpdateCalendarEvent(ctx, updated.ID, updated.CheckIn, updated.CheckOut); err != nil {
		return err
	}
	out.Reservation = updated
	return nil
}

func (s *Service) update(ctx context.Context, tx reservations.TxRepository, key reservations.Key, incoming reservations.Reservation, out *Outcome) error {
	res, err := reservations.ResolveByID(ctx, tx, key)
	if err != nil {
		return err
	}
	out.Resolution = res.Kind
	if !res.Found() {
		return &reservations.ReservationNotFoundError{Key: key}
	}
	if res.Reservation.Status == reservations.StatusCancelled {
		return reservations.ErrCancelled
	}
	incoming.ID = res.Reservation.ID
	incoming.CreatedAt = res.Reservation.CreatedAt
	if res.Reservation.Status != reservations.StatusProvisional {
		incoming.Status = res.Reservation.Status
	}
	updated, err := tx.Update(ctx, incoming)
	if err != nil {
		return err
	}
	if err := tx.UpdateCalendarEvent(ctx, updated.ID, updated.CheckIn, updated.CheckOut); err != nil {
		return err
	}
	out.Reservation = updated
	return nil
}

func (s *Service) cancel(ctx context.Context, tx reservations.TxRepository, key reservations.Key, out *Outcome) error {
	res, err := reservations.ResolveByID(ctx, tx, key)
	if err != nil {
		return err
	}
	out.Resolution = res.Kind
	if !res.Found() {
		return &reservations.ReservationNotFoundError{Key: key}
	}
	current := res.Reservation
	if current.Status == reservations.StatusCancelled {
		out.Reservation = current
		out.Unchanged = true
		return nil
	}
	if err := tx.SetStatus(ctx, current.ID, reservations.StatusCancelled); err != nil {
		return err
	}
	if _, err := tx.InsertAvailabilityRelease(ctx, reservations.AvailabilityRelease{
		ReservationID: current.ID,
		ListingID:     current.ListingID,
		StartDate:     current.CheckIn,
		EndDate:       current.CheckOut,
		Reason:        "channel cancellation",
	}); err != nil {
		return err
	}
	current.Status = reservations.StatusCancelled
	out.Reservation = current
	return nil
}

// recordRevenue is the isolated second step. Panics are converted to errors
// so bookkeeping can never unwind a committed reservation change.
func (s *Service) recordRevenue(ctx context.Context, reservationID int64, p Payload, listing listings.Listing, stay revenue.Stay) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("revenue step panicked", slog.Int64("reservation_id", reservationID), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("revenue step panicked: %v", r)
		}
	}()
	rev, err := s.mapper.Build(p, listing, stay)
	if err != nil {
		return err
	}
	_, err = s.revenue.Recompute(ctx, reservationID, rev)
	return err
}

// RebuildRevenue recomputes a reservation's revenue from its stored channel
// payload. Errors are returned so the caller's job runner can retry. Once the
// reservation is loaded, failures are *shared.RevenueComputationFailure
// carrying its listing.
func (s *Service) RebuildRevenue(ctx context.Context, reservationID int64) error {
	res, err := s.store.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		return &shared.RevenueComputationFailure{ReservationID: res.ID, ListingID: res.ListingID, Err: err}
	}
	if len(res.Payload) == 0 {
		return fail(shared.Invalid("channel_payload", fmt.Sprintf("reservation %d has no stored payload", reservationID)))
	}
	var p Payload
	if err := json.Unmarshal(res.Payload, &p); err != nil {
		return fail(fmt.Errorf("%w: stored payload: %v", shared.ErrValidation, err))
	}
	listing, err := s.listings.FindByProductID(ctx, p.ProductID)
	if err != nil {
		return fail(err)
	}
	if err := s.recordRevenue(ctx, res.ID, p, listing, revenue.Stay{Nights: res.Nights(), Guests: res.Guests()}); err != nil {
		return fail(err)
	}
	return nil
}

func (s *Service) processed(action Action, result string) {
	if s.reporter != nil {
		s.reporter.EventProcessed(string(action), result)
	}
}
