// Package reservations stores bookings keyed by their channel identity.
package reservations

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

// Status of a reservation.
type Status string

const (
	StatusProvisional Status = "PROVISIONAL"
	StatusConfirmed   Status = "CONFIRMED"
	StatusFullyPaid   Status = "FULLY_PAID"
	StatusCancelled   Status = "CANCELLED"
	StatusFailed      Status = "FAILED"
	StatusException   Status = "EXCEPTION"
)

var (
	// ErrDuplicate signals a concurrent insert won the (channel, external id) slot.
	ErrDuplicate = fmt.Errorf("reservations: %w", httpx.ErrDuplicate)
	// ErrCancelled rejects updates to a cancelled reservation.
	ErrCancelled = fmt.Errorf("reservations: reservation is cancelled: %w", httpx.ErrConflict)
	// ErrNotFound is returned by id lookups.
	ErrNotFound = fmt.Errorf("reservations: %w", httpx.ErrNotFound)
)

// Reservation is one physical booking.
type Reservation struct {
	ID               int64            `json:"id"`
	ListingID        int64            `json:"listingId"`
	Channel          channels.Channel `json:"channel"`
	ExternalID       string           `json:"bpReservationId,omitempty"`
	ConfirmationCode string           `json:"confirmationCode,omitempty"`
	Status           Status           `json:"status"`
	CheckIn          time.Time        `json:"checkIn"`
	CheckOut         time.Time        `json:"checkOut"`
	Adults           int              `json:"adults"`
	Children         int              `json:"children"`
	GuestName        string           `json:"guestName"`
	Email            string           `json:"email,omitempty"`
	Phone            string           `json:"phone,omitempty"`
	Payload          json.RawMessage  `json:"-"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Nights is the number of nights between check-in and check-out.
func (r Reservation) Nights() int {
	if !r.CheckOut.After(r.CheckIn) {
		return 0
	}
	return int(r.CheckOut.Sub(r.CheckIn).Hours()+12) / 24
}

// Guests counts adults and children.
func (r Reservation) Guests() int {
	return r.Adults + r.Children
}

// CalendarEvent blocks the listing calendar for a stay.
type CalendarEvent struct {
	ID            int64
	ReservationID int64
	ListingID     int64
	StartDate     time.Time
	EndDate       time.Time
}

// AvailabilityRelease records nights returned to the calendar by a cancellation.
type AvailabilityRelease struct {
	ID            int64
	ReservationID int64
	ListingID     int64
	StartDate     time.Time
	EndDate       time.Time
	Reason        string
	CreatedAt     time.Time
}

// Key identifies a reservation from a channel event.
type Key struct {
	Channel          channels.Channel
	ExternalID       string
	ConfirmationCode string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Channel, k.ExternalID)
}

// LockNames returns the advisory lock names covering k, sorted. Events that
// share either the external id or the confirmation code within a channel
// share a name.
func (k Key) LockNames() []string {
	var names []string
	if k.ExternalID != "" {
		names = append(names, fmt.Sprintf("reservation:%s/id:%s", k.Channel, k.ExternalID))
	}
	if k.ConfirmationCode != "" {
		names = append(names, fmt.Sprintf("reservation:%s/code:%s", k.Channel, k.ConfirmationCode))
	}
	sort.Strings(names)
	return names
}

// ReservationNotFoundError is returned when an event targets an unknown booking.
type ReservationNotFoundError struct {
	Key Key
}

func (e *ReservationNotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found", e.Key)
}

func (e *ReservationNotFoundError) Unwrap() error { return httpx.ErrNotFound }

// IsNotFound reports whether err means the reservation does not exist.
func IsNotFound(err error) bool {
	var nf *ReservationNotFoundError
	return errors.As(err, &nf) || errors.Is(err, ErrNotFound)
}
