package reservations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

type memoryFinder struct {
	rows []Reservation
	err  error
}

func (f memoryFinder) FindByExternalID(ctx context.Context, channel channels.Channel, externalID string) (Reservation, bool, error) {
	if f.err != nil {
		return Reservation{}, false, f.err
	}
	for _, r := range f.rows {
		if r.Channel == channel && r.ExternalID == externalID {
			return r, true, nil
		}
	}
	return Reservation{}, false, nil
}

func (f memoryFinder) FindByConfirmationCode(ctx context.Context, channel channels.Channel, code string) (Reservation, bool, error) {
	for _, r := range f.rows {
		if r.Channel == channel && r.ConfirmationCode == code {
			return r, true, nil
		}
	}
	return Reservation{}, false, nil
}

func TestResolveBranches(t *testing.T) {
	finder := memoryFinder{rows: []Reservation{
		{ID: 1, Channel: channels.Airbnb, ExternalID: "RTB-1", ConfirmationCode: "HMABC"},
		{ID: 2, Channel: channels.Vrbo, ExternalID: "V-9", ConfirmationCode: "HMABC"},
	}}
	ctx := context.Background()

	res, err := Resolve(ctx, finder, Key{Channel: channels.Airbnb, ExternalID: "RTB-1", ConfirmationCode: "HMABC"})
	require.NoError(t, err)
	require.Equal(t, FoundByID, res.Kind)
	require.Equal(t, int64(1), res.Reservation.ID)

	res, err = Resolve(ctx, finder, Key{Channel: channels.Airbnb, ExternalID: "CONF-77", ConfirmationCode: "HMABC"})
	require.NoError(t, err)
	require.Equal(t, FoundByFallback, res.Kind)
	require.Equal(t, int64(1), res.Reservation.ID)

	res, err = Resolve(ctx, finder, Key{Channel: channels.BookingCom, ExternalID: "RTB-1", ConfirmationCode: "HMABC"})
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Kind)
	require.False(t, res.Found())
}

func TestResolveByIDSkipsFallback(t *testing.T) {
	finder := memoryFinder{rows: []Reservation{{ID: 1, Channel: channels.Airbnb, ExternalID: "RTB-1", ConfirmationCode: "HMABC"}}}
	res, err := ResolveByID(context.Background(), finder, Key{Channel: channels.Airbnb, ExternalID: "other", ConfirmationCode: "HMABC"})
	require.NoError(t, err)
	require.Equal(t, NotFound, res.Kind)
}

func TestResolvePropagatesErrors(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := Resolve(context.Background(), memoryFinder{err: boom}, Key{Channel: channels.Direct, ExternalID: "x"})
	require.ErrorIs(t, err, boom)
}

func TestReservationNotFoundError(t *testing.T) {
	err := error(&ReservationNotFoundError{Key: Key{Channel: channels.Airbnb, ExternalID: "A1"}})
	require.ErrorIs(t, err, httpx.ErrNotFound)
	require.True(t, IsNotFound(err))
	require.Equal(t, "reservation AIRBNB/A1 not found", err.Error())
}

func TestNightsAndGuests(t *testing.T) {
	in := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	res := Reservation{CheckIn: in, CheckOut: in.AddDate(0, 0, 4), Adults: 2, Children: 1}
	require.Equal(t, 4, res.Nights())
	require.Equal(t, 3, res.Guests())
	require.Equal(t, 0, Reservation{CheckIn: in, CheckOut: in}.Nights())
}

func TestResolutionKindString(t *testing.T) {
	require.Equal(t, "found_by_fallback", FoundByFallback.String())
	require.Equal(t, "not_found", NotFound.String())
}
