package reservations

import (
	"context"

	"github.com/odyssey-erp/stay-revenue/internal/channels"
)

// ResolutionKind tags how a reservation was matched.
type ResolutionKind int

const (
	NotFound ResolutionKind = iota
	FoundByID
	FoundByFallback
)

func (k ResolutionKind) String() string {
	switch k {
	case FoundByID:
		return "found_by_id"
	case FoundByFallback:
		return "found_by_fallback"
	default:
		return "not_found"
	}
}

// Resolution is the result of Resolve.
type Resolution struct {
	Kind        ResolutionKind
	Reservation Reservation
}

// Found reports whether a reservation matched.
func (r Resolution) Found() bool { return r.Kind != NotFound }

// Finder looks reservations up by either identity key. The bool result is
// false when nothing matched.
type Finder interface {
	FindByExternalID(ctx context.Context, channel channels.Channel, externalID string) (Reservation, bool, error)
	FindByConfirmationCode(ctx context.Context, channel channels.Channel, code string) (Reservation, bool, error)
}

// Resolve matches by external id first, then by confirmation code. A channel
// may send a request-to-book id that later confirms under a different id for
// the same booking; the confirmation code links the two.
func Resolve(ctx context.Context, finder Finder, key Key) (Resolution, error) {
	if key.ExternalID != "" {
		res, ok, err := finder.FindByExternalID(ctx, key.Channel, key.ExternalID)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{Kind: FoundByID, Reservation: res}, nil
		}
	}
	if key.ConfirmationCode != "" {
		res, ok, err := finder.FindByConfirmationCode(ctx, key.Channel, key.ConfirmationCode)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return Resolution{Kind: FoundByFallback, Reservation: res}, nil
		}
	}
	return Resolution{Kind: NotFound}, nil
}

// ResolveByID matches by external id only.
func ResolveByID(ctx context.Context, finder Finder, key Key) (Resolution, error) {
	return Resolve(ctx, finder, Key{Channel: key.Channel, ExternalID: key.ExternalID})
}
