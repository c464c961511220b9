package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odyssey-erp/stay-revenue/internal/listings"
	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

// Feed pulls reservation events for a listing from the channel manager.
//
//go:generate mockgen -destination=mocks/mock_feed.go -package=mocks github.com/odyssey-erp/stay-revenue/internal/ingestion Feed
type Feed interface {
	Changes(ctx context.Context, productID string, since time.Time) ([]Payload, error)
}

// Applier applies trusted events.
type Applier interface {
	Apply(ctx context.Context, p Payload) (Outcome, error)
}

// SyncResult counts what one listing sync did.
type SyncResult struct {
	ProductID     string
	Fetched       int
	Applied       int
	Rejected      int
	RevenueFailed int
}

// SyncService replays feed events through the webhook state machine.
type SyncService struct {
	feed    Feed
	applier Applier
	logger  *slog.Logger
}

// NewSyncService constructs SyncService.
func NewSyncService(feed Feed, applier Applier, logger *slog.Logger) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{feed: feed, applier: applier, logger: logger}
}

// SyncListing applies every change since the given time in feed order. A
// failing feed call is an UpstreamIntegrationError left to the job runner to
// retry. Events rejected for validation, missing reservations or conflicts
// are logged and skipped since replaying them cannot succeed; any other
// event failure is returned after the remaining events are applied.
func (s *SyncService) SyncListing(ctx context.Context, listing listings.Listing, since time.Time) (SyncResult, error) {
	result := SyncResult{ProductID: listing.ProductID}
	payloads, err := s.feed.Changes(ctx, listing.ProductID, since)
	if err != nil {
		return result, &shared.UpstreamIntegrationError{Source: "channel feed", Err: err}
	}
	result.Fetched = len(payloads)

	var errs []error
	for _, p := range payloads {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if p.ProductID == "" {
			p.ProductID = listing.ProductID
		}
		out, err := s.applier.Apply(ctx, p)
		if err != nil {
			if permanent(err) {
				result.Rejected++
				s.logger.Warn("sync event rejected",
					slog.String("product_id", listing.ProductID),
					slog.String("external_id", p.ReservationID),
					slog.String("action", string(p.Action)),
					slog.Any("error", err),
				)
				continue
			}
			errs = append(errs, fmt.Errorf("%s %s: %w", p.Action, p.ReservationID, err))
			continue
		}
		result.Applied++
		if out.RevenueFailed() {
			result.RevenueFailed++
		}
	}
	return result, errors.Join(errs...)
}

func permanent(err error) bool {
	switch httpx.StatusFor(err) {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized:
		return true
	default:
		return false
	}
}

// HTTPFeed reads changes from the channel manager's JSON endpoint:
// GET {base}/listings/{productID}/reservations?since=RFC3339.
type HTTPFeed struct {
	base   string
	token  string
	client *http.Client
}

// NewHTTPFeed constructs HTTPFeed.
func NewHTTPFeed(base, token string, timeout time.Duration) *HTTPFeed {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFeed{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Changes fetches the events for one product.
func (f *HTTPFeed) Changes(ctx context.Context, productID string, since time.Time) ([]Payload, error) {
	endpoint := fmt.Sprintf("%s/listings/%s/reservations?since=%s",
		f.base, url.PathEscape(productID), url.QueryEscape(since.UTC().Format(time.RFC3339)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payloads []Payload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return payloads, nil
}
