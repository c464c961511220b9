package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
)

type memoryRepo struct {
	revenues map[int64]Revenue
	nextID   int64
	failNext error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{revenues: make(map[int64]Revenue)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Revenue, len(r.revenues))
	for k, v := range r.revenues {
		snapshot[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.revenues = snapshot
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, reservationID int64) (Revenue, error) {
	rev, ok := r.revenues[reservationID]
	if !ok {
		return Revenue{}, ErrNotFound
	}
	return rev, nil
}

func (r *memoryRepo) ListByReservationIDs(ctx context.Context, ids []int64) (map[int64]Revenue, error) {
	out := make(map[int64]Revenue)
	for _, id := range ids {
		if rev, ok := r.revenues[id]; ok {
			out[id] = rev
		}
	}
	return out, nil
}

func (t *memoryTx) Replace(ctx context.Context, rev Revenue) (Revenue, error) {
	if t.repo.failNext != nil {
		err := t.repo.failNext
		t.repo.failNext = nil
		return Revenue{}, err
	}
	if existing, ok := t.repo.revenues[rev.ReservationID]; ok {
		rev.ID = existing.ID
	} else {
		t.repo.nextID++
		rev.ID = t.repo.nextID
	}
	t.repo.revenues[rev.ReservationID] = rev
	return rev, nil
}

func roomOnly(value string) Revenue {
	return Revenue{
		PmcShare: decimal.RequireFromString("0.2"),
		Currency: "USD",
		Fees: []RevenueFee{{
			Name:    "Accommodation",
			Value:   decimal.RequireFromString(value),
			Unit:    UnitPerStay,
			Taxable: true,
			Type:    FeeTypeAccommodation,
		}},
	}
}

func TestServiceRecomputeReplaces(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, DefaultProcessorFee(), nil)
	ctx := context.Background()

	first, err := svc.Recompute(ctx, 7, roomOnly("300"))
	require.NoError(t, err)
	require.Equal(t, int64(7), first.ReservationID)

	second, err := svc.Recompute(ctx, 7, roomOnly("250"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.revenues, 1)

	b, err := svc.Breakdown(ctx, 7)
	require.NoError(t, err)
	require.True(t, b.PayoutAmount.Equal(decimal.NewFromInt(250)))
}

func TestServiceRecomputeRejectsNegativeDeduction(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, DefaultProcessorFee(), nil)
	rev := roomOnly("100")
	rev.Fees[0].Deductions = []Deduction{{Type: DeductionTax, Description: "bad", Value: decimal.NewFromInt(-1)}}

	_, err := svc.Recompute(context.Background(), 3, rev)
	var invalid *InvalidDeductionError
	require.ErrorAs(t, err, &invalid)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Empty(t, repo.revenues)
}

func TestServiceRecomputeAppliesProcessorFee(t *testing.T) {
	repo := newMemoryRepo()
	cfg := DefaultProcessorFee()
	cfg.Enabled = true
	svc := NewService(repo, cfg, nil)

	saved, err := svc.Recompute(context.Background(), 9, roomOnly("100"))
	require.NoError(t, err)
	require.True(t, saved.Fees[0].HasDeduction(DeductionCreditCard))
	require.True(t, saved.Fees[0].DeductionTotal(DeductionCreditCard).Equal(decimal.RequireFromString("3.2")))
}

func TestServiceRecomputeKeepsPreviousOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, DefaultProcessorFee(), nil)
	ctx := context.Background()
	_, err := svc.Recompute(ctx, 4, roomOnly("120"))
	require.NoError(t, err)

	repo.failNext = errors.New("disk full")
	_, err = svc.Recompute(ctx, 4, roomOnly("80"))
	require.Error(t, err)
	require.True(t, repo.revenues[4].Fees[0].Value.Equal(decimal.NewFromInt(120)))
}

func TestServicePayouts(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, DefaultProcessorFee(), nil)
	ctx := context.Background()
	_, err := svc.Recompute(ctx, 1, roomOnly("200.10"))
	require.NoError(t, err)
	_, err = svc.Recompute(ctx, 2, roomOnly("252"))
	require.NoError(t, err)

	payouts, err := svc.Payouts(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	require.True(t, payouts[1].PayoutAmount.Add(payouts[2].PayoutAmount).Equal(decimal.RequireFromString("452.10")))
}

func TestHandlerBreakdown(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, DefaultProcessorFee(), nil)
	_, err := svc.Recompute(context.Background(), 11, roomOnly("100"))
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api/revenue", NewHandler(nil, svc).MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/revenue/11", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "100", body["payoutAmount"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/revenue/12", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/revenue/abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
