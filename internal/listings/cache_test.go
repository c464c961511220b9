package listings

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stay-revenue/internal/platform/httpx"
	"github.com/odyssey-erp/stay-revenue/internal/revenue"
	"github.com/odyssey-erp/stay-revenue/internal/shared"
)

type stubLookup struct {
	listings map[string]Listing
	calls    atomic.Int32
	delay    time.Duration
}

func (s *stubLookup) FindByProductID(ctx context.Context, productID string) (Listing, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	listing, ok := s.listings[productID]
	if !ok {
		return Listing{}, &shared.NotFoundError{Entity: "listing", Key: productID}
	}
	return listing, nil
}

func (s *stubLookup) ListActive(ctx context.Context) ([]Listing, error) {
	var out []Listing
	for _, l := range s.listings {
		if l.Active {
			out = append(out, l)
		}
	}
	return out, nil
}

func setupCache(t *testing.T, source Lookup) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute, source, nil), mr
}

func beachHouse() Listing {
	share := decimal.RequireFromString("0.5")
	return Listing{
		ID:        10,
		ProductID: "P-10",
		Name:      "Beach House",
		Currency:  "USD",
		PmcShare:  decimal.RequireFromString("0.2"),
		Active:    true,
		FeeRules: []FeeRule{
			{Name: "Cleaning Fee", Unit: revenue.UnitPerStay, Amount: decimal.NewFromInt(85), Taxable: true, PmcShare: &share, Mandatory: true},
			{Name: "Pet Fee", Unit: revenue.UnitPerDay, Amount: decimal.NewFromInt(15)},
		},
	}
}

func TestCacheServesFromRedis(t *testing.T) {
	source := &stubLookup{listings: map[string]Listing{"P-10": beachHouse()}}
	cache, _ := setupCache(t, source)
	ctx := context.Background()

	first, err := cache.FindByProductID(ctx, "P-10")
	require.NoError(t, err)
	second, err := cache.FindByProductID(ctx, "P-10")
	require.NoError(t, err)

	require.Equal(t, int32(1), source.calls.Load())
	require.Equal(t, first.ID, second.ID)
	require.True(t, second.PmcShare.Equal(decimal.RequireFromString("0.2")))
	rule, ok := second.Rule("  cleaning fee ")
	require.True(t, ok)
	require.True(t, rule.PmcShare.Equal(decimal.RequireFromString("0.5")))
}

func TestCacheBumpReloads(t *testing.T) {
	source := &stubLookup{listings: map[string]Listing{"P-10": beachHouse()}}
	cache, _ := setupCache(t, source)
	ctx := context.Background()

	_, err := cache.FindByProductID(ctx, "P-10")
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx))
	_, err = cache.FindByProductID(ctx, "P-10")
	require.NoError(t, err)
	require.Equal(t, int32(2), source.calls.Load())
}

func TestCacheDoesNotStoreMisses(t *testing.T) {
	source := &stubLookup{listings: map[string]Listing{}}
	cache, _ := setupCache(t, source)
	ctx := context.Background()

	_, err := cache.FindByProductID(ctx, "nope")
	require.ErrorIs(t, err, httpx.ErrNotFound)

	source.listings["nope"] = beachHouse()
	_, err = cache.FindByProductID(ctx, "nope")
	require.NoError(t, err)
}

func TestCacheCollapsesConcurrentLoads(t *testing.T) {
	source := &stubLookup{listings: map[string]Listing{"P-10": beachHouse()}, delay: 50 * time.Millisecond}
	cache, _ := setupCache(t, source)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.FindByProductID(ctx, "P-10")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), source.calls.Load())
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	source := &stubLookup{listings: map[string]Listing{"P-10": beachHouse()}}
	cache, mr := setupCache(t, source)
	mr.Close()

	listing, err := cache.FindByProductID(context.Background(), "P-10")
	require.NoError(t, err)
	require.Equal(t, int64(10), listing.ID)
}

func TestCacheWithoutClient(t *testing.T) {
	source := &stubLookup{listings: map[string]Listing{"P-10": beachHouse()}}
	cache := NewCache(nil, time.Minute, source, nil)
	_, err := cache.FindByProductID(context.Background(), "P-10")
	require.NoError(t, err)
	require.NoError(t, cache.Bump(context.Background()))

	active, err := cache.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestMandatoryRules(t *testing.T) {
	rules := beachHouse().MandatoryRules()
	require.Len(t, rules, 1)
	require.Equal(t, "Cleaning Fee", rules[0].Name)
	_, ok := beachHouse().Rule("resort fee")
	require.False(t, ok)
}
