package listings

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func listingsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/listings", h.MountRoutes)
	return r
}

func TestHandlerServesAndRefreshesListings(t *testing.T) {
	source := &stubLookup{listings: map[string]Listing{"P-10": beachHouse()}}
	cache, _ := setupCache(t, source)
	router := listingsRouter(NewHandler(nil, cache))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/listings/P-10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got Listing
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, "Beach House", got.Name)
	require.Len(t, got.FeeRules, 2)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/listings/P-10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 1, source.calls.Load())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/listings/cache/refresh", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/listings/P-10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.EqualValues(t, 2, source.calls.Load())
}

func TestHandlerUnknownListing(t *testing.T) {
	cache, _ := setupCache(t, &stubLookup{listings: map[string]Listing{}})
	rr := httptest.NewRecorder()
	listingsRouter(NewHandler(nil, cache)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/listings/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerListActive(t *testing.T) {
	cache, _ := setupCache(t, &stubLookup{listings: map[string]Listing{"P-10": beachHouse()}})
	rr := httptest.NewRecorder()
	listingsRouter(NewHandler(nil, cache)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/listings/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got []Listing
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
}
