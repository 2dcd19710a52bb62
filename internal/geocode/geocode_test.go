package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

func newTestGeocoder(t *testing.T, status int, reply string) (*HTTPGeocoder, *http.Request) {
	t.Helper()
	var last http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = *r
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return NewHTTPGeocoder(Options{BaseURL: srv.URL, APIKey: "g-key"}), &last
}

func TestResolveMapsComponents(t *testing.T) {
	geo, last := newTestGeocoder(t, http.StatusOK, `{
		"status": "OK",
		"results": [{
			"place_id": "place-1",
			"address_components": [
				{"long_name": "Moscow Oblast", "types": ["administrative_area_level_1", "political"]},
				{"long_name": "Moscow", "types": ["locality", "political"]},
				{"long_name": "Arbat Street", "types": ["route"]},
				{"long_name": "12", "types": ["street_number"]},
				{"long_name": "Russia", "types": ["country", "political"]},
				{"long_name": "119019", "types": ["postal_code"]}
			]
		}]
	}`)

	addr, err := geo.Resolve(context.Background(), "Arbat Street 12, Moscow")
	require.NoError(t, err)
	require.NotNil(t, addr)

	assert.Equal(t, "/geocode/json", last.URL.Path)
	assert.Equal(t, "Arbat Street 12, Moscow", last.URL.Query().Get("address"))
	assert.Equal(t, "g-key", last.URL.Query().Get("key"))

	assert.Equal(t, "place-1", addr.PlaceID)
	byType := map[string]string{}
	for _, comp := range addr.Components {
		byType[comp.Type] = comp.Name
	}
	assert.Equal(t, map[string]string{
		crmsync.ComponentState:    "Moscow Oblast",
		crmsync.ComponentCity:     "Moscow",
		crmsync.ComponentStreet:   "Arbat Street",
		crmsync.ComponentBuilding: "12",
		crmsync.ComponentCountry:  "Russia",
	}, byType)
}

func TestResolveZeroResultsIsEmptyOutcome(t *testing.T) {
	geo, _ := newTestGeocoder(t, http.StatusOK, `{"status": "ZERO_RESULTS", "results": []}`)

	addr, err := geo.Resolve(context.Background(), "nowhere at all")
	require.NoError(t, err)
	assert.Nil(t, addr)
}

func TestResolveNonOKStatusFails(t *testing.T) {
	geo, _ := newTestGeocoder(t, http.StatusOK, `{"status": "REQUEST_DENIED", "results": [{"place_id": "x"}]}`)

	_, err := geo.Resolve(context.Background(), "anywhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
}

func TestResolveHTTPErrorFails(t *testing.T) {
	geo, _ := newTestGeocoder(t, http.StatusBadGateway, "")

	_, err := geo.Resolve(context.Background(), "anywhere")
	require.Error(t, err)
}
