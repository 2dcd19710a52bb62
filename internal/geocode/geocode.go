// Package geocode wraps the external address resolver. The sync engines
// only see the crmsync.Geocoder interface; this package provides the HTTP
// implementation against a Google-style geocoding API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/crmsync/internal/crmsync"
)

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

type HTTPGeocoder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPGeocoder(opts Options) *HTTPGeocoder {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://maps.googleapis.com/maps/api"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPGeocoder{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
	}
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID           string `json:"place_id"`
		AddressComponents []struct {
			LongName string   `json:"long_name"`
			Types    []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Resolve geocodes a free-text address. A zero-results answer is a valid
// empty outcome and returns (nil, nil).
func (g *HTTPGeocoder) Resolve(ctx context.Context, text string) (*crmsync.Address, error) {
	query := url.Values{}
	query.Set("address", text)
	query.Set("key", g.apiKey)
	endpoint := g.baseURL + "/geocode/json?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, fmt.Errorf("geocode response: %w", readErr)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode request: status %d", resp.StatusCode)
	}

	var decoded geocodeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("geocode response: %w", err)
	}
	if decoded.Status == "ZERO_RESULTS" || len(decoded.Results) == 0 {
		return nil, nil
	}
	if decoded.Status != "OK" {
		return nil, fmt.Errorf("geocode request: status %s", decoded.Status)
	}

	best := decoded.Results[0]
	addr := &crmsync.Address{PlaceID: best.PlaceID}
	for _, comp := range best.AddressComponents {
		if kind := componentType(comp.Types); kind != "" {
			addr.Components = append(addr.Components, crmsync.AddressComponent{
				Type: kind,
				Name: comp.LongName,
			})
		}
	}
	return addr, nil
}

func componentType(types []string) string {
	for _, t := range types {
		switch t {
		case "administrative_area_level_1":
			return crmsync.ComponentState
		case "locality":
			return crmsync.ComponentCity
		case "route":
			return crmsync.ComponentStreet
		case "street_number":
			return crmsync.ComponentBuilding
		case "country":
			return crmsync.ComponentCountry
		}
	}
	return ""
}
