package crmsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeocoder struct {
	called   bool
	lastText string
	result   *Address
	err      error
}

func (g *fakeGeocoder) Resolve(_ context.Context, text string) (*Address, error) {
	g.called = true
	g.lastText = text
	return g.result, g.err
}

func TestFromFlatEmptyTripleUsesFallback(t *testing.T) {
	geo := &fakeGeocoder{}
	norm := NewAddressNormalizer(geo, Address{})

	addr, err := norm.FromFlat(context.Background(), FlatAddress{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackAddress, addr)
	assert.False(t, geo.called, "empty triple must not touch the geocoder")
}

func TestNormalizerFallbackDefaults(t *testing.T) {
	norm := NewAddressNormalizer(&fakeGeocoder{}, Address{})
	addr, err := norm.FromFlat(context.Background(), FlatAddress{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFallbackAddress, addr)

	// A fallback that only carries components is still a configured one.
	custom := Address{Components: []AddressComponent{{Type: ComponentCity, Name: "Kazan"}}}
	norm = NewAddressNormalizer(&fakeGeocoder{}, custom)
	addr, err = norm.FromFlat(context.Background(), FlatAddress{})
	require.NoError(t, err)
	assert.Equal(t, custom, addr)
}

func TestFromFlatComposesQueryText(t *testing.T) {
	geo := &fakeGeocoder{result: &Address{PlaceID: "p1"}}
	norm := NewAddressNormalizer(geo, Address{})

	_, err := norm.FromFlat(context.Background(), FlatAddress{
		State:  "Moskva",
		City:   "Moskva",
		Street: "Krasnaya ploshad, 2",
	})
	require.NoError(t, err)
	assert.Equal(t, "Moskva, Moskva, Krasnaya ploshad, 2", geo.lastText)
}

func TestFromFlatZeroResultsIsValidationError(t *testing.T) {
	geo := &fakeGeocoder{result: nil}
	norm := NewAddressNormalizer(geo, Address{})

	_, err := norm.FromFlat(context.Background(), FlatAddress{City: "Nowhere", Street: "x"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestToFlatFreeText(t *testing.T) {
	norm := NewAddressNormalizer(&fakeGeocoder{}, Address{})

	flat := norm.ToFlat(Address{
		City:     "Moskva",
		Street:   "Krasnaya ploshad",
		Building: "2",
	})
	assert.Equal(t, "Moskva", flat.State, "state falls back to city")
	assert.Equal(t, "Moskva", flat.City)
	assert.Equal(t, "Krasnaya ploshad, 2", flat.Street)
}

func TestToFlatStreetWithoutBuilding(t *testing.T) {
	norm := NewAddressNormalizer(&fakeGeocoder{}, Address{})

	flat := norm.ToFlat(Address{State: "Tverskaya oblast", City: "Tver", Street: "Sovetskaya"})
	assert.Equal(t, "Tverskaya oblast", flat.State)
	assert.Equal(t, "Sovetskaya", flat.Street)
}

func TestToFlatFromComponents(t *testing.T) {
	norm := NewAddressNormalizer(&fakeGeocoder{}, Address{})

	flat := norm.ToFlat(Address{
		PlaceID: "p1",
		Components: []AddressComponent{
			{Type: ComponentCity, Name: "Moskva"},
			{Type: ComponentStreet, Name: "Krasnaya ploshad"},
			{Type: ComponentBuilding, Name: "2"},
		},
	})
	assert.Equal(t, "Moskva", flat.State)
	assert.Equal(t, "Moskva", flat.City)
	assert.Equal(t, "Krasnaya ploshad, 2", flat.Street)
}

func TestToFlatComponentsStreetFallsBackToCity(t *testing.T) {
	norm := NewAddressNormalizer(&fakeGeocoder{}, Address{})

	flat := norm.ToFlat(Address{
		PlaceID: "p2",
		Components: []AddressComponent{
			{Type: ComponentCity, Name: "Moskva"},
		},
	})
	assert.Equal(t, "Moskva", flat.Street)
}

func TestFlatPayloadRoundTrip(t *testing.T) {
	flat := FlatAddress{State: "Moskva", City: "Moskva", Street: "Krasnaya ploshad, 2"}
	payload := map[string]any{}
	flat.ApplyToPayload(payload)

	assert.Equal(t, flat, FlatFromPayload(payload))
}
