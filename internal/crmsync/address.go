package crmsync

import (
	"context"
	"strings"
)

// Address is the structured local representation. Either the free-text
// fields are filled directly, or PlaceID is set and Components carries the
// geocoder's decomposition.
type Address struct {
	Country    string             `json:"country,omitempty"`
	City       string             `json:"city,omitempty"`
	State      string             `json:"state,omitempty"`
	Street     string             `json:"street,omitempty"`
	Building   string             `json:"building,omitempty"`
	PlaceID    string             `json:"placeId,omitempty"`
	Components []AddressComponent `json:"components,omitempty"`
}

func (a Address) isZero() bool {
	return a.Country == "" && a.City == "" && a.State == "" && a.Street == "" &&
		a.Building == "" && a.PlaceID == "" && len(a.Components) == 0
}

// AddressComponent is one element of a geocoder decomposition.
type AddressComponent struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

const (
	ComponentCountry  = "country"
	ComponentState    = "state"
	ComponentCity     = "city"
	ComponentStreet   = "street"
	ComponentBuilding = "building"
)

// FlatAddress is the CRM's three-string address shape.
type FlatAddress struct {
	State  string
	City   string
	Street string
}

func (f FlatAddress) Empty() bool {
	return f.State == "" && f.City == "" && f.Street == ""
}

const (
	fieldAddressState  = "shippingAddressState"
	fieldAddressCity   = "shippingAddressCity"
	fieldAddressStreet = "shippingAddressStreet"
)

// FlatFromPayload reads the CRM address triple out of a remote payload.
func FlatFromPayload(payload map[string]any) FlatAddress {
	return FlatAddress{
		State:  stringField(payload, fieldAddressState),
		City:   stringField(payload, fieldAddressCity),
		Street: stringField(payload, fieldAddressStreet),
	}
}

// Geocoder resolves a free-text address into a structured one. A nil address
// with a nil error is a valid empty outcome, not a failure.
type Geocoder interface {
	Resolve(ctx context.Context, text string) (*Address, error)
}

// AddressNormalizer converts between the CRM's flat address triple and the
// structured local address.
type AddressNormalizer struct {
	geo      Geocoder
	fallback Address
}

// DefaultFallbackAddress is used when the CRM omits the address entirely,
// which it does for categories where an address is not required.
var DefaultFallbackAddress = Address{Country: "Russia", City: "Moscow"}

func NewAddressNormalizer(geo Geocoder, fallback Address) *AddressNormalizer {
	if fallback.isZero() {
		fallback = DefaultFallbackAddress
	}
	return &AddressNormalizer{geo: geo, fallback: fallback}
}

// FromFlat resolves the CRM triple into a structured address. An entirely
// empty triple maps to the fallback address without touching the geocoder.
func (n *AddressNormalizer) FromFlat(ctx context.Context, flat FlatAddress) (Address, error) {
	if flat.Empty() {
		return n.fallback, nil
	}
	parts := make([]string, 0, 3)
	if flat.State != "" {
		parts = append(parts, flat.State)
	}
	parts = append(parts, flat.City, flat.Street)
	text := strings.Join(parts, ", ")
	resolved, err := n.geo.Resolve(ctx, text)
	if err != nil {
		return Address{}, err
	}
	if resolved == nil {
		return Address{}, NewValidationError("address", "geocoder returned no results for "+text)
	}
	return *resolved, nil
}

// ToFlat flattens a structured address into the CRM triple. The state field
// falls back to the city, and the street field appends the building when
// both are present.
func (n *AddressNormalizer) ToFlat(addr Address) FlatAddress {
	if addr.PlaceID != "" {
		return flatFromComponents(addr.Components)
	}
	flat := FlatAddress{
		State: addr.State,
		City:  addr.City,
	}
	if flat.State == "" {
		flat.State = addr.City
	}
	if addr.Building != "" && addr.Street != "" {
		flat.Street = addr.Street + ", " + addr.Building
	} else {
		flat.Street = addr.Street
	}
	return flat
}

func flatFromComponents(components []AddressComponent) FlatAddress {
	byType := map[string]string{}
	for _, c := range components {
		if _, ok := byType[c.Type]; !ok {
			byType[c.Type] = c.Name
		}
	}
	flat := FlatAddress{
		State: byType[ComponentState],
		City:  byType[ComponentCity],
	}
	if flat.State == "" {
		flat.State = byType[ComponentCity]
	}
	street, building := byType[ComponentStreet], byType[ComponentBuilding]
	switch {
	case street != "" && building != "":
		flat.Street = street + ", " + building
	case street != "":
		flat.Street = street
	default:
		flat.Street = byType[ComponentCity]
	}
	return flat
}

// ApplyToPayload writes the flat triple into an outbound payload.
func (f FlatAddress) ApplyToPayload(payload map[string]any) {
	payload[fieldAddressState] = f.State
	payload[fieldAddressCity] = f.City
	payload[fieldAddressStreet] = f.Street
}

func stringField(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	s, _ := value.(string)
	return strings.TrimSpace(s)
}
