package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/chronomap/chronomap/agent/contract"
	"github.com/chronomap/chronomap/pkg/nominatim"
)

// labelParts caps how many display-name components are kept when a pin's
// generic label is replaced by the geocoder's more specific one.
const labelParts = 3

// Geocoder adapts the Nominatim client to the contract boundary.
type Geocoder struct {
	client *nominatim.Client
}

var _ contractx.Geocoder = (*Geocoder)(nil)

func NewGeocoder(client *nominatim.Client) *Geocoder {
	return &Geocoder{client: client}
}

func (g *Geocoder) Geocode(ctx context.Context, name string) (*contractx.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "null") || strings.EqualFold(name, "none") {
		return nil, fmt.Errorf("%w: empty place name", contractx.ErrGeocodeNotFound)
	}

	place, err := g.client.Search(ctx, name)
	if err != nil {
		if errors.Is(err, nominatim.ErrNoResult) {
			return nil, fmt.Errorf("%w: %s", contractx.ErrGeocodeNotFound, name)
		}
		return nil, fmt.Errorf("%w: %v", contractx.ErrGeocode, err)
	}

	label := place.DisplayName
	if label == "" {
		label = name
	}
	return &contractx.Location{Lat: place.Lat, Lng: place.Lng, Label: label}, nil
}

// LocatePins fills coordinates for pins the generator left unlocated.
// A failed lookup keeps the original pin; the pass never drops one.
func LocatePins(ctx context.Context, geocoder contractx.Geocoder, pins []contractx.Pin) []contractx.Pin {
	out := make([]contractx.Pin, 0, len(pins))
	for _, pin := range pins {
		if !pin.Unlocated() {
			out = append(out, pin)
			continue
		}
		loc, err := geocoder.Geocode(ctx, pin.LocationLabel)
		if err != nil {
			log.Debug().Err(err).Str("event_id", pin.EventID).Str("label", pin.LocationLabel).Msg("leaving pin unlocated")
			out = append(out, pin)
			continue
		}
		pin.Lat = loc.Lat
		pin.Lng = loc.Lng
		if specific := specificLabel(loc.Label); specific != "" {
			pin.LocationLabel = specific
		}
		out = append(out, pin)
	}
	return out
}

// specificLabel trims a full Nominatim display name down to its leading
// components, keeping labels specific but readable.
func specificLabel(displayName string) string {
	parts := strings.Split(displayName, ",")
	if len(parts) > labelParts {
		parts = parts[:labelParts]
	}
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
