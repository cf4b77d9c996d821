package tool

import (
	"github.com/rs/zerolog/log"

	contractx "github.com/chronomap/chronomap/agent/contract"
)

// coordTolerance is how far outside the valid bounds a coordinate may sit
// and still be clamped instead of dropping the pin. Rounding slop from the
// model lands in this band; anything further out is a bogus location.
const coordTolerance = 0.5

// ValidatePins is the final gate before pins leave the pipeline: it drops
// pins dated outside the requested range, clamps borderline coordinates to
// valid bounds, and normalizes unknown categories instead of rejecting the
// pin.
func ValidatePins(pins []contractx.Pin, dateRange contractx.DateRange) []contractx.Pin {
	out := make([]contractx.Pin, 0, len(pins))
	for _, pin := range pins {
		if !dateRange.Contains(pin.Date) {
			log.Debug().Str("event_id", pin.EventID).Str("date", pin.Date).Msg("validate: pin outside date range")
			continue
		}
		lat, latOK := clamp(pin.Lat, -90, 90)
		lng, lngOK := clamp(pin.Lng, -180, 180)
		if !latOK || !lngOK {
			log.Warn().Str("event_id", pin.EventID).Float64("lat", pin.Lat).Float64("lng", pin.Lng).Msg("validate: dropping pin with out-of-bounds coordinates")
			continue
		}
		pin.Lat, pin.Lng = lat, lng
		if !pin.Category.Valid() {
			pin.Category = contractx.CategoryOther
		}
		if err := pin.Validate(); err != nil {
			log.Warn().Err(err).Str("event_id", pin.EventID).Msg("validate: dropping malformed pin")
			continue
		}
		out = append(out, pin)
	}
	return out
}

// clamp snaps v onto [lo, hi] when it sits within coordTolerance of the
// bound, and reports false when it is too far out to trust.
func clamp(v, lo, hi float64) (float64, bool) {
	switch {
	case v < lo-coordTolerance || v > hi+coordTolerance:
		return v, false
	case v < lo:
		return lo, true
	case v > hi:
		return hi, true
	default:
		return v, true
	}
}
