package memory

import (
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/zeebo/blake3"

	contractx "github.com/chronomap/chronomap/agent/contract"
)

// Cache keys digest only the semantically relevant request parameters,
// serialized with sorted keys so that wire-format jitter (key order,
// float noise below the quantization step) cannot split entries.

const (
	// bboxPrecision collapses viewport edges to 0.1 degree steps. Two
	// viewports differing below that land on the same entry; the loss of
	// precision is the price of the hit-rate.
	bboxPrecision = 0.1
)

// PinsKey derives the viewport-scoped cache key for a pins request.
func PinsKey(dateRange contractx.DateRange, viewport contractx.Viewport, language string, maxPins int) string {
	return digest(map[string]any{
		"kind":       "pins",
		"start_date": dateRange.Start,
		"end_date":   dateRange.End,
		"west":       quantize(viewport.BBox.West),
		"south":      quantize(viewport.BBox.South),
		"east":       quantize(viewport.BBox.East),
		"north":      quantize(viewport.BBox.North),
		"zoom":       int(viewport.Zoom),
		"language":   language,
		"max_pins":   maxPins,
	})
}

// ExplanationKey derives the cache key for a per-event narrative.
func ExplanationKey(eventID, language string) string {
	return digest(map[string]any{
		"kind":     "explanation",
		"event_id": eventID,
		"language": language,
	})
}

// rangeKey is the coarser accumulation key: date range and language only,
// viewport deliberately excluded so panning keeps feeding one set.
func rangeKey(dateRange contractx.DateRange, language string) string {
	return digest(map[string]any{
		"kind":       "range-pins",
		"start_date": dateRange.Start,
		"end_date":   dateRange.End,
		"language":   language,
	})
}

func quantize(deg float64) float64 {
	return math.Round(deg/bboxPrecision) * bboxPrecision
}

func digest(material map[string]any) string {
	// encoding/json writes map keys in sorted order, which makes the
	// serialization deterministic.
	raw, err := json.Marshal(material)
	if err != nil {
		// Key material is built from plain values above; this cannot fail
		// for any caller input.
		panic(err)
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:16])
}
