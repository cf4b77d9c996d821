// Package nodes holds the pins pipeline graph nodes. Each node is a small
// pure-ish function over PinsState so the wiring in the engine stays thin
// and the steps stay testable on their own.
package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/chronomap/chronomap/agent/contract"
	"github.com/chronomap/chronomap/agent/execute"
	memoryx "github.com/chronomap/chronomap/agent/memory"
	planx "github.com/chronomap/chronomap/agent/plan"
)

const (
	DefaultMaxPins = 10
	MaxPinsCeiling = 30
)

// PinsRequest is one pin-discovery request: a date range, the visible map
// region, and presentation hints.
type PinsRequest struct {
	DateRange contractx.DateRange `json:"date_range"`
	Viewport  contractx.Viewport  `json:"viewport"`
	Language  string              `json:"language"`
	MaxPins   int                 `json:"max_pins"`
}

// Normalize fills defaults without validating.
func (r PinsRequest) Normalize() PinsRequest {
	r.Language = strings.TrimSpace(strings.ToLower(r.Language))
	if r.Language == "" {
		r.Language = "en"
	}
	if r.MaxPins <= 0 {
		r.MaxPins = DefaultMaxPins
	}
	if r.MaxPins > MaxPinsCeiling {
		r.MaxPins = MaxPinsCeiling
	}
	return r
}

// PinsResult is the pipeline output: every pin known for the requested
// date range, accumulated across viewports.
type PinsResult struct {
	DateRange contractx.DateRange `json:"date_range"`
	Pins      []contractx.Pin     `json:"pins"`
	FromCache bool                `json:"from_cache"`
}

// PinsState threads through the pipeline nodes.
type PinsState struct {
	Request  PinsRequest
	CacheKey string

	FromCache bool
	Pins      []contractx.Pin
}

// ValidateRequest normalizes the request and rejects malformed input
// before any adapter is touched.
func ValidateRequest(in PinsRequest) (*PinsState, error) {
	req := in.Normalize()

	if err := req.DateRange.Validate(); err != nil {
		return nil, err
	}
	bbox := req.Viewport.BBox
	if bbox.South < -90 || bbox.North > 90 || bbox.South > bbox.North {
		return nil, fmt.Errorf("%w: viewport latitude span [%f, %f]", contractx.ErrValidation, bbox.South, bbox.North)
	}
	if bbox.West < -180 || bbox.East > 180 {
		return nil, fmt.Errorf("%w: viewport longitude span [%f, %f]", contractx.ErrValidation, bbox.West, bbox.East)
	}
	if req.Viewport.Zoom < 0 {
		return nil, fmt.Errorf("%w: negative zoom %f", contractx.ErrValidation, req.Viewport.Zoom)
	}

	return &PinsState{Request: req}, nil
}

// CheckCache looks up the quantized viewport key. A hit carries the merged
// range result written by a previous identical request.
func CheckCache(state *PinsState, mem *memoryx.Memory) (*PinsState, error) {
	state.CacheKey = memoryx.PinsKey(state.Request.DateRange, state.Request.Viewport, state.Request.Language, state.Request.MaxPins)
	if v, ok := mem.GetCache(state.CacheKey); ok {
		if pins, ok := v.([]contractx.Pin); ok {
			state.Pins = pins
			state.FromCache = true
			log.Debug().Str("key", state.CacheKey).Int("pins", len(pins)).Msg("pins cache hit")
		}
	}
	return state, nil
}

// PlanAndExecute builds the pins recipe and runs it. Adapter failures are
// already absorbed per task; only a malformed plan aborts here.
func PlanAndExecute(ctx context.Context, state *PinsState, exec *execute.Executor) (*PinsState, error) {
	if state.FromCache {
		return state, nil
	}
	req := state.Request
	g, err := planx.PinsForRange(req.DateRange, req.Viewport, req.Language, req.MaxPins)
	if err != nil {
		return nil, err
	}
	outcome, err := exec.Execute(ctx, g)
	if err != nil {
		return nil, err
	}
	state.Pins = outcome.Pins()
	return state, nil
}

// MergeStore folds fresh pins into the per-range accumulation, indexes
// them for later explain/chat lookups, and writes the cache entry.
func MergeStore(state *PinsState, mem *memoryx.Memory) (*PinsState, error) {
	if state.FromCache {
		return state, nil
	}
	req := state.Request
	for _, pin := range state.Pins {
		mem.PutPin(pin)
	}
	merged := mem.MergePins(req.DateRange, req.Language, state.Pins)
	mem.PutCache(memoryx.KindPins, state.CacheKey, merged)
	state.Pins = merged
	return state, nil
}

// Finalize shapes the outward result.
func Finalize(state *PinsState) (PinsResult, error) {
	return PinsResult{
		DateRange: state.Request.DateRange,
		Pins:      state.Pins,
		FromCache: state.FromCache,
	}, nil
}
