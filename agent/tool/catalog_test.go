package tool

import (
	"context"
	"errors"
	"fmt"
	"testing"

	contractx "github.com/chronomap/chronomap/agent/contract"
	planx "github.com/chronomap/chronomap/agent/plan"
)

type fakeGenerator struct {
	generate func(op contractx.GenerateOp, params map[string]any) (any, error)
	stream   func(op contractx.GenerateOp, emit func(string) error) (string, error)
}

func (f *fakeGenerator) Generate(_ context.Context, op contractx.GenerateOp, params map[string]any) (any, error) {
	return f.generate(op, params)
}

func (f *fakeGenerator) Stream(_ context.Context, op contractx.GenerateOp, _ map[string]any, emit func(string) error) (string, error) {
	return f.stream(op, emit)
}

type fakeGeocoder struct {
	lookups map[string]*contractx.Location
	err     error
	calls   int
}

func (f *fakeGeocoder) Geocode(_ context.Context, name string) (*contractx.Location, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if loc, ok := f.lookups[name]; ok {
		return loc, nil
	}
	return nil, fmt.Errorf("%w: %s", contractx.ErrGeocodeNotFound, name)
}

func TestCatalogRoutesGenerateOperations(t *testing.T) {
	t.Parallel()

	var gotOp contractx.GenerateOp
	cat := NewCatalog(&fakeGenerator{
		generate: func(op contractx.GenerateOp, _ map[string]any) (any, error) {
			gotOp = op
			return []contractx.Pin{}, nil
		},
	}, &fakeGeocoder{})

	args := map[string]any{planx.KeyOperation: string(contractx.OpProducePins)}
	if _, err := cat.Invoke(context.Background(), planx.ToolGenerate, "search", args); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if gotOp != contractx.OpProducePins {
		t.Fatalf("routed operation = %q", gotOp)
	}
}

func TestCatalogRejectsIncrementalOpInBatchMode(t *testing.T) {
	t.Parallel()

	cat := NewCatalog(&fakeGenerator{}, &fakeGeocoder{})
	args := map[string]any{planx.KeyOperation: string(contractx.OpProduceExplanation)}
	if _, err := cat.Invoke(context.Background(), planx.ToolGenerate, "explain", args); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestCatalogStreamRoutesIncrementalOp(t *testing.T) {
	t.Parallel()

	cat := NewCatalog(&fakeGenerator{
		stream: func(_ contractx.GenerateOp, emit func(string) error) (string, error) {
			emit("hi")
			return "hi", nil
		},
	}, &fakeGeocoder{})

	var got []string
	args := map[string]any{planx.KeyOperation: string(contractx.OpProduceAnswer)}
	text, err := cat.InvokeStream(context.Background(), planx.ToolGenerate, "answer", args, func(f string) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatalf("InvokeStream() error = %v", err)
	}
	if text != "hi" || len(got) != 1 {
		t.Fatalf("text = %q, fragments = %v", text, got)
	}
}

func TestCatalogStreamRejectsBatchOp(t *testing.T) {
	t.Parallel()

	cat := NewCatalog(&fakeGenerator{}, &fakeGeocoder{})
	args := map[string]any{planx.KeyOperation: string(contractx.OpProducePins)}
	if _, err := cat.InvokeStream(context.Background(), planx.ToolGenerate, "search", args, func(string) error { return nil }); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestCatalogGeocodesPinList(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{lookups: map[string]*contractx.Location{
		"Marina Bay, Singapore": {Lat: 1.2838, Lng: 103.8591, Label: "Marina Bay, Downtown Core, Singapore"},
	}}
	cat := NewCatalog(&fakeGenerator{}, geo)

	pins := []contractx.Pin{
		{EventID: "evt_1", Title: "a", Lat: 35.0, Lng: 139.0, LocationLabel: "Tokyo, Japan"},
		{EventID: "evt_2", Title: "b", LocationLabel: "Marina Bay, Singapore"},
	}
	out, err := cat.Invoke(context.Background(), planx.ToolGeocode, "geocode", map[string]any{planx.KeyPins: pins})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	located := out.([]contractx.Pin)
	if located[0].Lat != 35.0 {
		t.Fatalf("already-located pin was modified: %+v", located[0])
	}
	if located[1].Lat != 1.2838 || located[1].Lng != 103.8591 {
		t.Fatalf("unlocated pin was not filled: %+v", located[1])
	}
	if located[1].LocationLabel != "Marina Bay, Downtown Core, Singapore" {
		t.Fatalf("label = %q", located[1].LocationLabel)
	}
	if geo.calls != 1 {
		t.Fatalf("geocoder calls = %d, want 1", geo.calls)
	}
}

func TestCatalogGeocodeKeepsPinOnLookupFailure(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{err: fmt.Errorf("%w: upstream 503", contractx.ErrGeocode)}
	cat := NewCatalog(&fakeGenerator{}, geo)

	pins := []contractx.Pin{{EventID: "evt_1", Title: "a", LocationLabel: "Nowhere"}}
	out, err := cat.Invoke(context.Background(), planx.ToolGeocode, "geocode", map[string]any{planx.KeyPins: pins})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	located := out.([]contractx.Pin)
	if len(located) != 1 || located[0].EventID != "evt_1" {
		t.Fatalf("pin dropped on lookup failure: %v", located)
	}
}

func TestCatalogGeocodesSingleLocationName(t *testing.T) {
	t.Parallel()

	geo := &fakeGeocoder{lookups: map[string]*contractx.Location{
		"Tokyo": {Lat: 35.67, Lng: 139.76, Label: "Tokyo, Japan"},
	}}
	cat := NewCatalog(&fakeGenerator{}, geo)

	out, err := cat.Invoke(context.Background(), planx.ToolGeocode, "geocode", map[string]any{planx.KeyLocationName: "Tokyo"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	loc := out.(*contractx.Location)
	if loc.Lat != 35.67 || loc.Label != "Tokyo, Japan" {
		t.Fatalf("location = %+v", loc)
	}
}

func TestCatalogGeocodeNilLocationName(t *testing.T) {
	t.Parallel()

	cat := NewCatalog(&fakeGenerator{}, &fakeGeocoder{})
	out, err := cat.Invoke(context.Background(), planx.ToolGeocode, "geocode", map[string]any{planx.KeyLocationName: nil})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil output for a missing location, got %v", out)
	}
}

func TestCatalogGeocodeWithoutParamsFails(t *testing.T) {
	t.Parallel()

	cat := NewCatalog(&fakeGenerator{}, &fakeGeocoder{})
	if _, err := cat.Invoke(context.Background(), planx.ToolGeocode, "geocode", map[string]any{}); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestValidatePinsFiltersAndClamps(t *testing.T) {
	t.Parallel()

	dateRange := contractx.DateRange{Start: "2025-06-01", End: "2025-06-07"}
	pins := []contractx.Pin{
		{EventID: "evt_1", Title: "borderline", Date: "2025-06-03", Lat: 90.3, Lng: -180.4, LocationLabel: "x", Category: "festival", SignificanceScore: 0.5},
		{EventID: "evt_2", Title: "wrong year", Date: "2024-06-03", Lat: 1, Lng: 1, LocationLabel: "y", Category: contractx.CategoryOther},
		{EventID: "evt_3", Title: "way off the map", Date: "2025-06-04", Lat: 95, Lng: -200, LocationLabel: "z", Category: contractx.CategoryOther},
		{EventID: "", Title: "no id", Date: "2025-06-05", Category: contractx.CategoryOther},
	}

	out := ValidatePins(pins, dateRange)
	if len(out) != 1 {
		t.Fatalf("validated %d pins, want 1", len(out))
	}
	got := out[0]
	if got.EventID != "evt_1" {
		t.Fatalf("kept pin = %q, want the borderline one", got.EventID)
	}
	if got.Lat != 90 || got.Lng != -180 {
		t.Fatalf("borderline coordinates not clamped: %v,%v", got.Lat, got.Lng)
	}
	if got.Category != contractx.CategoryOther {
		t.Fatalf("unknown category not normalized: %q", got.Category)
	}
}

func TestValidatePinsThroughCatalog(t *testing.T) {
	t.Parallel()

	cat := NewCatalog(&fakeGenerator{}, &fakeGeocoder{})
	args := map[string]any{
		planx.KeyPins:      []contractx.Pin{{EventID: "evt_1", Title: "a", Date: "2025-06-03", Lat: 1, Lng: 1, Category: contractx.CategoryOther}},
		planx.KeyDateRange: contractx.DateRange{Start: "2025-06-01", End: "2025-06-07"},
	}
	out, err := cat.Invoke(context.Background(), planx.ToolValidate, "validate", args)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if pins := out.([]contractx.Pin); len(pins) != 1 {
		t.Fatalf("validated pins = %v", pins)
	}
}

func TestValidateWithoutDateRangeFails(t *testing.T) {
	t.Parallel()

	cat := NewCatalog(&fakeGenerator{}, &fakeGeocoder{})
	if _, err := cat.Invoke(context.Background(), planx.ToolValidate, "validate", map[string]any{}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
