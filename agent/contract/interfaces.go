package contract

import "context"

// GenerateOp names one capability of the generation adapter.
type GenerateOp string

const (
	OpProducePins        GenerateOp = "produce-pins"
	OpProduceExplanation GenerateOp = "produce-explanation"
	OpProduceAnswer      GenerateOp = "produce-answer"
	OpExtractEntities    GenerateOp = "extract-entities"
	OpProduceRandomEvent GenerateOp = "produce-random-event"
)

// Incremental reports whether the operation delivers its output as a
// sequence of text fragments rather than one structured value.
func (op GenerateOp) Incremental() bool {
	return op == OpProduceExplanation || op == OpProduceAnswer
}

// Generator is the generation capability at the adapter boundary. The
// engine knows nothing about the backing model; only these contracts.
type Generator interface {
	// Generate runs a batch operation and returns its structured value.
	Generate(ctx context.Context, op GenerateOp, params map[string]any) (any, error)

	// Stream runs an incremental operation, pushing each text fragment to
	// emit as it arrives. It returns the full concatenated text once the
	// adapter signals completion. A non-nil error from emit stops delivery.
	Stream(ctx context.Context, op GenerateOp, params map[string]any, emit func(fragment string) error) (string, error)
}

// Geocoder resolves a place name to a coordinate and normalized label.
// A miss is ErrGeocodeNotFound; transport failures are ErrGeocode.
type Geocoder interface {
	Geocode(ctx context.Context, name string) (*Location, error)
}
