package contract

import "errors"

var (
	// ErrConstruction marks a malformed task graph: unknown tool, duplicate
	// task name, missing or cyclic dependency. Fatal to the request, never
	// retried — it indicates a planner bug, not a runtime condition.
	ErrConstruction = errors.New("task graph construction failed")

	// ErrGeneration marks a failed generator call for one task. Absorbed by
	// the executor's degrade policy.
	ErrGeneration = errors.New("generation failed")

	// ErrGeocode marks a failed geocoder call (transport or upstream error).
	ErrGeocode = errors.New("geocoding failed")

	// ErrGeocodeNotFound means the geocoder answered but knows no such place.
	ErrGeocodeNotFound = errors.New("location not found")

	// ErrValidation marks malformed caller input or adapter output.
	ErrValidation = errors.New("validation failed")

	// ErrSchemaViolation means the generator's output could not be coerced
	// into the expected structure even after repair.
	ErrSchemaViolation = errors.New("model response violates schema")
)
