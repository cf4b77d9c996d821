package tool

import (
	"context"
	"fmt"

	contractx "github.com/chronomap/chronomap/agent/contract"
	"github.com/chronomap/chronomap/agent/execute"
	planx "github.com/chronomap/chronomap/agent/plan"
)

// Catalog is the closed set of tools the executor can dispatch to. Each
// tool maps to one adapter behind the contract boundary; there is no
// dynamic registration.
type Catalog struct {
	generator contractx.Generator
	geocoder  contractx.Geocoder
}

var _ execute.Invoker = (*Catalog)(nil)

func NewCatalog(generator contractx.Generator, geocoder contractx.Geocoder) *Catalog {
	return &Catalog{generator: generator, geocoder: geocoder}
}

func (c *Catalog) Known(tool planx.Tool) bool {
	return tool.Known()
}

func (c *Catalog) Invoke(ctx context.Context, tool planx.Tool, task string, args map[string]any) (any, error) {
	switch tool {
	case planx.ToolGenerate:
		op := contractx.GenerateOp(stringArg(args, planx.KeyOperation))
		if op.Incremental() {
			return nil, fmt.Errorf("%w: task %s uses incremental operation %q in batch mode", contractx.ErrConstruction, task, op)
		}
		return c.generator.Generate(ctx, op, args)

	case planx.ToolGeocode:
		return c.geocode(ctx, task, args)

	case planx.ToolValidate:
		dateRange, ok := args[planx.KeyDateRange].(contractx.DateRange)
		if !ok {
			return nil, fmt.Errorf("%w: task %s requires a date range", contractx.ErrValidation, task)
		}
		return ValidatePins(pinsArg(args), dateRange), nil

	default:
		return nil, fmt.Errorf("%w: unknown tool %q", contractx.ErrConstruction, tool)
	}
}

func (c *Catalog) InvokeStream(ctx context.Context, tool planx.Tool, task string, args map[string]any, emit func(fragment string) error) (string, error) {
	if tool != planx.ToolGenerate {
		return "", fmt.Errorf("%w: tool %q cannot stream", contractx.ErrConstruction, tool)
	}
	op := contractx.GenerateOp(stringArg(args, planx.KeyOperation))
	if !op.Incremental() {
		return "", fmt.Errorf("%w: task %s streams non-incremental operation %q", contractx.ErrConstruction, task, op)
	}
	return c.generator.Stream(ctx, op, args, emit)
}

func (c *Catalog) geocode(ctx context.Context, task string, args map[string]any) (any, error) {
	if _, hasPins := args[planx.KeyPins]; hasPins {
		return LocatePins(ctx, c.geocoder, pinsArg(args)), nil
	}

	if raw, hasName := args[planx.KeyLocationName]; hasName {
		name, _ := raw.(string)
		if name == "" {
			// The upstream extractor found no location; not an error.
			return nil, nil
		}
		return c.geocoder.Geocode(ctx, name)
	}

	return nil, fmt.Errorf("%w: task %s requires pins or a location name", contractx.ErrConstruction, task)
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func pinsArg(args map[string]any) []contractx.Pin {
	pins, _ := args[planx.KeyPins].([]contractx.Pin)
	return pins
}
