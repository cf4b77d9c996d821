package plan

import (
	"fmt"
	"strings"

	contractx "github.com/chronomap/chronomap/agent/contract"
)

// Parameter keys shared between the recipes and the tool handlers.
const (
	KeyOperation    = "operation"
	KeyDateRange    = "date_range"
	KeyViewport     = "viewport"
	KeyLanguage     = "language"
	KeyMaxPins      = "max_pins"
	KeyPins         = "pins"
	KeyPin          = "pin"
	KeyLocationName = "location_name"
	KeyQuestion     = "question"
	KeyHistory      = "history"
	KeyText         = "text"
	KeyEventID      = "event_id"
)

// PinsForRange plans: search(generate) -> geocode(geocode) -> validate(validate).
func PinsForRange(dateRange contractx.DateRange, viewport contractx.Viewport, language string, maxPins int) (*Graph, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrConstruction, err)
	}
	if maxPins <= 0 {
		return nil, fmt.Errorf("%w: max_pins must be positive, got %d", contractx.ErrConstruction, maxPins)
	}
	language = normalizeLanguage(language)

	g := &Graph{
		Goal: GoalPinsForRange,
		Tasks: []Task{
			{
				Name: "search",
				Tool: ToolGenerate,
				Params: map[string]Param{
					KeyOperation: Lit(string(contractx.OpProducePins)),
					KeyDateRange: Lit(dateRange),
					KeyViewport:  Lit(viewport),
					KeyLanguage:  Lit(language),
					KeyMaxPins:   Lit(maxPins),
				},
			},
			{
				Name: "geocode",
				Tool: ToolGeocode,
				Params: map[string]Param{
					KeyPins: Prev(),
				},
				DependsOn: []string{"search"},
			},
			{
				Name: "validate",
				Tool: ToolValidate,
				Params: map[string]Param{
					KeyPins:      Prev(),
					KeyDateRange: Lit(dateRange),
				},
				DependsOn: []string{"geocode"},
			},
		},
	}
	return g, g.Validate()
}

// ExplainEvent plans a single incremental generation task.
func ExplainEvent(pin contractx.Pin, language string) (*Graph, error) {
	if strings.TrimSpace(pin.EventID) == "" {
		return nil, fmt.Errorf("%w: explain-event requires a pin with an event id", contractx.ErrConstruction)
	}
	g := &Graph{
		Goal: GoalExplainEvent,
		Tasks: []Task{
			{
				Name: "explain",
				Tool: ToolGenerate,
				Params: map[string]Param{
					KeyOperation: Lit(string(contractx.OpProduceExplanation)),
					KeyPin:       Lit(pin),
					KeyLanguage:  Lit(normalizeLanguage(language)),
				},
				Incremental: true,
			},
		},
	}
	return g, g.Validate()
}

// AnswerQuestion plans a single incremental generation task. Results are
// conversational and never written back to memory.
func AnswerQuestion(pin contractx.Pin, question string, history []contractx.Message, language string) (*Graph, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: answer-question requires a question", contractx.ErrConstruction)
	}
	g := &Graph{
		Goal: GoalAnswerQuestion,
		Tasks: []Task{
			{
				Name: "answer",
				Tool: ToolGenerate,
				Params: map[string]Param{
					KeyOperation: Lit(string(contractx.OpProduceAnswer)),
					KeyEventID:   Lit(pin.EventID),
					KeyPin:       Lit(pin),
					KeyQuestion:  Lit(question),
					KeyHistory:   Lit(history),
					KeyLanguage:  Lit(normalizeLanguage(language)),
				},
				Incremental: true,
			},
		},
	}
	return g, g.Validate()
}

// ParseCommand plans: extract(generate) -> geocode(geocode).
func ParseCommand(text string) (*Graph, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: parse-command requires text", contractx.ErrConstruction)
	}
	g := &Graph{
		Goal: GoalParseCommand,
		Tasks: []Task{
			{
				Name: "extract",
				Tool: ToolGenerate,
				Params: map[string]Param{
					KeyOperation: Lit(string(contractx.OpExtractEntities)),
					KeyText:      Lit(text),
				},
			},
			{
				Name: "geocode",
				Tool: ToolGeocode,
				Params: map[string]Param{
					KeyLocationName: From("extract", KeyLocationName),
				},
				DependsOn: []string{"extract"},
			},
		},
	}
	return g, g.Validate()
}

// RandomEvent plans: random(generate) -> geocode(geocode).
func RandomEvent() (*Graph, error) {
	g := &Graph{
		Goal: GoalRandomEvent,
		Tasks: []Task{
			{
				Name: "random",
				Tool: ToolGenerate,
				Params: map[string]Param{
					KeyOperation: Lit(string(contractx.OpProduceRandomEvent)),
				},
			},
			{
				Name: "geocode",
				Tool: ToolGeocode,
				Params: map[string]Param{
					KeyLocationName: From("random", KeyLocationName),
				},
				DependsOn: []string{"random"},
			},
		},
	}
	return g, g.Validate()
}

func normalizeLanguage(language string) string {
	language = strings.TrimSpace(strings.ToLower(language))
	if language == "" {
		return "en"
	}
	return language
}
