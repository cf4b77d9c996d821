// Package engine is the public surface of the agent: it owns memory,
// planning, and execution, and exposes one method per user-facing
// operation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	contractx "github.com/chronomap/chronomap/agent/contract"
	"github.com/chronomap/chronomap/agent/execute"
	memoryx "github.com/chronomap/chronomap/agent/memory"
	nodex "github.com/chronomap/chronomap/agent/nodes"
	planx "github.com/chronomap/chronomap/agent/plan"
)

const defaultRangeDays = 7

type Engine struct {
	memory   *memoryx.Memory
	executor *execute.Executor

	pinsRunner compose.Runnable[nodex.PinsRequest, nodex.PinsResult]
	flight     singleflight.Group

	now func() time.Time
}

type Option func(*Engine)

// WithClock fixes the clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(mem *memoryx.Memory, tools execute.Invoker, opts ...Option) (*Engine, error) {
	if mem == nil {
		return nil, errors.New("memory is required")
	}
	if tools == nil {
		return nil, errors.New("tool catalog is required")
	}

	e := &Engine{
		memory:   mem,
		executor: execute.New(tools),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	runner, err := e.compilePinsGraph(context.Background())
	if err != nil {
		return nil, err
	}
	e.pinsRunner = runner

	return e, nil
}

// GeneratePins runs the pins pipeline. Concurrent identical requests are
// collapsed onto one in-flight run; followers receive the same result.
func (e *Engine) GeneratePins(ctx context.Context, req nodex.PinsRequest) (nodex.PinsResult, error) {
	norm := req.Normalize()
	key := memoryx.PinsKey(norm.DateRange, norm.Viewport, norm.Language, norm.MaxPins)

	v, err, shared := e.flight.Do(key, func() (any, error) {
		return e.pinsRunner.Invoke(ctx, req)
	})
	if err != nil {
		return nodex.PinsResult{}, err
	}
	if shared {
		log.Debug().Str("key", key).Msg("collapsed concurrent pins request")
	}
	return v.(nodex.PinsResult), nil
}

// ExplainEvent streams the narrative for an event. A cached explanation is
// replayed as a single fragment; a fresh one is written back to memory
// once it completes cleanly.
func (e *Engine) ExplainEvent(ctx context.Context, eventID, language string) (*Narration, error) {
	language = normalizeLanguage(language)
	key := memoryx.ExplanationKey(eventID, language)

	if v, ok := e.memory.GetCache(key); ok {
		if text, ok := v.(string); ok {
			return replayNarration(text), nil
		}
	}

	pin := e.lookupPin(eventID)
	g, err := planx.ExplainEvent(pin, language)
	if err != nil {
		return nil, err
	}
	stream, err := e.executor.ExecuteStream(ctx, g)
	if err != nil {
		return nil, err
	}
	return pipeNarration(ctx, stream, "explain", func(text string) {
		e.memory.PutCache(memoryx.KindExplanation, key, text)
	}), nil
}

// AnswerQuestion streams an answer grounded in the event and the session's
// conversation so far. Answers are conversational and never cached; the
// exchange is appended to the conversation instead.
func (e *Engine) AnswerQuestion(ctx context.Context, eventID, sessionID, question, language string) (*Narration, error) {
	pin := e.lookupPin(eventID)
	history := e.memory.Conversation(sessionID)

	g, err := planx.AnswerQuestion(pin, question, history, normalizeLanguage(language))
	if err != nil {
		return nil, err
	}
	stream, err := e.executor.ExecuteStream(ctx, g)
	if err != nil {
		return nil, err
	}

	e.memory.AppendMessage(sessionID, contractx.Message{Role: contractx.RoleUser, Content: question})
	return pipeNarration(ctx, stream, "answer", func(text string) {
		e.memory.AppendMessage(sessionID, contractx.Message{Role: contractx.RoleAssistant, Content: text})
	}), nil
}

// ParseCommand turns a free-text command into a structured location,
// language, and date range. Extraction gaps degrade to defaults rather
// than failing the request.
func (e *Engine) ParseCommand(ctx context.Context, text string) (contractx.ParsedCommand, error) {
	g, err := planx.ParseCommand(text)
	if err != nil {
		return contractx.ParsedCommand{}, err
	}
	outcome, err := e.executor.Execute(ctx, g)
	if err != nil {
		return contractx.ParsedCommand{}, err
	}

	cmd := contractx.ParsedCommand{}
	extract, _ := outcome.Output("extract").(map[string]any)
	cmd.Language = stringField(extract, planx.KeyLanguage)
	if loc, ok := outcome.Output("geocode").(*contractx.Location); ok && loc != nil {
		cmd.Location = loc
	}

	dateRange := e.resolveDateRange(stringField(extract, "start_date"), stringField(extract, "end_date"))
	cmd.DateRange = &dateRange
	return cmd, nil
}

// RandomEvent picks a historic event and resolves its location. The
// generation adapter guarantees a usable event via its own fallback.
func (e *Engine) RandomEvent(ctx context.Context) (contractx.RandomEvent, error) {
	g, err := planx.RandomEvent()
	if err != nil {
		return contractx.RandomEvent{}, err
	}
	outcome, err := e.executor.Execute(ctx, g)
	if err != nil {
		return contractx.RandomEvent{}, err
	}

	raw, _ := outcome.Output("random").(map[string]any)
	if raw == nil {
		return contractx.RandomEvent{}, fmt.Errorf("%w: random event unavailable", contractx.ErrGeneration)
	}

	ev := contractx.RandomEvent{
		EventName: stringField(raw, "event_name"),
		DateRange: e.resolveDateRange(stringField(raw, "start_date"), stringField(raw, "end_date")),
		Language:  stringField(raw, planx.KeyLanguage),
	}
	if loc, ok := outcome.Output("geocode").(*contractx.Location); ok && loc != nil {
		ev.Location = loc
	} else if name := stringField(raw, planx.KeyLocationName); name != "" {
		// Geocoding degraded; keep the name so the client can retry.
		ev.Location = &contractx.Location{Label: name}
	}
	return ev, nil
}

// SweepExpired evicts dead cache entries. Intended for a periodic
// background ticker.
func (e *Engine) SweepExpired() int {
	return e.memory.SweepExpired()
}

// lookupPin resolves an event id to its pin: the pin store first, then a
// scan of cached pin lists, then a minimal pin parsed from the id itself.
func (e *Engine) lookupPin(eventID string) contractx.Pin {
	if pin, ok := e.memory.Pin(eventID); ok {
		return pin
	}
	if pin, ok := e.memory.FindPin(eventID); ok {
		return pin
	}
	return minimalPin(eventID)
}

// minimalPin builds a placeholder from the evt_YYYY-MM-DD_... id format,
// enough for the generator to narrate something sensible.
func minimalPin(eventID string) contractx.Pin {
	date := "2025-01-01"
	if parts := strings.Split(eventID, "_"); len(parts) >= 2 {
		if _, err := time.Parse("2006-01-02", parts[1]); err == nil {
			date = parts[1]
		}
	}
	return contractx.Pin{
		EventID:           eventID,
		Title:             "Event",
		Date:              date,
		LocationLabel:     "Unknown",
		Category:          contractx.CategoryOther,
		SignificanceScore: 0.5,
		OneLiner:          "Event description",
		Confidence:        0.5,
	}
}

func (e *Engine) resolveDateRange(start, end string) contractx.DateRange {
	switch {
	case start == "" && end == "":
		return contractx.LastNDays(defaultRangeDays, e.now())
	case end == "":
		end = start
	case start == "":
		start = end
	}
	dateRange := contractx.DateRange{Start: start, End: end}
	if err := dateRange.Validate(); err != nil {
		log.Debug().Err(err).Msg("extracted date range unusable, falling back to the default period")
		return contractx.LastNDays(defaultRangeDays, e.now())
	}
	return dateRange
}

func normalizeLanguage(language string) string {
	language = strings.TrimSpace(strings.ToLower(language))
	if language == "" {
		return "en"
	}
	return language
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
