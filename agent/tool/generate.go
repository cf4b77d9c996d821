package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	contractx "github.com/chronomap/chronomap/agent/contract"
	planx "github.com/chronomap/chronomap/agent/plan"
	"github.com/chronomap/chronomap/agent/prompt"
	"github.com/chronomap/chronomap/pkg/openrouter"
)

const (
	pinsTemperature    = 0.2
	parseTemperature   = 0.1
	randomTemperature  = 1.0
	explainTemperature = 0.6
	answerTemperature  = 0.7

	minPinsTokens   = 4000
	tokensPerPin    = 600
	parseMaxTokens  = 200
	randomMaxTokens = 300
	explainTokens   = 1000
	answerTokens    = 800

	// localZoomThreshold splits local from global focus in pin discovery.
	localZoomThreshold = 6

	historyWindow = 3
)

// Generator backs every generation operation with an OpenRouter-hosted
// chat model. Search-grounded operations go through the ":online" model
// variant; conversational ones use the plain model.
type Generator struct {
	client  *openaisdk.Client
	cfg     openrouter.Config
	prompts prompt.Set
	now     func() time.Time
}

var _ contractx.Generator = (*Generator)(nil)

type GeneratorOption func(*Generator)

// WithGeneratorClock fixes the clock, for tests.
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(client *openaisdk.Client, cfg openrouter.Config, opts ...GeneratorOption) *Generator {
	g := &Generator{
		client:  client,
		cfg:     cfg,
		prompts: prompt.LoadSet(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Generator) Generate(ctx context.Context, op contractx.GenerateOp, params map[string]any) (any, error) {
	switch op {
	case contractx.OpProducePins:
		return g.generatePins(ctx, params)
	case contractx.OpExtractEntities:
		return g.extractEntities(ctx, params)
	case contractx.OpProduceRandomEvent:
		return g.randomEvent(ctx)
	default:
		return nil, fmt.Errorf("%w: operation %q is not a batch operation", contractx.ErrGeneration, op)
	}
}

func (g *Generator) Stream(ctx context.Context, op contractx.GenerateOp, params map[string]any, emit func(fragment string) error) (string, error) {
	var (
		text        string
		temperature float64
		maxTokens   int
		err         error
	)
	switch op {
	case contractx.OpProduceExplanation:
		text, err = g.explanationPrompt(params)
		temperature, maxTokens = explainTemperature, explainTokens
	case contractx.OpProduceAnswer:
		text, err = g.answerPrompt(params)
		temperature, maxTokens = answerTemperature, answerTokens
	default:
		return "", fmt.Errorf("%w: operation %q is not incremental", contractx.ErrGeneration, op)
	}
	if err != nil {
		return "", err
	}

	stream := g.client.Chat.Completions.NewStreaming(ctx, openaisdk.ChatCompletionNewParams{
		Model:               g.cfg.ModelName(),
		Messages:            []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage(text)},
		Temperature:         openaisdk.Float(temperature),
		MaxCompletionTokens: openaisdk.Int(int64(maxTokens)),
	})
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		fragment := chunk.Choices[0].Delta.Content
		if fragment == "" {
			continue
		}
		sb.WriteString(fragment)
		if err := emit(fragment); err != nil {
			return sb.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		return sb.String(), fmt.Errorf("%w: %v", contractx.ErrGeneration, err)
	}
	return sb.String(), nil
}

type pinsEnvelope struct {
	Pins []contractx.Pin `json:"pins"`
}

type pinsPromptData struct {
	DateRangeDesc     string
	DateInstruction   string
	SearchInstruction string
	StartDate         string
	EndDate           string
	West, South       float64
	East, North       float64
	Zoom              float64
	RegionContext     string
	Language          string
	Focus             string
	MaxPins           int
}

func (g *Generator) generatePins(ctx context.Context, params map[string]any) ([]contractx.Pin, error) {
	dateRange, ok := params[planx.KeyDateRange].(contractx.DateRange)
	if !ok {
		return nil, fmt.Errorf("%w: produce-pins requires a date range", contractx.ErrGeneration)
	}
	viewport, ok := params[planx.KeyViewport].(contractx.Viewport)
	if !ok {
		return nil, fmt.Errorf("%w: produce-pins requires a viewport", contractx.ErrGeneration)
	}
	language, _ := params[planx.KeyLanguage].(string)
	if language == "" {
		language = "en"
	}
	maxPins, _ := params[planx.KeyMaxPins].(int)
	if maxPins <= 0 {
		maxPins = 10
	}

	userPrompt, err := prompt.Render(g.prompts.Pins, g.pinsPromptData(dateRange, viewport, language, maxPins))
	if err != nil {
		return nil, fmt.Errorf("%w: render pins prompt: %v", contractx.ErrGeneration, err)
	}

	maxTokens := minPinsTokens
	if need := maxPins * tokensPerPin; need > maxTokens {
		maxTokens = need
	}

	req := openaisdk.ChatCompletionNewParams{
		Model: g.cfg.OnlineModelName(),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(g.prompts.PinsSystem),
			openaisdk.UserMessage(userPrompt),
		},
		Temperature:         openaisdk.Float(pinsTemperature),
		MaxCompletionTokens: openaisdk.Int(int64(maxTokens)),
	}

	raw, err := g.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	pins, decodeErr := decodePins(raw)
	if decodeErr != nil {
		log.Warn().Err(decodeErr).Msg("pins payload malformed, asking the model to repair it")
		repaired, repairErr := g.complete(ctx, repairRequest(req, userPrompt))
		if repairErr == nil {
			pins, decodeErr = decodePins(repaired)
		}
	}
	if decodeErr != nil {
		// Last resort: pull whatever intact pin objects exist in the
		// original payload.
		pins = salvagePins(raw)
		if len(pins) == 0 {
			return nil, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, decodeErr)
		}
		log.Warn().Int("salvaged", len(pins)).Msg("recovered pins from malformed payload")
	}

	return filterPins(pins, dateRange), nil
}

func (g *Generator) pinsPromptData(dateRange contractx.DateRange, viewport contractx.Viewport, language string, maxPins int) pinsPromptData {
	data := pinsPromptData{
		StartDate: dateRange.Start,
		EndDate:   dateRange.End,
		West:      viewport.BBox.West,
		South:     viewport.BBox.South,
		East:      viewport.BBox.East,
		North:     viewport.BBox.North,
		Zoom:      viewport.Zoom,
		Language:  language,
		MaxPins:   maxPins,
	}

	if dateRange.SingleDay() {
		data.DateRangeDesc = dateRange.Start
		data.DateInstruction = fmt.Sprintf(
			"CRITICAL: You MUST only return events that occurred on %s (the EXACT year, month, and day). DO NOT return events from other years.",
			dateRange.Start)
		data.SearchInstruction = fmt.Sprintf("Search for: %q OR %q", "news "+dateRange.Start, "events "+dateRange.Start)
	} else {
		data.DateRangeDesc = dateRange.Start + " to " + dateRange.End
		data.DateInstruction = fmt.Sprintf(
			"CRITICAL: You MUST only return events that occurred between %s and %s (inclusive). Events can be from any day within this date range.",
			dateRange.Start, dateRange.End)
		data.SearchInstruction = fmt.Sprintf("Search for: %q OR %q",
			"news "+dateRange.Start+" to "+dateRange.End,
			"events "+dateRange.Start+" to "+dateRange.End)
	}

	if viewport.Zoom >= localZoomThreshold {
		centerLat := (viewport.BBox.North + viewport.BBox.South) / 2
		centerLng := (viewport.BBox.East + viewport.BBox.West) / 2
		data.RegionContext = fmt.Sprintf("Region: Approximately centered at %.2f, %.2f", centerLat, centerLng)
		data.Focus = "Local events within viewport"
	} else {
		data.Focus = "Globally significant events, but prioritize viewport region"
	}
	return data
}

func repairRequest(req openaisdk.ChatCompletionNewParams, userPrompt string) openaisdk.ChatCompletionNewParams {
	fixed := req
	fixed.Messages = []openaisdk.ChatCompletionMessageParamUnion{
		openaisdk.SystemMessage("Return ONLY valid JSON matching the schema, no markdown."),
		openaisdk.UserMessage(userPrompt + "\n\nThe previous response had invalid JSON. Please return ONLY valid JSON matching the schema, no markdown. Return a JSON object with a 'pins' array. Ensure all strings are properly escaped and closed. Do not include incomplete objects."),
	}
	return fixed
}

func decodePins(raw string) ([]contractx.Pin, error) {
	var envelope pinsEnvelope
	if err := json.Unmarshal([]byte(extractJSON(raw)), &envelope); err != nil {
		return nil, err
	}
	return envelope.Pins, nil
}

func salvagePins(raw string) []contractx.Pin {
	var pins []contractx.Pin
	for _, obj := range salvageObjects(raw) {
		var pin contractx.Pin
		if err := json.Unmarshal(obj, &pin); err != nil {
			continue
		}
		if pin.EventID == "" || pin.Title == "" {
			continue
		}
		pins = append(pins, pin)
	}
	return pins
}

// filterPins drops pins dated outside the requested range and normalizes
// what the model got slightly wrong rather than discarding whole pins.
func filterPins(pins []contractx.Pin, dateRange contractx.DateRange) []contractx.Pin {
	out := make([]contractx.Pin, 0, len(pins))
	for _, pin := range pins {
		if !dateRange.Contains(pin.Date) {
			log.Debug().Str("event_id", pin.EventID).Str("date", pin.Date).Msg("dropping pin dated outside the requested range")
			continue
		}
		if !pin.Category.Valid() {
			pin.Category = contractx.CategoryOther
		}
		if err := pin.Validate(); err != nil {
			log.Debug().Err(err).Str("event_id", pin.EventID).Msg("dropping invalid pin")
			continue
		}
		out = append(out, pin)
	}
	return out
}

type parsePromptData struct {
	Text         string
	Today        string
	Yesterday    string
	DefaultStart string
}

type extractedCommand struct {
	LocationName *string `json:"location_name"`
	Language     *string `json:"language"`
	StartDate    *string `json:"start_date"`
	EndDate      *string `json:"end_date"`
}

func (g *Generator) extractEntities(ctx context.Context, params map[string]any) (map[string]any, error) {
	text, _ := params[planx.KeyText].(string)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: extract-entities requires text", contractx.ErrGeneration)
	}

	today := g.now().UTC()
	userPrompt, err := prompt.Render(g.prompts.Parse, parsePromptData{
		Text:         text,
		Today:        today.Format("2006-01-02"),
		Yesterday:    today.AddDate(0, 0, -1).Format("2006-01-02"),
		DefaultStart: today.AddDate(0, 0, -6).Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: render parse prompt: %v", contractx.ErrGeneration, err)
	}

	raw, err := g.complete(ctx, openaisdk.ChatCompletionNewParams{
		Model: g.cfg.ModelName(),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(g.prompts.ParseSystem),
			openaisdk.UserMessage(userPrompt),
		},
		Temperature:         openaisdk.Float(parseTemperature),
		MaxCompletionTokens: openaisdk.Int(parseMaxTokens),
	})
	if err != nil {
		return nil, err
	}

	var parsed extractedCommand
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrSchemaViolation, err)
	}

	start, end := expandDates(parsed.StartDate, parsed.EndDate, today)
	return map[string]any{
		planx.KeyLocationName: cleanField(parsed.LocationName),
		planx.KeyLanguage:     cleanField(parsed.Language),
		"start_date":          start,
		"end_date":            end,
	}, nil
}

type randomPromptData struct {
	Today string
}

type extractedRandomEvent struct {
	EventName    string  `json:"event_name"`
	LocationName string  `json:"location_name"`
	StartDate    string  `json:"start_date"`
	EndDate      string  `json:"end_date"`
	Language     *string `json:"language"`
}

// fallbackRandomEvent is served when the model cannot produce a usable
// historic event, so the endpoint never comes back empty.
var fallbackRandomEvent = map[string]any{
	"event_name":          "Signing of the Declaration of Independence",
	planx.KeyLocationName: "Philadelphia, Pennsylvania, USA",
	"start_date":          "1776-07-04",
	"end_date":            "1776-07-04",
	planx.KeyLanguage:     "en",
}

func (g *Generator) randomEvent(ctx context.Context) (map[string]any, error) {
	userPrompt, err := prompt.Render(g.prompts.Random, randomPromptData{
		Today: g.now().UTC().Format("2006-01-02"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: render random prompt: %v", contractx.ErrGeneration, err)
	}

	raw, err := g.complete(ctx, openaisdk.ChatCompletionNewParams{
		Model: g.cfg.OnlineModelName(),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(g.prompts.RandomSystem),
			openaisdk.UserMessage(userPrompt),
		},
		Temperature:         openaisdk.Float(randomTemperature),
		MaxCompletionTokens: openaisdk.Int(randomMaxTokens),
	})
	if err != nil {
		log.Warn().Err(err).Msg("random event generation failed, serving the fallback event")
		return fallbackRandomEvent, nil
	}

	var parsed extractedRandomEvent
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		log.Warn().Err(err).Msg("random event payload malformed, serving the fallback event")
		return fallbackRandomEvent, nil
	}

	start := cleanDate(&parsed.StartDate)
	end := cleanDate(&parsed.EndDate)
	today := g.now().UTC().Format("2006-01-02")
	if parsed.EventName == "" || parsed.LocationName == "" || start == nil || end == nil || *start > today {
		log.Warn().Str("event", parsed.EventName).Msg("random event incomplete or future-dated, serving the fallback event")
		return fallbackRandomEvent, nil
	}

	out := map[string]any{
		"event_name":          parsed.EventName,
		planx.KeyLocationName: parsed.LocationName,
		"start_date":          *start,
		"end_date":            *end,
		planx.KeyLanguage:     nil,
	}
	if lang := cleanField(parsed.Language); lang != nil {
		out[planx.KeyLanguage] = lang
	}
	return out, nil
}

type explanationPromptData struct {
	Title             string
	Date              string
	LocationLabel     string
	Lat, Lng          float64
	Category          contractx.Category
	SignificanceScore float64
	Language          string
}

func (g *Generator) explanationPrompt(params map[string]any) (string, error) {
	pin, ok := params[planx.KeyPin].(contractx.Pin)
	if !ok {
		return "", fmt.Errorf("%w: produce-explanation requires a pin", contractx.ErrGeneration)
	}
	language, _ := params[planx.KeyLanguage].(string)
	if language == "" {
		language = "en"
	}
	text, err := prompt.Render(g.prompts.Explanation, explanationPromptData{
		Title:             pin.Title,
		Date:              pin.Date,
		LocationLabel:     pin.LocationLabel,
		Lat:               pin.Lat,
		Lng:               pin.Lng,
		Category:          pin.Category,
		SignificanceScore: pin.SignificanceScore,
		Language:          language,
	})
	if err != nil {
		return "", fmt.Errorf("%w: render explanation prompt: %v", contractx.ErrGeneration, err)
	}
	return text, nil
}

type answerPromptData struct {
	Title         string
	Date          string
	LocationLabel string
	Category      contractx.Category
	History       []contractx.Message
	Question      string
	Language      string
}

func (g *Generator) answerPrompt(params map[string]any) (string, error) {
	pin, ok := params[planx.KeyPin].(contractx.Pin)
	if !ok {
		return "", fmt.Errorf("%w: produce-answer requires a pin", contractx.ErrGeneration)
	}
	question, _ := params[planx.KeyQuestion].(string)
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: produce-answer requires a question", contractx.ErrGeneration)
	}
	language, _ := params[planx.KeyLanguage].(string)
	if language == "" {
		language = "en"
	}
	history, _ := params[planx.KeyHistory].([]contractx.Message)
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	text, err := prompt.Render(g.prompts.Answer, answerPromptData{
		Title:         pin.Title,
		Date:          pin.Date,
		LocationLabel: pin.LocationLabel,
		Category:      pin.Category,
		History:       history,
		Question:      question,
		Language:      language,
	})
	if err != nil {
		return "", fmt.Errorf("%w: render answer prompt: %v", contractx.ErrGeneration, err)
	}
	return text, nil
}

func (g *Generator) complete(ctx context.Context, req openaisdk.ChatCompletionNewParams) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrGeneration, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", contractx.ErrGeneration)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func cleanField(s *string) any {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") || strings.EqualFold(v, "none") {
		return nil
	}
	return v
}

func cleanDate(s *string) *string {
	v := cleanField(s)
	if v == nil {
		return nil
	}
	date := v.(string)
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil
	}
	return &date
}

// periodBounds expands a period token into its inclusive first and last
// day. Accepted forms: today, yesterday, YYYY, YYYY-MM, YYYY-MM-DD.
func periodBounds(s string, now time.Time) (string, string, bool) {
	switch strings.ToLower(s) {
	case "today":
		d := now.Format("2006-01-02")
		return d, d, true
	case "yesterday":
		d := now.AddDate(0, 0, -1).Format("2006-01-02")
		return d, d, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		d := t.Format("2006-01-02")
		return d, d, true
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := first.AddDate(0, 1, -1)
		return first.Format("2006-01-02"), last.Format("2006-01-02"), true
	}
	if t, err := time.Parse("2006", s); err == nil {
		return fmt.Sprintf("%04d-01-01", t.Year()), fmt.Sprintf("%04d-12-31", t.Year()), true
	}
	return "", "", false
}

// expandDates normalizes the extractor's period tokens into concrete
// start/end dates. A lone start period supplies its own end, so "2024-12"
// becomes the whole month. Values are returned as any so a missing date is
// a plain nil in the parameter map.
func expandDates(start, end *string, now time.Time) (any, any) {
	var lo, hi any
	if v := cleanField(start); v != nil {
		if s, e, ok := periodBounds(v.(string), now); ok {
			lo, hi = s, e
		}
	}
	if v := cleanField(end); v != nil {
		if _, e, ok := periodBounds(v.(string), now); ok {
			hi = e
		}
	}
	return lo, hi
}
