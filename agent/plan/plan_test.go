package plan

import (
	"errors"
	"reflect"
	"testing"

	contractx "github.com/chronomap/chronomap/agent/contract"
)

func testRange() contractx.DateRange {
	return contractx.DateRange{Start: "2024-01-01", End: "2024-01-07"}
}

func testViewport() contractx.Viewport {
	return contractx.Viewport{
		BBox: contractx.BBox{West: 100.0, South: 1.0, East: 104.5, North: 4.0},
		Zoom: 7,
	}
}

func TestPinsForRangeShape(t *testing.T) {
	t.Parallel()

	g, err := PinsForRange(testRange(), testViewport(), "en", 8)
	if err != nil {
		t.Fatalf("PinsForRange() error = %v", err)
	}
	if g.Goal != GoalPinsForRange {
		t.Fatalf("unexpected goal: %s", g.Goal)
	}
	if len(g.Tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(g.Tasks))
	}

	geocode, ok := g.Task("geocode")
	if !ok {
		t.Fatal("geocode task missing")
	}
	if !reflect.DeepEqual(geocode.DependsOn, []string{"search"}) {
		t.Fatalf("geocode deps = %#v", geocode.DependsOn)
	}
	validate, ok := g.Task("validate")
	if !ok {
		t.Fatal("validate task missing")
	}
	if !reflect.DeepEqual(validate.DependsOn, []string{"geocode"}) {
		t.Fatalf("validate deps = %#v", validate.DependsOn)
	}
	if _, incremental := g.IncrementalTask(); incremental {
		t.Fatal("pins graph must run in batch mode")
	}
}

func TestPlanDeterminism(t *testing.T) {
	t.Parallel()

	a, err := PinsForRange(testRange(), testViewport(), "en", 8)
	if err != nil {
		t.Fatalf("PinsForRange() error = %v", err)
	}
	b, err := PinsForRange(testRange(), testViewport(), "en", 8)
	if err != nil {
		t.Fatalf("PinsForRange() error = %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatal("identical params produced structurally different graphs")
	}
}

func TestPinsForRangeRejectsMalformedParams(t *testing.T) {
	t.Parallel()

	if _, err := PinsForRange(contractx.DateRange{Start: "bad", End: "2024-01-07"}, testViewport(), "en", 8); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction for bad date, got %v", err)
	}
	if _, err := PinsForRange(testRange(), testViewport(), "en", 0); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction for zero max_pins, got %v", err)
	}
}

func TestExplainEventIncremental(t *testing.T) {
	t.Parallel()

	g, err := ExplainEvent(contractx.Pin{EventID: "evt_2024-01-02_sg_001", Title: "x"}, "EN ")
	if err != nil {
		t.Fatalf("ExplainEvent() error = %v", err)
	}
	task, ok := g.IncrementalTask()
	if !ok {
		t.Fatal("expected an incremental task")
	}
	if task.Name != "explain" || task.Tool != ToolGenerate {
		t.Fatalf("unexpected incremental task: %+v", task)
	}
	if task.Params[KeyLanguage].Value != "en" {
		t.Fatalf("language not normalized: %v", task.Params[KeyLanguage].Value)
	}
}

func TestParseCommandThreadsLocation(t *testing.T) {
	t.Parallel()

	g, err := ParseCommand("show tokyo last week")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	geocode, ok := g.Task("geocode")
	if !ok {
		t.Fatal("geocode task missing")
	}
	p := geocode.Params[KeyLocationName]
	if p.Kind != ParamFromTask || p.Task != "extract" || p.Field != KeyLocationName {
		t.Fatalf("unexpected placeholder: %+v", p)
	}
}

func TestRandomEventShape(t *testing.T) {
	t.Parallel()

	g, err := RandomEvent()
	if err != nil {
		t.Fatalf("RandomEvent() error = %v", err)
	}
	if len(g.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(g.Tasks))
	}
	if g.Tasks[1].DependsOn[0] != "random" {
		t.Fatalf("geocode must depend on random, got %#v", g.Tasks[1].DependsOn)
	}
}

func TestValidateRejectsUnknownTool(t *testing.T) {
	t.Parallel()

	g := &Graph{
		Goal:  GoalRandomEvent,
		Tasks: []Task{{Name: "a", Tool: Tool("websearch")}},
	}
	if err := g.Validate(); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	t.Parallel()

	g := &Graph{
		Goal: GoalPinsForRange,
		Tasks: []Task{
			{Name: "a", Tool: ToolGenerate, DependsOn: []string{"b"}},
			{Name: "b", Tool: ToolGeocode, DependsOn: []string{"a"}},
		},
	}
	if err := g.Validate(); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	g := &Graph{
		Goal: GoalPinsForRange,
		Tasks: []Task{
			{Name: "a", Tool: ToolGenerate, DependsOn: []string{"ghost"}},
		},
	}
	if err := g.Validate(); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}

func TestValidateRejectsSecondIncrementalTask(t *testing.T) {
	t.Parallel()

	g := &Graph{
		Goal: GoalExplainEvent,
		Tasks: []Task{
			{Name: "a", Tool: ToolGenerate, Incremental: true},
			{Name: "b", Tool: ToolGenerate, Incremental: true},
		},
	}
	if err := g.Validate(); !errors.Is(err, contractx.ErrConstruction) {
		t.Fatalf("expected ErrConstruction, got %v", err)
	}
}
