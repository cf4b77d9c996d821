// Package plan turns a request goal into a task graph. Construction is
// pure and deterministic: the same inputs always yield a structurally
// identical graph, and nothing here performs I/O.
package plan

import (
	"fmt"
	"strings"

	contractx "github.com/chronomap/chronomap/agent/contract"
)

// Tool identifies which adapter handles a task. The set is closed.
type Tool string

const (
	ToolGenerate Tool = "generate"
	ToolGeocode  Tool = "geocode"
	ToolValidate Tool = "validate"
)

func (t Tool) Known() bool {
	switch t {
	case ToolGenerate, ToolGeocode, ToolValidate:
		return true
	}
	return false
}

// Goal names one of the fixed planning recipes.
type Goal string

const (
	GoalPinsForRange   Goal = "pins-for-range"
	GoalExplainEvent   Goal = "explain-event"
	GoalAnswerQuestion Goal = "answer-question"
	GoalParseCommand   Goal = "parse-command"
	GoalRandomEvent    Goal = "random-event"
)

// ParamKind tags how a task parameter resolves at execution time.
type ParamKind uint8

const (
	// ParamLiteral carries its value as planned.
	ParamLiteral ParamKind = iota
	// ParamFromTask resolves to a named task's output, or a field within it.
	ParamFromTask
	// ParamFromPrevious resolves to the most recently completed task's
	// non-nil output. Recipes use it where the upstream task is the only
	// plausible source; the executor logs every use.
	ParamFromPrevious
)

// Param is a tagged task parameter. The tag makes the planner's intent
// explicit instead of relying on a sentinel nil value.
type Param struct {
	Kind  ParamKind
	Value any
	Task  string
	Field string
}

// Lit builds a literal parameter.
func Lit(v any) Param { return Param{Kind: ParamLiteral, Value: v} }

// From builds a parameter resolved from task's output. A non-empty field
// selects a key within a map-shaped output.
func From(task, field string) Param { return Param{Kind: ParamFromTask, Task: task, Field: field} }

// Prev builds a parameter resolved from the most recent prior output.
func Prev() Param { return Param{Kind: ParamFromPrevious} }

// Task is one named unit of work inside a graph.
type Task struct {
	Name        string
	Tool        Tool
	Params      map[string]Param
	DependsOn   []string
	Incremental bool
}

// Graph is the ordered task collection for one goal. It is created by one
// planning call and owned by exactly one executor invocation.
type Graph struct {
	Goal  Goal
	Tasks []Task
}

// Task returns the named task, or false.
func (g *Graph) Task(name string) (Task, bool) {
	for _, t := range g.Tasks {
		if t.Name == name {
			return t, true
		}
	}
	return Task{}, false
}

// IncrementalTask returns the single incremental task, or false when the
// graph runs in batch mode.
func (g *Graph) IncrementalTask() (Task, bool) {
	for _, t := range g.Tasks {
		if t.Incremental {
			return t, true
		}
	}
	return Task{}, false
}

// Validate checks the structural invariants: known tools, unique names,
// resolvable dependencies, no cycles, at most one incremental task. Any
// violation is a construction error — a planner bug, not a runtime state.
func (g *Graph) Validate() error {
	if len(g.Tasks) == 0 {
		return fmt.Errorf("%w: graph %q has no tasks", contractx.ErrConstruction, g.Goal)
	}

	byName := make(map[string]Task, len(g.Tasks))
	incremental := 0
	for _, t := range g.Tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("%w: task with empty name in graph %q", contractx.ErrConstruction, g.Goal)
		}
		if _, dup := byName[name]; dup {
			return fmt.Errorf("%w: duplicate task name %q", contractx.ErrConstruction, name)
		}
		if !t.Tool.Known() {
			return fmt.Errorf("%w: task %q names unknown tool %q", contractx.ErrConstruction, name, t.Tool)
		}
		if t.Incremental {
			incremental++
			if t.Tool != ToolGenerate {
				return fmt.Errorf("%w: incremental task %q must use the generate tool", contractx.ErrConstruction, name)
			}
		}
		byName[name] = t
	}
	if incremental > 1 {
		return fmt.Errorf("%w: graph %q has %d incremental tasks, at most one allowed", contractx.ErrConstruction, g.Goal, incremental)
	}

	for _, t := range g.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("%w: task %q depends on unknown task %q", contractx.ErrConstruction, t.Name, dep)
			}
		}
		for key, p := range t.Params {
			if p.Kind == ParamFromTask {
				if _, ok := byName[p.Task]; !ok {
					return fmt.Errorf("%w: task %q param %q references unknown task %q", contractx.ErrConstruction, t.Name, key, p.Task)
				}
			}
		}
	}

	return g.checkAcyclic()
}

// checkAcyclic runs Kahn's algorithm over the dependency edges.
func (g *Graph) checkAcyclic() error {
	indegree := make(map[string]int, len(g.Tasks))
	dependents := make(map[string][]string, len(g.Tasks))
	for _, t := range g.Tasks {
		indegree[t.Name] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	queue := make([]string, 0, len(g.Tasks))
	for _, t := range g.Tasks {
		if indegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.Tasks) {
		return fmt.Errorf("%w: dependency cycle in graph %q", contractx.ErrConstruction, g.Goal)
	}
	return nil
}
