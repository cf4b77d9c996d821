// Package execute runs a task graph: it orders tasks by their dependency
// sets, threads each task's output into the parameters of its dependents,
// and absorbs per-task adapter failures into a partial result instead of
// aborting the graph.
package execute

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	contractx "github.com/chronomap/chronomap/agent/contract"
	planx "github.com/chronomap/chronomap/agent/plan"
)

// State is the lifecycle of one task.
type State string

const (
	StatePending   State = "pending"
	StateEligible  State = "eligible"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Invoker dispatches one task to its tool. The set of tools is closed;
// Known lets the executor fail fast before running anything.
type Invoker interface {
	Invoke(ctx context.Context, tool planx.Tool, task string, args map[string]any) (any, error)
	InvokeStream(ctx context.Context, tool planx.Tool, task string, args map[string]any, emit func(fragment string) error) (string, error)
	Known(tool planx.Tool) bool
}

// Outcome is the aggregated result of one graph run. The graph as a whole
// is Completed once every task is terminal, including tasks left Failed.
type Outcome struct {
	Goal    planx.Goal
	Outputs map[string]any
	Errors  map[string]error
	States  map[string]State

	// completion order, used by the FromPrevious resolution rule.
	order []string
}

// Output returns the named task's output (nil if it failed or is unknown).
func (o *Outcome) Output(name string) any {
	if o == nil {
		return nil
	}
	return o.Outputs[name]
}

// Err returns the named task's recorded failure, if any.
func (o *Outcome) Err(name string) error {
	if o == nil {
		return nil
	}
	return o.Errors[name]
}

// Pins walks the completion order backwards and returns the first output
// that is a pin list. With the degrade policy a failed validate or geocode
// task leaves the best earlier stage as the usable result.
func (o *Outcome) Pins() []contractx.Pin {
	if o == nil {
		return nil
	}
	for i := len(o.order) - 1; i >= 0; i-- {
		if pins, ok := o.Outputs[o.order[i]].([]contractx.Pin); ok {
			return pins
		}
	}
	return nil
}

// Executor runs task graphs against a fixed tool set. It owns no state
// between invocations; every run gets its own context map.
type Executor struct {
	tools Invoker
}

func New(tools Invoker) *Executor {
	return &Executor{tools: tools}
}

// Execute runs a batch graph to completion. The only error it can return
// is a construction error; adapter failures are absorbed into the Outcome.
func (e *Executor) Execute(ctx context.Context, g *planx.Graph) (*Outcome, error) {
	if err := e.check(g); err != nil {
		return nil, err
	}
	if _, incremental := g.IncrementalTask(); incremental {
		return nil, fmt.Errorf("%w: graph %q is incremental, use ExecuteStream", contractx.ErrConstruction, g.Goal)
	}
	return e.run(ctx, g, nil), nil
}

func (e *Executor) check(g *planx.Graph) error {
	if g == nil {
		return fmt.Errorf("%w: nil graph", contractx.ErrConstruction)
	}
	if err := g.Validate(); err != nil {
		return err
	}
	for _, t := range g.Tasks {
		if !e.tools.Known(t.Tool) {
			return fmt.Errorf("%w: no handler for tool %q (task %q)", contractx.ErrConstruction, t.Tool, t.Name)
		}
	}
	return nil
}

// run executes all tasks wave by wave. Within a wave every eligible task
// runs in its own goroutine, so a suspended adapter call never holds back
// an independent branch. emit is non-nil only for incremental runs.
func (e *Executor) run(ctx context.Context, g *planx.Graph, emit func(fragment string) error) *Outcome {
	out := &Outcome{
		Goal:    g.Goal,
		Outputs: make(map[string]any, len(g.Tasks)),
		Errors:  make(map[string]error),
		States:  make(map[string]State, len(g.Tasks)),
	}
	for _, t := range g.Tasks {
		out.States[t.Name] = StatePending
	}

	var mu sync.Mutex

	for {
		eligible := make([]planx.Task, 0, len(g.Tasks))
		mu.Lock()
		for _, t := range g.Tasks {
			if out.States[t.Name] != StatePending {
				continue
			}
			ready := true
			for _, dep := range t.DependsOn {
				if !out.States[dep].Terminal() {
					ready = false
					break
				}
			}
			if ready {
				out.States[t.Name] = StateEligible
				eligible = append(eligible, t)
			}
		}
		mu.Unlock()

		if len(eligible) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, t := range eligible {
			wg.Add(1)
			go func(t planx.Task) {
				defer wg.Done()

				mu.Lock()
				out.States[t.Name] = StateRunning
				args := e.resolveParams(g, t, out)
				mu.Unlock()

				value, err := e.dispatch(ctx, t, args, emit)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					// Degrade, don't abort: dependents will see a nil
					// input and the graph keeps going.
					log.Warn().Err(err).
						Str("goal", string(g.Goal)).
						Str("task", t.Name).
						Msg("task failed, continuing with partial results")
					out.States[t.Name] = StateFailed
					out.Errors[t.Name] = err
					out.order = append(out.order, t.Name)
					return
				}
				out.States[t.Name] = StateCompleted
				out.Outputs[t.Name] = value
				out.order = append(out.order, t.Name)
			}(t)
		}
		wg.Wait()
	}

	return out
}

func (e *Executor) dispatch(ctx context.Context, t planx.Task, args map[string]any, emit func(string) error) (any, error) {
	if t.Incremental {
		text, err := e.tools.InvokeStream(ctx, t.Tool, t.Name, args, emit)
		if err != nil {
			return nil, err
		}
		return text, nil
	}
	return e.tools.Invoke(ctx, t.Tool, t.Name, args)
}

// resolveParams materializes a task's parameter map. A placeholder for a
// failed task resolves to nil; FromPrevious takes the most recently
// completed non-nil output. Caller holds the outcome lock.
func (e *Executor) resolveParams(g *planx.Graph, t planx.Task, out *Outcome) map[string]any {
	args := make(map[string]any, len(t.Params))
	for key, p := range t.Params {
		switch p.Kind {
		case planx.ParamLiteral:
			args[key] = p.Value
		case planx.ParamFromTask:
			args[key] = fieldOf(out.Outputs[p.Task], p.Field)
		case planx.ParamFromPrevious:
			value, source := latestOutput(out)
			log.Debug().
				Str("goal", string(g.Goal)).
				Str("task", t.Name).
				Str("param", key).
				Str("resolved_from", source).
				Msg("implicit parameter resolution from previous task")
			args[key] = value
		}
	}
	return args
}

func fieldOf(output any, field string) any {
	if output == nil || field == "" {
		return output
	}
	m, ok := output.(map[string]any)
	if !ok {
		return nil
	}
	return m[field]
}

func latestOutput(out *Outcome) (any, string) {
	for i := len(out.order) - 1; i >= 0; i-- {
		name := out.order[i]
		if value, ok := out.Outputs[name]; ok && value != nil {
			return value, name
		}
	}
	return nil, ""
}
