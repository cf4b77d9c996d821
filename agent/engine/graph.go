package engine

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"

	nodex "github.com/chronomap/chronomap/agent/nodes"
)

func (e *Engine) compilePinsGraph(ctx context.Context) (compose.Runnable[nodex.PinsRequest, nodex.PinsResult], error) {
	graph := compose.NewGraph[nodex.PinsRequest, nodex.PinsResult]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in nodex.PinsRequest) (*nodex.PinsState, error) {
			return nodex.ValidateRequest(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("check_cache",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.PinsState) (*nodex.PinsState, error) {
			return nodex.CheckCache(in, e.memory)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node check_cache: %w", err)
	}

	if err := graph.AddLambdaNode("plan_and_execute",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.PinsState) (*nodex.PinsState, error) {
			return nodex.PlanAndExecute(ctx, in, e.executor)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node plan_and_execute: %w", err)
	}

	if err := graph.AddLambdaNode("merge_store",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.PinsState) (*nodex.PinsState, error) {
			return nodex.MergeStore(in, e.memory)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node merge_store: %w", err)
	}

	if err := graph.AddLambdaNode("finalize",
		compose.InvokableLambda(func(ctx context.Context, in *nodex.PinsState) (nodex.PinsResult, error) {
			return nodex.Finalize(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "check_cache"},
		{"check_cache", "plan_and_execute"},
		{"plan_and_execute", "merge_store"},
		{"merge_store", "finalize"},
		{"finalize", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("engine.generate_pins"))
	if err != nil {
		return nil, fmt.Errorf("compile pins graph: %w", err)
	}
	return runner, nil
}
