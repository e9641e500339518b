package engine

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	nodex "github.com/tanpawarit/chative-restaurant-agent/agent/nodes"
)

func (e *Engine) compileTurnGraph(ctx context.Context) (compose.Runnable[*nodex.GraphState, nodex.GraphOutput], error) {
	graph := compose.NewGraph[*nodex.GraphState, nodex.GraphOutput]()
	deps := e.deps

	nodes := []struct {
		name string
		fn   func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error)
	}{
		{"check_session", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.CheckSession(in)
		}},
		{nodex.RouteLoadContext, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadContext(ctx, in, deps.Tenants)
		}},
		{nodex.RouteAssemblePrompt, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AssemblePrompt(ctx, in, deps.Assembler)
		}},
		{"generate", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.Generate(ctx, in, deps.Model)
		}},
		{nodex.RouteParseEnvelope, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ParseEnvelope(in, deps.Parser)
		}},
		{"apply_envelope", func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ApplyEnvelope(in)
		}},
		{nodex.RouteConfirmOrder, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ConfirmOrder(ctx, in, deps)
		}},
		{nodex.RouteResolveBooking, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ResolveBooking(ctx, in, deps)
		}},
	}
	for _, n := range nodes {
		if err := graph.AddLambdaNode(n.name, compose.InvokableLambda(n.fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", n.name, err)
		}
	}
	if err := graph.AddLambdaNode(nodex.RouteFinalize,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.Finalize(ctx, in, deps)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodex.RouteFinalize, err)
	}

	edges := [][2]string{
		{compose.START, "check_session"},
		{nodex.RouteAssemblePrompt, "generate"},
		{nodex.RouteParseEnvelope, "apply_envelope"},
		{nodex.RouteConfirmOrder, nodex.RouteFinalize},
		{nodex.RouteResolveBooking, nodex.RouteFinalize},
		{nodex.RouteFinalize, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	// Each step either hands on to the next one or skips to finalize once the reply
	// is decided.
	shortCircuits := [][2]string{
		{"check_session", nodex.RouteLoadContext},
		{nodex.RouteLoadContext, nodex.RouteAssemblePrompt},
		{"generate", nodex.RouteParseEnvelope},
	}
	for _, sc := range shortCircuits {
		next := sc[1]
		branch := compose.NewGraphBranch(
			func(ctx context.Context, in *nodex.GraphState) (string, error) {
				return nodex.Next(in, next), nil
			},
			map[string]bool{next: true, nodex.RouteFinalize: true},
		)
		if err := graph.AddBranch(sc[0], branch); err != nil {
			return nil, fmt.Errorf("add branch after %s: %w", sc[0], err)
		}
	}

	intentBranch := compose.NewGraphBranch(
		func(ctx context.Context, in *nodex.GraphState) (string, error) {
			return nodex.RouteAfterApply(in), nil
		},
		map[string]bool{
			nodex.RouteConfirmOrder:   true,
			nodex.RouteResolveBooking: true,
			nodex.RouteFinalize:       true,
		},
	)
	if err := graph.AddBranch("apply_envelope", intentBranch); err != nil {
		return nil, fmt.Errorf("add branch after apply_envelope: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("engine.handle_turn"))
	if err != nil {
		return nil, fmt.Errorf("compile turn graph: %w", err)
	}
	return runner, nil
}
