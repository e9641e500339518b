package llm

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

// EinoProvider runs a compiled to_messages -> model -> extract_text graph.
type EinoProvider struct {
	name   string
	runner compose.Runnable[contractx.ModelRequest, string]
}

var _ Provider = (*EinoProvider)(nil)

func NewEinoProvider(ctx context.Context, name string, chatModel einomodel.BaseChatModel) (*EinoProvider, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	runner, err := compileCompletionGraph(ctx, chatModel)
	if err != nil {
		return nil, err
	}
	return &EinoProvider{name: name, runner: runner}, nil
}

func (p *EinoProvider) Name() string { return p.name }

func (p *EinoProvider) Complete(ctx context.Context, req contractx.ModelRequest) (string, error) {
	return p.runner.Invoke(ctx, req)
}

func compileCompletionGraph(ctx context.Context, chatModel einomodel.BaseChatModel) (compose.Runnable[contractx.ModelRequest, string], error) {
	graph := compose.NewGraph[contractx.ModelRequest, string]()

	if err := graph.AddLambdaNode("to_messages",
		compose.InvokableLambda(func(ctx context.Context, req contractx.ModelRequest) ([]*schema.Message, error) {
			return toSchemaMessages(req), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add completion to_messages node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add completion model node: %w", err)
	}
	if err := graph.AddLambdaNode("extract_text",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (string, error) {
			if msg == nil {
				return "", errEmptyCompletion
			}
			return strings.TrimSpace(msg.Content), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add completion extract node: %w", err)
	}

	if err := graph.AddEdge(compose.START, "to_messages"); err != nil {
		return nil, fmt.Errorf("add completion edge start->to_messages: %w", err)
	}
	if err := graph.AddEdge("to_messages", "model"); err != nil {
		return nil, fmt.Errorf("add completion edge to_messages->model: %w", err)
	}
	if err := graph.AddEdge("model", "extract_text"); err != nil {
		return nil, fmt.Errorf("add completion edge model->extract: %w", err)
	}
	if err := graph.AddEdge("extract_text", compose.END); err != nil {
		return nil, fmt.Errorf("add completion edge extract->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("llm.completion_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile completion graph: %w", err)
	}
	return runner, nil
}

func toSchemaMessages(req contractx.ModelRequest) []*schema.Message {
	out := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, schema.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == contractx.RoleAgent {
			out = append(out, schema.AssistantMessage(m.Content, nil))
			continue
		}
		out = append(out, schema.UserMessage(m.Content))
	}
	return out
}
