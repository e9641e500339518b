package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

// OpenAIProvider calls chat completions through the openai-go SDK.
type OpenAIProvider struct {
	name        string
	client      *openaisdk.Client
	model       string
	temperature float64
	maxTokens   int64
}

var _ Provider = (*OpenAIProvider)(nil)

func NewOpenAIProvider(name string, client *openaisdk.Client, model string, temperature float32, maxTokens int) (*OpenAIProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: openai model is required", contractx.ErrValidation)
	}
	return &OpenAIProvider{
		name:        name,
		client:      client,
		model:       strings.TrimSpace(model),
		temperature: float64(temperature),
		maxTokens:   int64(maxTokens),
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Complete(ctx context.Context, req contractx.ModelRequest) (string, error) {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaisdk.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == contractx.RoleAgent {
			messages = append(messages, openaisdk.AssistantMessage(m.Content))
			continue
		}
		messages = append(messages, openaisdk.UserMessage(m.Content))
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:       openaisdk.ChatModel(p.model),
		Messages:    messages,
		Temperature: openaisdk.Float(p.temperature),
	}
	if p.maxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(p.maxTokens)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
