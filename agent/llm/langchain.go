package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tmc/langchaingo/llms"
)

// LangchainProvider adapts any langchaingo llms.Model.
type LangchainProvider struct {
	name        string
	model       llms.Model
	temperature float64
	maxTokens   int
}

var _ Provider = (*LangchainProvider)(nil)

func NewLangchainProvider(name string, model llms.Model, temperature float32, maxTokens int) (*LangchainProvider, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: langchain model is required", contractx.ErrValidation)
	}
	return &LangchainProvider{name: name, model: model, temperature: float64(temperature), maxTokens: maxTokens}, nil
}

func (p *LangchainProvider) Name() string { return p.name }

func (p *LangchainProvider) Complete(ctx context.Context, req contractx.ModelRequest) (string, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == contractx.RoleAgent {
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	opts := []llms.CallOption{llms.WithTemperature(p.temperature)}
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}
	resp, err := p.model.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("langchain generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("langchain generate: no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
