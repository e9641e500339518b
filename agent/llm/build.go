package llm

import (
	"context"
	"fmt"

	openrouterx "github.com/tanpawarit/chative-restaurant-agent/pkg/openrouter"
)

// NewGatewayFromConfig wires the configured primary and fallback providers.
func NewGatewayFromConfig(ctx context.Context, cfg Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	primary, err := buildProvider(ctx, cfg.PrimaryProvider, "primary", cfg.OpenRouterFor(SlotPrimary))
	if err != nil {
		return nil, err
	}
	var fallback Provider
	if cfg.FallbackProvider != "" {
		if fallback, err = buildProvider(ctx, cfg.FallbackProvider, "fallback", cfg.OpenRouterFor(SlotFallback)); err != nil {
			return nil, err
		}
	}
	return NewGateway(primary, fallback,
		WithAttemptTimeout(cfg.AttemptTimeout),
		WithRetries(cfg.Retries, cfg.FallbackRetries),
	)
}

func buildProvider(ctx context.Context, kind ProviderKind, slot string, orCfg openrouterx.Config) (Provider, error) {
	name := fmt.Sprintf("%s:%s:%s", slot, kind, orCfg.Model)
	maxTokens := 0
	if orCfg.MaxCompletionToken != nil {
		maxTokens = *orCfg.MaxCompletionToken
	}

	switch kind {
	case ProviderEino:
		chatModel, err := openrouterx.NewChatModel(ctx, orCfg)
		if err != nil {
			return nil, err
		}
		return NewEinoProvider(ctx, name, chatModel)
	case ProviderOpenAI:
		client, err := openrouterx.NewClient(orCfg)
		if err != nil {
			return nil, err
		}
		return NewOpenAIProvider(name, client, orCfg.Model, orCfg.Temperature, maxTokens)
	case ProviderLangchain:
		model, err := openrouterx.NewLangchainLLM(orCfg)
		if err != nil {
			return nil, err
		}
		return NewLangchainProvider(name, model, orCfg.Temperature, maxTokens)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
