package openrouter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaimodel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
)

// reasoningExcluded lists models that must be told to skip reasoning tokens,
// which otherwise eat the completion budget of a short spoken reply.
var reasoningExcluded = map[string]bool{
	"x-ai/grok-4.1-fast": true,
}

var ErrMissingAPIKey = errors.New("openrouter: api key is required")

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken *int          `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"600"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"8s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`
}

func (c Config) headers() map[string]string {
	h := make(map[string]string, 2)
	if c.SiteURL != "" {
		h["HTTP-Referer"] = c.SiteURL
	}
	if c.SiteName != "" {
		h["X-Title"] = c.SiteName
	}
	return h
}

// NewChatModel builds an eino chat model pointed at OpenRouter.
func NewChatModel(ctx context.Context, c Config) (model.ToolCallingChatModel, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	modelName := strings.TrimSpace(c.Model)
	temperature := c.Temperature

	conf := &openaimodel.ChatModelConfig{
		BaseURL:     strings.TrimRight(c.BaseURL, "/"),
		APIKey:      strings.TrimSpace(c.APIKey),
		Model:       modelName,
		MaxTokens:   c.MaxCompletionToken,
		Temperature: &temperature,
		Timeout:     c.Timeout,
	}

	if reasoningExcluded[modelName] {
		conf.ExtraFields = map[string]any{
			"reasoning": map[string]any{
				"exclude": true,
				"effort":  "none",
			},
		}
	}

	m, err := openaimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("openrouter: create chat model: %w", err)
	}
	return m, nil
}

// NewClient creates an OpenAI SDK client configured for OpenRouter.
func NewClient(cfg Config) (*openaisdk.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	for k, v := range cfg.headers() {
		opts = append(opts, option.WithHeader(k, v))
	}

	client := openaisdk.NewClient(opts...)
	return &client, nil
}

// NewLangchainLLM creates a langchaingo OpenAI-compatible model for OpenRouter.
func NewLangchainLLM(cfg Config) (*lcopenai.LLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	opts := []lcopenai.Option{
		lcopenai.WithToken(strings.TrimSpace(cfg.APIKey)),
		lcopenai.WithModel(strings.TrimSpace(cfg.Model)),
	}
	if trimmed := strings.TrimRight(cfg.BaseURL, "/"); trimmed != "" {
		opts = append(opts, lcopenai.WithBaseURL(trimmed))
	}
	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openrouter: create langchain llm: %w", err)
	}
	return llm, nil
}
