package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	openrouterx "github.com/tanpawarit/chative-restaurant-agent/pkg/openrouter"
)

type ProviderKind string

const (
	ProviderEino      ProviderKind = "eino"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderLangchain ProviderKind = "langchain"
)

func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderEino, ProviderOpenAI, ProviderLangchain:
		return true
	default:
		return false
	}
}

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"600"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	AttemptTimeout     time.Duration `envconfig:"ATTEMPT_TIMEOUT" split_words:"true" default:"8s"`
	Retries            int           `envconfig:"RETRIES" split_words:"true" default:"1"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	PrimaryProvider  ProviderKind `envconfig:"PRIMARY_PROVIDER" split_words:"true" default:"eino"`
	FallbackProvider ProviderKind `envconfig:"FALLBACK_PROVIDER" split_words:"true" default:"openai"`
	FallbackModel    string       `envconfig:"FALLBACK_MODEL" split_words:"true"`
	FallbackBaseURL  string       `envconfig:"FALLBACK_BASE_URL" split_words:"true"`
	FallbackAPIKey   string       `envconfig:"FALLBACK_API_KEY" split_words:"true"`
	FallbackRetries  int          `envconfig:"FALLBACK_RETRIES" split_words:"true" default:"0"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: llm model is required", contractx.ErrValidation)
	}
	if !c.PrimaryProvider.Valid() {
		return fmt.Errorf("%w: unknown primary provider %q", contractx.ErrValidation, c.PrimaryProvider)
	}
	if c.FallbackProvider != "" && !c.FallbackProvider.Valid() {
		return fmt.Errorf("%w: unknown fallback provider %q", contractx.ErrValidation, c.FallbackProvider)
	}
	if c.Retries < 0 || c.FallbackRetries < 0 {
		return fmt.Errorf("%w: retries must be >= 0", contractx.ErrValidation)
	}
	return nil
}

// Slot selects the primary or fallback provider settings.
type Slot int

const (
	SlotPrimary Slot = iota
	SlotFallback
)

// OpenRouterFor returns the endpoint settings for a slot. Fallback fields default to
// the primary ones.
func (c Config) OpenRouterFor(slot Slot) openrouterx.Config {
	baseURL := strings.TrimSpace(c.BaseURL)
	apiKey := strings.TrimSpace(c.APIKey)
	modelName := strings.TrimSpace(c.Model)

	if slot == SlotFallback {
		if v := strings.TrimSpace(c.FallbackBaseURL); v != "" {
			baseURL = v
		}
		if v := strings.TrimSpace(c.FallbackAPIKey); v != "" {
			apiKey = v
		}
		if v := strings.TrimSpace(c.FallbackModel); v != "" {
			modelName = v
		}
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            baseURL,
		APIKey:             apiKey,
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.AttemptTimeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
