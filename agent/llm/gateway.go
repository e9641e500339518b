package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

// Provider is one language model backend. Complete returns the raw model text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req contractx.ModelRequest) (string, error)
}

var _ contractx.Generator = (*Gateway)(nil)

// Gateway calls the primary provider with retries, then fails over to the fallback.
// Every attempt is bounded by its own timeout so a hung upstream cannot hold a turn.
type Gateway struct {
	primary         Provider
	fallback        Provider
	attemptTimeout  time.Duration
	retries         int
	fallbackRetries int
}

type GatewayOption func(*Gateway)

func WithAttemptTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.attemptTimeout = d
		}
	}
}

// WithRetries sets how many extra attempts each provider gets after its first.
func WithRetries(primary, fallback int) GatewayOption {
	return func(g *Gateway) {
		if primary >= 0 {
			g.retries = primary
		}
		if fallback >= 0 {
			g.fallbackRetries = fallback
		}
	}
}

// NewGateway builds a gateway. fallback may be nil.
func NewGateway(primary, fallback Provider, opts ...GatewayOption) (*Gateway, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: primary provider is required", contractx.ErrValidation)
	}
	g := &Gateway{
		primary:        primary,
		fallback:       fallback,
		attemptTimeout: 8 * time.Second,
		retries:        1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

func (g *Gateway) Generate(ctx context.Context, req contractx.ModelRequest) (contractx.ModelResult, error) {
	type stage struct {
		provider Provider
		attempts int
	}
	stages := []stage{{g.primary, 1 + g.retries}}
	if g.fallback != nil {
		stages = append(stages, stage{g.fallback, 1 + g.fallbackRetries})
	}

	result := contractx.ModelResult{Outcome: contractx.OutcomeProviderError}
	var lastErr error
	for _, st := range stages {
		for i := 0; i < st.attempts; i++ {
			if err := ctx.Err(); err != nil {
				return result, fmt.Errorf("%w: %v", contractx.ErrTurnCancelled, err)
			}
			result.Attempts++
			result.Provider = st.provider.Name()

			text, err := g.attempt(ctx, st.provider, req)
			if err == nil {
				result.Text = text
				result.Outcome = contractx.OutcomeOK
				return result, nil
			}
			if ctx.Err() != nil {
				return result, fmt.Errorf("%w: %v", contractx.ErrTurnCancelled, ctx.Err())
			}

			lastErr = err
			result.Outcome = classify(err)
			log.Warn().
				Err(err).
				Str("conversation_id", req.ConversationID).
				Str("provider", st.provider.Name()).
				Int("attempt", result.Attempts).
				Str("outcome", string(result.Outcome)).
				Msg("language model attempt failed")
		}
	}
	return result, fmt.Errorf("%w: %v", contractx.ErrLanguageModelUnavailable, lastErr)
}

type completion struct {
	text string
	err  error
}

func (g *Gateway) attempt(ctx context.Context, p Provider, req contractx.ModelRequest) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	// The provider runs in its own goroutine so one that ignores ctx still cannot
	// hold the turn past the attempt timeout.
	done := make(chan completion, 1)
	go func() {
		text, err := p.Complete(attemptCtx, req)
		done <- completion{text: text, err: err}
	}()

	select {
	case c := <-done:
		if c.err != nil {
			return "", c.err
		}
		if strings.TrimSpace(c.text) == "" {
			return "", errEmptyCompletion
		}
		return c.text, nil
	case <-attemptCtx.Done():
		return "", attemptCtx.Err()
	}
}

var errEmptyCompletion = errors.New("empty completion")

func classify(err error) contractx.ModelOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return contractx.OutcomeTimedOut
	}
	return contractx.OutcomeProviderError
}
