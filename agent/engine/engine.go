package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	nodex "github.com/tanpawarit/chative-restaurant-agent/agent/nodes"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

type Config struct {
	TurnTimeout time.Duration `split_words:"true" default:"30s"`
}

// Engine is the conversational transaction engine: one HandleTurn per customer
// utterance, strictly sequential within a conversation and independent across them.
type Engine struct {
	registry *statex.Registry
	deps     nodex.Deps
	runner   compose.Runnable[*nodex.GraphState, nodex.GraphOutput]

	turnTimeout time.Duration
	now         func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(registry *statex.Registry, deps nodex.Deps, cfg Config, opts ...Option) (*Engine, error) {
	switch {
	case registry == nil:
		return nil, errors.New("session registry is required")
	case deps.Tenants == nil:
		return nil, errors.New("tenant loader is required")
	case deps.Assembler == nil:
		return nil, errors.New("prompt assembler is required")
	case deps.Model == nil:
		return nil, errors.New("language model gateway is required")
	case deps.Parser == nil:
		return nil, errors.New("envelope parser is required")
	case deps.Resolver == nil:
		return nil, errors.New("resolver is required")
	case deps.Commits == nil:
		return nil, errors.New("commit service is required")
	}

	e := &Engine{
		registry:    registry,
		deps:        deps,
		turnTimeout: cfg.TurnTimeout,
		now:         time.Now,
	}
	if e.turnTimeout <= 0 {
		e.turnTimeout = 30 * time.Second
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	runner, err := e.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	e.runner = runner
	return e, nil
}

// HandleTurn processes one utterance and returns what to say and whether the
// transport should end the session. Customer-facing failures come back as polite
// text with a nil error; the error is reserved for malformed requests and callers
// that went away.
func (e *Engine) HandleTurn(
	ctx context.Context,
	conversationID string,
	channel statex.Channel,
	restaurantKey string,
	customer string,
	utterance string,
) (string, bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", false, fmt.Errorf("%w: conversation id is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(restaurantKey) == "" {
		return "", false, fmt.Errorf("%w: restaurant identity is required", contractx.ErrValidation)
	}
	if channel == "" {
		channel = statex.ChannelText
	}

	lease, err := e.registry.Acquire(ctx, statex.Key{
		ConversationID: conversationID,
		Channel:        channel,
		Customer:       customer,
		RestaurantKey:  restaurantKey,
	})
	if err != nil {
		return "", false, fmt.Errorf("acquire conversation %s: %w", conversationID, err)
	}
	defer lease.Release()

	turnCtx, cancel := context.WithTimeout(lease.Context(), e.turnTimeout)
	defer cancel()

	now := e.now()
	out, err := e.runner.Invoke(turnCtx, &nodex.GraphState{
		Input: nodex.GraphInput{
			ConversationID: conversationID,
			Channel:        channel,
			RestaurantKey:  restaurantKey,
			Customer:       customer,
			Utterance:      utterance,
		},
		Now:     now,
		Session: lease.State,
		Cell:    lease.Cell,
	})
	if err == nil {
		return out.Text, out.Ended, nil
	}

	if lease.Cell.Snapshot().State == statex.CommitAbandoned {
		// the transport ended the session while this turn was in flight
		lease.State.ApplyCommit(lease.Cell.Snapshot())
		lease.State.AppendTurn(statex.SpeakerCustomer, strings.TrimSpace(utterance), "", now)
		nodex.RecordTurn(context.WithoutCancel(ctx), e.deps.Recorder, lease.State, utterance, "", "", now, true)
		log.Info().Str("conversation_id", conversationID).Msg("turn abandoned by session end")
		return "", true, nil
	}
	if ctx.Err() != nil {
		return "", false, fmt.Errorf("%w: %v", contractx.ErrTurnCancelled, ctx.Err())
	}

	log.Error().Err(err).Str("conversation_id", conversationID).Str("restaurant_key", restaurantKey).Msg("turn failed")
	lease.State.AppendTurn(statex.SpeakerCustomer, strings.TrimSpace(utterance), "", now)
	lease.State.AppendTurn(statex.SpeakerAgent, nodex.MsgModelUnavailable, "", now)
	nodex.RecordTurn(context.WithoutCancel(ctx), e.deps.Recorder, lease.State, utterance, "", nodex.MsgModelUnavailable, now, false)
	return nodex.MsgModelUnavailable, false, nil
}

// EndSession handles the transport's end signal: an in-flight turn is cancelled and
// an OPEN conversation becomes ABANDONED. It reports the resulting commit state.
func (e *Engine) EndSession(ctx context.Context, conversationID string) (statex.CommitState, bool) {
	snap, ok := e.registry.End(ctx, conversationID)
	if !ok {
		return "", false
	}
	if st, resident := e.registry.Snapshot(conversationID); resident {
		st.ApplyCommit(snap)
		nodex.RecordTurn(context.WithoutCancel(ctx), e.deps.Recorder, &st, "", "", "", e.now(), true)
	}
	log.Info().Str("conversation_id", conversationID).Str("commit_state", string(snap.State)).Msg("session ended")
	return snap.State, true
}

// HandleEviction is the registry's eviction hook. Inactivity is silent to the customer
// and only leaves an outcome line in the transcript.
func (e *Engine) HandleEviction(ev statex.Eviction) {
	if ev.Reason == statex.EvictInactivity {
		log.Info().
			Err(contractx.ErrInactivityTimeout).
			Str("conversation_id", ev.State.ConversationID).
			Str("commit_state", string(ev.State.CommitState)).
			Msg("session evicted")
		st := ev.State
		nodex.RecordTurn(context.Background(), e.deps.Recorder, &st, "", "", "", e.now(), true)
	}
}
