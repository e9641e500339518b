package commit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/ledger"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

// CellSource hands out the per-conversation commit cell. *state.Registry satisfies it.
type CellSource interface {
	CommitCell(conversationID string) *statex.CommitCell
}

type Request struct {
	RestaurantID string
	Customer     string
	Channel      statex.Channel
	Draft        statex.Draft
}

type Result struct {
	Reference string
	// Replayed is true when the reference came from an earlier or concurrent commit.
	Replayed bool
	Record   *ledger.Record
}

type Option func(*Service)

// WithWriteTimeout bounds the ledger write once a commit is in flight.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// Service performs the exactly-once write of a confirmed draft. Within a process the
// commit cell admits one committer per conversation; across processes the ledger's
// unique conversation_id does.
type Service struct {
	cells        CellSource
	ledger       ledger.Ledger
	writeTimeout time.Duration
}

func NewService(cells CellSource, l ledger.Ledger, opts ...Option) *Service {
	s := &Service{cells: cells, ledger: l, writeTimeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Commit returns the durable reference for the conversation's confirmed draft.
// Losers of a concurrent race wait for the winner and get its result, error included.
func (s *Service) Commit(ctx context.Context, conversationID string, req Request) (Result, error) {
	if conversationID == "" {
		return Result{}, fmt.Errorf("%w: conversation id is required", contractx.ErrValidation)
	}

	cell := s.cells.CommitCell(conversationID)
	claim, err := cell.Claim()
	if errors.Is(err, statex.ErrTerminalSession) {
		return Result{}, fmt.Errorf("%w: conversation %s", contractx.ErrSessionAbandoned, conversationID)
	}
	if err != nil {
		return Result{}, err
	}
	if !claim.Owner {
		ref, err := claim.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("%w: %v", contractx.ErrTurnCancelled, err)
			}
			return Result{}, err
		}
		return Result{Reference: ref, Replayed: true}, nil
	}

	// The write outlives a hang-up: once in flight it either lands or reverts the cell.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	rec, created, err := s.ledger.Commit(writeCtx, ledger.CommitRequest{
		ConversationID: conversationID,
		RestaurantID:   req.RestaurantID,
		Customer:       req.Customer,
		Channel:        req.Channel,
		Draft:          req.Draft,
	})
	if err != nil {
		err = classify(err)
		if rerr := cell.Resolve(claim, "", err); rerr != nil {
			log.Error().Err(rerr).Str("conversation_id", conversationID).Msg("commit cell resolve failed")
		}
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("commit failed, conversation back to OPEN")
		return Result{}, err
	}

	if rerr := cell.Resolve(claim, rec.Reference, nil); rerr != nil {
		log.Error().Err(rerr).Str("conversation_id", conversationID).Msg("commit cell resolve failed")
	}
	log.Info().
		Str("conversation_id", conversationID).
		Str("restaurant", req.RestaurantID).
		Str("kind", string(rec.Kind)).
		Str("reference", rec.Reference).
		Bool("created", created).
		Msg("draft committed")
	return Result{Reference: rec.Reference, Replayed: !created, Record: &rec}, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ledger.ErrSlotTaken):
		return fmt.Errorf("%w: %w", contractx.ErrAvailabilityConflict, err)
	case errors.Is(err, ledger.ErrInvalidDraft):
		return fmt.Errorf("%w: %w", contractx.ErrValidation, err)
	default:
		return fmt.Errorf("%w: %w", contractx.ErrCommitPersistence, err)
	}
}
