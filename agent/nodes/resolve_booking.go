package turnnode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/parser"
	"github.com/tanpawarit/chative-restaurant-agent/agent/resolver"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

// ResolveBooking allocates a table for a complete booking draft and commits it, or
// offers nearby alternatives.
func ResolveBooking(ctx context.Context, in *GraphState, deps Deps) (*GraphState, error) {
	if in == nil || in.Session == nil || in.Tenant == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}

	b, err := in.Session.EnsureBooking()
	if err != nil {
		return nil, err
	}
	policy := in.Tenant.Policy
	if b.DurationMin <= 0 {
		b.DurationMin = int(policy.DefaultDuration() / time.Minute)
	}
	if missing := b.MissingFields(); len(missing) > 0 {
		in.finish(missingPrompt(missing[0]), "missing_fields")
		return in, nil
	}

	start, err := parser.BookingStart(b.RequestedDate, b.RequestedTime, in.location())
	if err != nil {
		b.RequestedTime = ""
		in.finish(missingPrompt("requested_time"), "missing_fields")
		return in, nil
	}

	// a lost race rebuilds the picture from the ledger once before giving up
	for round := 0; round < 2; round++ {
		fresh, err := deps.Tenants.LoadFresh(ctx, in.Input.RestaurantKey)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", contractx.ErrTurnCancelled, ctx.Err())
			}
			log.Error().Err(err).Str("conversation_id", in.Input.ConversationID).Msg("fresh tenant context load failed")
			in.finish(MsgCommitFailed, "tenant_unavailable")
			return in, nil
		}
		in.Tenant = fresh

		result, err := deps.Resolver.ResolveBooking(fresh, resolver.BookingRequest{
			PartySize: b.PartySize,
			Start:     start,
			Duration:  b.Duration(),
		})
		if err != nil {
			log.Warn().Err(err).Str("conversation_id", in.Input.ConversationID).Msg("booking request rejected")
			in.finish(MsgClarify, "invalid_booking")
			return in, nil
		}
		if !result.Assigned() {
			b.AssignedTable, b.Start = "", time.Time{}
			in.finish(alternativesReply(in, b, result), "alternatives")
			return in, nil
		}

		b.AssignedTable = result.Table.ID
		b.Start = result.Start
		res, err := commitDraft(ctx, in, deps.Commits)
		if errors.Is(err, contractx.ErrAvailabilityConflict) {
			log.Info().Str("conversation_id", in.Input.ConversationID).Str("table", b.AssignedTable).Msg("table taken by a concurrent booking, re-resolving")
			b.AssignedTable, b.Start = "", time.Time{}
			continue
		}
		if err := settleCommit(in, res, err); err != nil {
			return nil, err
		}
		return in, nil
	}

	in.finish(alternativesReply(in, b, resolver.BookingResult{Outcome: resolver.OutcomeUnavailable, Start: start}), "alternatives")
	return in, nil
}

func alternativesReply(in *GraphState, b *statex.BookingDraft, result resolver.BookingResult) string {
	loc := in.location()
	when := result.Start.In(loc).Format("3:04 PM")
	var reason string
	switch result.Outcome {
	case resolver.OutcomePartyTooLarge:
		return MsgPartyTooLarge
	case resolver.OutcomeClosed:
		reason = fmt.Sprintf("Sorry, we can't seat you at %s because we're closed then.", when)
	case resolver.OutcomeInPast:
		reason = "Sorry, that time has already passed."
	case resolver.OutcomeRuleRejected:
		reason = fmt.Sprintf("Sorry, we can't take a booking for %d at %s.", b.PartySize, when)
	default:
		reason = fmt.Sprintf("Sorry, we don't have a table for %d at %s.", b.PartySize, when)
	}
	alts := make([]time.Time, 0, len(result.Alternatives))
	for _, t := range result.Alternatives {
		alts = append(alts, t.In(loc))
	}
	return alternativesMessage(reason, alts)
}
