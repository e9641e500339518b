package turnnode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanpawarit/chative-restaurant-agent/agent/commit"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/prompt"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

// commitAttempts is how many times one confirmation tries the ledger before the
// customer hears an apology.
const commitAttempts = 2

func commitDraft(ctx context.Context, in *GraphState, committer Committer) (commit.Result, error) {
	req := commit.Request{
		RestaurantID: in.Tenant.RestaurantID,
		Customer:     in.Session.CustomerIdentity,
		Channel:      in.Session.Channel,
		Draft:        in.Session.Draft.Clone(),
	}
	var (
		res commit.Result
		err error
	)
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		res, err = committer.Commit(ctx, in.Input.ConversationID, req)
		if err == nil || !errors.Is(err, contractx.ErrCommitPersistence) {
			break
		}
		log.Warn().Err(err).Str("conversation_id", in.Input.ConversationID).Int("attempt", attempt).Msg("commit attempt failed")
	}
	return res, err
}

// settleCommit turns a commit outcome into the turn's reply. Availability conflicts are
// handled by the caller before this is reached.
func settleCommit(in *GraphState, res commit.Result, err error) error {
	switch {
	case err == nil:
		in.Session.ApplyCommit(in.Cell.Snapshot())
		in.Session.PendingCommitFailures = 0
		in.Committed = &res
		if in.Session.Draft.Kind == statex.DraftBooking {
			in.finish(bookingConfirmedMessage(res.Reference, in.Session.Draft.Booking), "committed")
		} else {
			in.finish(orderConfirmedMessage(res.Reference, in.Session.Draft.Order, in.Tenant.Policy.CurrencySymbol), "committed")
		}
		in.Ended = true
		return nil
	case errors.Is(err, contractx.ErrTurnCancelled):
		return err
	case errors.Is(err, contractx.ErrSessionAbandoned):
		in.finish(MsgSessionClosed, "abandoned")
		in.Ended = true
		return nil
	case errors.Is(err, contractx.ErrCommitPersistence):
		in.Session.PendingCommitFailures++
		in.finish(MsgCommitFailed, "commit_failed")
		return nil
	case errors.Is(err, contractx.ErrValidation):
		log.Error().Err(err).Str("conversation_id", in.Input.ConversationID).Msg("draft rejected by ledger")
		in.finish(MsgClarify, "invalid_draft")
		return nil
	default:
		return fmt.Errorf("settle commit: %w", err)
	}
}

// confirmationSummary is the short human-readable body sent with the notification.
func confirmationSummary(st *statex.DialogueState, currency string) string {
	switch st.Draft.Kind {
	case statex.DraftOrder:
		o := st.Draft.Order
		if o == nil {
			return ""
		}
		parts := make([]string, 0, len(o.Items))
		for _, l := range o.Items {
			parts = append(parts, fmt.Sprintf("%dx %s", l.Quantity, l.Name))
		}
		summary := strings.Join(parts, ", ") + "; " + string(o.FulfillmentType)
		if o.FulfillmentType == statex.FulfillmentDelivery {
			summary += " to " + o.DeliveryAddress
		}
		return summary + "; total " + prompt.FormatMoney(currency, o.Total)
	case statex.DraftBooking:
		b := st.Draft.Booking
		if b == nil {
			return ""
		}
		return fmt.Sprintf("table %s for %d at %s", b.AssignedTable, b.PartySize, b.Start.Format("2006-01-02 15:04"))
	default:
		return ""
	}
}
