package turnnode

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

// Finalize appends the turn to the history, writes the transcript and sends the
// confirmation. Side channels never fail the turn.
func Finalize(ctx context.Context, in *GraphState, deps Deps) (GraphOutput, error) {
	if in == nil || in.Session == nil || in.Cell == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	reply := strings.TrimSpace(in.Reply)
	if reply == "" {
		reply = MsgClarify
	}
	in.Session.ApplyCommit(in.Cell.Snapshot())

	intent := in.Envelope.Intent
	if utterance := strings.TrimSpace(in.Input.Utterance); utterance != "" {
		in.Session.AppendTurn(statex.SpeakerCustomer, utterance, string(intent), in.Now)
	}
	in.Session.AppendTurn(statex.SpeakerAgent, reply, "", in.Now)

	sideCtx := context.WithoutCancel(ctx)
	// replays of an already terminal conversation add no second outcome line
	outcome := in.Ended && in.Outcome != "replayed" && in.Outcome != "closed"
	RecordTurn(sideCtx, deps.Recorder, in.Session, in.Input.Utterance, intent, reply, in.Now, outcome)

	if in.Committed != nil && !in.Committed.Replayed && deps.Notifier != nil {
		currency := ""
		if in.Tenant != nil {
			currency = in.Tenant.Policy.CurrencySymbol
		}
		c := contractx.Confirmation{
			ConversationID: in.Session.ConversationID,
			RestaurantID:   in.Session.RestaurantID,
			Customer:       in.Session.CustomerIdentity,
			Channel:        in.Session.Channel,
			Kind:           in.Session.Draft.Kind,
			Reference:      in.Committed.Reference,
			Summary:        confirmationSummary(in.Session, currency),
		}
		if err := deps.Notifier.Notify(sideCtx, c); err != nil {
			log.Warn().Err(err).Str("conversation_id", c.ConversationID).Msg("confirmation notification failed")
		}
	}

	log.Info().
		Str("conversation_id", in.Session.ConversationID).
		Str("restaurant", in.Session.RestaurantID).
		Str("intent", string(intent)).
		Str("outcome", in.Outcome).
		Str("commit_state", string(in.Session.CommitState)).
		Bool("ended", in.Ended).
		Msg("turn handled")

	return GraphOutput{Text: reply, Ended: in.Ended}, nil
}

// RecordTurn writes the customer and agent lines, plus an outcome line when asked.
// Failures are logged only.
func RecordTurn(ctx context.Context, rec contractx.Recorder, st *statex.DialogueState, utterance string, intent contractx.Intent, reply string, now time.Time, outcome bool) {
	if rec == nil || st == nil {
		return
	}
	base := contractx.TranscriptEntry{
		ConversationID: st.ConversationID,
		RestaurantID:   st.RestaurantID,
		Kind:           contractx.EntryTurn,
		CommitState:    st.CommitState,
		At:             now.UTC(),
	}
	var entries []contractx.TranscriptEntry
	if u := strings.TrimSpace(utterance); u != "" {
		e := base
		e.Speaker, e.Utterance, e.Intent = statex.SpeakerCustomer, u, intent
		entries = append(entries, e)
	}
	if reply != "" {
		e := base
		e.Speaker, e.Utterance = statex.SpeakerAgent, reply
		entries = append(entries, e)
	}
	if outcome {
		e := base
		e.Kind = contractx.EntryOutcome
		e.CommittedReference = st.CommittedReference
		entries = append(entries, e)
	}
	for _, e := range entries {
		if err := rec.Record(ctx, e); err != nil {
			log.Warn().Err(err).Str("conversation_id", e.ConversationID).Str("kind", string(e.Kind)).Msg("transcript write failed")
		}
	}
}
