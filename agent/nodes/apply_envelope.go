package turnnode

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

// ApplyEnvelope merges the parsed patches into the draft and decides the reply for
// intents that need no resolver or commit.
func ApplyEnvelope(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil || in.Tenant == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}
	env := in.Envelope

	switch env.Intent {
	case contractx.IntentGoodbye:
		in.Cell.Abandon()
		in.finish(messageOr(env, MsgGoodbye), "goodbye")
		in.Ended = true
		return in, nil
	case contractx.IntentAbusiveEndCall:
		in.Cell.Abandon()
		in.finish(MsgAbusive, "abusive")
		in.Ended = true
		return in, nil
	case contractx.IntentOutOfScope:
		in.finish(messageOr(env, MsgOutOfScope), "out_of_scope")
		return in, nil
	}

	if !env.Order.IsEmpty() {
		rejected, err := applyOrderPatch(in.Session, in.Tenant, env.Order)
		if err != nil {
			return nil, err
		}
		env.Rejected = append(env.Rejected, rejected...)
		if env.Order.FulfillmentType == string(statex.FulfillmentDelivery) && !in.Tenant.Policy.DeliveryEnabled {
			in.finish(MsgDeliveryDisabled, "delivery_disabled")
			return in, nil
		}
	}
	if !env.Booking.IsEmpty() {
		if err := applyBookingPatch(in.Session, env.Booking); err != nil {
			return nil, err
		}
	}

	if len(env.Rejected) > 0 {
		in.finish(unknownItemsMessage(env.Rejected), "unknown_items")
		return in, nil
	}
	if len(env.Unclear) > 0 {
		in.finish(quantityQuestion(env.Unclear), "unclear_quantity")
		return in, nil
	}

	switch env.Intent {
	case contractx.IntentConfirmOrder, contractx.IntentBookTable:
		// reply comes from the resolver or commit step
		in.Outcome = string(env.Intent)
	default:
		in.Reply = messageOr(env, MsgClarify)
		in.Outcome = string(env.Intent)
	}
	return in, nil
}

// RouteAfterApply picks the step that finishes the turn.
func RouteAfterApply(in *GraphState) string {
	if in == nil || in.Done {
		return RouteFinalize
	}
	switch in.Envelope.Intent {
	case contractx.IntentBookTable:
		return RouteResolveBooking
	case contractx.IntentConfirmOrder:
		if in.Session.Draft.Kind == statex.DraftBooking {
			return RouteResolveBooking
		}
		return RouteConfirmOrder
	default:
		return RouteFinalize
	}
}

func applyOrderPatch(st *statex.DialogueState, tc *tenantx.Context, patch *contractx.OrderPatch) ([]string, error) {
	order, err := st.EnsureOrder()
	if err != nil {
		return nil, err
	}

	var rejected []string
	for _, p := range patch.Items {
		item, ok := tc.Menu.Find(p.ItemRef)
		if !ok {
			rejected = append(rejected, p.ItemRef)
			continue
		}
		mods := statex.NormalizeModifiers(p.Modifiers)
		price, ok := item.UnitPrice(mods)
		if !ok {
			rejected = append(rejected, item.Name)
			continue
		}
		order.Upsert(statex.OrderLine{
			ItemRef:   item.ID,
			Name:      item.Name,
			Quantity:  p.Quantity,
			Modifiers: mods,
			UnitPrice: price,
		})
	}

	switch statex.FulfillmentType(patch.FulfillmentType) {
	case statex.FulfillmentPickup:
		order.FulfillmentType = statex.FulfillmentPickup
	case statex.FulfillmentDelivery:
		if tc.Policy.DeliveryEnabled {
			order.FulfillmentType = statex.FulfillmentDelivery
		}
	}
	if patch.DeliveryAddress != "" {
		order.DeliveryAddress = patch.DeliveryAddress
	}
	if patch.CustomerName != "" {
		order.CustomerName = patch.CustomerName
	}
	if patch.RequestedTime != "" {
		order.RequestedTime = patch.RequestedTime
	}
	st.PendingCommitFailures = 0
	return rejected, nil
}

func applyBookingPatch(st *statex.DialogueState, patch *contractx.BookingPatch) error {
	b, err := st.EnsureBooking()
	if err != nil {
		return err
	}
	changed := false
	if patch.PartySize > 0 && patch.PartySize != b.PartySize {
		b.PartySize, changed = patch.PartySize, true
	}
	if patch.RequestedDate != "" && patch.RequestedDate != b.RequestedDate {
		b.RequestedDate, changed = patch.RequestedDate, true
	}
	if patch.RequestedTime != "" && patch.RequestedTime != b.RequestedTime {
		b.RequestedTime, changed = patch.RequestedTime, true
	}
	if patch.DurationMinutes > 0 && patch.DurationMinutes != b.DurationMin {
		b.DurationMin, changed = patch.DurationMinutes, true
	}
	if name := strings.TrimSpace(patch.CustomerName); name != "" {
		b.CustomerName = name
	}
	if changed {
		// any earlier allocation no longer matches the request
		b.AssignedTable = ""
		b.Start = time.Time{}
		st.PendingCommitFailures = 0
	}
	return nil
}

func messageOr(env contractx.Envelope, fallback string) string {
	if m := strings.TrimSpace(env.Message); m != "" {
		return m
	}
	return fallback
}
