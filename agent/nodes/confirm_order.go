package turnnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

// ConfirmOrder revalidates the order against a fresh menu and commits it.
func ConfirmOrder(ctx context.Context, in *GraphState, deps Deps) (*GraphState, error) {
	if in == nil || in.Session == nil || in.Tenant == nil {
		return nil, fmt.Errorf("%w: graph state is incomplete", contractx.ErrValidation)
	}

	order := in.Session.Draft.Order
	if in.Session.Draft.Kind != statex.DraftOrder || order.IsEmpty() {
		in.finish(missingPrompt("items"), "missing_fields")
		return in, nil
	}
	if order.FulfillmentType == statex.FulfillmentDelivery && !in.Tenant.Policy.DeliveryEnabled {
		in.finish(MsgDeliveryDisabled, "delivery_disabled")
		return in, nil
	}
	if missing := order.MissingFields(); len(missing) > 0 {
		in.finish(missingPrompt(missing[0]), "missing_fields")
		return in, nil
	}

	// availability and prices may have changed since the items were added
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

	rv := deps.Resolver.RevalidateOrder(fresh.Menu, order)
	in.Session.Draft.Order = rv.Order
	if !rv.Clean() {
		in.finish(removedItemsMessage(rv.Removed), "items_removed")
		return in, nil
	}
	if rv.Repriced {
		log.Info().Str("conversation_id", in.Input.ConversationID).Int64("total", rv.Order.Total).Msg("order repriced from live menu")
	}

	res, err := commitDraft(ctx, in, deps.Commits)
	if err := settleCommit(in, res, err); err != nil {
		return nil, err
	}
	return in, nil
}
