package turnnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

func LoadContext(ctx context.Context, in *GraphState, loader TenantLoader) (*GraphState, error) {
	if in == nil || in.Session == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	tc, err := loader.Load(ctx, in.Input.RestaurantKey)
	switch {
	case err == nil:
	case errors.Is(err, contractx.ErrTenantNotFound):
		// nothing can be grounded for this line; end the session politely
		in.Cell.Abandon()
		in.finish(MsgTenantNotFound, "tenant_not_found")
		in.Ended = true
		return in, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", contractx.ErrTurnCancelled, ctx.Err())
	default:
		log.Error().Err(err).Str("conversation_id", in.Input.ConversationID).Str("restaurant_key", in.Input.RestaurantKey).Msg("tenant context load failed")
		in.finish(MsgModelUnavailable, "tenant_unavailable")
		return in, nil
	}

	in.Tenant = tc
	in.Session.RestaurantID = tc.RestaurantID
	if !tc.Hours.IsZero() && !tc.Hours.OpenAt(in.Now.In(in.location())) {
		in.Notes = append(in.Notes, "The restaurant is closed right now. Orders for later and future bookings are still possible.")
	}
	return in, nil
}
