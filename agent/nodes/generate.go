package turnnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

func Generate(ctx context.Context, in *GraphState, model contractx.Generator) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	res, err := model.Generate(ctx, in.Request)
	in.Result = res
	switch {
	case err == nil && res.OK():
		return in, nil
	case errors.Is(err, contractx.ErrTurnCancelled) || ctx.Err() != nil:
		return nil, fmt.Errorf("%w: model call abandoned", contractx.ErrTurnCancelled)
	default:
		// the conversation stays OPEN so the customer can simply try again
		log.Warn().Err(err).
			Str("conversation_id", in.Input.ConversationID).
			Str("outcome", string(res.Outcome)).
			Int("attempts", res.Attempts).
			Msg("language model unavailable")
		in.finish(MsgModelUnavailable, "model_unavailable")
		return in, nil
	}
}
