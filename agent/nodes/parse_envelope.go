package turnnode

import (
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/parser"
)

func ParseEnvelope(in *GraphState, p EnvelopeParser) (*GraphState, error) {
	if in == nil || in.Tenant == nil {
		return nil, fmt.Errorf("%w: tenant context is nil", contractx.ErrValidation)
	}

	env, err := p.Parse(parser.Input{Raw: in.Result.Text, Menu: in.Tenant.Menu, Now: in.Now.In(in.location())})
	if err != nil {
		log.Debug().Err(err).Str("conversation_id", in.Input.ConversationID).Msg("model output not conformant, asking for clarification")
	}
	in.Envelope = env
	return in, nil
}
