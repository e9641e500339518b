package turnnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/prompt"
)

func AssemblePrompt(ctx context.Context, in *GraphState, assembler PromptAssembler) (*GraphState, error) {
	if in == nil || in.Tenant == nil {
		return nil, fmt.Errorf("%w: tenant context is nil", contractx.ErrValidation)
	}

	req, err := assembler.Assemble(ctx, prompt.Input{
		State:     in.Session,
		Tenant:    in.Tenant,
		Utterance: in.Input.Utterance,
		Now:       in.Now,
		Notes:     in.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble prompt: %w", err)
	}
	in.Request = req
	return in, nil
}
