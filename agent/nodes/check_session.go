package turnnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

// CheckSession short-circuits turns that need no model call: terminal conversations
// replay their outcome and blank utterances get a re-prompt.
func CheckSession(in *GraphState) (*GraphState, error) {
	if in == nil || in.Session == nil || in.Cell == nil {
		return nil, fmt.Errorf("%w: graph session is nil", contractx.ErrValidation)
	}

	in.Session.ApplyCommit(in.Cell.Snapshot())
	switch in.Session.CommitState {
	case statex.CommitCommitted:
		in.finish(committedReplayMessage(in.Session), "replayed")
		in.Ended = true
		return in, nil
	case statex.CommitAbandoned:
		in.finish(MsgSessionClosed, "closed")
		in.Ended = true
		return in, nil
	}

	if strings.TrimSpace(in.Input.Utterance) == "" {
		in.finish(MsgClarify, "empty_utterance")
	}
	return in, nil
}

// Next routes to finalize once a node has decided the reply, otherwise to next.
func Next(in *GraphState, next string) string {
	if in == nil || in.Done {
		return RouteFinalize
	}
	return next
}
