package turnnode

import (
	"context"
	"time"

	"github.com/tanpawarit/chative-restaurant-agent/agent/commit"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/parser"
	"github.com/tanpawarit/chative-restaurant-agent/agent/prompt"
	"github.com/tanpawarit/chative-restaurant-agent/agent/resolver"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

// Route names used by the turn graph's branches.
const (
	RouteFinalize       = "finalize"
	RouteLoadContext    = "load_context"
	RouteAssemblePrompt = "assemble_prompt"
	RouteParseEnvelope  = "parse_envelope"
	RouteConfirmOrder   = "confirm_order"
	RouteResolveBooking = "resolve_booking"
)

type GraphInput struct {
	ConversationID string
	Channel        statex.Channel
	RestaurantKey  string
	Customer       string
	Utterance      string
}

type GraphOutput struct {
	Text  string
	Ended bool
}

// GraphState is threaded through every node of one turn. The session it points to is
// owned by the caller's lease for the duration of the turn.
type GraphState struct {
	Input   GraphInput
	Now     time.Time
	Session *statex.DialogueState
	Cell    *statex.CommitCell

	Tenant   *tenantx.Context
	Notes    []string
	Request  contractx.ModelRequest
	Result   contractx.ModelResult
	Envelope contractx.Envelope

	Reply string
	Ended bool
	// Done means the reply is decided and the remaining steps are skipped.
	Done bool
	// Outcome is a short tag for logs and tests, e.g. "committed" or "alternatives".
	Outcome   string
	Committed *commit.Result
}

func (s *GraphState) location() *time.Location {
	if s.Tenant == nil || s.Tenant.Location == nil {
		return time.UTC
	}
	return s.Tenant.Location
}

func (s *GraphState) finish(reply, outcome string) {
	s.Reply = reply
	s.Outcome = outcome
	s.Done = true
}

type TenantLoader interface {
	Load(ctx context.Context, routingKey string) (*tenantx.Context, error)
	LoadFresh(ctx context.Context, routingKey string) (*tenantx.Context, error)
}

type PromptAssembler interface {
	Assemble(ctx context.Context, in prompt.Input) (contractx.ModelRequest, error)
}

type EnvelopeParser interface {
	Parse(in parser.Input) (contractx.Envelope, error)
}

type Allocator interface {
	ResolveBooking(tc *tenantx.Context, req resolver.BookingRequest) (resolver.BookingResult, error)
	RevalidateOrder(menu tenantx.MenuContext, draft *statex.OrderDraft) resolver.OrderRevalidation
}

type Committer interface {
	Commit(ctx context.Context, conversationID string, req commit.Request) (commit.Result, error)
}

// Deps are the collaborators the nodes call. Every field is required except Recorder
// and Notifier.
type Deps struct {
	Tenants   TenantLoader
	Assembler PromptAssembler
	Model     contractx.Generator
	Parser    EnvelopeParser
	Resolver  Allocator
	Commits   Committer
	Recorder  contractx.Recorder
	Notifier  contractx.Notifier
}
