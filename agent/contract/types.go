package contract

import (
	"strings"
	"time"

	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

type Intent string

const (
	IntentContinueOrder     Intent = "ContinueOrder"
	IntentConfirmOrder      Intent = "ConfirmOrder"
	IntentAskMenuQuestion   Intent = "AskMenuQuestion"
	IntentAskHours          Intent = "AskHours"
	IntentBookTable         Intent = "BookTable"
	IntentNeedMoreInfo      Intent = "NeedMoreInfo"
	IntentGoodbye           Intent = "Goodbye"
	IntentOutOfScope        Intent = "OutOfScope"
	IntentAbusiveEndCall    Intent = "AbusiveEndCall"
	IntentNeedClarification Intent = "NeedClarification"
)

// Intents is the closed set a model may emit. NeedClarification is produced locally.
var Intents = []Intent{
	IntentContinueOrder,
	IntentConfirmOrder,
	IntentAskMenuQuestion,
	IntentAskHours,
	IntentBookTable,
	IntentNeedMoreInfo,
	IntentGoodbye,
	IntentOutOfScope,
	IntentAbusiveEndCall,
}

var intentLookup = func() map[string]Intent {
	m := make(map[string]Intent, len(Intents)+1)
	for _, in := range append(Intents, IntentNeedClarification) {
		m[normalizeIntentKey(string(in))] = in
	}
	return m
}()

// ParseIntent maps a model's intent tag onto the closed set, ignoring case,
// spaces, underscores and dashes. Anything else is NeedClarification.
func ParseIntent(raw string) Intent {
	if in, ok := intentLookup[normalizeIntentKey(raw)]; ok {
		return in
	}
	return IntentNeedClarification
}

func normalizeIntentKey(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))
}

// EndsSession reports whether the intent closes the conversation as ABANDONED.
func (i Intent) EndsSession() bool {
	return i == IntentGoodbye || i == IntentAbusiveEndCall
}

// OrderItemPatch sets the quantity of one (item, modifiers) line. Quantity 0 removes it.
type OrderItemPatch struct {
	ItemRef   string   `json:"item_ref"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"`
}

type OrderPatch struct {
	Items           []OrderItemPatch `json:"items,omitempty"`
	FulfillmentType string           `json:"fulfillment_type,omitempty"`
	DeliveryAddress string           `json:"delivery_address,omitempty"`
	CustomerName    string           `json:"customer_name,omitempty"`
	RequestedTime   string           `json:"requested_time,omitempty"`
}

func (p *OrderPatch) IsEmpty() bool {
	return p == nil || (len(p.Items) == 0 && p.FulfillmentType == "" && p.DeliveryAddress == "" &&
		p.CustomerName == "" && p.RequestedTime == "")
}

type BookingPatch struct {
	PartySize       int    `json:"party_size,omitempty"`
	RequestedDate   string `json:"requested_date,omitempty"`
	RequestedTime   string `json:"requested_time,omitempty"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
}

func (p *BookingPatch) IsEmpty() bool {
	return p == nil || (p.PartySize == 0 && p.RequestedDate == "" && p.RequestedTime == "" &&
		p.DurationMinutes == 0 && p.CustomerName == "")
}

// Envelope is the structured result of one model turn after parsing.
type Envelope struct {
	Intent  Intent        `json:"intent"`
	Message string        `json:"message"`
	Order   *OrderPatch   `json:"order,omitempty"`
	Booking *BookingPatch `json:"booking,omitempty"`

	// Conformant is false when the raw output could not be parsed and Message is the raw text.
	Conformant bool `json:"-"`
	// Rejected lists item or modifier references dropped because the menu does not offer them.
	Rejected []string `json:"-"`
	// Unclear lists menu items named with a quantity that could not be read.
	Unclear []string `json:"-"`
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ModelRequest is the bounded, provider-neutral request for one model call.
type ModelRequest struct {
	ConversationID string    `json:"conversation_id"`
	System         string    `json:"system"`
	Messages       []Message `json:"messages"`
}

// Size is the character length used for prompt budgeting.
func (r ModelRequest) Size() int {
	n := len(r.System)
	for _, m := range r.Messages {
		n += len(m.Content)
	}
	return n
}

type ModelOutcome string

const (
	OutcomeOK            ModelOutcome = "ok"
	OutcomeTimedOut      ModelOutcome = "timed_out"
	OutcomeProviderError ModelOutcome = "provider_error"
)

// ModelResult is Ok(text) | TimedOut | ProviderError for the whole gateway call.
type ModelResult struct {
	Text     string       `json:"text,omitempty"`
	Outcome  ModelOutcome `json:"outcome"`
	Provider string       `json:"provider,omitempty"`
	Attempts int          `json:"attempts"`
}

func (r ModelResult) OK() bool {
	return r.Outcome == OutcomeOK
}

type EntryKind string

const (
	EntryTurn    EntryKind = "turn"
	EntryOutcome EntryKind = "outcome"
)

// TranscriptEntry is one append-only line of a conversation's durable log.
type TranscriptEntry struct {
	ConversationID     string             `json:"conversation_id"`
	RestaurantID       string             `json:"restaurant_id,omitempty"`
	Kind               EntryKind          `json:"kind"`
	Speaker            statex.Speaker     `json:"speaker,omitempty"`
	Utterance          string             `json:"utterance,omitempty"`
	Intent             Intent             `json:"intent,omitempty"`
	CommitState        statex.CommitState `json:"commit_state"`
	CommittedReference string             `json:"committed_reference,omitempty"`
	At                 time.Time          `json:"at"`
}

// Confirmation is handed to the notification service after COMMITTED.
type Confirmation struct {
	ConversationID string           `json:"conversation_id"`
	RestaurantID   string           `json:"restaurant_id"`
	Customer       string           `json:"customer"`
	Channel        statex.Channel   `json:"channel"`
	Kind           statex.DraftKind `json:"kind"`
	Reference      string           `json:"reference"`
	Summary        string           `json:"summary"`
}
