package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DialogueState is the per-conversation source of truth.
// It is mutated only by the lease holder for its conversation.
type DialogueState struct {
	// Identity
	ConversationID   string  `json:"conversation_id"`
	Channel          Channel `json:"channel"`
	CustomerIdentity string  `json:"customer_identity"`
	RestaurantKey    string  `json:"restaurant_key"`
	RestaurantID     string  `json:"restaurant_id,omitempty"`

	Turns []Turn `json:"turns,omitempty"` // append-only
	Draft Draft  `json:"draft"`

	CommitState        CommitState `json:"commit_state"`
	CommittedReference string      `json:"committed_reference,omitempty"`

	// PendingCommitFailures counts consecutive failed commit attempts for the current draft.
	PendingCommitFailures int `json:"pending_commit_failures,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelText  Channel = "text"
)

func ParseChannel(raw string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "voice", "call", "phone":
		return ChannelVoice, nil
	case "text", "sms", "chat":
		return ChannelText, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
	}
}

type Speaker string

const (
	SpeakerCustomer Speaker = "customer"
	SpeakerAgent    Speaker = "agent"
)

type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Utterance string    `json:"utterance"`
	Intent    string    `json:"intent,omitempty"`
	At        time.Time `json:"at"`
}

var (
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrDraftLocked     = errors.New("draft is locked after commit")
	ErrTerminalSession = errors.New("session is terminal")
)

func NewDialogueState(conversationID string, channel Channel, customer, restaurantKey string, now time.Time) *DialogueState {
	return &DialogueState{
		ConversationID:   conversationID,
		Channel:          channel,
		CustomerIdentity: customer,
		RestaurantKey:    restaurantKey,
		CommitState:      CommitOpen,
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
}

func (s *DialogueState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *DialogueState) AppendTurn(speaker Speaker, utterance, intent string, now time.Time) {
	s.Turns = append(s.Turns, Turn{
		Speaker:   speaker,
		Utterance: utterance,
		Intent:    intent,
		At:        now.UTC(),
	})
	s.Touch(now)
}

// IsTerminal reports whether the conversation can no longer change its draft.
func (s *DialogueState) IsTerminal() bool {
	return s != nil && s.CommitState.Terminal()
}

// SetDraft replaces the draft. Rejected once the conversation is terminal.
func (s *DialogueState) SetDraft(d Draft) error {
	if s.IsTerminal() {
		return ErrDraftLocked
	}
	s.Draft = d
	return nil
}

// EnsureOrder returns the order draft, replacing any draft of another kind.
func (s *DialogueState) EnsureOrder() (*OrderDraft, error) {
	if s.IsTerminal() {
		return nil, ErrDraftLocked
	}
	if s.Draft.Kind != DraftOrder || s.Draft.Order == nil {
		s.Draft = Draft{Kind: DraftOrder, Order: &OrderDraft{}}
	}
	return s.Draft.Order, nil
}

// EnsureBooking returns the booking draft, replacing any draft of another kind.
func (s *DialogueState) EnsureBooking() (*BookingDraft, error) {
	if s.IsTerminal() {
		return nil, ErrDraftLocked
	}
	if s.Draft.Kind != DraftBooking || s.Draft.Booking == nil {
		s.Draft = Draft{Kind: DraftBooking, Booking: &BookingDraft{}}
	}
	return s.Draft.Booking, nil
}

// ApplyCommit mirrors a commit cell snapshot into the state.
func (s *DialogueState) ApplyCommit(snap CommitSnapshot) {
	s.CommitState = snap.State
	if snap.State == CommitCommitted {
		s.CommittedReference = snap.Reference
	}
}

func (s *DialogueState) Validate() error {
	if strings.TrimSpace(s.ConversationID) == "" {
		return ErrInvalidSession
	}
	if !s.CommitState.Valid() {
		return fmt.Errorf("invalid commit_state=%q", s.CommitState)
	}
	if s.CommitState == CommitCommitted && s.CommittedReference == "" {
		return errors.New("committed state requires committed_reference")
	}
	if s.CommitState != CommitCommitted && s.CommittedReference != "" {
		return errors.New("committed_reference set without committed state")
	}
	return s.Draft.Validate()
}
