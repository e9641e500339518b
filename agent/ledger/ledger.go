package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/lithammer/shortuuid/v4"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

var (
	ErrSlotTaken          = errors.New("table slot already booked")
	ErrReferenceCollision = errors.New("could not allocate a unique reference")
	ErrNotFound           = errors.New("commit record not found")
	ErrInvalidDraft       = errors.New("draft cannot be committed")
)

// referenceAlphabet avoids glyphs that are easy to mishear or misread (0/O, 1/I).
const referenceAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Ledger is the durable order/booking store. Commit inserts at most one record per
// conversation id; a repeated commit returns the existing record.
type Ledger interface {
	Commit(ctx context.Context, req CommitRequest) (Record, bool, error)
	ByConversation(ctx context.Context, conversationID string) (Record, error)
	tenantx.BookingReader
}

type CommitRequest struct {
	ConversationID string
	RestaurantID   string
	Customer       string
	Channel        statex.Channel
	Draft          statex.Draft
}

type Record struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	RestaurantID   string           `json:"restaurant_id"`
	Kind           statex.DraftKind `json:"kind"`
	Reference      string           `json:"reference"`
	Customer       string           `json:"customer"`
	Channel        statex.Channel   `json:"channel"`
	DraftDigest    string           `json:"draft_digest"`
	Payload        json.RawMessage  `json:"payload"`
	TableID        string           `json:"table_id,omitempty"`
	StartsAt       time.Time        `json:"starts_at,omitempty"`
	EndsAt         time.Time        `json:"ends_at,omitempty"`
	Total          int64            `json:"total"`
	CreatedAt      time.Time        `json:"created_at"`
}

func (r Record) Booking() tenantx.Booking {
	return tenantx.Booking{
		TableID:        r.TableID,
		Start:          r.StartsAt,
		Duration:       r.EndsAt.Sub(r.StartsAt),
		ConversationID: r.ConversationID,
		Reference:      r.Reference,
	}
}

// prepare validates the draft and fills everything but ID, Reference and CreatedAt.
func prepare(req CommitRequest) (Record, error) {
	if strings.TrimSpace(req.ConversationID) == "" {
		return Record{}, fmt.Errorf("%w: conversation id is required", ErrInvalidDraft)
	}
	if strings.TrimSpace(req.RestaurantID) == "" {
		return Record{}, fmt.Errorf("%w: restaurant id is required", ErrInvalidDraft)
	}

	rec := Record{
		ConversationID: req.ConversationID,
		RestaurantID:   req.RestaurantID,
		Kind:           req.Draft.Kind,
		Customer:       req.Customer,
		Channel:        req.Channel,
	}
	var payload any
	switch req.Draft.Kind {
	case statex.DraftOrder:
		o := req.Draft.Order
		if o.IsEmpty() {
			return Record{}, fmt.Errorf("%w: order has no items", ErrInvalidDraft)
		}
		if err := o.Validate(); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
		}
		rec.Total = o.Total
		payload = o
	case statex.DraftBooking:
		b := req.Draft.Booking
		if b == nil || b.AssignedTable == "" || b.Start.IsZero() || b.DurationMin <= 0 {
			return Record{}, fmt.Errorf("%w: booking is not allocated", ErrInvalidDraft)
		}
		rec.TableID = b.AssignedTable
		rec.StartsAt = b.Start.UTC()
		rec.EndsAt = b.Start.Add(b.Duration()).UTC()
		payload = b
	default:
		return Record{}, fmt.Errorf("%w: nothing to commit", ErrInvalidDraft)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal draft: %w", err)
	}
	digest, err := Digest(raw)
	if err != nil {
		return Record{}, err
	}
	rec.Payload = raw
	rec.DraftDigest = digest
	return rec, nil
}

// Digest is the sha256 of the RFC 8785 canonical form of a JSON document.
func Digest(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize draft: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NewReference returns a short speakable reference such as "ORD-7K3M9QXA".
func NewReference(kind statex.DraftKind) string {
	prefix := "ORD-"
	if kind == statex.DraftBooking {
		prefix = "BKG-"
	}
	id := shortuuid.NewWithAlphabet(referenceAlphabet)
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return prefix + id
}
