package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

// MemoryLedger keeps records in process memory. Safe for concurrent use.
type MemoryLedger struct {
	mu       sync.Mutex
	byConv   map[string]Record
	refs     map[string]bool
	bookings map[string][]Record // restaurant id -> booking records
	now      func() time.Time
	newRef   func(Record) string

	failNext int
	failErr  error
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byConv:   make(map[string]Record),
		refs:     make(map[string]bool),
		bookings: make(map[string][]Record),
		now:      time.Now,
		newRef:   func(r Record) string { return NewReference(r.Kind) },
	}
}

// FailNext injects err into the next n Commit calls.
func (m *MemoryLedger) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext, m.failErr = n, err
}

func (m *MemoryLedger) Commit(ctx context.Context, req CommitRequest) (Record, bool, error) {
	rec, err := prepare(req)
	if err != nil {
		return Record{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byConv[req.ConversationID]; ok {
		if existing.DraftDigest != rec.DraftDigest {
			log.Warn().Str("conversation_id", req.ConversationID).Msg("repeated commit with a different draft, returning original")
		}
		return existing, false, nil
	}
	if m.failNext > 0 {
		m.failNext--
		return Record{}, false, m.failErr
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	if rec.Kind == statex.DraftBooking {
		for _, b := range m.bookings[rec.RestaurantID] {
			if b.TableID == rec.TableID && b.Booking().Overlaps(rec.StartsAt, rec.EndsAt) {
				return Record{}, false, ErrSlotTaken
			}
		}
	}

	ref := ""
	for i := 0; i < 3; i++ {
		if cand := m.newRef(rec); !m.refs[cand] {
			ref = cand
			break
		}
	}
	if ref == "" {
		return Record{}, false, ErrReferenceCollision
	}

	rec.ID = uuid.NewString()
	rec.Reference = ref
	rec.CreatedAt = m.now().UTC()
	m.byConv[rec.ConversationID] = rec
	m.refs[ref] = true
	if rec.Kind == statex.DraftBooking {
		m.bookings[rec.RestaurantID] = append(m.bookings[rec.RestaurantID], rec)
	}
	return rec, true, nil
}

func (m *MemoryLedger) ByConversation(ctx context.Context, conversationID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byConv[conversationID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryLedger) ConfirmedBookings(ctx context.Context, restaurantID string, from, to time.Time) ([]tenantx.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tenantx.Booking
	for _, r := range m.bookings[restaurantID] {
		b := r.Booking()
		if b.Overlaps(from, to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Len counts committed records.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byConv)
}
