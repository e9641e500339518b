package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

var evening = time.Date(2026, 10, 14, 19, 0, 0, 0, time.UTC)

func orderRequest(conv string) CommitRequest {
	o := &statex.OrderDraft{FulfillmentType: statex.FulfillmentPickup, CustomerName: "Ana"}
	o.Upsert(statex.OrderLine{ItemRef: "pad-thai", Name: "Pad Thai", Quantity: 2, UnitPrice: 1250})
	return CommitRequest{
		ConversationID: conv,
		RestaurantID:   "thai-house",
		Customer:       "+15550100",
		Channel:        statex.ChannelText,
		Draft:          statex.Draft{Kind: statex.DraftOrder, Order: o},
	}
}

func bookingRequest(conv, table string, start time.Time) CommitRequest {
	return CommitRequest{
		ConversationID: conv,
		RestaurantID:   "thai-house",
		Customer:       "+15550100",
		Channel:        statex.ChannelVoice,
		Draft: statex.Draft{Kind: statex.DraftBooking, Booking: &statex.BookingDraft{
			PartySize:     4,
			RequestedDate: start.Format("2006-01-02"),
			RequestedTime: start.Format("15:04"),
			DurationMin:   90,
			CustomerName:  "Ana",
			AssignedTable: table,
			Start:         start,
		}},
	}
}

func newSQLiteLedger(t *testing.T) *BunLedger {
	t.Helper()
	db, err := OpenDB(StorageConfig{Driver: "sqlite", DSN: fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := NewBunLedger(db)
	require.NoError(t, l.EnsureTables(context.Background()))
	require.NoError(t, l.EnsureTables(context.Background()), "EnsureTables must be idempotent")
	return l
}

func ledgers(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"sqlite": newSQLiteLedger(t),
	}
}

func TestLedger_CommitIsIdempotentPerConversation(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, created, err := l.Commit(ctx, orderRequest("conv-1"))
			require.NoError(t, err)
			assert.True(t, created)
			assert.Regexp(t, `^ORD-[2-9A-HJ-NP-Z]{8}$`, first.Reference)
			assert.EqualValues(t, 2500, first.Total)
			assert.NotEmpty(t, first.ID)
			assert.Len(t, first.DraftDigest, 64)

			again, created, err := l.Commit(ctx, orderRequest("conv-1"))
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, first.Reference, again.Reference)
			assert.Equal(t, first.ID, again.ID)

			got, err := l.ByConversation(ctx, "conv-1")
			require.NoError(t, err)
			assert.Equal(t, first.Reference, got.Reference)
			assert.Equal(t, statex.DraftOrder, got.Kind)
			assert.JSONEq(t, string(first.Payload), string(got.Payload))
		})
	}
}

func TestLedger_ByConversationNotFound(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := l.ByConversation(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLedger_RejectsUncommittableDrafts(t *testing.T) {
	bad := orderRequest("conv-bad")
	bad.Draft.Order.Total = 1

	unallocated := bookingRequest("conv-b", "", evening)

	cases := map[string]CommitRequest{
		"no draft":         {ConversationID: "c", RestaurantID: "r"},
		"no conversation":  orderRequest(""),
		"total mismatch":   bad,
		"booking no table": unallocated,
	}
	for name, l := range ledgers(t) {
		for cname, req := range cases {
			t.Run(name+"/"+cname, func(t *testing.T) {
				_, _, err := l.Commit(context.Background(), req)
				assert.ErrorIs(t, err, ErrInvalidDraft)
			})
		}
	}
}

func TestLedger_BookingOverlapIsRejected(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first, created, err := l.Commit(ctx, bookingRequest("conv-a", "t4", evening))
			require.NoError(t, err)
			require.True(t, created)
			assert.Regexp(t, `^BKG-`, first.Reference)

			_, _, err = l.Commit(ctx, bookingRequest("conv-b", "t4", evening.Add(60*time.Minute)))
			assert.ErrorIs(t, err, ErrSlotTaken)

			// back-to-back is fine, as is another table
			_, _, err = l.Commit(ctx, bookingRequest("conv-c", "t4", evening.Add(90*time.Minute)))
			require.NoError(t, err)
			_, _, err = l.Commit(ctx, bookingRequest("conv-d", "t6", evening))
			require.NoError(t, err)

			got, err := l.ConfirmedBookings(ctx, "thai-house", evening.Add(-time.Hour), evening.Add(4*time.Hour))
			require.NoError(t, err)
			require.Len(t, got, 3)
			for _, b := range got {
				assert.Equal(t, 90*time.Minute, b.Duration)
				assert.NotEmpty(t, b.Reference)
			}

			none, err := l.ConfirmedBookings(ctx, "other", evening.Add(-time.Hour), evening.Add(4*time.Hour))
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestLedger_ConcurrentCommitsWriteOneRecord(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				refs    = map[string]int{}
				created int
			)
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					rec, ok, err := l.Commit(ctx, bookingRequest("conv-race", "t2", evening))
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					refs[rec.Reference]++
					if ok {
						created++
					}
					mu.Unlock()
				}()
			}
			wg.Wait()
			assert.Len(t, refs, 1)
			assert.Equal(t, 1, created)
		})
	}
}

func TestBunLedger_RetriesReferenceCollisions(t *testing.T) {
	l := newSQLiteLedger(t)
	ctx := context.Background()

	l.newRef = func(statex.DraftKind) string { return "ORD-SAMEREF1" }
	_, _, err := l.Commit(ctx, orderRequest("conv-1"))
	require.NoError(t, err)

	_, _, err = l.Commit(ctx, orderRequest("conv-2"))
	assert.ErrorIs(t, err, ErrReferenceCollision)

	calls := 0
	l.newRef = func(statex.DraftKind) string {
		calls++
		if calls == 1 {
			return "ORD-SAMEREF1"
		}
		return "ORD-FRESH234"
	}
	rec, _, err := l.Commit(ctx, orderRequest("conv-2"))
	require.NoError(t, err)
	assert.Equal(t, "ORD-FRESH234", rec.Reference)
}

func TestMemoryLedger_FailNext(t *testing.T) {
	l := NewMemoryLedger()
	boom := errors.New("disk full")
	l.FailNext(1, boom)

	_, _, err := l.Commit(context.Background(), orderRequest("conv-1"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, l.Len())

	_, created, err := l.Commit(context.Background(), orderRequest("conv-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, l.Len())
}

func TestDigestIgnoresKeyOrder(t *testing.T) {
	a, err := Digest([]byte(`{"b":1,"a":[2,3]}`))
	require.NoError(t, err)
	b, err := Digest([]byte(`{ "a": [2, 3], "b": 1 }`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
