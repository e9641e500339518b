package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/ledger"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

var at = time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC)

func turnEntry(conv string, i int) contractx.TranscriptEntry {
	return contractx.TranscriptEntry{
		ConversationID: conv,
		RestaurantID:   "thai-house",
		Kind:           contractx.EntryTurn,
		Speaker:        statex.SpeakerCustomer,
		Utterance:      fmt.Sprintf("utterance %d", i),
		Intent:         contractx.IntentContinueOrder,
		CommitState:    statex.CommitOpen,
		At:             at.Add(time.Duration(i) * time.Second),
	}
}

func TestFileRecorder_AppendsPerConversation(t *testing.T) {
	t.Parallel()

	rec, err := NewFileRecorder(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRecorder: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := rec.Record(ctx, turnEntry("conv/1", i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	outcome := contractx.TranscriptEntry{
		ConversationID:     "conv/1",
		Kind:               contractx.EntryOutcome,
		CommitState:        statex.CommitCommitted,
		CommittedReference: "ORD-ABCDEFGH",
		At:                 at.Add(time.Minute),
	}
	if err := rec.Record(ctx, outcome); err != nil {
		t.Fatalf("Record outcome: %v", err)
	}
	if err := rec.Record(ctx, turnEntry("conv-2", 0)); err != nil {
		t.Fatalf("Record other: %v", err)
	}

	got, err := rec.Entries("conv/1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("entries = %d, want 4", len(got))
	}
	if got[1].Utterance != "utterance 1" || got[3].CommittedReference != "ORD-ABCDEFGH" {
		t.Fatalf("unexpected entries: %+v", got)
	}

	missing, err := rec.Entries("nobody")
	if err != nil || len(missing) != 0 {
		t.Fatalf("Entries(nobody) = %v, %v", missing, err)
	}
}

func TestBunRecorder_RoundTrip(t *testing.T) {
	t.Parallel()

	db, err := ledger.OpenDB(ledger.StorageConfig{Driver: "sqlite", DSN: "file:transcript_bun?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	rec := NewBunRecorder(db)
	ctx := context.Background()
	if err := rec.EnsureTables(ctx); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	for i := 2; i >= 0; i-- {
		if err := rec.Record(ctx, turnEntry("conv-1", i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	got, err := rec.Entries(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	for i, e := range got {
		if e.Utterance != fmt.Sprintf("utterance %d", i) {
			t.Fatalf("entry %d = %q, want time order", i, e.Utterance)
		}
		if e.Speaker != statex.SpeakerCustomer || e.Intent != contractx.IntentContinueOrder {
			t.Fatalf("entry %d lost fields: %+v", i, e)
		}
	}
}

type blockingRecorder struct {
	mu      sync.Mutex
	entries []contractx.TranscriptEntry
	gate    chan struct{}
	err     error
}

func (b *blockingRecorder) Record(ctx context.Context, e contractx.TranscriptEntry) error {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, e)
	return b.err
}

func (b *blockingRecorder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func TestAsyncRecorder_NeverBlocksAndDropsWhenFull(t *testing.T) {
	t.Parallel()

	inner := &blockingRecorder{gate: make(chan struct{})}
	rec := NewAsyncRecorder(inner, 2, time.Second)

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := rec.Record(context.Background(), turnEntry("conv-1", i)); err != nil {
			t.Fatalf("Record returned %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("Record blocked on a stalled writer")
	}
	if rec.Dropped() == 0 {
		t.Fatalf("expected drops with a full queue")
	}

	close(inner.gate)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rec.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := int64(inner.count()) + rec.Dropped(); got != 10 {
		t.Fatalf("written+dropped = %d, want 10", got)
	}
	if err := rec.Record(context.Background(), turnEntry("conv-1", 99)); err != nil {
		t.Fatalf("Record after Close: %v", err)
	}
}

func TestAsyncRecorder_SwallowsInnerErrors(t *testing.T) {
	t.Parallel()

	inner := &blockingRecorder{err: errors.New("disk full")}
	rec := NewAsyncRecorder(inner, 8, time.Second)
	if err := rec.Record(context.Background(), turnEntry("conv-1", 0)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := rec.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rec.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", rec.Failed())
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	t.Parallel()

	ok := &blockingRecorder{}
	bad := &blockingRecorder{err: errors.New("nope")}
	err := Multi{ok, nil, bad}.Record(context.Background(), turnEntry("conv-1", 0))
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Fatalf("every recorder must see the entry")
	}
}
