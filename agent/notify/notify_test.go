package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	qstashx "github.com/tanpawarit/chative-restaurant-agent/pkg/qstash"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []qstashx.PublishOptions
	err   error
	delay time.Duration
}

func (f *fakePublisher) Publish(ctx context.Context, body any, opts qstashx.PublishOptions) (qstashx.PublishResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return qstashx.PublishResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return qstashx.PublishResult{MessageID: "msg"}, f.err
}

func confirmation() contractx.Confirmation {
	return contractx.Confirmation{
		ConversationID: "conv-1",
		RestaurantID:   "thai-house",
		Kind:           statex.DraftOrder,
		Reference:      "ORD-ABCDEFGH",
		Summary:        "1x Green Curry, pickup",
	}
}

func TestQStashNotifier_UsesReferenceAsDedupID(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	if err := NewQStashNotifier(pub).Notify(context.Background(), confirmation()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(pub.calls) != 1 || pub.calls[0].DeduplicationID != "ORD-ABCDEFGH" {
		t.Fatalf("calls = %+v", pub.calls)
	}
	if err := NewQStashNotifier(pub).Notify(context.Background(), contractx.Confirmation{}); err == nil {
		t.Fatalf("expected error without reference")
	}
}

func TestDispatcher_IsFireAndForget(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{delay: 50 * time.Millisecond, err: errors.New("down")}
	d := NewDispatcher(NewQStashNotifier(pub), time.Second)

	start := time.Now()
	if err := d.Notify(context.Background(), confirmation()); err != nil {
		t.Fatalf("Notify returned %v", err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Fatalf("Notify blocked the caller")
	}
	d.Wait()
	if len(pub.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(pub.calls))
	}
}

func TestDispatcher_TimesOutSlowSends(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{delay: time.Second}
	d := NewDispatcher(NewQStashNotifier(pub), 10*time.Millisecond)
	_ = d.Notify(context.Background(), confirmation())

	done := make(chan struct{})
	go func() { d.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("send was not bounded by the timeout")
	}
	if len(pub.calls) != 0 {
		t.Fatalf("timed-out send should not record a call")
	}
}
