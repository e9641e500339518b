package state

import (
	"testing"
	"time"
)

func TestOrderDraftUpsertKeepsTotalInvariant(t *testing.T) {
	t.Parallel()

	var o OrderDraft
	o.Upsert(OrderLine{ItemRef: "pad-thai", Quantity: 2, UnitPrice: 1250})
	o.Upsert(OrderLine{ItemRef: "spring-roll", Quantity: 1, UnitPrice: 600, Modifiers: []string{"extra-sauce", "vegan"}})
	o.Upsert(OrderLine{ItemRef: "spring-roll", Quantity: 3, UnitPrice: 600, Modifiers: []string{"vegan", "extra-sauce"}})

	if len(o.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d: %#v", len(o.Items), o.Items)
	}
	if o.Total != 2*1250+3*600 {
		t.Fatalf("total = %d, want %d", o.Total, 2*1250+3*600)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	o.Upsert(OrderLine{ItemRef: "pad-thai", Quantity: 0})
	if len(o.Items) != 1 || o.Total != 1800 {
		t.Fatalf("after removal got lines=%d total=%d", len(o.Items), o.Total)
	}
}

func TestOrderDraftValidateDetectsStaleTotal(t *testing.T) {
	t.Parallel()

	o := OrderDraft{Items: []OrderLine{{ItemRef: "a", Quantity: 1, UnitPrice: 100, LineTotal: 100}}, Total: 50}
	if err := o.Validate(); err == nil {
		t.Fatal("expected total mismatch error")
	}
}

func TestOrderDraftMissingFields(t *testing.T) {
	t.Parallel()

	o := &OrderDraft{FulfillmentType: FulfillmentDelivery}
	o.Upsert(OrderLine{ItemRef: "a", Quantity: 1, UnitPrice: 100})
	got := o.MissingFields()
	want := []string{"delivery_address", "customer_name"}
	if len(got) != len(want) {
		t.Fatalf("MissingFields() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("MissingFields() = %v, want %v", got, want)
		}
	}
}

func TestDialogueStateDraftLockedAfterCommit(t *testing.T) {
	t.Parallel()

	st := NewDialogueState("c1", ChannelVoice, "+1", "+2", time.Now())
	if _, err := st.EnsureOrder(); err != nil {
		t.Fatalf("EnsureOrder() error = %v", err)
	}
	st.ApplyCommit(CommitSnapshot{State: CommitCommitted, Reference: "ORD-1"})

	if _, err := st.EnsureOrder(); err != ErrDraftLocked {
		t.Fatalf("EnsureOrder() after commit error = %v, want ErrDraftLocked", err)
	}
	if err := st.SetDraft(Draft{}); err != ErrDraftLocked {
		t.Fatalf("SetDraft() after commit error = %v, want ErrDraftLocked", err)
	}
	if err := st.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestEnsureBookingReplacesOrderDraft(t *testing.T) {
	t.Parallel()

	st := NewDialogueState("c1", ChannelText, "+1", "+2", time.Now())
	order, _ := st.EnsureOrder()
	order.Upsert(OrderLine{ItemRef: "a", Quantity: 1, UnitPrice: 100})

	booking, err := st.EnsureBooking()
	if err != nil {
		t.Fatalf("EnsureBooking() error = %v", err)
	}
	booking.PartySize = 2
	if st.Draft.Kind != DraftBooking || st.Draft.Order != nil {
		t.Fatalf("unexpected draft: %#v", st.Draft)
	}
}

func TestParseChannel(t *testing.T) {
	t.Parallel()

	cases := map[string]Channel{"voice": ChannelVoice, "SMS": ChannelText, " text ": ChannelText, "phone": ChannelVoice}
	for in, want := range cases {
		got, err := ParseChannel(in)
		if err != nil || got != want {
			t.Fatalf("ParseChannel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseChannel("fax"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}
