package prompt

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

func testTenant(t *testing.T, items ...tenantx.MenuItem) *tenantx.Context {
	t.Helper()
	if len(items) == 0 {
		items = []tenantx.MenuItem{
			{ID: "margherita", Name: "Margherita", Category: "pizza", Price: 1200, Available: true,
				Modifiers: []tenantx.Modifier{{ID: "extra-cheese", Name: "Extra cheese", Price: 150, Available: true}}},
			{ID: "tiramisu", Name: "Tiramisu", Category: "dessert", Price: 700, Available: true},
		}
	}
	hours, err := tenantx.ParseWeeklyHours(map[string][]tenantx.Interval{"monday": {{Open: "17:00", Close: "22:00"}}})
	if err != nil {
		t.Fatalf("ParseWeeklyHours() error = %v", err)
	}
	return &tenantx.Context{
		RestaurantID: "r1",
		Name:         "Luigi's",
		Location:     time.UTC,
		Hours:        hours,
		Policy:       tenantx.Policy{}.WithDefaults(),
		Menu:         tenantx.NewMenuContext(items),
		Tables:       tenantx.TableContext{Tables: []tenantx.Table{{ID: "t1", Capacity: 4, Active: true}, {ID: "t2", Capacity: 2, Active: true}}},
	}
}

func TestAssembleIncludesContextAndUtterance(t *testing.T) {
	t.Parallel()

	st := statex.NewDialogueState("c1", statex.ChannelVoice, "+1", "+2", time.Now())
	order, _ := st.EnsureOrder()
	order.Upsert(statex.OrderLine{ItemRef: "margherita", Name: "Margherita", Quantity: 2, UnitPrice: 1200})

	a := NewAssembler(Config{})
	req, err := a.Assemble(context.Background(), Input{
		State:     st,
		Tenant:    testTenant(t),
		Utterance: "and a tiramisu please",
		Now:       time.Date(2026, 10, 12, 18, 0, 0, 0, time.UTC),
		Notes:     []string{"Offer 19:30 instead of 19:00."},
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	for _, want := range []string{"Luigi's", "margherita | Margherita | $12.00", "extra-cheese (+$1.50)", `"total":2400`,
		"Still missing: fulfillment_type, customer_name", "Offer 19:30", "Mon 17:00-22:00", "2 seats x1, 4 seats x1", "ConfirmOrder"} {
		if !strings.Contains(req.System, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != contractx.RoleCustomer || last.Content != "and a tiramisu please" {
		t.Fatalf("unexpected final message: %#v", last)
	}
}

func TestAssembleTruncatesOldestHistoryFirst(t *testing.T) {
	t.Parallel()

	st := statex.NewDialogueState("c1", statex.ChannelText, "+1", "+2", time.Now())
	st.Draft = statex.Draft{Kind: statex.DraftBooking, Booking: &statex.BookingDraft{PartySize: 4, CustomerName: "Ana"}}
	for i := 0; i < 40; i++ {
		speaker := statex.SpeakerCustomer
		if i%2 == 1 {
			speaker = statex.SpeakerAgent
		}
		st.AppendTurn(speaker, fmt.Sprintf("turn-%02d %s", i, strings.Repeat("x", 90)), "", time.Now())
	}

	tc := testTenant(t)
	a := NewAssembler(Config{MaxChars: 100000})
	full, err := a.Assemble(context.Background(), Input{State: st, Tenant: tc, Utterance: "7pm please"})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(full.Messages) != 41 {
		t.Fatalf("expected full history, got %d messages", len(full.Messages))
	}

	budget := len(full.System) + len("7pm please") + 5*100
	small := NewAssembler(Config{MaxChars: budget})
	req, err := small.Assemble(context.Background(), Input{State: st, Tenant: tc, Utterance: "7pm please"})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if req.Size() > budget {
		t.Fatalf("request size %d exceeds budget %d", req.Size(), budget)
	}
	if len(req.Messages) != 6 {
		t.Fatalf("expected 5 history turns plus utterance, got %d", len(req.Messages))
	}
	if !strings.HasPrefix(req.Messages[0].Content, "turn-35") {
		t.Fatalf("oldest kept turn = %q, want turn-35", req.Messages[0].Content[:7])
	}
	if req.Messages[0].Role != contractx.RoleAgent {
		t.Fatalf("turn-35 should be an agent turn")
	}
	if !strings.Contains(req.System, `"party_size":4`) || !strings.Contains(req.System, "requested_date, requested_time") {
		t.Fatal("draft fields must survive truncation")
	}
}

func TestAssembleRejectsEmptyUtterance(t *testing.T) {
	t.Parallel()

	st := statex.NewDialogueState("c1", statex.ChannelText, "+1", "+2", time.Now())
	_, err := NewAssembler(Config{}).Assemble(context.Background(), Input{State: st, Tenant: testTenant(t), Utterance: "  "})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAssembleMenuExcerptKeepsDraftItems(t *testing.T) {
	t.Parallel()

	items := []tenantx.MenuItem{
		{ID: "margherita", Name: "Margherita pizza", Category: "pizza", Price: 1200, Available: true},
		{ID: "diavola", Name: "Diavola pizza spicy salami", Category: "pizza", Price: 1400, Available: true},
		{ID: "tiramisu", Name: "Tiramisu", Category: "dessert", Price: 700, Available: true},
		{ID: "panna-cotta", Name: "Panna cotta", Category: "dessert", Price: 650, Available: true},
		{ID: "lemonade", Name: "Lemonade", Category: "drinks", Price: 350, Available: true},
	}
	st := statex.NewDialogueState("c1", statex.ChannelText, "+1", "+2", time.Now())
	order, _ := st.EnsureOrder()
	order.Upsert(statex.OrderLine{ItemRef: "lemonade", Name: "Lemonade", Quantity: 1, UnitPrice: 350})

	a := NewAssembler(Config{MenuExcerpt: 2}, WithMenuIndex(NewMenuIndex(nil)))
	req, err := a.Assemble(context.Background(), Input{State: st, Tenant: testTenant(t, items...), Utterance: "something spicy salami"})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if !strings.Contains(req.System, "- lemonade |") {
		t.Fatal("draft item dropped from excerpt")
	}
	if !strings.Contains(req.System, "- diavola |") {
		t.Fatal("most relevant item missing from excerpt")
	}
	if strings.Contains(req.System, "- panna-cotta |") {
		t.Fatal("excerpt should be capped")
	}
}

func TestMenuDigestTracksChanges(t *testing.T) {
	t.Parallel()

	a := tenantx.NewMenuContext([]tenantx.MenuItem{{ID: "a", Name: "A", Price: 100, Available: true}})
	b := tenantx.NewMenuContext([]tenantx.MenuItem{{ID: "a", Name: "A", Price: 100, Available: true}})
	c := tenantx.NewMenuContext([]tenantx.MenuItem{{ID: "a", Name: "A", Price: 120, Available: true}})

	da, _ := MenuDigest(a)
	db, _ := MenuDigest(b)
	dc, _ := MenuDigest(c)
	if da != db {
		t.Fatal("identical menus must share a digest")
	}
	if da == dc {
		t.Fatal("price change must change the digest")
	}
}

func TestFormatMoney(t *testing.T) {
	t.Parallel()

	cases := map[int64]string{0: "$0.00", 5: "$0.05", 1250: "$12.50", -300: "-$3.00"}
	for in, want := range cases {
		if got := FormatMoney("$", in); got != want {
			t.Errorf("FormatMoney(%d) = %q, want %q", in, got, want)
		}
	}
}
