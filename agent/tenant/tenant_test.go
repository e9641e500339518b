package tenant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
)

func sampleRestaurant() Restaurant {
	return Restaurant{
		Profile: Profile{
			ID:          "r1",
			Name:        "Luigi's",
			RoutingKeys: []string{"+15550199"},
			Timezone:    "UTC",
			Hours: map[string][]Interval{
				"monday":   {{Open: "11:00", Close: "14:00"}, {Open: "17:00", Close: "22:00"}},
				"saturday": {{Open: "12:00", Close: "24:00"}},
			},
		},
		Menu: []MenuItem{
			{ID: "margherita", Name: "Margherita", Price: 1200, Available: true, Modifiers: []Modifier{
				{ID: "extra-cheese", Name: "Extra cheese", Price: 150, Available: true},
				{ID: "truffle", Name: "Truffle", Price: 500},
			}},
			{ID: "calzone", Name: "Calzone", Price: 1400},
		},
		Tables: []Table{{ID: "t1", Capacity: 4, Active: true}, {ID: "t2", Capacity: 2}},
	}
}

type countingBookings struct {
	calls atomic.Int32
	out   []Booking
}

func (c *countingBookings) ConfirmedBookings(ctx context.Context, restaurantID string, from, to time.Time) ([]Booking, error) {
	c.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	return c.out, nil
}

func TestLoaderFiltersUnavailableAndCaches(t *testing.T) {
	t.Parallel()

	src, err := NewStaticSource(sampleRestaurant())
	if err != nil {
		t.Fatalf("NewStaticSource() error = %v", err)
	}
	bookings := &countingBookings{out: []Booking{{TableID: "t1", Start: time.Now(), Duration: time.Hour}}}
	loader := NewLoader(src, bookings, LoaderConfig{CacheTTL: time.Minute})

	got, err := loader.Load(context.Background(), " +15550199 ")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.RestaurantID != "r1" || got.Menu.Len() != 1 {
		t.Fatalf("unexpected context: id=%s items=%d", got.RestaurantID, got.Menu.Len())
	}
	item, ok := got.Menu.Find("MARGHERITA")
	if !ok || len(item.Modifiers) != 1 {
		t.Fatalf("expected margherita with one available modifier, got %#v", item)
	}
	if _, ok := got.Menu.Find("calzone"); ok {
		t.Fatal("unavailable item leaked into menu context")
	}
	if len(got.Tables.ActiveTables()) != 1 || len(got.Tables.Bookings) != 1 {
		t.Fatalf("unexpected table context: %#v", got.Tables)
	}
	if got.Policy.DefaultBookingMinutes != 90 || got.Policy.MaxAlternatives != 3 {
		t.Fatalf("policy defaults not applied: %#v", got.Policy)
	}

	if _, err := loader.Load(context.Background(), "+15550199"); err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if n := bookings.calls.Load(); n != 1 {
		t.Fatalf("expected cached second load, got %d fetches", n)
	}
}

func TestLoaderSharesConcurrentFetches(t *testing.T) {
	t.Parallel()

	src, _ := NewStaticSource(sampleRestaurant())
	bookings := &countingBookings{}
	loader := NewLoader(src, bookings, LoaderConfig{CacheTTL: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loader.Load(context.Background(), "r1"); err != nil {
				t.Errorf("Load() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := bookings.calls.Load(); n != 1 {
		t.Fatalf("expected one shared fetch, got %d", n)
	}
}

func TestLoaderFreshSeesAvailabilityChange(t *testing.T) {
	t.Parallel()

	src, _ := NewStaticSource(sampleRestaurant())
	loader := NewLoader(src, nil, LoaderConfig{CacheTTL: time.Hour})

	if _, err := loader.Load(context.Background(), "r1"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !src.SetItemAvailability("r1", "margherita", false) {
		t.Fatal("SetItemAvailability() did not find item")
	}

	cached, _ := loader.Load(context.Background(), "r1")
	if _, ok := cached.Menu.Find("margherita"); !ok {
		t.Fatal("cached context should still list the item")
	}
	fresh, err := loader.LoadFresh(context.Background(), "r1")
	if err != nil {
		t.Fatalf("LoadFresh() error = %v", err)
	}
	if _, ok := fresh.Menu.Find("margherita"); ok {
		t.Fatal("fresh context must drop the now unavailable item")
	}
}

func TestLoaderTenantNotFound(t *testing.T) {
	t.Parallel()

	src, _ := NewStaticSource(sampleRestaurant())
	loader := NewLoader(src, nil, LoaderConfig{})

	_, err := loader.Load(context.Background(), "+10000000000")
	if !errors.Is(err, contractx.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestStaticSourceRejectsDuplicateRoutingKeys(t *testing.T) {
	t.Parallel()

	a := sampleRestaurant()
	b := sampleRestaurant()
	b.ID = "r2"
	if _, err := NewStaticSource(a, b); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestWeeklyHoursFits(t *testing.T) {
	t.Parallel()

	wh, err := ParseWeeklyHours(sampleRestaurant().Hours)
	if err != nil {
		t.Fatalf("ParseWeeklyHours() error = %v", err)
	}
	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	cases := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside lunch", at(12, 0), at(13, 30), true},
		{"spans the afternoon gap", at(13, 0), at(17, 30), false},
		{"ends at close", at(20, 30), at(22, 0), true},
		{"runs past close", at(21, 0), at(22, 30), false},
		{"before opening", at(10, 0), at(11, 30), false},
		{"closed weekday", at(12, 0).AddDate(0, 0, 1), at(13, 0).AddDate(0, 0, 1), false},
		{"until midnight", at(22, 0).AddDate(0, 0, 5), at(23, 59).AddDate(0, 0, 5), true},
	}
	for _, tc := range cases {
		if got := wh.Fits(tc.start, tc.end); got != tc.want {
			t.Errorf("%s: Fits() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseWeeklyHoursRejectsBadInput(t *testing.T) {
	t.Parallel()

	bad := []map[string][]Interval{
		{"funday": {{Open: "10:00", Close: "11:00"}}},
		{"monday": {{Open: "25:00", Close: "26:00"}}},
		{"monday": {{Open: "18:00", Close: "17:00"}}},
	}
	for _, raw := range bad {
		if _, err := ParseWeeklyHours(raw); err == nil {
			t.Errorf("expected error for %#v", raw)
		}
	}
}

func TestFileSourceReadsYAML(t *testing.T) {
	t.Parallel()

	doc := `restaurants:
  - id: r1
    name: Luigi's
    routing_keys: ["+15550199"]
    timezone: UTC
    hours:
      monday:
        - open: "17:00"
          close: "22:00"
    policy:
      max_party_size: 8
      booking_rule: "party_size <= 6 || hour >= 19"
    menu:
      - id: margherita
        name: Margherita
        price: 1200
        available: true
    tables:
      - id: t1
        capacity: 4
        active: true
`
	path := filepath.Join(t.TempDir(), "restaurants.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource() error = %v", err)
	}
	profile, err := src.Resolve(context.Background(), "+15550199")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if profile.Policy.MaxPartySize != 8 || profile.Policy.BookingRule == "" {
		t.Fatalf("policy not decoded: %#v", profile.Policy)
	}
	menu, _ := src.Menu(context.Background(), "r1")
	if len(menu) != 1 || menu[0].Price != 1200 || !menu[0].Available {
		t.Fatalf("menu not decoded: %#v", menu)
	}
}

func TestMenuItemUnitPrice(t *testing.T) {
	t.Parallel()

	item := sampleRestaurant().Menu[0]
	if got, ok := item.UnitPrice([]string{"extra-cheese"}); !ok || got != 1350 {
		t.Fatalf("UnitPrice() = %d, %v", got, ok)
	}
	if _, ok := item.UnitPrice([]string{"anchovies"}); ok {
		t.Fatal("unknown modifier should not price")
	}
}
