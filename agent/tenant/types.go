package tenant

import (
	"slices"
	"strings"
	"time"
)

// Modifier prices are in minor currency units and added to the item price.
type Modifier struct {
	ID        string `mapstructure:"id" json:"id"`
	Name      string `mapstructure:"name" json:"name"`
	Price     int64  `mapstructure:"price" json:"price"`
	Available bool   `mapstructure:"available" json:"available"`
}

type MenuItem struct {
	ID          string     `mapstructure:"id" json:"id"`
	Name        string     `mapstructure:"name" json:"name"`
	Description string     `mapstructure:"description" json:"description,omitempty"`
	Category    string     `mapstructure:"category" json:"category,omitempty"`
	Price       int64      `mapstructure:"price" json:"price"`
	Available   bool       `mapstructure:"available" json:"available"`
	Modifiers   []Modifier `mapstructure:"modifiers" json:"modifiers,omitempty"`
}

// FindModifier matches a modifier by id, or by name ignoring case.
func (m MenuItem) FindModifier(ref string) (Modifier, bool) {
	ref = strings.TrimSpace(ref)
	for _, mod := range m.Modifiers {
		if mod.ID == ref || strings.EqualFold(mod.Name, ref) {
			return mod, true
		}
	}
	return Modifier{}, false
}

// UnitPrice is the item price plus the price of every listed modifier id.
// Unknown modifiers are reported as false.
func (m MenuItem) UnitPrice(modifierIDs []string) (int64, bool) {
	price := m.Price
	for _, id := range modifierIDs {
		mod, ok := m.FindModifier(id)
		if !ok {
			return 0, false
		}
		price += mod.Price
	}
	return price, true
}

// MenuContext is a read-only snapshot of the available menu for one turn.
// It is shared between conversations and must not be mutated.
type MenuContext struct {
	Items []MenuItem `json:"items"`

	byID   map[string]int
	byName map[string]int
}

// NewMenuContext keeps only available items and available modifiers.
func NewMenuContext(items []MenuItem) MenuContext {
	mc := MenuContext{
		byID:   make(map[string]int, len(items)),
		byName: make(map[string]int, len(items)),
	}
	for _, it := range items {
		if !it.Available || strings.TrimSpace(it.ID) == "" {
			continue
		}
		it.Modifiers = slices.DeleteFunc(slices.Clone(it.Modifiers), func(m Modifier) bool { return !m.Available })
		mc.byID[it.ID] = len(mc.Items)
		mc.byName[strings.ToLower(strings.TrimSpace(it.Name))] = len(mc.Items)
		mc.Items = append(mc.Items, it)
	}
	return mc
}

// Find resolves an item reference by id, falling back to a case-insensitive name match.
func (mc MenuContext) Find(ref string) (MenuItem, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return MenuItem{}, false
	}
	if i, ok := mc.byID[ref]; ok {
		return mc.Items[i], true
	}
	if i, ok := mc.byName[strings.ToLower(ref)]; ok {
		return mc.Items[i], true
	}
	return MenuItem{}, false
}

func (mc MenuContext) Len() int {
	return len(mc.Items)
}

type Table struct {
	ID       string `mapstructure:"id" json:"id"`
	Capacity int    `mapstructure:"capacity" json:"capacity"`
	Active   bool   `mapstructure:"active" json:"active"`
}

// Booking is an existing CONFIRMED reservation occupying [Start, Start+Duration).
type Booking struct {
	TableID        string        `json:"table_id"`
	Start          time.Time     `json:"start"`
	Duration       time.Duration `json:"duration"`
	ConversationID string        `json:"conversation_id,omitempty"`
	Reference      string        `json:"reference,omitempty"`
}

func (b Booking) End() time.Time {
	return b.Start.Add(b.Duration)
}

// Overlaps reports whether [start, end) intersects the booking interval.
func (b Booking) Overlaps(start, end time.Time) bool {
	return start.Before(b.End()) && b.Start.Before(end)
}

// TableContext is a read-only snapshot of active tables and confirmed bookings.
type TableContext struct {
	Tables   []Table   `json:"tables"`
	Bookings []Booking `json:"bookings"`
}

func (tc TableContext) ActiveTables() []Table {
	out := make([]Table, 0, len(tc.Tables))
	for _, t := range tc.Tables {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

func (tc TableContext) BookingsFor(tableID string) []Booking {
	var out []Booking
	for _, b := range tc.Bookings {
		if b.TableID == tableID {
			out = append(out, b)
		}
	}
	return out
}

// Policy holds restaurant-specific conversational and booking rules.
type Policy struct {
	DefaultBookingMinutes    int    `mapstructure:"default_booking_minutes" json:"default_booking_minutes"`
	MaxPartySize             int    `mapstructure:"max_party_size" json:"max_party_size"`
	SlotIncrementMinutes     int    `mapstructure:"slot_increment_minutes" json:"slot_increment_minutes"`
	MaxAlternatives          int    `mapstructure:"max_alternatives" json:"max_alternatives"`
	AlternativeWindowMinutes int    `mapstructure:"alternative_window_minutes" json:"alternative_window_minutes"`
	BookingRule              string `mapstructure:"booking_rule" json:"booking_rule,omitempty"`
	DeliveryEnabled          bool   `mapstructure:"delivery_enabled" json:"delivery_enabled"`
	CurrencySymbol           string `mapstructure:"currency_symbol" json:"currency_symbol"`
}

func (p Policy) WithDefaults() Policy {
	if p.DefaultBookingMinutes <= 0 {
		p.DefaultBookingMinutes = 90
	}
	if p.MaxPartySize <= 0 {
		p.MaxPartySize = 12
	}
	if p.SlotIncrementMinutes <= 0 {
		p.SlotIncrementMinutes = 30
	}
	if p.MaxAlternatives <= 0 {
		p.MaxAlternatives = 3
	}
	if p.AlternativeWindowMinutes <= 0 {
		p.AlternativeWindowMinutes = 180
	}
	if strings.TrimSpace(p.CurrencySymbol) == "" {
		p.CurrencySymbol = "$"
	}
	return p
}

func (p Policy) DefaultDuration() time.Duration {
	return time.Duration(p.DefaultBookingMinutes) * time.Minute
}

func (p Policy) SlotIncrement() time.Duration {
	return time.Duration(p.SlotIncrementMinutes) * time.Minute
}

// Profile is the tenant's identity and static configuration.
type Profile struct {
	ID          string                `mapstructure:"id" json:"id"`
	Name        string                `mapstructure:"name" json:"name"`
	RoutingKeys []string              `mapstructure:"routing_keys" json:"routing_keys"`
	Timezone    string                `mapstructure:"timezone" json:"timezone"`
	Hours       map[string][]Interval `mapstructure:"hours" json:"hours"`
	Policy      Policy                `mapstructure:"policy" json:"policy"`
}

// Restaurant is the full tenant document served by file and static sources.
type Restaurant struct {
	Profile `mapstructure:",squash"`
	Menu    []MenuItem `mapstructure:"menu" json:"menu"`
	Tables  []Table    `mapstructure:"tables" json:"tables"`
}

// Context is everything a turn needs to ground itself in restaurant facts.
type Context struct {
	RestaurantID string
	Name         string
	Location     *time.Location
	Hours        WeeklyHours
	Policy       Policy
	Menu         MenuContext
	Tables       TableContext
	LoadedAt     time.Time
}
