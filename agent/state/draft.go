package state

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

type DraftKind string

const (
	DraftNone    DraftKind = ""
	DraftOrder   DraftKind = "order"
	DraftBooking DraftKind = "booking"
)

// Draft is a tagged union: Kind selects which payload is meaningful.
type Draft struct {
	Kind    DraftKind     `json:"kind,omitempty"`
	Order   *OrderDraft   `json:"order,omitempty"`
	Booking *BookingDraft `json:"booking,omitempty"`
}

func (d Draft) Validate() error {
	switch d.Kind {
	case DraftNone:
		return nil
	case DraftOrder:
		if d.Order == nil {
			return errors.New("order draft is nil")
		}
		return d.Order.Validate()
	case DraftBooking:
		if d.Booking == nil {
			return errors.New("booking draft is nil")
		}
		return nil
	default:
		return fmt.Errorf("unknown draft kind=%q", d.Kind)
	}
}

type FulfillmentType string

const (
	FulfillmentPickup   FulfillmentType = "pickup"
	FulfillmentDelivery FulfillmentType = "delivery"
)

// OrderLine prices are in minor currency units.
type OrderLine struct {
	ItemRef   string   `json:"item_ref"`
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	Modifiers []string `json:"modifiers,omitempty"` // sorted modifier ids
	UnitPrice int64    `json:"unit_price"`
	LineTotal int64    `json:"line_total"`
}

// Key identifies a line by item and modifier set.
func (l OrderLine) Key() string {
	return l.ItemRef + "|" + strings.Join(l.Modifiers, ",")
}

type OrderDraft struct {
	Items           []OrderLine     `json:"items,omitempty"`
	FulfillmentType FulfillmentType `json:"fulfillment_type,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	CustomerName    string          `json:"customer_name,omitempty"`
	RequestedTime   string          `json:"requested_time,omitempty"`
	Total           int64           `json:"total"`
}

// Upsert sets the quantity of a line; quantity <= 0 removes it.
func (o *OrderDraft) Upsert(line OrderLine) {
	line.Modifiers = NormalizeModifiers(line.Modifiers)
	key := line.Key()
	idx := slices.IndexFunc(o.Items, func(l OrderLine) bool { return l.Key() == key })

	switch {
	case line.Quantity <= 0 && idx >= 0:
		o.Items = slices.Delete(o.Items, idx, idx+1)
	case line.Quantity <= 0:
	case idx >= 0:
		o.Items[idx] = line
	default:
		o.Items = append(o.Items, line)
	}
	o.Recalculate()
}

// Remove drops every line for the given item reference.
func (o *OrderDraft) Remove(itemRef string) {
	o.Items = slices.DeleteFunc(o.Items, func(l OrderLine) bool { return l.ItemRef == itemRef })
	o.Recalculate()
}

// Recalculate restores total = sum(line_total) and line_total = quantity * unit_price.
func (o *OrderDraft) Recalculate() {
	var total int64
	for i := range o.Items {
		o.Items[i].LineTotal = int64(o.Items[i].Quantity) * o.Items[i].UnitPrice
		total += o.Items[i].LineTotal
	}
	o.Total = total
}

func (o *OrderDraft) IsEmpty() bool {
	return o == nil || len(o.Items) == 0
}

// MissingFields lists what a confirmation still needs.
func (o *OrderDraft) MissingFields() []string {
	var missing []string
	if o.IsEmpty() {
		missing = append(missing, "items")
	}
	if o == nil {
		return missing
	}
	if o.FulfillmentType == "" {
		missing = append(missing, "fulfillment_type")
	}
	if o.FulfillmentType == FulfillmentDelivery && strings.TrimSpace(o.DeliveryAddress) == "" {
		missing = append(missing, "delivery_address")
	}
	if strings.TrimSpace(o.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	return missing
}

func (o *OrderDraft) Validate() error {
	var sum int64
	for _, l := range o.Items {
		if l.Quantity <= 0 {
			return fmt.Errorf("line %s has non-positive quantity", l.ItemRef)
		}
		if l.LineTotal != int64(l.Quantity)*l.UnitPrice {
			return fmt.Errorf("line %s total mismatch", l.ItemRef)
		}
		sum += l.LineTotal
	}
	if sum != o.Total {
		return fmt.Errorf("order total %d != sum of lines %d", o.Total, sum)
	}
	return nil
}

func (o *OrderDraft) Clone() *OrderDraft {
	if o == nil {
		return nil
	}
	out := *o
	out.Items = make([]OrderLine, len(o.Items))
	for i, l := range o.Items {
		l.Modifiers = slices.Clone(l.Modifiers)
		out.Items[i] = l
	}
	return &out
}

type BookingDraft struct {
	PartySize     int       `json:"party_size,omitempty"`
	RequestedDate string    `json:"requested_date,omitempty"` // YYYY-MM-DD
	RequestedTime string    `json:"requested_time,omitempty"` // HH:MM, 24h
	DurationMin   int       `json:"duration_minutes,omitempty"`
	CustomerName  string    `json:"customer_name,omitempty"`
	AssignedTable string    `json:"assigned_table,omitempty"`
	Start         time.Time `json:"start,omitempty"`
}

func (b *BookingDraft) MissingFields() []string {
	var missing []string
	if b == nil {
		return []string{"party_size", "requested_date", "requested_time", "customer_name"}
	}
	if b.PartySize <= 0 {
		missing = append(missing, "party_size")
	}
	if b.RequestedDate == "" {
		missing = append(missing, "requested_date")
	}
	if b.RequestedTime == "" {
		missing = append(missing, "requested_time")
	}
	if strings.TrimSpace(b.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	return missing
}

func (b *BookingDraft) Duration() time.Duration {
	return time.Duration(b.DurationMin) * time.Minute
}

func (b *BookingDraft) Clone() *BookingDraft {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

// Clone returns a deep copy.
func (d Draft) Clone() Draft {
	return Draft{Kind: d.Kind, Order: d.Order.Clone(), Booking: d.Booking.Clone()}
}

// NormalizeModifiers trims, sorts and dedupes modifier ids into the form order lines key on.
func NormalizeModifiers(mods []string) []string {
	if len(mods) == 0 {
		return nil
	}
	out := make([]string, 0, len(mods))
	for _, m := range mods {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
