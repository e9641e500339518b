package resolver

import (
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

type OrderRevalidation struct {
	// Order is a repriced copy of the draft without unavailable lines.
	Order *statex.OrderDraft
	// Removed names the lines dropped because the item or a modifier is no longer offered.
	Removed []string
	// Repriced is true when any unit price differed from the draft.
	Repriced bool
}

func (r OrderRevalidation) Clean() bool {
	return len(r.Removed) == 0
}

// RevalidateOrder checks every line against a freshly loaded menu and recomputes
// prices from it. The draft's own prices are never trusted.
func (r *Resolver) RevalidateOrder(menu tenantx.MenuContext, draft *statex.OrderDraft) OrderRevalidation {
	out := OrderRevalidation{Order: draft.Clone()}
	if out.Order == nil {
		out.Order = &statex.OrderDraft{}
		return out
	}

	kept := out.Order.Items[:0]
	for _, line := range out.Order.Items {
		item, ok := menu.Find(line.ItemRef)
		if !ok {
			out.Removed = append(out.Removed, line.Name)
			continue
		}
		price, ok := item.UnitPrice(line.Modifiers)
		if !ok {
			out.Removed = append(out.Removed, line.Name)
			continue
		}
		if price != line.UnitPrice {
			out.Repriced = true
		}
		line.ItemRef = item.ID
		line.Name = item.Name
		line.UnitPrice = price
		kept = append(kept, line)
	}
	out.Order.Items = kept
	out.Order.Recalculate()
	return out
}
