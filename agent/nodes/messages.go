package turnnode

import (
	"fmt"
	"strings"
	"time"

	"github.com/tanpawarit/chative-restaurant-agent/agent/prompt"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
)

// Customer-facing fallbacks. No error text ever reaches the customer.
const (
	MsgTenantNotFound   = "Sorry, we can't take your request on this line right now. Please call back later."
	MsgModelUnavailable = "Sorry, I'm having trouble right now. Could you say that again in a moment?"
	MsgCommitFailed     = "Sorry, something went wrong saving that. Could you confirm once more in a moment?"
	MsgClarify          = "Sorry, I didn't quite get that. Could you say it another way?"
	MsgGoodbye          = "Thanks for calling. Goodbye!"
	MsgAbusive          = "I'm ending this call now. Goodbye."
	MsgOutOfScope       = "I can help with orders, table bookings, the menu and our hours."
	MsgSessionClosed    = "This conversation has ended. Please start a new one if you need anything else."
	MsgDeliveryDisabled = "Sorry, we don't offer delivery. Would pickup work for you?"
	MsgPartyTooLarge    = "Sorry, we can't seat a party that large. Please call the restaurant directly."
)

func missingPrompt(field string) string {
	switch field {
	case "items":
		return "What would you like to order?"
	case "fulfillment_type":
		return "Is that for pickup or delivery?"
	case "delivery_address":
		return "What address should we deliver to?"
	case "customer_name":
		return "Can I get a name for that?"
	case "party_size":
		return "How many people will be joining?"
	case "requested_date":
		return "What day would you like to come in?"
	case "requested_time":
		return "What time would you like the table?"
	default:
		return MsgClarify
	}
}

func unknownItemsMessage(rejected []string) string {
	return fmt.Sprintf("Sorry, %s isn't something we have on the menu right now. Would you like something else?", joinAnd(rejected))
}

func quantityQuestion(items []string) string {
	return fmt.Sprintf("How many %s would you like?", joinAnd(items))
}

func removedItemsMessage(removed []string) string {
	return fmt.Sprintf("Sorry, %s just became unavailable, so I've taken it off your order. Would you like anything else before I confirm?", joinAnd(removed))
}

func orderConfirmedMessage(ref string, o *statex.OrderDraft, currency string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your order is confirmed. Your reference is %s.", ref)
	if o != nil {
		fmt.Fprintf(&b, " The total is %s.", prompt.FormatMoney(currency, o.Total))
	}
	return b.String()
}

func bookingConfirmedMessage(ref string, b *statex.BookingDraft) string {
	if b == nil {
		return fmt.Sprintf("Your booking is confirmed. Your reference is %s.", ref)
	}
	return fmt.Sprintf("Your table for %d on %s at %s is booked. Your reference is %s.",
		b.PartySize, b.Start.Format("Monday, January 2"), b.Start.Format("3:04 PM"), ref)
}

func committedReplayMessage(st *statex.DialogueState) string {
	noun := "order"
	if st.Draft.Kind == statex.DraftBooking {
		noun = "booking"
	}
	return fmt.Sprintf("Your %s is already confirmed. Your reference is %s.", noun, st.CommittedReference)
}

func alternativesMessage(reason string, alts []time.Time) string {
	if len(alts) == 0 {
		return reason + " I couldn't find another time nearby. Would a different day work?"
	}
	times := make([]string, 0, len(alts))
	for _, t := range alts {
		times = append(times, t.Format("3:04 PM"))
	}
	return fmt.Sprintf("%s I can offer %s. Would one of those work?", reason, joinOr(times))
}

func joinAnd(items []string) string { return join(items, "and") }
func joinOr(items []string) string  { return join(items, "or") }

func join(items []string, conj string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " " + conj + " " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", " + conj + " " + items[len(items)-1]
	}
}
