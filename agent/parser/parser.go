package parser

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

//go:embed envelope.schema.json
var envelopeSchema []byte

// Parser turns raw model text into an Envelope grounded in the loaded menu.
// It never fails the turn: unusable output degrades to NeedClarification.
type Parser struct {
	schema *jsonschema.Schema
}

func New() (*Parser, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(envelopeSchema)
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &Parser{schema: schema}, nil
}

func MustNew() *Parser {
	p, err := New()
	if err != nil {
		panic(err)
	}
	return p
}

type Input struct {
	Raw  string
	Menu tenantx.MenuContext
	// Now anchors relative dates such as "tomorrow", in the restaurant's location.
	Now time.Time
}

// flexInt accepts 2, "2", 2.0 and null. Any other value decodes as invalid
// instead of failing the envelope, so one bad optional field costs only itself.
type flexInt struct {
	n       int
	invalid bool
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	*f = flexInt{}
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		f.n = n
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && v == float64(int(v)) {
		f.n = int(v)
		return nil
	}
	f.invalid = true
	return nil
}

// value returns the integer, or 0 when the field was missing or unusable.
func (f flexInt) value() int {
	if f.invalid || f.n < 0 {
		return 0
	}
	return f.n
}

// leanEnvelope is what survives when the full envelope does not decode.
type leanEnvelope struct {
	Intent  string `json:"intent"`
	Message string `json:"message"`
}

type rawEnvelope struct {
	Intent  string `json:"intent"`
	Message string `json:"message"`
	Order   *struct {
		Items []struct {
			ItemRef   string   `json:"item_ref"`
			Quantity  *flexInt `json:"quantity"`
			Modifiers []string `json:"modifiers"`
		} `json:"items"`
		FulfillmentType string `json:"fulfillment_type"`
		DeliveryAddress string `json:"delivery_address"`
		CustomerName    string `json:"customer_name"`
		RequestedTime   string `json:"requested_time"`
	} `json:"order"`
	Booking *struct {
		PartySize       flexInt `json:"party_size"`
		RequestedDate   string  `json:"requested_date"`
		RequestedTime   string  `json:"requested_time"`
		DurationMinutes flexInt `json:"duration_minutes"`
		CustomerName    string  `json:"customer_name"`
	} `json:"booking"`
}

// Parse extracts the envelope. The returned error wraps ErrParseFailure and is
// informational only; the envelope is always usable.
func (p *Parser) Parse(in Input) (contractx.Envelope, error) {
	raw, envErr := p.decode(in.Raw)
	if envErr != nil {
		return contractx.Envelope{
			Intent:  contractx.IntentNeedClarification,
			Message: strings.TrimSpace(in.Raw),
		}, envErr
	}

	env := contractx.Envelope{
		Intent:     contractx.ParseIntent(raw.Intent),
		Message:    strings.TrimSpace(raw.Message),
		Conformant: true,
	}
	if raw.Order != nil {
		env.Order = p.groundOrder(raw, in.Menu, &env)
	}
	if raw.Booking != nil {
		env.Booking = normalizeBooking(raw, in.Now)
	}

	if len(env.Rejected)+len(env.Unclear) > 0 && (env.Intent == contractx.IntentConfirmOrder || env.Intent == contractx.IntentContinueOrder) {
		env.Intent = contractx.IntentNeedClarification
	}
	return env, nil
}

func (p *Parser) decode(text string) (*rawEnvelope, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty output", contractx.ErrParseFailure)
	}
	cands := candidates(text)
	var lastErr error
	for _, cand := range cands {
		if res := p.schema.ValidateJSON([]byte(cand)); !res.IsValid() {
			lastErr = fmt.Errorf("%w: schema: %v", contractx.ErrParseFailure, res.Errors)
			continue
		}
		var env rawEnvelope
		if err := json.Unmarshal([]byte(cand), &env); err != nil {
			lastErr = fmt.Errorf("%w: decode: %v", contractx.ErrParseFailure, err)
			continue
		}
		return &env, nil
	}
	// keep intent and message when only the patches are malformed
	for _, cand := range cands {
		var lean leanEnvelope
		if err := json.Unmarshal([]byte(cand), &lean); err != nil || strings.TrimSpace(lean.Intent) == "" {
			continue
		}
		log.Debug().Err(lastErr).Str("intent", lean.Intent).Msg("envelope patches dropped")
		return &rawEnvelope{Intent: lean.Intent, Message: lean.Message}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no json object found", contractx.ErrParseFailure)
	}
	return nil, lastErr
}

// groundOrder keeps only lines whose item and modifiers exist on the menu, rewriting
// references to canonical ids. Everything else is recorded in env.Rejected.
func (p *Parser) groundOrder(raw *rawEnvelope, menu tenantx.MenuContext, env *contractx.Envelope) *contractx.OrderPatch {
	src := raw.Order
	patch := &contractx.OrderPatch{
		FulfillmentType: normalizeFulfillment(src.FulfillmentType),
		DeliveryAddress: strings.TrimSpace(src.DeliveryAddress),
		CustomerName:    strings.TrimSpace(src.CustomerName),
	}
	if t := strings.TrimSpace(src.RequestedTime); t != "" {
		if clock, err := NormalizeClock(t); err == nil {
			patch.RequestedTime = clock
		} else if strings.EqualFold(t, "asap") || strings.EqualFold(t, "now") {
			patch.RequestedTime = "asap"
		}
	}

lines:
	for _, it := range src.Items {
		item, ok := menu.Find(it.ItemRef)
		if !ok {
			env.Rejected = append(env.Rejected, strings.TrimSpace(it.ItemRef))
			continue
		}
		mods := make([]string, 0, len(it.Modifiers))
		for _, ref := range it.Modifiers {
			mod, ok := item.FindModifier(ref)
			if !ok {
				env.Rejected = append(env.Rejected, item.Name+" with "+strings.TrimSpace(ref))
				continue lines
			}
			mods = append(mods, mod.ID)
		}
		qty := 1
		if it.Quantity != nil {
			if it.Quantity.invalid {
				env.Unclear = append(env.Unclear, item.Name)
				continue
			}
			qty = it.Quantity.value()
		}
		patch.Items = append(patch.Items, contractx.OrderItemPatch{ItemRef: item.ID, Quantity: qty, Modifiers: mods})
	}
	return patch
}

func normalizeFulfillment(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pickup", "pick up", "pick-up", "collection", "takeout", "take out":
		return "pickup"
	case "delivery", "deliver":
		return "delivery"
	default:
		return ""
	}
}

func normalizeBooking(raw *rawEnvelope, now time.Time) *contractx.BookingPatch {
	src := raw.Booking
	patch := &contractx.BookingPatch{
		PartySize:       src.PartySize.value(),
		DurationMinutes: src.DurationMinutes.value(),
		CustomerName:    strings.TrimSpace(src.CustomerName),
	}
	if now.IsZero() {
		now = time.Now()
	}
	if d := strings.TrimSpace(src.RequestedDate); d != "" {
		if date, err := NormalizeDate(d, now); err == nil {
			patch.RequestedDate = date
		}
	}
	if t := strings.TrimSpace(src.RequestedTime); t != "" {
		if clock, err := NormalizeClock(t); err == nil {
			patch.RequestedTime = clock
		}
	}
	return patch
}
