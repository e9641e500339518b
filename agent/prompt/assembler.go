package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

type Config struct {
	MaxChars    int `split_words:"true" default:"16000"`
	MenuExcerpt int `split_words:"true" default:"40"`
}

func (c Config) withDefaults() Config {
	if c.MaxChars <= 0 {
		c.MaxChars = 16000
	}
	if c.MenuExcerpt <= 0 {
		c.MenuExcerpt = 40
	}
	return c
}

// Assembler turns dialogue state and tenant context into one bounded ModelRequest.
// Output depends only on its input; it has no side effects.
type Assembler struct {
	cfg   Config
	tpl   *einoprompt.DefaultChatTemplate
	index *MenuIndex
}

type Option func(*Assembler)

// WithMenuIndex enables relevance-ranked menu excerpts for large menus.
func WithMenuIndex(idx *MenuIndex) Option {
	return func(a *Assembler) {
		a.index = idx
	}
}

func NewAssembler(cfg Config, opts ...Option) *Assembler {
	a := &Assembler{
		cfg: cfg.withDefaults(),
		tpl: einoprompt.FromMessages(schema.GoTemplate, schema.SystemMessage(SystemTemplate())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

type Input struct {
	State     *statex.DialogueState
	Tenant    *tenantx.Context
	Utterance string
	Now       time.Time
	// Notes are engine facts the model must relay, such as offered alternatives.
	Notes []string
}

func (a *Assembler) Assemble(ctx context.Context, in Input) (contractx.ModelRequest, error) {
	if in.State == nil {
		return contractx.ModelRequest{}, fmt.Errorf("%w: dialogue state is required", contractx.ErrValidation)
	}
	if in.Tenant == nil {
		return contractx.ModelRequest{}, fmt.Errorf("%w: tenant context is required", contractx.ErrValidation)
	}
	utterance := strings.TrimSpace(in.Utterance)
	if utterance == "" {
		return contractx.ModelRequest{}, fmt.Errorf("%w: utterance is required", contractx.ErrValidation)
	}

	excerpt := in.Tenant.Menu.Len() > a.cfg.MenuExcerpt && a.index != nil
	system, err := a.renderSystem(ctx, in, excerpt)
	if err != nil {
		return contractx.ModelRequest{}, err
	}
	if !excerpt && len(system)+len(utterance) > a.cfg.MaxChars && in.Tenant.Menu.Len() > a.cfg.MenuExcerpt {
		if system, err = a.renderSystem(ctx, in, true); err != nil {
			return contractx.ModelRequest{}, err
		}
	}

	req := contractx.ModelRequest{
		ConversationID: in.State.ConversationID,
		System:         system,
	}
	current := contractx.Message{Role: contractx.RoleCustomer, Content: utterance}

	// Walk history newest first so the oldest turns are the ones that fall off.
	budget := a.cfg.MaxChars - len(system) - len(utterance)
	var history []contractx.Message
	for i := len(in.State.Turns) - 1; i >= 0; i-- {
		turn := in.State.Turns[i]
		if len(turn.Utterance) > budget {
			break
		}
		budget -= len(turn.Utterance)
		history = append(history, contractx.Message{Role: roleFor(turn.Speaker), Content: turn.Utterance})
	}
	slices.Reverse(history)

	req.Messages = append(history, current)
	if dropped := len(in.State.Turns) - len(history); dropped > 0 {
		log.Debug().
			Str("conversation_id", in.State.ConversationID).
			Int("dropped_turns", dropped).
			Int("size", req.Size()).
			Msg("prompt history truncated")
	}
	return req, nil
}

func roleFor(s statex.Speaker) contractx.Role {
	if s == statex.SpeakerAgent {
		return contractx.RoleAgent
	}
	return contractx.RoleCustomer
}

func (a *Assembler) renderSystem(ctx context.Context, in Input, excerpt bool) (string, error) {
	tc := in.Tenant
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	if tc.Location != nil {
		now = now.In(tc.Location)
	}

	items := tc.Menu.Items
	if excerpt {
		items = a.menuExcerpt(ctx, in)
	}

	intents := make([]string, 0, len(contractx.Intents))
	for _, it := range contractx.Intents {
		intents = append(intents, string(it))
	}

	hours := tc.Hours.Describe()
	if tc.Hours.IsZero() {
		hours = "not published"
	}

	vars := map[string]any{
		"restaurant":      tc.Name,
		"now":             now.Format("Monday 2006-01-02 15:04"),
		"channel":         string(in.State.Channel),
		"hours":           hours,
		"booking_minutes": tc.Policy.DefaultBookingMinutes,
		"max_party_size":  tc.Policy.MaxPartySize,
		"delivery":        yesNo(tc.Policy.DeliveryEnabled),
		"currency":        tc.Policy.CurrencySymbol,
		"menu":            renderMenu(items, tc.Policy.CurrencySymbol),
		"tables":          renderTables(tc.Tables),
		"draft":           renderDraft(in.State.Draft),
		"missing":         renderMissing(in.State.Draft),
		"commit_state":    string(in.State.CommitState),
		"notes":           strings.Join(in.Notes, "\n"),
		"intents":         strings.Join(intents, ", "),
	}

	msgs, err := a.tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("format system prompt: %w", err)
	}
	if len(msgs) == 0 {
		return "", fmt.Errorf("format system prompt: empty result")
	}
	return msgs[0].Content, nil
}

// menuExcerpt keeps every item already in the draft and fills the rest with the
// items most relevant to the utterance.
func (a *Assembler) menuExcerpt(ctx context.Context, in Input) []tenantx.MenuItem {
	menu := in.Tenant.Menu
	limit := a.cfg.MenuExcerpt
	keep := make(map[string]bool)
	if d := in.State.Draft; d.Kind == statex.DraftOrder && d.Order != nil {
		for _, l := range d.Order.Items {
			keep[l.ItemRef] = true
		}
	}

	var ranked []string
	if a.index != nil {
		ids, err := a.index.Relevant(ctx, in.Tenant.RestaurantID, menu, in.Utterance, limit)
		if err != nil {
			log.Warn().Err(err).Str("restaurant", in.Tenant.RestaurantID).Msg("menu index query failed, using menu order")
		}
		ranked = ids
	}
	for _, id := range ranked {
		if len(keep) >= limit {
			break
		}
		keep[id] = true
	}
	for _, it := range menu.Items {
		if len(keep) >= limit {
			break
		}
		keep[it.ID] = true
	}

	out := make([]tenantx.MenuItem, 0, len(keep))
	for _, it := range menu.Items {
		if keep[it.ID] {
			out = append(out, it)
		}
	}
	return out
}

func renderMenu(items []tenantx.MenuItem, currency string) string {
	if len(items) == 0 {
		return "(nothing available right now)"
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- %s | %s | %s", it.ID, it.Name, FormatMoney(currency, it.Price))
		if len(it.Modifiers) > 0 {
			mods := make([]string, 0, len(it.Modifiers))
			for _, m := range it.Modifiers {
				mods = append(mods, fmt.Sprintf("%s (+%s)", m.ID, FormatMoney(currency, m.Price)))
			}
			b.WriteString(" | " + strings.Join(mods, ", "))
		}
		if it.Description != "" {
			b.WriteString(" | " + it.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTables(tc tenantx.TableContext) string {
	counts := make(map[int]int)
	for _, t := range tc.ActiveTables() {
		counts[t.Capacity]++
	}
	if len(counts) == 0 {
		return "no tables available for reservations"
	}
	caps := make([]int, 0, len(counts))
	for c := range counts {
		caps = append(caps, c)
	}
	slices.Sort(caps)
	parts := make([]string, 0, len(caps))
	for _, c := range caps {
		parts = append(parts, fmt.Sprintf("%d seats x%d", c, counts[c]))
	}
	return strings.Join(parts, ", ")
}

func renderDraft(d statex.Draft) string {
	var payload any
	switch d.Kind {
	case statex.DraftOrder:
		payload = map[string]any{"order": d.Order}
	case statex.DraftBooking:
		payload = map[string]any{"booking": d.Booking}
	default:
		return "none"
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "none"
	}
	return string(raw)
}

func renderMissing(d statex.Draft) string {
	var missing []string
	switch d.Kind {
	case statex.DraftOrder:
		missing = d.Order.MissingFields()
	case statex.DraftBooking:
		missing = d.Booking.MissingFields()
	}
	if len(missing) == 0 {
		return "nothing"
	}
	return strings.Join(missing, ", ")
}

// FormatMoney renders minor units, e.g. 1250 -> "$12.50".
func FormatMoney(symbol string, cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, symbol, cents/100, cents%100)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
