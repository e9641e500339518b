package resolver

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
)

type Outcome string

const (
	OutcomeAssigned      Outcome = "assigned"
	OutcomeUnavailable   Outcome = "unavailable"
	OutcomeClosed        Outcome = "closed"
	OutcomeInPast        Outcome = "in_past"
	OutcomeRuleRejected  Outcome = "rule_rejected"
	OutcomePartyTooLarge Outcome = "party_too_large"
)

type BookingRequest struct {
	PartySize int
	Start     time.Time
	Duration  time.Duration
}

type BookingResult struct {
	Outcome  Outcome
	Table    *tenantx.Table
	Start    time.Time
	Duration time.Duration
	// Alternatives are nearby starts that have a table, nearest first.
	Alternatives []time.Time
}

func (r BookingResult) Assigned() bool {
	return r.Outcome == OutcomeAssigned && r.Table != nil
}

// Resolver allocates tables and revalidates orders against a tenant Context.
// It holds no per-conversation state and is safe for concurrent use.
type Resolver struct {
	rules *ruleSet
	now   func() time.Time
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func New(opts ...Option) (*Resolver, error) {
	rules, err := newRuleSet()
	if err != nil {
		return nil, err
	}
	r := &Resolver{rules: rules, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// ValidateRule reports whether a booking rule compiles to a boolean.
func (r *Resolver) ValidateRule(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := r.rules.program(expr)
	return err
}

// ResolveBooking finds a table for the request. When the exact slot cannot be served
// the result carries the reason and up to Policy.MaxAlternatives nearby starts.
func (r *Resolver) ResolveBooking(tc *tenantx.Context, req BookingRequest) (BookingResult, error) {
	if tc == nil {
		return BookingResult{}, fmt.Errorf("%w: tenant context is required", contractx.ErrValidation)
	}
	if req.PartySize <= 0 {
		return BookingResult{}, fmt.Errorf("%w: party size must be positive", contractx.ErrValidation)
	}
	if req.Start.IsZero() {
		return BookingResult{}, fmt.Errorf("%w: booking start is required", contractx.ErrValidation)
	}

	policy := tc.Policy.WithDefaults()
	if req.Duration <= 0 {
		req.Duration = policy.DefaultDuration()
	}
	if tc.Location != nil {
		req.Start = req.Start.In(tc.Location)
	}
	result := BookingResult{Start: req.Start, Duration: req.Duration}

	if req.PartySize > policy.MaxPartySize {
		result.Outcome = OutcomePartyTooLarge
		return result, nil
	}

	now := r.now()
	outcome := r.slotOutcome(tc, policy, req.PartySize, req.Start, req.Duration, now)
	if outcome == OutcomeAssigned {
		if table, ok := PickTable(tc.Tables, req.PartySize, req.Start, req.Duration, policy.SlotIncrement()); ok {
			result.Outcome = OutcomeAssigned
			result.Table = &table
			return result, nil
		}
		outcome = OutcomeUnavailable
	}
	result.Outcome = outcome
	result.Alternatives = r.alternatives(tc, policy, req, now)
	return result, nil
}

// slotOutcome checks everything except table availability.
func (r *Resolver) slotOutcome(tc *tenantx.Context, policy tenantx.Policy, party int, start time.Time, d time.Duration, now time.Time) Outcome {
	if start.Before(now) {
		return OutcomeInPast
	}
	if !tc.Hours.IsZero() && !tc.Hours.Fits(start, start.Add(d)) {
		return OutcomeClosed
	}
	if policy.BookingRule != "" {
		ok, err := r.rules.allows(policy.BookingRule, party, start, d)
		if err != nil {
			log.Warn().Err(err).Str("restaurant", tc.RestaurantID).Msg("booking rule ignored")
		} else if !ok {
			return OutcomeRuleRejected
		}
	}
	return OutcomeAssigned
}

// alternatives probes +inc, -inc, +2inc, -2inc ... inside the policy window.
func (r *Resolver) alternatives(tc *tenantx.Context, policy tenantx.Policy, req BookingRequest, now time.Time) []time.Time {
	inc := policy.SlotIncrement()
	window := time.Duration(policy.AlternativeWindowMinutes) * time.Minute
	var out []time.Time
	for step := inc; step <= window && len(out) < policy.MaxAlternatives; step += inc {
		for _, start := range []time.Time{req.Start.Add(step), req.Start.Add(-step)} {
			if len(out) >= policy.MaxAlternatives {
				break
			}
			if r.slotOutcome(tc, policy, req.PartySize, start, req.Duration, now) != OutcomeAssigned {
				continue
			}
			if _, ok := PickTable(tc.Tables, req.PartySize, start, req.Duration, inc); ok {
				out = append(out, start)
			}
		}
	}
	return out
}

// PickTable returns the best free table: smallest sufficient capacity, then fewest
// bookings adjacent to the slot (within one increment), then lowest id.
func PickTable(tc tenantx.TableContext, party int, start time.Time, d time.Duration, inc time.Duration) (tenantx.Table, bool) {
	end := start.Add(d)
	type candidate struct {
		table    tenantx.Table
		adjacent int
	}
	var cands []candidate
	for _, t := range tc.ActiveTables() {
		if t.Capacity < party {
			continue
		}
		bookings := tc.BookingsFor(t.ID)
		free := true
		adjacent := 0
		for _, b := range bookings {
			if b.Overlaps(start, end) {
				free = false
				break
			}
			if !b.End().Before(start.Add(-inc)) && !b.Start.After(end.Add(inc)) {
				adjacent++
			}
		}
		if free {
			cands = append(cands, candidate{table: t, adjacent: adjacent})
		}
	}
	if len(cands) == 0 {
		return tenantx.Table{}, false
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		return cmp.Or(
			cmp.Compare(a.table.Capacity, b.table.Capacity),
			cmp.Compare(a.adjacent, b.adjacent),
			cmp.Compare(a.table.ID, b.table.ID),
		)
	})
	return cands[0].table, true
}
