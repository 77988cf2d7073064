// Package negotiation runs the discount negotiation for one conversation.
//
// Stages move NONE -> REQUESTED -> OFFERED -> (COUNTERED <-> OFFERED) ->
// ACCEPTED | REJECTED. Every move is checked against a closed transition table;
// terminal stages clear the state. The machine is pure: callers persist the
// returned state.
package negotiation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"orderdesk/internal"
	"orderdesk/internal/apperr"
	"orderdesk/internal/config"
	"orderdesk/internal/pricing"
)

var transitions = map[internal.Stage][]internal.Stage{
	internal.StageNone:      {internal.StageRequested, internal.StageOffered},
	internal.StageRequested: {internal.StageRequested, internal.StageOffered, internal.StageRejected},
	internal.StageOffered:   {internal.StageOffered, internal.StageCountered, internal.StageAccepted, internal.StageRejected},
	internal.StageCountered: {internal.StageCountered, internal.StageOffered, internal.StageAccepted, internal.StageRejected},
	internal.StageAccepted:  {internal.StageNone},
	internal.StageRejected:  {internal.StageNone},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to internal.Stage) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(state *internal.NegotiationState, to internal.Stage) error {
	from := state.Stage
	if from == "" {
		from = internal.StageNone
	}
	if !CanTransition(from, to) {
		return apperr.Wrap(apperr.CodeInvalidTransition, fmt.Errorf("%s -> %s", from, to), "negotiation cannot move to "+string(to))
	}
	state.Stage = to
	return nil
}

type Machine struct {
	engine   *pricing.Engine
	step     decimal.Decimal
	maxTurns int
	ttl      time.Duration
	now      func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func New(engine *pricing.Engine, cfg config.NegotiationConfig, opts ...Option) *Machine {
	m := &Machine{
		engine:   engine,
		step:     cfg.Step,
		maxTurns: cfg.MaxTurns,
		ttl:      cfg.TTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Outcome is the state after one negotiation turn.
type Outcome struct {
	State internal.NegotiationState
	// Commit holds the lines to write to the cart when the offer was accepted.
	Commit []internal.PriceQuote
	// Stale is set when the previous negotiation had expired and was restarted.
	Stale bool
	// NeedsQuantity is set when there is nothing with a quantity to negotiate on.
	NeedsQuantity bool
}

// Expired reports whether an open negotiation outlived its TTL.
func (m *Machine) Expired(state internal.NegotiationState) bool {
	if !state.Active() || state.ExpiresAt == nil {
		return false
	}
	return m.now().After(*state.ExpiresAt)
}

// Clear returns an empty state for the same conversation, keeping the version
// for the compare-and-swap write.
func Clear(state internal.NegotiationState) internal.NegotiationState {
	return internal.NegotiationState{
		TenantID:       state.TenantID,
		ConversationID: state.ConversationID,
		Stage:          internal.StageNone,
		UpdatedAt:      state.UpdatedAt,
		Version:        state.Version,
	}
}

// Request handles a discount request. quotes are the lines of the current
// message; when empty the conversation's last quote is used. inCart is the
// cartons already in the cart, which count toward the order's slab. Without
// any quantity the state waits in REQUESTED for products and quantities.
func (m *Machine) Request(state internal.NegotiationState, quotes []internal.PriceQuote, inCart int, cust internal.CustomerContext) (Outcome, error) {
	out := Outcome{}
	if m.Expired(state) {
		out.Stale = true
		state = Clear(state)
	}
	if len(quotes) == 0 {
		quotes = state.QuotedLines
	}
	if (state.Stage == internal.StageOffered || state.Stage == internal.StageCountered) && sameLines(state.QuotedLines, quotes) {
		return m.Counter(state)
	}

	if len(quotes) == 0 || !allQuantified(quotes) {
		if err := transition(&state, internal.StageRequested); err != nil {
			return Outcome{}, err
		}
		state.QuotedLines = quotes
		state.Tier = cust.Tier
		state.BestPrice = state.BestPrice || cust.BestPrice
		m.touch(&state)
		out.State = state
		out.NeedsQuantity = true
		return out, nil
	}

	offered, err := m.offer(state, quotes, inCart, cust)
	if err != nil {
		return Outcome{}, err
	}
	out.State = offered
	return out, nil
}

// Counter handles pushback on an open offer. The offer grows by one step up to
// the ceiling; once the turn budget is used or the ceiling is reached the final
// offer is restated unchanged.
func (m *Machine) Counter(state internal.NegotiationState) (Outcome, error) {
	if m.Expired(state) {
		return m.restart(state), nil
	}
	if state.Stage == internal.StageRequested {
		return Outcome{State: state, NeedsQuantity: true}, nil
	}
	if err := transition(&state, internal.StageCountered); err != nil {
		return Outcome{}, err
	}
	if state.TurnsUsed >= m.maxTurns || state.CurrentOfferPercent.GreaterThanOrEqual(state.CeilingPercent) {
		state.FinalOffer = true
	} else {
		next := state.CurrentOfferPercent.Add(m.step)
		if next.GreaterThan(state.CeilingPercent) {
			next = state.CeilingPercent
		}
		state.CurrentOfferPercent = next
		state.TurnsUsed++
		state.FinalOffer = state.TurnsUsed >= m.maxTurns || next.Equal(state.CeilingPercent)
		state.QuotedLines = pricing.Reprice(state.QuotedLines, next)
	}
	m.touch(&state)
	if err := checkBounds(state); err != nil {
		return Outcome{}, err
	}
	return Outcome{State: state}, nil
}

// Requote re-prices an open negotiation after the customer changed quantities.
// The slab and ceiling are recomputed for the new order total. Restating the
// quoted quantities keeps the open offer and its turn count, and a larger
// order never gets a lower offer than the one already made.
func (m *Machine) Requote(state internal.NegotiationState, quotes []internal.PriceQuote, inCart int, cust internal.CustomerContext) (Outcome, error) {
	if m.Expired(state) {
		return m.restart(state), nil
	}
	if !allQuantified(quotes) || len(quotes) == 0 {
		return Outcome{}, apperr.New(apperr.CodeInvalidQuantity, "requote needs quantities for every line")
	}
	if (state.Stage == internal.StageOffered || state.Stage == internal.StageCountered) && sameLines(state.QuotedLines, quotes) {
		m.touch(&state)
		return Outcome{State: state}, checkBounds(state)
	}

	prev := state
	offered, err := m.offer(state, quotes, inCart, cust)
	if err != nil {
		return Outcome{}, err
	}
	if prev.Stage != internal.StageRequested && offered.TotalCartons >= prev.TotalCartons &&
		prev.CurrentOfferPercent.GreaterThan(offered.CurrentOfferPercent) {
		carried := decimal.Min(prev.CurrentOfferPercent, offered.CeilingPercent)
		offered.CurrentOfferPercent = carried
		offered.QuotedLines = pricing.Reprice(offered.QuotedLines, carried)
		offered.FinalOffer = carried.GreaterThanOrEqual(offered.CeilingPercent) || m.maxTurns == 0
		if err := checkBounds(offered); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{State: offered}, nil
}

// Accept commits the open offer. The returned state is cleared; Commit carries
// the quoted lines at the current offer.
func (m *Machine) Accept(state internal.NegotiationState) (Outcome, error) {
	if m.Expired(state) {
		return m.restart(state), nil
	}
	if state.Stage == internal.StageRequested {
		return Outcome{State: state, NeedsQuantity: true}, nil
	}
	if err := transition(&state, internal.StageAccepted); err != nil {
		return Outcome{}, err
	}
	if err := checkBounds(state); err != nil {
		return Outcome{}, err
	}
	commit := pricing.Reprice(state.QuotedLines, state.CurrentOfferPercent)
	cleared := Clear(state)
	cleared.UpdatedAt = m.now()
	return Outcome{State: cleared, Commit: commit}, nil
}

// Reject drops the negotiation without touching the cart.
func (m *Machine) Reject(state internal.NegotiationState) (Outcome, error) {
	if err := transition(&state, internal.StageRejected); err != nil {
		return Outcome{}, err
	}
	cleared := Clear(state)
	cleared.UpdatedAt = m.now()
	return Outcome{State: cleared}, nil
}

func (m *Machine) offer(state internal.NegotiationState, quotes []internal.PriceQuote, inCart int, cust internal.CustomerContext) (internal.NegotiationState, error) {
	total := pricing.TotalCartons(quotes) + inCart
	base, _, err := m.engine.BaseDiscount(total)
	if err != nil {
		return state, err
	}
	cust.BestPrice = cust.BestPrice || state.BestPrice
	ceiling, err := m.engine.Ceiling(total, cust)
	if err != nil {
		return state, err
	}
	if err := transition(&state, internal.StageOffered); err != nil {
		return state, err
	}
	state.QuotedLines = pricing.Reprice(quotes, base)
	state.Tier = cust.Tier
	state.BestPrice = cust.BestPrice
	state.TotalCartons = total
	state.FloorPercent = base
	state.CurrentOfferPercent = base
	state.CeilingPercent = ceiling
	state.TurnsUsed = 0
	state.FinalOffer = base.GreaterThanOrEqual(ceiling) || m.maxTurns == 0
	m.touch(&state)
	return state, checkBounds(state)
}

func (m *Machine) restart(state internal.NegotiationState) Outcome {
	fresh := Clear(state)
	fresh.Stage = internal.StageRequested
	fresh.Tier = state.Tier
	m.touch(&fresh)
	return Outcome{State: fresh, Stale: true, NeedsQuantity: true}
}

func (m *Machine) touch(state *internal.NegotiationState) {
	now := m.now()
	state.UpdatedAt = now
	if m.ttl > 0 {
		exp := now.Add(m.ttl)
		state.ExpiresAt = &exp
	}
}

func checkBounds(state internal.NegotiationState) error {
	if state.CurrentOfferPercent.GreaterThan(state.CeilingPercent) {
		return apperr.New(apperr.CodeDiscountCeilingExceeded, "offer %s%% above ceiling %s%%", state.CurrentOfferPercent, state.CeilingPercent)
	}
	if state.CurrentOfferPercent.LessThan(state.FloorPercent) {
		return apperr.New(apperr.CodeDiscountCeilingExceeded, "offer %s%% below floor %s%%", state.CurrentOfferPercent, state.FloorPercent)
	}
	return nil
}

func allQuantified(quotes []internal.PriceQuote) bool {
	for _, q := range quotes {
		if !q.HasQuantity || q.QuantityCartons <= 0 {
			return false
		}
	}
	return true
}

func sameLines(a, b []internal.PriceQuote) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].QuantityCartons != b[i].QuantityCartons {
			return false
		}
	}
	return true
}
