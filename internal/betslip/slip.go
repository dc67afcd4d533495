// Package betslip aggregates selections into single or parlay wagers and
// keeps stakes, combined odds and potential winnings current.
//
// All money and price arithmetic is decimal. Every mutating call leaves the
// slip either fully updated or untouched, and recomputes totals before
// returning.
package betslip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/types"
)

// Mode is how the legs are wagered.
type Mode string

const (
	// ModeSingle places each leg as its own wager.
	ModeSingle Mode = "single"
	// ModeParlay places one wager that wins only if every leg wins.
	ModeParlay Mode = "parlay"
)

// Totals are the slip-level figures after the last mutation.
type Totals struct {
	Mode              Mode            `json:"mode"`
	Legs              int             `json:"legs"`
	TotalStake        decimal.Decimal `json:"totalStake"`
	CombinedOdds      decimal.Decimal `json:"combinedOdds"`
	PotentialWinnings decimal.Decimal `json:"potentialWinnings"`
}

// OddsChange reports a leg re-priced by RefreshOdds.
type OddsChange struct {
	SelectionID string          `json:"selectionId"`
	Previous    decimal.Decimal `json:"previous"`
	Current     decimal.Decimal `json:"current"`
	Suspended   bool            `json:"suspended"`
}

// Options configures a Slip.
type Options struct {
	Settler  Settler
	Currency string
	Logger   *zap.Logger
	Now      func() time.Time
}

// Slip is a viewer's bet slip. It is safe for concurrent use, though it is
// normally driven from one place.
type Slip struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	legs        []Selection
	mode        Mode
	override    bool
	parlayStake decimal.Decimal
	totals      Totals
	submitting  bool
}

// New creates an empty slip in single mode.
func New(opts Options) *Slip {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Slip{
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		mode:   ModeSingle,
	}
	s.recompute()
	return s
}

// AddSelection adds a leg, or replaces the leg already on the same event
// and market in place. It returns the stored selection.
func (s *Slip) AddSelection(sel Selection) (Selection, error) {
	if sel.EventID == "" || sel.MarketID == "" || sel.OutcomeID == "" {
		return Selection{}, reject(ReasonUnknownSelection, "selection must reference an event, market and outcome")
	}
	if sel.Odds.LessThan(minOdds) {
		return Selection{}, reject(ReasonInvalidOdds, "odds %s below minimum %s", sel.Odds, minOdds)
	}
	if sel.Stake.IsNegative() {
		sel.Stake = decimal.Zero
	}
	if sel.AddedAt.IsZero() {
		sel.AddedAt = s.opts.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexByKey(sel.key()); i >= 0 {
		old := s.legs[i]
		if sel.ID == "" {
			sel.ID = old.ID
		}
		if sel.Stake.IsZero() {
			sel.Stake = old.Stake
		}
		s.legs[i] = sel
	} else {
		if sel.ID == "" {
			sel.ID = uuid.NewString()
		}
		s.legs = append(s.legs, sel)
	}

	s.adjustMode()
	s.recompute()
	return sel, nil
}

// RemoveSelection removes a leg by id. Dropping below two legs returns the
// slip to single mode.
func (s *Slip) RemoveSelection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(id)
	if i < 0 {
		return reject(ReasonUnknownSelection, "no selection %s", id)
	}
	s.legs = append(s.legs[:i], s.legs[i+1:]...)

	s.adjustMode()
	s.recompute()
	return nil
}

// Clear empties the slip and resets it to single mode.
func (s *Slip) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Slip) clearLocked() {
	s.legs = nil
	s.mode = ModeSingle
	s.override = false
	s.parlayStake = decimal.Zero
	s.recompute()
}

// SetMode overrides the automatic mode choice. Parlay needs two legs.
func (s *Slip) SetMode(m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m {
	case ModeSingle:
	case ModeParlay:
		if len(s.legs) < 2 {
			return reject(ReasonTooFewLegs, "parlay needs at least 2 legs, have %d", len(s.legs))
		}
	default:
		return fmt.Errorf("unknown mode %q", m)
	}

	s.override = true
	s.switchMode(m)
	s.recompute()
	return nil
}

// SetStake sets one leg's stake; negative amounts are clamped to zero. In
// parlay mode the per-leg stake is informational and the slip total is
// unchanged.
func (s *Slip) SetStake(id string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexByID(id)
	if i < 0 {
		return reject(ReasonUnknownSelection, "no selection %s", id)
	}
	s.legs[i].Stake = amount
	s.recompute()
	return nil
}

// SetTotalStake sets the slip total and spreads it evenly across the legs,
// rounding shares down to cents with the remainder on the last leg. In
// parlay mode the total is authoritative.
func (s *Slip) SetTotalStake(amount decimal.Decimal) error {
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.legs)
	if n == 0 {
		return reject(ReasonEmptySlip, "no selections to stake")
	}

	share := amount.Div(decimal.NewFromInt(int64(n))).RoundDown(2)
	for i := range s.legs {
		s.legs[i].Stake = share
	}
	s.legs[n-1].Stake = amount.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	s.parlayStake = amount

	s.recompute()
	return nil
}

// Submit validates the slip against balance and hands it to the settler.
// The slip is not locked while the settler runs, so odds refreshes carry
// on. On success the placed legs are removed; legs added meanwhile stay.
// On any rejection the slip is left unchanged.
func (s *Slip) Submit(ctx context.Context, balance decimal.Decimal) (Receipt, error) {
	ticket, err := s.prepareTicket(balance)
	if err != nil {
		return Receipt{}, err
	}
	defer s.finishSubmit()

	receipt, err := s.opts.Settler.Settle(ctx, ticket)
	if err != nil {
		s.logger.Warn("settlement failed", zap.String("ticket", ticket.ID), zap.Error(err))
		return Receipt{}, &Rejection{
			Reason:  ReasonSettlementFailed,
			Message: "ticket was not placed",
			Err:     err,
		}
	}
	if receipt.TicketID == "" {
		receipt.TicketID = ticket.ID
	}

	s.logger.Info("ticket placed",
		zap.String("ticket", ticket.ID),
		zap.String("reference", receipt.Reference),
		zap.String("mode", string(ticket.Mode)),
		zap.Int("legs", len(ticket.Legs)),
		zap.String("stake", ticket.TotalStake.String()))

	s.removePlaced(ticket.Legs)
	return receipt, nil
}

// prepareTicket validates the slip and snapshots it as a ticket.
func (s *Slip) prepareTicket(balance decimal.Decimal) (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.totals
	switch {
	case s.submitting:
		return Ticket{}, reject(ReasonSubmitInProgress, "a submission is already in flight")
	case len(s.legs) == 0:
		return Ticket{}, reject(ReasonEmptySlip, "slip is empty")
	case s.mode == ModeParlay && len(s.legs) < 2:
		return Ticket{}, reject(ReasonTooFewLegs, "parlay needs at least 2 legs, have %d", len(s.legs))
	case !t.TotalStake.IsPositive():
		return Ticket{}, reject(ReasonZeroStake, "total stake must be positive")
	case t.TotalStake.GreaterThan(balance):
		return Ticket{}, reject(ReasonInsufficientBalance, "stake %s exceeds balance %s", t.TotalStake, balance)
	}
	for _, leg := range s.legs {
		if leg.Suspended {
			return Ticket{}, reject(ReasonUnavailable, "%s is suspended", leg.Name)
		}
	}
	if s.opts.Settler == nil {
		return Ticket{}, reject(ReasonSettlementFailed, "no settlement configured")
	}

	s.submitting = true
	return Ticket{
		ID:                uuid.NewString(),
		Mode:              s.mode,
		Legs:              s.legsCopy(),
		TotalStake:        t.TotalStake,
		CombinedOdds:      t.CombinedOdds,
		PotentialWinnings: t.PotentialWinnings,
		Currency:          s.opts.Currency,
		CreatedAt:         s.opts.Now(),
	}, nil
}

func (s *Slip) finishSubmit() {
	s.mu.Lock()
	s.submitting = false
	s.mu.Unlock()
}

// removePlaced drops the legs a settled ticket carried.
func (s *Slip) removePlaced(placed []Selection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[string]struct{}, len(placed))
	for _, leg := range placed {
		ids[leg.ID] = struct{}{}
	}
	kept := s.legs[:0]
	for _, leg := range s.legs {
		if _, ok := ids[leg.ID]; !ok {
			kept = append(kept, leg)
		}
	}
	if len(kept) == 0 {
		s.clearLocked()
		return
	}
	s.legs = kept
	s.parlayStake = s.sumStakes()
	s.adjustMode()
	s.recompute()
}

// RefreshOdds re-prices legs from fresh events. Legs whose outcome is gone
// or closed are suspended; legs on events not in the batch are untouched.
func (s *Slip) RefreshOdds(events []types.Event) []OddsChange {
	if len(events) == 0 {
		return nil
	}
	byID := make(map[string]*types.Event, len(events))
	for i := range events {
		byID[events[i].ID] = &events[i]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []OddsChange
	for i := range s.legs {
		leg := &s.legs[i]
		ev, ok := byID[leg.EventID]
		if !ok {
			continue
		}
		leg.IsLive = ev.IsLive()

		market, mok := ev.FindMarket(leg.MarketID)
		outcome, ook := ev.FindOutcome(leg.MarketID, leg.OutcomeID)
		if !mok || !ook || !tradeable(*ev, market, outcome) || outcome.Odds < types.MinOdds {
			if !leg.Suspended {
				leg.Suspended = true
				changes = append(changes, OddsChange{
					SelectionID: leg.ID,
					Previous:    leg.Odds,
					Current:     leg.Odds,
					Suspended:   true,
				})
			}
			continue
		}

		price := decimal.NewFromFloat(outcome.Odds)
		if price.Equal(leg.Odds) && !leg.Suspended {
			continue
		}
		changes = append(changes, OddsChange{
			SelectionID: leg.ID,
			Previous:    leg.Odds,
			Current:     price,
		})
		leg.Odds = price
		leg.Suspended = false
	}

	if len(changes) > 0 {
		s.recompute()
	}
	return changes
}

// Legs returns a copy of the legs in slip order.
func (s *Slip) Legs() []Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.legsCopy()
}

// Len returns the number of legs.
func (s *Slip) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.legs)
}

// Mode returns the current mode.
func (s *Slip) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Totals returns the figures computed after the last mutation.
func (s *Slip) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

func (s *Slip) legsCopy() []Selection {
	out := make([]Selection, len(s.legs))
	copy(out, s.legs)
	return out
}

func (s *Slip) indexByID(id string) int {
	for i := range s.legs {
		if s.legs[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Slip) indexByKey(key string) int {
	for i := range s.legs {
		if s.legs[i].key() == key {
			return i
		}
	}
	return -1
}

// adjustMode picks parlay once there are two legs unless the viewer chose
// otherwise. Fewer than two legs always means single.
func (s *Slip) adjustMode() {
	if len(s.legs) < 2 {
		s.override = false
		s.switchMode(ModeSingle)
		return
	}
	if !s.override {
		s.switchMode(ModeParlay)
	}
}

func (s *Slip) switchMode(m Mode) {
	if s.mode == m {
		return
	}
	if m == ModeParlay {
		s.parlayStake = s.sumStakes()
	}
	s.mode = m
}

func (s *Slip) sumStakes() decimal.Decimal {
	total := decimal.Zero
	for _, leg := range s.legs {
		total = total.Add(leg.Stake)
	}
	return total
}

func (s *Slip) recompute() {
	combined := decimal.NewFromInt(1)
	for _, leg := range s.legs {
		combined = combined.Mul(leg.Odds)
	}

	t := Totals{
		Mode:         s.mode,
		Legs:         len(s.legs),
		CombinedOdds: combined,
	}

	switch s.mode {
	case ModeParlay:
		t.TotalStake = s.parlayStake
		t.PotentialWinnings = s.parlayStake.Mul(combined)
	default:
		winnings := decimal.Zero
		for _, leg := range s.legs {
			winnings = winnings.Add(leg.Stake.Mul(leg.Odds))
		}
		t.TotalStake = s.sumStakes()
		t.PotentialWinnings = winnings
	}

	s.totals = t
}
