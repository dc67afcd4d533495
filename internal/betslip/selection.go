package betslip

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/johan/oddsrelay/internal/types"
)

var minOdds = decimal.NewFromFloat(types.MinOdds)

// Selection is one leg of the slip.
type Selection struct {
	ID        string          `json:"id"`
	EventID   string          `json:"eventId"`
	MarketID  string          `json:"marketId"`
	OutcomeID string          `json:"outcomeId"`
	Name      string          `json:"name"`
	EventName string          `json:"eventName,omitempty"`
	Odds      decimal.Decimal `json:"odds"`
	Stake     decimal.Decimal `json:"stake"`
	IsLive    bool            `json:"isLive"`
	AddedAt   time.Time       `json:"addedAt"`

	// Suspended is set when a refresh finds the outcome no longer
	// tradeable. Suspended slips cannot be submitted.
	Suspended bool `json:"suspended,omitempty"`
}

func (s Selection) key() string {
	return s.EventID + "/" + s.MarketID
}

// SelectionFromOutcome builds a leg from an event's current price.
func SelectionFromOutcome(ev types.Event, marketID, outcomeID string) (Selection, error) {
	market, ok := ev.FindMarket(marketID)
	if !ok {
		return Selection{}, reject(ReasonUnknownSelection, "event %s has no market %s", ev.ID, marketID)
	}
	outcome, ok := ev.FindOutcome(marketID, outcomeID)
	if !ok {
		return Selection{}, reject(ReasonUnknownSelection, "market %s has no outcome %s", marketID, outcomeID)
	}
	if !tradeable(ev, market, outcome) {
		return Selection{}, reject(ReasonUnavailable, "%s is not open for betting", outcome.Name)
	}

	name := outcome.Name
	if market.Name != "" {
		name = market.Name + ": " + outcome.Name
	}

	return Selection{
		EventID:   ev.ID,
		MarketID:  marketID,
		OutcomeID: outcomeID,
		Name:      name,
		EventName: eventName(ev),
		Odds:      decimal.NewFromFloat(outcome.Odds),
		IsLive:    ev.IsLive(),
	}, nil
}

func tradeable(ev types.Event, m types.Market, o types.Outcome) bool {
	if ev.Status == types.EventFinished || ev.Status == types.EventCancelled {
		return false
	}
	if m.Status != "" && m.Status != types.MarketOpen {
		return false
	}
	return o.Status == "" || o.Status == types.OutcomeActive
}

func eventName(ev types.Event) string {
	if ev.HomeTeam == "" && ev.AwayTeam == "" {
		return ""
	}
	return ev.HomeTeam + " vs " + ev.AwayTeam
}
