// Package types provides the normalized event, market and outcome shapes
// shared by the relay, the sync channel and the bet slip.
package types

import "time"

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventScheduled EventStatus = "scheduled"
	EventLive      EventStatus = "live"
	EventFinished  EventStatus = "finished"
	EventCancelled EventStatus = "cancelled"
)

// MarketStatus is the trading state of a market.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "open"
	MarketClosed  MarketStatus = "closed"
	MarketSettled MarketStatus = "settled"
)

// OutcomeStatus is the settlement state of an outcome.
type OutcomeStatus string

const (
	OutcomeActive      OutcomeStatus = "active"
	OutcomeSettledWin  OutcomeStatus = "settled_win"
	OutcomeSettledLose OutcomeStatus = "settled_lose"
	OutcomeVoided      OutcomeStatus = "voided"
)

// MinOdds is the smallest valid decimal price.
const MinOdds = 1.0

// Score is the current score of an event.
type Score struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Outcome is a single priced result within a market.
type Outcome struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Odds   float64       `json:"odds"`
	Status OutcomeStatus `json:"status"`
}

// Market is a set of mutually exclusive outcomes owned by an event.
type Market struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Status   MarketStatus `json:"status"`
	Outcomes []Outcome    `json:"outcomes"`
}

// Event is a sporting fixture with its markets.
type Event struct {
	ID        string      `json:"id"`
	HomeTeam  string      `json:"homeTeam"`
	AwayTeam  string      `json:"awayTeam"`
	League    string      `json:"league"`
	Sport     string      `json:"sport"`
	SportID   int         `json:"sportId"`
	StartTime time.Time   `json:"startTime"`
	Status    EventStatus `json:"status"`
	Score     *Score      `json:"score,omitempty"`
	Markets   []Market    `json:"markets"`
}

// IsLive reports whether the event is in play.
func (e Event) IsLive() bool {
	return e.Status == EventLive
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	if e.Score != nil {
		s := *e.Score
		out.Score = &s
	}
	if e.Markets != nil {
		out.Markets = make([]Market, len(e.Markets))
		for i, m := range e.Markets {
			out.Markets[i] = m
			if m.Outcomes != nil {
				out.Markets[i].Outcomes = append([]Outcome(nil), m.Outcomes...)
			}
		}
	}
	return out
}

// FindMarket returns the market with the given id.
func (e Event) FindMarket(marketID string) (Market, bool) {
	for _, m := range e.Markets {
		if m.ID == marketID {
			return m, true
		}
	}
	return Market{}, false
}

// FindOutcome returns the outcome with the given id inside the given market.
func (e Event) FindOutcome(marketID, outcomeID string) (Outcome, bool) {
	m, ok := e.FindMarket(marketID)
	if !ok {
		return Outcome{}, false
	}
	for _, o := range m.Outcomes {
		if o.ID == outcomeID {
			return o, true
		}
	}
	return Outcome{}, false
}

// Changed reports whether next differs from prev in score, status, the
// status of any market, or the odds or status of any outcome. Markets and
// outcomes that appear or disappear count as a change. Names are not
// compared.
func Changed(prev, next Event) bool {
	if prev.Status != next.Status {
		return true
	}
	if !scoreEqual(prev.Score, next.Score) {
		return true
	}
	if marketsChanged(prev.Markets, next.Markets) {
		return true
	}

	before := outcomeIndex(prev)
	after := outcomeIndex(next)
	if len(before) != len(after) {
		return true
	}
	for key, o := range after {
		p, ok := before[key]
		if !ok {
			return true
		}
		if p.Odds != o.Odds || p.Status != o.Status {
			return true
		}
	}
	return false
}

func marketsChanged(prev, next []Market) bool {
	if len(prev) != len(next) {
		return true
	}
	status := make(map[string]MarketStatus, len(prev))
	for _, m := range prev {
		status[m.ID] = m.Status
	}
	for _, m := range next {
		st, ok := status[m.ID]
		if !ok || st != m.Status {
			return true
		}
	}
	return false
}

func scoreEqual(a, b *Score) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// outcomeIndex keys outcomes by market and outcome id.
func outcomeIndex(e Event) map[string]Outcome {
	idx := make(map[string]Outcome)
	for _, m := range e.Markets {
		for _, o := range m.Outcomes {
			idx[m.ID+"/"+o.ID] = o
		}
	}
	return idx
}
