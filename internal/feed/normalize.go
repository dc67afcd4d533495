package feed

import (
	"github.com/johan/oddsrelay/internal/types"
)

// Sanitize fills in default statuses and drops anything that would break
// store invariants: events without an id and outcomes priced below 1.0.
// It returns the cleaned events and the number of outcomes dropped.
func Sanitize(events []types.Event) ([]types.Event, int) {
	dropped := 0
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		if ev.Status == "" {
			ev.Status = types.EventScheduled
		}
		markets := make([]types.Market, 0, len(ev.Markets))
		for _, m := range ev.Markets {
			if m.ID == "" {
				continue
			}
			if m.Status == "" {
				m.Status = types.MarketOpen
			}
			outcomes := make([]types.Outcome, 0, len(m.Outcomes))
			for _, o := range m.Outcomes {
				if o.ID == "" || o.Odds < types.MinOdds {
					dropped++
					continue
				}
				if o.Status == "" {
					o.Status = types.OutcomeActive
				}
				outcomes = append(outcomes, o)
			}
			m.Outcomes = outcomes
			markets = append(markets, m)
		}
		ev.Markets = markets
		out = append(out, ev)
	}
	return out, dropped
}
