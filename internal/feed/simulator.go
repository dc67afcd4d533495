package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/johan/oddsrelay/internal/types"
)

// Simulator is an in-process source that serves a fixed set of fixtures and
// drifts their odds on every pull. It stands in for a real provider in
// development and demos.
type Simulator struct {
	pushInterval time.Duration

	mu     sync.Mutex
	rng    *rand.Rand
	events []types.Event
}

// NewSimulator creates a simulator. A zero seed picks one from the clock;
// a zero push interval disables Stream.
func NewSimulator(seed int64, pushInterval time.Duration) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		pushInterval: pushInterval,
		rng:          rand.New(rand.NewSource(seed)),
		events:       fixtures(time.Now().UTC()),
	}
}

// Fetch drifts odds on roughly a third of the outcomes and returns every
// fixture.
func (s *Simulator) Fetch(ctx context.Context) ([]types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		s.drift(&s.events[i], 0.33)
	}
	return cloneAll(s.events), nil
}

// Stream pushes a single drifted live event every push interval.
func (s *Simulator) Stream(ctx context.Context, out chan<- []types.Event) error {
	if s.pushInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			batch := s.pushLive()
			if len(batch) == 0 {
				continue
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Simulator) pushLive() []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var live []int
	for i, ev := range s.events {
		if ev.IsLive() {
			live = append(live, i)
		}
	}
	if len(live) == 0 {
		return nil
	}
	i := live[s.rng.Intn(len(live))]
	s.drift(&s.events[i], 1)
	if s.rng.Float64() < 0.1 && s.events[i].Score != nil {
		if s.rng.Intn(2) == 0 {
			s.events[i].Score.Home++
		} else {
			s.events[i].Score.Away++
		}
	}
	return []types.Event{s.events[i].Clone()}
}

// drift moves each active outcome's price by up to ±5% with probability p.
func (s *Simulator) drift(ev *types.Event, p float64) {
	for mi := range ev.Markets {
		for oi := range ev.Markets[mi].Outcomes {
			o := &ev.Markets[mi].Outcomes[oi]
			if o.Status != types.OutcomeActive || s.rng.Float64() >= p {
				continue
			}
			factor := 1 + (s.rng.Float64()*0.1 - 0.05)
			o.Odds = math.Max(types.MinOdds+0.01, math.Round(o.Odds*factor*100)/100)
		}
	}
}

func cloneAll(events []types.Event) []types.Event {
	out := make([]types.Event, len(events))
	for i, ev := range events {
		out[i] = ev.Clone()
	}
	return out
}

func threeWay(home, draw, away float64, homeName, awayName string) types.Market {
	return types.Market{
		ID:     "1x2",
		Name:   "Match Result",
		Status: types.MarketOpen,
		Outcomes: []types.Outcome{
			{ID: "home", Name: homeName, Odds: home, Status: types.OutcomeActive},
			{ID: "draw", Name: "Draw", Odds: draw, Status: types.OutcomeActive},
			{ID: "away", Name: awayName, Odds: away, Status: types.OutcomeActive},
		},
	}
}

func twoWay(id, name string, a, b float64, aName, bName string) types.Market {
	return types.Market{
		ID:     id,
		Name:   name,
		Status: types.MarketOpen,
		Outcomes: []types.Outcome{
			{ID: "home", Name: aName, Odds: a, Status: types.OutcomeActive},
			{ID: "away", Name: bName, Odds: b, Status: types.OutcomeActive},
		},
	}
}

func totals(line string, over, under float64) types.Market {
	return types.Market{
		ID:     "total-" + line,
		Name:   "Total " + line,
		Status: types.MarketOpen,
		Outcomes: []types.Outcome{
			{ID: "over", Name: "Over " + line, Odds: over, Status: types.OutcomeActive},
			{ID: "under", Name: "Under " + line, Odds: under, Status: types.OutcomeActive},
		},
	}
}

func fixtures(now time.Time) []types.Event {
	start := now.Truncate(time.Hour)
	return []types.Event{
		{
			ID: "sim-fb-1", HomeTeam: "Arsenal", AwayTeam: "Chelsea",
			League: "Premier League", Sport: "football", SportID: 1,
			StartTime: start.Add(-30 * time.Minute), Status: types.EventLive,
			Score: &types.Score{Home: 1, Away: 0},
			Markets: []types.Market{
				threeWay(1.65, 3.80, 5.25, "Arsenal", "Chelsea"),
				totals("2.5", 1.72, 2.10),
			},
		},
		{
			ID: "sim-fb-2", HomeTeam: "Real Madrid", AwayTeam: "Sevilla",
			League: "La Liga", Sport: "football", SportID: 1,
			StartTime: start.Add(3 * time.Hour), Status: types.EventScheduled,
			Markets: []types.Market{
				threeWay(1.45, 4.50, 6.75, "Real Madrid", "Sevilla"),
				totals("2.5", 1.60, 2.35),
			},
		},
		{
			ID: "sim-bb-1", HomeTeam: "Celtics", AwayTeam: "Lakers",
			League: "NBA", Sport: "basketball", SportID: 2,
			StartTime: start.Add(-15 * time.Minute), Status: types.EventLive,
			Score: &types.Score{Home: 24, Away: 19},
			Markets: []types.Market{
				twoWay("moneyline", "Moneyline", 1.55, 2.45, "Celtics", "Lakers"),
				totals("221.5", 1.91, 1.91),
			},
		},
		{
			ID: "sim-tn-1", HomeTeam: "Sinner", AwayTeam: "Alcaraz",
			League: "ATP Finals", Sport: "tennis", SportID: 3,
			StartTime: start.Add(5 * time.Hour), Status: types.EventScheduled,
			Markets: []types.Market{
				twoWay("match-winner", "Match Winner", 1.95, 1.85, "Sinner", "Alcaraz"),
			},
		},
		{
			ID: "sim-ih-1", HomeTeam: "Rangers", AwayTeam: "Bruins",
			League: "NHL", Sport: "icehockey", SportID: 5,
			StartTime: start.Add(24 * time.Hour), Status: types.EventScheduled,
			Markets: []types.Market{
				threeWay(2.30, 4.10, 2.60, "Rangers", "Bruins"),
			},
		},
	}
}
