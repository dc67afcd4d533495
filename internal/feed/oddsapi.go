package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/johan/oddsrelay/internal/types"
)

// oddsAPIEvent is the vendor shape of an aggregator-style odds API: one
// object per fixture with per-bookmaker markets.
type oddsAPIEvent struct {
	ID           string             `json:"id"`
	SportKey     string             `json:"sport_key"`
	SportTitle   string             `json:"sport_title"`
	League       string             `json:"league"`
	CommenceTime time.Time          `json:"commence_time"`
	HomeTeam     string             `json:"home_team"`
	AwayTeam     string             `json:"away_team"`
	Completed    bool               `json:"completed"`
	Cancelled    bool               `json:"cancelled"`
	Scores       []oddsAPIScore     `json:"scores"`
	Bookmakers   []oddsAPIBookmaker `json:"bookmakers"`
}

type oddsAPIScore struct {
	Name  string `json:"name"`
	Score string `json:"score"`
}

type oddsAPIBookmaker struct {
	Key     string          `json:"key"`
	Title   string          `json:"title"`
	Markets []oddsAPIMarket `json:"markets"`
}

type oddsAPIMarket struct {
	Key      string           `json:"key"`
	Outcomes []oddsAPIOutcome `json:"outcomes"`
}

type oddsAPIOutcome struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

var marketNames = map[string]string{
	"h2h":     "Match Result",
	"spreads": "Handicap",
	"totals":  "Total",
}

// sportIDs maps sport key prefixes to numeric sport ids.
var sportIDs = map[string]int{
	"soccer":           1,
	"basketball":       2,
	"tennis":           3,
	"americanfootball": 4,
	"icehockey":        5,
	"baseball":         6,
}

// DecodeOddsAPI decodes an aggregator payload and normalizes it. Markets are
// taken from the first bookmaker listed for each fixture.
func DecodeOddsAPI(body []byte) ([]types.Event, error) {
	var raw []oddsAPIEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding odds api payload: %w", err)
	}

	events := make([]types.Event, 0, len(raw))
	for _, r := range raw {
		events = append(events, normalizeOddsAPI(r, time.Now()))
	}
	return events, nil
}

func normalizeOddsAPI(r oddsAPIEvent, now time.Time) types.Event {
	ev := types.Event{
		ID:        r.ID,
		HomeTeam:  r.HomeTeam,
		AwayTeam:  r.AwayTeam,
		League:    r.League,
		Sport:     r.SportTitle,
		SportID:   sportID(r.SportKey),
		StartTime: r.CommenceTime.UTC(),
	}
	if ev.Sport == "" {
		ev.Sport = r.SportKey
	}
	if ev.League == "" {
		ev.League = r.SportTitle
	}

	switch {
	case r.Cancelled:
		ev.Status = types.EventCancelled
	case r.Completed:
		ev.Status = types.EventFinished
	case len(r.Scores) > 0 || (!r.CommenceTime.IsZero() && !r.CommenceTime.After(now)):
		ev.Status = types.EventLive
	default:
		ev.Status = types.EventScheduled
	}

	if len(r.Scores) > 0 {
		score := &types.Score{}
		for _, s := range r.Scores {
			n, err := strconv.Atoi(strings.TrimSpace(s.Score))
			if err != nil {
				continue
			}
			switch s.Name {
			case r.HomeTeam:
				score.Home = n
			case r.AwayTeam:
				score.Away = n
			}
		}
		ev.Score = score
	}

	marketStatus := types.MarketOpen
	if ev.Status == types.EventFinished || ev.Status == types.EventCancelled {
		marketStatus = types.MarketClosed
	}

	if len(r.Bookmakers) == 0 {
		return ev
	}
	for _, m := range r.Bookmakers[0].Markets {
		market := types.Market{
			ID:     m.Key,
			Name:   marketName(m.Key),
			Status: marketStatus,
		}
		for _, o := range m.Outcomes {
			market.Outcomes = append(market.Outcomes, types.Outcome{
				ID:     outcomeID(o),
				Name:   outcomeName(o),
				Odds:   o.Price,
				Status: types.OutcomeActive,
			})
		}
		ev.Markets = append(ev.Markets, market)
	}
	return ev
}

func marketName(key string) string {
	if name, ok := marketNames[key]; ok {
		return name
	}
	return key
}

func sportID(key string) int {
	prefix, _, _ := strings.Cut(key, "_")
	return sportIDs[prefix]
}

func outcomeID(o oddsAPIOutcome) string {
	id := strings.ToLower(strings.Join(strings.Fields(o.Name), "-"))
	if o.Point != nil {
		id += "@" + strconv.FormatFloat(*o.Point, 'f', -1, 64)
	}
	return id
}

func outcomeName(o oddsAPIOutcome) string {
	if o.Point == nil {
		return o.Name
	}
	return o.Name + " " + strconv.FormatFloat(*o.Point, 'f', -1, 64)
}
