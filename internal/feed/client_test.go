package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/johan/oddsrelay/internal/types"
)

const nativePayload = `{
	"success": true,
	"count": 1,
	"events": [{
		"id": "ev1",
		"homeTeam": "Arsenal",
		"awayTeam": "Chelsea",
		"sport": "football",
		"sportId": 1,
		"startTime": "2026-10-16T19:00:00Z",
		"markets": [{
			"id": "1x2",
			"outcomes": [
				{"id": "home", "odds": 2.1},
				{"id": "draw", "odds": 0.5},
				{"id": "away", "odds": 3.2}
			]
		}]
	}]
}`

const oddsAPIPayload = `[{
	"id": "abc123",
	"sport_key": "soccer_epl",
	"sport_title": "EPL",
	"commence_time": "2020-01-01T15:00:00Z",
	"home_team": "Liverpool",
	"away_team": "Everton",
	"completed": false,
	"scores": [{"name": "Liverpool", "score": "2"}, {"name": "Everton", "score": "1"}],
	"bookmakers": [{
		"key": "pinnacle",
		"title": "Pinnacle",
		"markets": [
			{"key": "h2h", "outcomes": [
				{"name": "Liverpool", "price": 1.3},
				{"name": "Draw", "price": 5.5},
				{"name": "Everton", "price": 11.0}
			]},
			{"key": "totals", "outcomes": [
				{"name": "Over", "price": 1.8, "point": 3.5},
				{"name": "Under", "price": 2.0, "point": 3.5}
			]}
		]
	}, {
		"key": "other",
		"markets": [{"key": "h2h", "outcomes": [{"name": "Liverpool", "price": 9.9}]}]
	}]
}]`

func TestClient_FetchNative(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(nativePayload))
	}))
	defer srv.Close()

	client := NewClient(&http.Client{Timeout: 5 * time.Second}, srv.URL+"/events?region=eu").
		WithQuery(url.Values{"isLive": {"true"}})

	events, err := client.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if gotQuery.Get("region") != "eu" || gotQuery.Get("isLive") != "true" {
		t.Errorf("query = %v, want region and isLive", gotQuery)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.Status != types.EventScheduled {
		t.Errorf("Status = %q, want default %q", ev.Status, types.EventScheduled)
	}
	if ev.Markets[0].Status != types.MarketOpen {
		t.Errorf("market Status = %q, want %q", ev.Markets[0].Status, types.MarketOpen)
	}
	if n := len(ev.Markets[0].Outcomes); n != 2 {
		t.Errorf("outcomes = %d, want 2 (sub-1.0 price dropped)", n)
	}
	if ev.Markets[0].Outcomes[0].Status != types.OutcomeActive {
		t.Errorf("outcome Status = %q, want %q", ev.Markets[0].Outcomes[0].Status, types.OutcomeActive)
	}
}

func TestClient_FetchOddsAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(oddsAPIPayload))
	}))
	defer srv.Close()

	events, err := NewClient(nil, srv.URL).WithFormat(FormatOddsAPI).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	ev := events[0]
	if ev.ID != "abc123" || ev.HomeTeam != "Liverpool" {
		t.Errorf("event = %+v", ev)
	}
	if ev.SportID != 1 || ev.Sport != "EPL" {
		t.Errorf("SportID = %d Sport = %q, want 1 EPL", ev.SportID, ev.Sport)
	}
	if ev.Status != types.EventLive {
		t.Errorf("Status = %q, want %q", ev.Status, types.EventLive)
	}
	if ev.Score == nil || ev.Score.Home != 2 || ev.Score.Away != 1 {
		t.Errorf("Score = %+v, want 2-1", ev.Score)
	}
	if len(ev.Markets) != 2 {
		t.Fatalf("markets = %d, want 2 from first bookmaker", len(ev.Markets))
	}
	if ev.Markets[0].Name != "Match Result" {
		t.Errorf("market name = %q, want Match Result", ev.Markets[0].Name)
	}

	o, ok := ev.FindOutcome("totals", "over@3.5")
	if !ok {
		t.Fatal("expected over@3.5 outcome")
	}
	if o.Name != "Over 3.5" || o.Odds != 1.8 {
		t.Errorf("outcome = %+v", o)
	}
}

func TestClient_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(nil, srv.URL).Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestDecodeNative_BareArray(t *testing.T) {
	events, err := DecodeNative([]byte(`[{"id":"a"},{"id":"b"}]`))
	if err != nil {
		t.Fatalf("DecodeNative failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
}

func TestDecodeNative_Empty(t *testing.T) {
	events, err := DecodeNative([]byte("  "))
	if err != nil || events != nil {
		t.Errorf("DecodeNative(empty) = %v, %v; want nil, nil", events, err)
	}
}

func TestNormalizeOddsAPI_Statuses(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  oddsAPIEvent
		want types.EventStatus
	}{
		{"future", oddsAPIEvent{CommenceTime: now.Add(time.Hour)}, types.EventScheduled},
		{"started", oddsAPIEvent{CommenceTime: now.Add(-time.Minute)}, types.EventLive},
		{"completed", oddsAPIEvent{CommenceTime: now.Add(-3 * time.Hour), Completed: true}, types.EventFinished},
		{"cancelled", oddsAPIEvent{CommenceTime: now.Add(time.Hour), Cancelled: true}, types.EventCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeOddsAPI(tt.raw, now).Status; got != tt.want {
				t.Errorf("Status = %q, want %q", got, tt.want)
			}
		})
	}
}
