package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/johan/oddsrelay/internal/betslip"
	"github.com/johan/oddsrelay/internal/types"
)

type staticEvents map[string]types.Event

func (s staticEvents) Events() []types.Event {
	out := make([]types.Event, 0, len(s))
	for _, ev := range s {
		out = append(out, ev)
	}
	return out
}

func (s staticEvents) Event(id string) (types.Event, bool) {
	ev, ok := s[id]
	return ev, ok
}

func match(id string, home, away float64) types.Event {
	return types.Event{
		ID:       id,
		HomeTeam: "Home " + id,
		AwayTeam: "Away " + id,
		Sport:    "Football",
		SportID:  1,
		Status:   types.EventLive,
		Markets: []types.Market{{
			ID:     "ml",
			Name:   "Match Winner",
			Status: types.MarketOpen,
			Outcomes: []types.Outcome{
				{ID: "home", Name: "Home", Odds: home, Status: types.OutcomeActive},
				{ID: "away", Name: "Away", Odds: away, Status: types.OutcomeActive},
			},
		}},
	}
}

func newTestSession(settler betslip.Settler) (*session, *bytes.Buffer) {
	var buf bytes.Buffer
	return &session{
		events:  staticEvents{"e1": match("e1", 2, 1.8), "e2": match("e2", 3, 1.4)},
		slip:    betslip.New(betslip.Options{Settler: settler}),
		balance: decimal.NewFromInt(100),
		out:     &buf,
	}, &buf
}

func accepting() betslip.Settler {
	return betslip.SettlerFunc(func(ctx context.Context, t betslip.Ticket) (betslip.Receipt, error) {
		return betslip.Receipt{TicketID: t.ID, Reference: "ref-1"}, nil
	})
}

func TestSession_AddAndSubmitParlay(t *testing.T) {
	s, buf := newTestSession(accepting())
	ctx := context.Background()

	s.exec(ctx, "add e1 ml home")
	s.exec(ctx, "add e2 ml home")
	s.exec(ctx, "total 10")

	totals := s.slip.Totals()
	if totals.Mode != betslip.ModeParlay {
		t.Fatalf("Mode = %v, want parlay", totals.Mode)
	}
	if !totals.PotentialWinnings.Equal(decimal.NewFromInt(60)) {
		t.Errorf("PotentialWinnings = %v, want 60", totals.PotentialWinnings)
	}

	s.exec(ctx, "submit")
	if !strings.Contains(buf.String(), "ref-1") {
		t.Errorf("output missing receipt reference:\n%s", buf.String())
	}
	if !s.balance.Equal(decimal.NewFromInt(90)) {
		t.Errorf("balance = %v, want 90", s.balance)
	}
	if s.slip.Len() != 0 {
		t.Errorf("Len after submit = %d, want 0", s.slip.Len())
	}
}

func TestSession_SubmitRejectedKeepsBalance(t *testing.T) {
	failing := betslip.SettlerFunc(func(ctx context.Context, t betslip.Ticket) (betslip.Receipt, error) {
		return betslip.Receipt{}, errors.New("upstream down")
	})
	s, buf := newTestSession(failing)
	ctx := context.Background()

	s.exec(ctx, "add e1 ml away 5")
	s.exec(ctx, "submit")

	if !strings.Contains(buf.String(), "Rejected (settlement_failed)") {
		t.Errorf("output missing rejection:\n%s", buf.String())
	}
	if !s.balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance = %v, want 100", s.balance)
	}
	if s.slip.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.slip.Len())
	}
}

func TestSession_Errors(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"add nope ml home", "no event nope"},
		{"add e1 ml draw", "Rejected (unknown_selection)"},
		{"add e1", "usage: add"},
		{"stake x abc", "invalid amount"},
		{"mode parlay", "Rejected (too_few_legs)"},
		{"submit", "Rejected (empty_slip)"},
		{"frobnicate", "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			s, buf := newTestSession(accepting())
			if !s.exec(context.Background(), tt.line) {
				t.Fatal("exec returned false")
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestSession_Quit(t *testing.T) {
	s, _ := newTestSession(accepting())
	if s.exec(context.Background(), "quit") {
		t.Error("quit should end the session")
	}
	if !s.exec(context.Background(), "   ") {
		t.Error("blank line should not end the session")
	}
}

func TestSession_OnOdds(t *testing.T) {
	s, buf := newTestSession(accepting())
	s.onOdds([]betslip.OddsChange{
		{SelectionID: "a", Previous: decimal.NewFromInt(2), Current: decimal.NewFromFloat(2.5)},
		{SelectionID: "b", Suspended: true},
	})

	out := buf.String()
	if !strings.Contains(out, "a odds 2.00 -> 2.50") {
		t.Errorf("missing reprice line:\n%s", out)
	}
	if !strings.Contains(out, "b suspended") {
		t.Errorf("missing suspension line:\n%s", out)
	}
}
