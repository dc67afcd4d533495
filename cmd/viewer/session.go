package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johan/oddsrelay/internal/betslip"
	"github.com/johan/oddsrelay/internal/types"
)

// eventSource is the read side of the sync channel.
type eventSource interface {
	Events() []types.Event
	Event(id string) (types.Event, bool)
}

// session runs viewer commands against a slip.
type session struct {
	events  eventSource
	slip    *betslip.Slip
	balance decimal.Decimal
	timeout time.Duration
	out     io.Writer
	status  func() string
}

const helpText = `Commands:
  events                         List cached events
  show <event>                   Show an event's markets
  add <event> <market> <outcome> [stake]
  remove <selection>             Remove a leg
  stake <selection> <amount>     Set one leg's stake
  total <amount>                 Spread a total stake over all legs
  mode single|parlay             Override the wager mode
  slip                           Show the slip
  submit                         Place the slip
  clear                          Empty the slip
  status                         Show connection state and balance
  quit
`

// exec runs one command line. It returns false when the viewer should exit.
func (s *session) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	var err error
	switch cmd {
	case "help", "?":
		fmt.Fprint(s.out, helpText)
	case "quit", "exit":
		return false
	case "events", "ls":
		s.listEvents()
	case "show":
		err = s.show(args)
	case "add":
		err = s.add(args)
	case "remove", "rm":
		if len(args) != 1 {
			err = fmt.Errorf("usage: remove <selection>")
			break
		}
		if err = s.slip.RemoveSelection(args[0]); err == nil {
			s.printSlip()
		}
	case "stake":
		err = s.stake(args)
	case "total":
		err = s.total(args)
	case "mode":
		if len(args) != 1 {
			err = fmt.Errorf("usage: mode single|parlay")
			break
		}
		if err = s.slip.SetMode(betslip.Mode(strings.ToLower(args[0]))); err == nil {
			s.printSlip()
		}
	case "slip":
		s.printSlip()
	case "submit":
		err = s.submit(ctx)
	case "clear":
		s.slip.Clear()
		fmt.Fprintln(s.out, "Slip cleared")
	case "status":
		if s.status != nil {
			fmt.Fprintf(s.out, "Connection: %s\n", s.status())
		}
		fmt.Fprintf(s.out, "Balance:    %s\n", s.balance.StringFixed(2))
	default:
		err = fmt.Errorf("unknown command %q, try help", cmd)
	}

	if err != nil {
		if reason := betslip.ReasonOf(err); reason != "" {
			fmt.Fprintf(s.out, "Rejected (%s): %v\n", reason, err)
		} else {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
	return true
}

func (s *session) listEvents() {
	events := s.events.Events()
	if len(events) == 0 {
		fmt.Fprintln(s.out, "No events yet")
		return
	}

	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSPORT\tMATCH\tSTATUS\tSCORE\tMARKETS")
	for _, ev := range events {
		score := "-"
		if ev.Score != nil {
			score = fmt.Sprintf("%d-%d", ev.Score.Home, ev.Score.Away)
		}
		fmt.Fprintf(w, "%s\t%s\t%s vs %s\t%s\t%s\t%d\n",
			ev.ID, ev.Sport, ev.HomeTeam, ev.AwayTeam, ev.Status, score, len(ev.Markets))
	}
	w.Flush()
}

func (s *session) show(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <event>")
	}
	ev, ok := s.events.Event(args[0])
	if !ok {
		return fmt.Errorf("no event %s", args[0])
	}

	fmt.Fprintf(s.out, "%s vs %s (%s, %s)\n", ev.HomeTeam, ev.AwayTeam, ev.League, ev.Status)
	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MARKET\tOUTCOME\tNAME\tODDS\tSTATUS")
	for _, m := range ev.Markets {
		for _, o := range m.Outcomes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", m.ID, o.ID, o.Name, o.Odds, o.Status)
		}
	}
	return w.Flush()
}

func (s *session) add(args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("usage: add <event> <market> <outcome> [stake]")
	}
	ev, ok := s.events.Event(args[0])
	if !ok {
		return fmt.Errorf("no event %s", args[0])
	}
	sel, err := betslip.SelectionFromOutcome(ev, args[1], args[2])
	if err != nil {
		return err
	}
	if len(args) == 4 {
		if sel.Stake, err = parseAmount(args[3]); err != nil {
			return err
		}
	}

	stored, err := s.slip.AddSelection(sel)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Added %s @ %s as %s\n", stored.Name, stored.Odds.StringFixed(2), stored.ID)
	s.printSlip()
	return nil
}

func (s *session) stake(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: stake <selection> <amount>")
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	if err := s.slip.SetStake(args[0], amount); err != nil {
		return err
	}
	s.printSlip()
	return nil
}

func (s *session) total(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: total <amount>")
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return err
	}
	if err := s.slip.SetTotalStake(amount); err != nil {
		return err
	}
	s.printSlip()
	return nil
}

func (s *session) submit(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	stake := s.slip.Totals().TotalStake
	receipt, err := s.slip.Submit(ctx, s.balance)
	if err != nil {
		return err
	}
	s.balance = s.balance.Sub(stake)
	fmt.Fprintf(s.out, "Placed ticket %s (ref %s), balance %s\n",
		receipt.TicketID, receipt.Reference, s.balance.StringFixed(2))
	return nil
}

func (s *session) printSlip() {
	legs := s.slip.Legs()
	t := s.slip.Totals()
	if len(legs) == 0 {
		fmt.Fprintln(s.out, "Slip is empty")
		return
	}

	w := tabwriter.NewWriter(s.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tSELECTION\tODDS\tSTAKE\t")
	for _, leg := range legs {
		flag := ""
		if leg.Suspended {
			flag = "SUSPENDED"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			leg.ID, leg.EventName, leg.Name, leg.Odds.StringFixed(2), leg.Stake.StringFixed(2), flag)
	}
	w.Flush()

	fmt.Fprintf(s.out, "Mode %s, stake %s, odds %s, potential %s\n",
		t.Mode, t.TotalStake.StringFixed(2), t.CombinedOdds.StringFixed(2), t.PotentialWinnings.StringFixed(2))
}

// onOdds reports legs re-priced by a channel update.
func (s *session) onOdds(changes []betslip.OddsChange) {
	for _, c := range changes {
		if c.Suspended {
			fmt.Fprintf(s.out, "\n! %s suspended\n", c.SelectionID)
			continue
		}
		fmt.Fprintf(s.out, "\n* %s odds %s -> %s\n",
			c.SelectionID, c.Previous.StringFixed(2), c.Current.StringFixed(2))
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	return d, nil
}
