// Command probe-api queries a running relay's HTTP polling endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/johan/oddsrelay/internal/channel"
	"github.com/johan/oddsrelay/internal/types"
)

func main() {
	base := flag.String("url", "http://localhost:8080", "Relay base URL")
	live := flag.String("live", "", "Filter by live state: true or false")
	sport := flag.Int("sport", 0, "Filter by sport id")
	event := flag.String("event", "", "Fetch a single event by id")
	watch := flag.Bool("watch", false, "Continuously poll for updates")
	interval := flag.Duration("interval", 10*time.Second, "Poll interval (with --watch)")
	output := flag.String("output", "table", "Output format: table or json")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")

	flag.Parse()

	httpClient := &http.Client{Timeout: *timeout}
	endpoint := strings.TrimSuffix(*base, "/") + "/api/events"

	if *event != "" {
		fetchEvent(httpClient, endpoint+"/"+*event, *output)
		return
	}

	poller := channel.NewHTTPPoller(httpClient, endpoint)
	switch *live {
	case "":
	case "true":
		poller.WithLive(true)
	case "false":
		poller.WithLive(false)
	default:
		fmt.Fprintln(os.Stderr, "Error: --live must be true or false")
		os.Exit(1)
	}
	if *sport > 0 {
		poller.WithSport(*sport)
	}

	if *watch {
		watchEvents(poller, *interval, *output, *timeout)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	events, err := poller.Poll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	outputEvents(events, *output)
}

func fetchEvent(client *http.Client, url, format string) {
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool        `json:"success"`
		Error   string      `json:"error"`
		Event   types.Event `json:"event"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding response: %v\n", err)
		os.Exit(1)
	}
	if !body.Success {
		fmt.Fprintf(os.Stderr, "Error: %s (status %d)\n", body.Error, resp.StatusCode)
		os.Exit(1)
	}
	outputEvents([]types.Event{body.Event}, format)
}

func watchEvents(poller *channel.HTTPPoller, interval time.Duration, format string, timeout time.Duration) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pollCtx, pollCancel := context.WithTimeout(ctx, timeout)
		events, err := poller.Poll(pollCtx)
		pollCancel()

		if err != nil {
			fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", time.Now().Format("15:04:05"), err)
		} else {
			fmt.Printf("\n[%s]\n", time.Now().Format("15:04:05"))
			outputEvents(events, format)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func outputEvents(events []types.Event, format string) {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(events)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSPORT\tMATCH\tSTATUS\tSCORE\tMAIN MARKET")
	for _, ev := range events {
		score := "-"
		if ev.Score != nil {
			score = fmt.Sprintf("%d-%d", ev.Score.Home, ev.Score.Away)
		}
		headline := "-"
		if len(ev.Markets) > 0 {
			var prices []string
			for _, o := range ev.Markets[0].Outcomes {
				prices = append(prices, fmt.Sprintf("%.2f", o.Odds))
			}
			headline = ev.Markets[0].Name + " " + strings.Join(prices, "/")
		}
		fmt.Fprintf(w, "%s\t%s\t%s vs %s\t%s\t%s\t%s\n",
			ev.ID, ev.Sport, ev.HomeTeam, ev.AwayTeam, ev.Status, score, headline)
	}
	w.Flush()
	fmt.Printf("%d events\n", len(events))
}
