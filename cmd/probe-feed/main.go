// Command probe-feed pulls an upstream odds provider once and prints the
// normalized events.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/johan/oddsrelay/internal/feed"
	"github.com/johan/oddsrelay/internal/types"
)

func main() {
	endpoint := flag.String("url", "", "Provider URL")
	format := flag.String("format", feed.FormatNative, "Payload format: native or oddsapi")
	query := flag.String("query", "", "Extra query string, e.g. apiKey=...&regions=eu")
	simulate := flag.Bool("simulate", false, "Use the built-in simulator instead of a provider")
	seed := flag.Int64("seed", 1, "Simulator seed")
	markets := flag.Bool("markets", false, "Print every market and outcome")
	output := flag.String("output", "table", "Output format: table or json")
	timeout := flag.Duration("timeout", 30*time.Second, "Request timeout")

	flag.Parse()

	if *endpoint == "" && !*simulate {
		fmt.Println("Usage: probe-feed --url <provider_url> [options]")
		fmt.Println("       probe-feed --simulate [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  probe-feed --simulate --markets")
		fmt.Println("  probe-feed --url https://api.the-odds-api.com/v4/sports/soccer_epl/odds --format oddsapi --query 'apiKey=KEY&regions=eu'")
		fmt.Println("  probe-feed --url http://localhost:9000/events --output json")
		os.Exit(1)
	}

	var src feed.Source
	if *simulate {
		src = feed.NewSimulator(*seed, 0)
	} else {
		client := feed.NewClient(&http.Client{Timeout: *timeout}, *endpoint).WithFormat(*format)
		if *query != "" {
			q, err := url.ParseQuery(*query)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing query: %v\n", err)
				os.Exit(1)
			}
			client.WithQuery(q)
		}
		src = client
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	events, err := src.Fetch(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(events)
		return
	}

	outputEvents(events, *markets)
}

func outputEvents(events []types.Event, withMarkets bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSPORT\tLEAGUE\tMATCH\tSTATUS\tSCORE\tSTART\tMARKETS")
	for _, ev := range events {
		score := "-"
		if ev.Score != nil {
			score = fmt.Sprintf("%d-%d", ev.Score.Home, ev.Score.Away)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s vs %s\t%s\t%s\t%s\t%d\n",
			ev.ID,
			ev.Sport,
			truncate(ev.League, 24),
			truncate(ev.HomeTeam, 20),
			truncate(ev.AwayTeam, 20),
			ev.Status,
			score,
			ev.StartTime.Local().Format("Jan 02 15:04"),
			len(ev.Markets))

		if !withMarkets {
			continue
		}
		for _, m := range ev.Markets {
			var prices []string
			for _, o := range m.Outcomes {
				prices = append(prices, fmt.Sprintf("%s %.2f", o.Name, o.Odds))
			}
			fmt.Fprintf(w, "\t\t%s\t%s\t%s\t\t\t\n", m.ID, truncate(m.Name, 24), strings.Join(prices, " | "))
		}
	}
	w.Flush()
	fmt.Printf("\n%d events\n", len(events))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
