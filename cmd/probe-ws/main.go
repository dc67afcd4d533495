// Command probe-ws is a CLI tool for watching a relay's websocket feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/johan/oddsrelay/internal/ws"
)

func main() {
	url := flag.String("url", ws.DefaultURL, "Relay websocket URL")
	sports := flag.String("sports", "", "Comma-separated sport filter (names or ids)")
	duration := flag.Duration("duration", 0, "How long to run (0 = until Ctrl+C)")
	outputFile := flag.String("output", "", "Output file path (empty = stdout)")
	pong := flag.Bool("pong", true, "Answer relay pings")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	var out *os.File
	var err error
	if *outputFile != "" {
		out, err = os.Create(*outputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	// Handle Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "Connecting to %s...\n", *url)
	conn, err := ws.NewDialer().Dial(ctx, *url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if *sports != "" {
		var list []string
		for _, s := range strings.Split(*sports, ",") {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		data, _ := ws.Encode(ws.NewSubscribe(list))
		if err := conn.WriteMessage(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error subscribing: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Filtering to %d sports\n", len(list))
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Fprintf(os.Stderr, "Listening... (Ctrl+C to stop)\n\n")

	counts := map[string]int{}
	eventCount := 0
	total := 0

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !ws.IsNormalClose(err) {
				fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			}
			break
		}
		total++

		msg, err := ws.Parse(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Malformed frame: %v\n", err)
			continue
		}
		counts[msg.Type]++

		switch msg.Type {
		case ws.TypePing:
			if *pong {
				reply, _ := ws.Encode(ws.NewPong(msg.Timestamp))
				conn.WriteMessage(reply)
			}
			if *verbose {
				fmt.Fprintf(os.Stderr, "[%s] ping\n", time.Now().Format("15:04:05"))
			}
		case ws.TypeUpdate, ws.TypeLiveUpdate:
			eventCount += len(msg.Events)
			if *verbose {
				ids := make([]string, 0, len(msg.Events))
				for _, ev := range msg.Events {
					ids = append(ids, ev.ID)
				}
				fmt.Fprintf(os.Stderr, "[%s] %s: %d events %s\n",
					time.Now().Format("15:04:05"),
					msg.Type,
					len(msg.Events),
					truncateIDs(ids, 5))
			}
		}

		if out != nil {
			fmt.Fprintln(out, string(data))
		} else if !*verbose {
			fmt.Println(string(data))
		}
	}

	fmt.Fprintf(os.Stderr, "\n--- Summary ---\n")
	fmt.Fprintf(os.Stderr, "Total frames:    %d\n", total)
	fmt.Fprintf(os.Stderr, "Updates:         %d\n", counts[ws.TypeUpdate])
	fmt.Fprintf(os.Stderr, "Live updates:    %d\n", counts[ws.TypeLiveUpdate])
	fmt.Fprintf(os.Stderr, "Pings:           %d\n", counts[ws.TypePing])
	fmt.Fprintf(os.Stderr, "Events carried:  %d\n", eventCount)

	if *outputFile != "" {
		fmt.Fprintf(os.Stderr, "Output written to: %s\n", *outputFile)
	}
}

func truncateIDs(ids []string, max int) string {
	if len(ids) <= max {
		return "[" + strings.Join(ids, " ") + "]"
	}
	return "[" + strings.Join(ids[:max], " ") + fmt.Sprintf(" +%d]", len(ids)-max)
}
