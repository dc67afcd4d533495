// Command viewer is a terminal client for the relay. It keeps a local event
// cache in sync over the websocket, falling back to polling, and drives a
// bet slip from stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/betslip"
	"github.com/johan/oddsrelay/internal/channel"
	"github.com/johan/oddsrelay/internal/config"
	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/settlement"
	"github.com/johan/oddsrelay/internal/types"
	"github.com/johan/oddsrelay/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	url := flag.String("url", "", "Relay websocket URL (overrides config)")
	sports := flag.String("sports", "", "Comma-separated sport filter (overrides config)")
	balance := flag.Float64("balance", -1, "Starting balance (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.DefaultConfig()
		cfg.ApplyEnv()
	}
	if *url != "" {
		cfg.Channel.URL = *url
		cfg.Channel.PollURL = ""
	}
	if *sports != "" {
		cfg.Channel.Sports = strings.Split(*sports, ",")
	}
	if *balance >= 0 {
		cfg.BetSlip.Balance = *balance
	}

	// The terminal belongs to the prompt; keep logs quiet unless asked.
	if os.Getenv("ODDS_LOG_LEVEL") == "" {
		cfg.Logging.Level = "warn"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	pollURL := cfg.Channel.PollURL
	if pollURL == "" {
		if pollURL, err = channel.PollURLFor(cfg.Channel.URL); err != nil {
			logger.Fatal("deriving poll url", zap.Error(err))
		}
	}

	var settler betslip.Settler
	if cfg.BetSlip.SettlementURL != "" {
		settler = settlement.NewClient(&http.Client{Timeout: cfg.BetSlip.SettlementTimeout}, cfg.BetSlip.SettlementURL).
			WithLogger(logger)
	} else {
		settler = settlement.NewDryRun(logger)
	}

	slip := betslip.New(betslip.Options{
		Settler:  settler,
		Currency: cfg.BetSlip.Currency,
		Logger:   logger,
	})

	sess := &session{
		slip:    slip,
		balance: decimal.NewFromFloat(cfg.BetSlip.Balance),
		timeout: cfg.BetSlip.SettlementTimeout,
		out:     os.Stdout,
	}

	ch := channel.New(channel.Options{
		URL:            cfg.Channel.URL,
		Dialer:         channel.WebSocketDialer(ws.NewDialer()),
		Poller:         channel.NewHTTPPoller(&http.Client{Timeout: cfg.Channel.PollInterval}, pollURL),
		PollInterval:   cfg.Channel.PollInterval,
		InitialBackoff: cfg.Channel.InitialBackoff,
		MaxBackoff:     cfg.Channel.MaxBackoff,
		BackoffFactor:  cfg.Channel.BackoffFactor,
		SuspendPolling: !cfg.Channel.KeepPolling,
		Sports:         cfg.Channel.Sports,
		OnUpdate: func(events []types.Event) {
			sess.onOdds(slip.RefreshOdds(events))
		},
		OnStateChange: func(from, to channel.State) {
			fmt.Fprintf(os.Stderr, "\n[%s -> %s]\n", from, to)
		},
		Logger: logger,
	})
	defer ch.Close()

	sess.events = ch
	sess.status = func() string {
		state := ch.State()
		if state == channel.StateReconnecting {
			return fmt.Sprintf("%s (attempt %d, next in %s)", state, ch.Attempt(), ch.NextDelay())
		}
		return state.String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(os.Stderr, "Connecting to %s (polling %s)...\n", cfg.Channel.URL, pollURL)
	if err := ch.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed, will retry: %v\n", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprint(os.Stdout, "Type help for commands\n> ")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nShutting down...")
			return
		case line, ok := <-lines:
			if !ok || !sess.exec(ctx, line) {
				return
			}
			fmt.Fprint(os.Stdout, "> ")
		}
	}
}
