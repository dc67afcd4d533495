// Package settlement places finalized bet-slip tickets.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/betslip"
	"github.com/johan/oddsrelay/internal/logging"
)

// ErrRejected is returned when the settlement service declines a ticket.
var ErrRejected = errors.New("ticket rejected")

type settleResponse struct {
	Accepted  bool   `json:"accepted"`
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

// Client posts tickets to a settlement service.
type Client struct {
	httpClient *http.Client
	url        string
	logger     *zap.Logger
}

// NewClient creates a client for the given endpoint.
func NewClient(httpClient *http.Client, endpoint string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		url:        endpoint,
		logger:     zap.NewNop(),
	}
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	c.logger = logging.OrNop(logger)
	return c
}

// Settle posts the ticket and returns the service's reference.
func (c *Client) Settle(ctx context.Context, t betslip.Ticket) (betslip.Receipt, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return betslip.Receipt{}, fmt.Errorf("marshaling ticket: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return betslip.Receipt{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", t.ID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return betslip.Receipt{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return betslip.Receipt{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return betslip.Receipt{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var out settleResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return betslip.Receipt{}, fmt.Errorf("decoding response: %w", err)
	}
	if !out.Accepted {
		if out.Reason != "" {
			return betslip.Receipt{}, fmt.Errorf("%w: %s", ErrRejected, out.Reason)
		}
		return betslip.Receipt{}, ErrRejected
	}

	c.logger.Debug("ticket settled",
		zap.String("ticket", t.ID),
		zap.String("reference", out.Reference))

	return betslip.Receipt{
		TicketID:  t.ID,
		Reference: out.Reference,
		SettledAt: time.Now().UTC(),
	}, nil
}

// DryRun accepts every ticket without placing it. Used when no settlement
// endpoint is configured.
type DryRun struct {
	logger *zap.Logger
}

// NewDryRun creates a logging-only settler.
func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logging.OrNop(logger)}
}

// Settle logs the ticket and accepts it.
func (d *DryRun) Settle(ctx context.Context, t betslip.Ticket) (betslip.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return betslip.Receipt{}, err
	}

	ref := t.ID
	if len(ref) > 8 {
		ref = ref[:8]
	}

	d.logger.Info("dry-run ticket",
		zap.String("ticket", t.ID),
		zap.String("mode", string(t.Mode)),
		zap.Int("legs", len(t.Legs)),
		zap.String("stake", t.TotalStake.StringFixed(2)),
		zap.String("odds", t.CombinedOdds.StringFixed(2)),
		zap.String("winnings", t.PotentialWinnings.StringFixed(2)),
		zap.String("currency", t.Currency))

	return betslip.Receipt{
		TicketID:  t.ID,
		Reference: "dry-" + ref,
		SettledAt: time.Now().UTC(),
	}, nil
}
