package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/types"
)

// Payload formats understood by Client.
const (
	FormatNative  = "native"
	FormatOddsAPI = "oddsapi"
)

// Client is an HTTP client for an upstream odds provider.
type Client struct {
	httpClient *http.Client
	url        string
	format     string
	query      url.Values
	logger     *zap.Logger
}

// NewClient creates a provider client for the given endpoint.
func NewClient(httpClient *http.Client, endpoint string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		url:        endpoint,
		format:     FormatNative,
		logger:     zap.NewNop(),
	}
}

// WithFormat sets the payload format.
func (c *Client) WithFormat(format string) *Client {
	c.format = format
	return c
}

// WithQuery sets extra query parameters sent on every pull.
func (c *Client) WithQuery(q url.Values) *Client {
	c.query = q
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(logger *zap.Logger) *Client {
	c.logger = logging.OrNop(logger)
	return c
}

// Fetch pulls and normalizes the provider's current events.
func (c *Client) Fetch(ctx context.Context) ([]types.Event, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return nil, fmt.Errorf("parsing feed url: %w", err)
	}
	if len(c.query) > 0 {
		q := u.Query()
		for k, vs := range c.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var events []types.Event
	switch c.format {
	case FormatOddsAPI:
		events, err = DecodeOddsAPI(body)
	default:
		events, err = DecodeNative(body)
	}
	if err != nil {
		return nil, err
	}

	events, dropped := Sanitize(events)
	if dropped > 0 {
		c.logger.Debug("dropped invalid outcomes", zap.Int("count", dropped))
	}
	return events, nil
}

// DecodeNative decodes events already in the normalized shape, either as a
// bare array or wrapped in an object with an "events" field.
func DecodeNative(body []byte) ([]types.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	if body[0] == '[' {
		var events []types.Event
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("decoding event array: %w", err)
		}
		return events, nil
	}

	var wrapped struct {
		Events []types.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}
	return wrapped.Events, nil
}
