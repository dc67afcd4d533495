package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/johan/oddsrelay/internal/types"
)

// Poller fetches the relay's current events over plain HTTP.
type Poller interface {
	Poll(ctx context.Context) ([]types.Event, error)
}

// ScopedPoller is a Poller whose responses list every event matching
// Covers, so cached events it covers but omits are gone.
type ScopedPoller interface {
	Poller
	Covers(ev types.Event) bool
}

// PollerFunc adapts a function to Poller.
type PollerFunc func(ctx context.Context) ([]types.Event, error)

// Poll calls f.
func (f PollerFunc) Poll(ctx context.Context) ([]types.Event, error) {
	return f(ctx)
}

type eventsEnvelope struct {
	Success bool          `json:"success"`
	Count   int           `json:"count"`
	Events  []types.Event `json:"events"`
	Error   string        `json:"error"`
}

// HTTPPoller polls GET /api/events.
type HTTPPoller struct {
	httpClient *http.Client
	url        string
	live       *bool
	sportID    int
}

// NewHTTPPoller creates a poller for the given /api/events endpoint.
func NewHTTPPoller(httpClient *http.Client, endpoint string) *HTTPPoller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPPoller{httpClient: httpClient, url: endpoint}
}

// WithLive restricts polls to live (or not-live) events.
func (p *HTTPPoller) WithLive(live bool) *HTTPPoller {
	p.live = &live
	return p
}

// WithSport restricts polls to one sport id.
func (p *HTTPPoller) WithSport(sportID int) *HTTPPoller {
	p.sportID = sportID
	return p
}

// requestURL applies the live and sport filters to the endpoint.
func (p *HTTPPoller) requestURL() (*url.URL, error) {
	u, err := url.Parse(p.url)
	if err != nil {
		return nil, fmt.Errorf("parsing poll url: %w", err)
	}
	q := u.Query()
	if p.live != nil {
		q.Set("isLive", strconv.FormatBool(*p.live))
	}
	if p.sportID > 0 {
		q.Set("sportId", strconv.Itoa(p.sportID))
	}
	u.RawQuery = q.Encode()
	return u, nil
}

// Covers reports whether ev falls within the filters this poller sends,
// whether set through WithLive/WithSport or in the endpoint's query.
func (p *HTTPPoller) Covers(ev types.Event) bool {
	u, err := p.requestURL()
	if err != nil {
		return false
	}
	q := u.Query()
	if v := q.Get("isLive"); v != "" {
		live, err := strconv.ParseBool(v)
		if err != nil || ev.IsLive() != live {
			return false
		}
	}
	if v := q.Get("sportId"); v != "" && v != strconv.Itoa(ev.SportID) {
		return false
	}
	return true
}

// Poll fetches one page of events.
func (p *HTTPPoller) Poll(ctx context.Context) ([]types.Event, error) {
	u, err := p.requestURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	var env eventsEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return nil, fmt.Errorf("poll rejected (status %d): %s", resp.StatusCode, env.Error)
	}
	return env.Events, nil
}

// PollURLFor derives the polling endpoint from a relay websocket URL,
// e.g. ws://host:8080/ws becomes http://host:8080/api/events.
func PollURLFor(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parsing websocket url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	path := strings.TrimSuffix(u.Path, "/")
	path = strings.TrimSuffix(path, "/ws")
	u.Path = path + "/api/events"
	u.RawQuery = ""
	return u.String(), nil
}
