// Package channel is the viewer-side sync channel: a websocket subscription
// to the relay with bounded-backoff reconnects, plus an independent HTTP
// polling loop so the local cache is never starved while the socket is
// down.
package channel

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/types"
	"github.com/johan/oddsrelay/internal/ws"
)

const (
	defaultPollInterval   = 10 * time.Second
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
	defaultBackoffFactor  = 2.0
)

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("channel closed")

// State is the connection state. Polling runs alongside every state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Conn is the duplex connection to the relay.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// WebSocketDialer adapts a ws.Dialer to a DialFunc.
func WebSocketDialer(d *ws.Dialer) DialFunc {
	if d == nil {
		d = ws.NewDialer()
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, err := d.Dial(ctx, url)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Options configures a Channel.
type Options struct {
	URL    string
	Dialer DialFunc

	// Poller, if set, is polled every PollInterval from construction on.
	Poller       Poller
	PollInterval time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// SuspendPolling skips polls while the socket is connected.
	SuspendPolling bool

	// Sports is sent as a subscribe filter after every connect.
	Sports []string

	// OnUpdate is called with every batch merged into the cache.
	OnUpdate func(events []types.Event)
	// OnStateChange is called on every connection state transition.
	OnStateChange func(from, to State)

	Clock  Clock
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.URL == "" {
		o.URL = ws.DefaultURL
	}
	if o.Dialer == nil {
		o.Dialer = WebSocketDialer(nil)
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	if o.BackoffFactor < 1 {
		o.BackoffFactor = defaultBackoffFactor
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
}

// Channel keeps a local event cache in sync with the relay.
type Channel struct {
	opts   Options
	logger *zap.Logger
	cache  *Cache

	// ctx bounds dials and polls; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	state          State
	attempt        int
	nextDelay      time.Duration
	conn           Conn
	reconnectTimer Timer
	pollTimer      Timer
	closed         bool
}

// New creates a channel and starts polling right away. Call Connect to open
// the websocket.
func New(opts Options) *Channel {
	opts.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		opts:   opts,
		logger: logging.OrNop(opts.Logger).With(zap.String("url", opts.URL)),
		cache:  NewCache(),
		ctx:    ctx,
		cancel: cancel,
	}

	if opts.Poller != nil {
		go c.pollTick()
	}
	return c
}

// Connect opens the websocket. On failure it schedules a reconnect with
// backoff and returns the dial error; the channel keeps retrying until
// Close.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	notify := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	notify()

	conn, err := c.opts.Dialer(ctx, c.opts.URL)
	if err != nil {
		c.logger.Warn("websocket connect failed", zap.Error(err))
		c.mu.Lock()
		notify := c.scheduleReconnectLocked()
		c.mu.Unlock()
		notify()
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.attempt = 0
	c.nextDelay = 0
	notify = c.setStateLocked(StateConnected)
	c.mu.Unlock()
	notify()

	c.logger.Info("websocket connected")

	if len(c.opts.Sports) > 0 {
		if data, err := ws.Encode(ws.NewSubscribe(c.opts.Sports)); err == nil {
			if err := conn.WriteMessage(data); err != nil {
				c.logger.Warn("sending sport filter failed", zap.Error(err))
			}
		}
	}

	go c.readLoop(conn)
	return nil
}

// scheduleReconnectLocked counts a failure and arms the reconnect timer.
func (c *Channel) scheduleReconnectLocked() func() {
	if c.closed {
		return func() {}
	}
	c.attempt++
	delay := Backoff(c.attempt, c.opts.InitialBackoff, c.opts.MaxBackoff, c.opts.BackoffFactor)
	c.nextDelay = delay
	c.reconnectTimer = c.opts.Clock.AfterFunc(delay, c.reconnect)

	c.logger.Info("reconnect scheduled",
		zap.Int("attempt", c.attempt),
		zap.Duration("delay", delay))
	return c.setStateLocked(StateReconnecting)
}

func (c *Channel) reconnect() {
	if err := c.Connect(c.ctx); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Debug("reconnect attempt failed", zap.Error(err))
	}
}

// setStateLocked records a transition and returns the callback to run once
// the lock is released.
func (c *Channel) setStateLocked(next State) func() {
	prev := c.state
	if prev == next {
		return func() {}
	}
	c.state = next

	cb := c.opts.OnStateChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(prev, next) }
}

func (c *Channel) readLoop(conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.onDisconnect(conn, err)
			return
		}
		c.handleFrame(conn, data)
	}
}

func (c *Channel) onDisconnect(conn Conn, err error) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	notify := c.scheduleReconnectLocked()
	c.mu.Unlock()

	conn.Close()
	if ws.IsNormalClose(err) {
		c.logger.Info("websocket closed by relay")
	} else {
		c.logger.Warn("websocket dropped", zap.Error(err))
	}
	notify()
}

func (c *Channel) handleFrame(conn Conn, data []byte) {
	msg, err := ws.Parse(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}

	switch msg.Type {
	case ws.TypePing:
		pong, err := ws.Encode(ws.NewPong(msg.Timestamp))
		if err != nil {
			return
		}
		if err := conn.WriteMessage(pong); err != nil {
			c.logger.Debug("sending pong failed", zap.Error(err))
		}
	case ws.TypeUpdate, ws.TypeLiveUpdate:
		if msg.Snapshot {
			c.replace(msg.Events, c.wantsSport)
		} else {
			c.apply(msg.Events)
		}
	case ws.TypeConnection, ws.TypePong:
	default:
		c.logger.Debug("ignoring frame", zap.String("type", msg.Type))
	}
}

func (c *Channel) apply(events []types.Event) {
	merged := c.cache.Merge(events)
	if len(merged) == 0 {
		return
	}
	if c.opts.OnUpdate != nil {
		c.opts.OnUpdate(merged)
	}
}

// replace applies a complete listing, dropping covered events it omits.
func (c *Channel) replace(events []types.Event, covers func(types.Event) bool) {
	merged, removed := c.cache.Replace(events, covers)
	if len(removed) > 0 {
		c.logger.Debug("dropped events gone from relay", zap.Strings("event_ids", removed))
	}
	if len(merged) > 0 && c.opts.OnUpdate != nil {
		c.opts.OnUpdate(merged)
	}
}

// wantsSport matches the sport filter the relay applies to this channel.
func (c *Channel) wantsSport(ev types.Event) bool {
	if len(c.opts.Sports) == 0 {
		return true
	}
	id := strconv.Itoa(ev.SportID)
	for _, sp := range c.opts.Sports {
		sp = strings.TrimSpace(sp)
		if strings.EqualFold(sp, ev.Sport) || sp == id {
			return true
		}
	}
	return false
}

// pollTick polls once and re-arms the poll timer.
func (c *Channel) pollTick() {
	if c.shouldPoll() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.PollInterval)
		events, err := c.opts.Poller.Poll(ctx)
		cancel()

		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("poll failed", zap.Error(err))
			}
		} else if scoped, ok := c.opts.Poller.(ScopedPoller); ok {
			c.replace(events, scoped.Covers)
		} else {
			c.apply(events)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.pollTimer = c.opts.Clock.AfterFunc(c.opts.PollInterval, c.pollTick)
}

func (c *Channel) shouldPoll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	return !(c.opts.SuspendPolling && c.state == StateConnected)
}

// Close stops polling, cancels any pending reconnect and closes the
// connection. It is safe to call from any state, more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
	conn := c.conn
	c.conn = nil
	notify := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	notify()
	c.logger.Info("channel closed")
}

// State returns the connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempt returns the number of consecutive failed connects.
func (c *Channel) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// NextDelay returns the delay of the pending reconnect, or zero.
func (c *Channel) NextDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextDelay
}

// Backoff returns the reconnect delay this channel uses for attempt.
func (c *Channel) Backoff(attempt int) time.Duration {
	return Backoff(attempt, c.opts.InitialBackoff, c.opts.MaxBackoff, c.opts.BackoffFactor)
}

// Events returns the cached events ordered by start time.
func (c *Channel) Events() []types.Event {
	return c.cache.Snapshot()
}

// Event returns one cached event.
func (c *Channel) Event(id string) (types.Event, bool) {
	return c.cache.Get(id)
}

// Cache exposes the local cache.
func (c *Channel) Cache() *Cache {
	return c.cache
}
