// Package hub fans odds updates out to connected subscribers.
//
// The hub owns the subscriber set. A single refresh loop pulls the upstream
// source, merges results into the store and pushes deltas; a separate
// heartbeat loop pings subscribers and prunes the silent ones. Socket I/O
// runs on per-subscriber goroutines so a slow reader only ever costs the
// hub one bounded send timeout.
package hub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/feed"
	"github.com/johan/oddsrelay/internal/logging"
	"github.com/johan/oddsrelay/internal/storage"
	"github.com/johan/oddsrelay/internal/store"
	"github.com/johan/oddsrelay/internal/types"
	"github.com/johan/oddsrelay/internal/ws"
)

const (
	defaultRefreshInterval   = 15 * time.Second
	defaultHeartbeatInterval = 30 * time.Second
	defaultSendTimeout       = 2 * time.Second
	defaultSendBuffer        = 32
	defaultRetention         = 10 * time.Minute
	defaultEvictInterval     = time.Minute

	// The greeting and the catch-up snapshot must both fit.
	minSendBuffer = 2
)

// ErrClosed is returned when subscribing to a closed hub.
var ErrClosed = errors.New("hub closed")

// Conn is a subscriber's duplex connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Options configures a Hub. Zero values take defaults.
type Options struct {
	RefreshInterval   time.Duration
	HeartbeatInterval time.Duration
	SendTimeout       time.Duration
	SendBuffer        int
	Retention         time.Duration
	EvictInterval     time.Duration

	// Streamer, if set, pushes deltas between refresh cycles.
	Streamer feed.Streamer

	// Journal receives every broadcast update.
	Journal storage.Storage

	Logger *zap.Logger
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = defaultRefreshInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.SendBuffer < minSendBuffer {
		o.SendBuffer = minSendBuffer
	}
	if o.Retention <= 0 {
		o.Retention = defaultRetention
	}
	if o.EvictInterval <= 0 {
		o.EvictInterval = defaultEvictInterval
	}
	if o.Journal == nil {
		o.Journal = storage.NewNullStorage()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Stats is a point-in-time view of hub counters.
type Stats struct {
	Subscribers      int    `json:"subscribers"`
	Events           int    `json:"events"`
	Cycles           uint64 `json:"cycles"`
	UpstreamFailures uint64 `json:"upstreamFailures"`
	Broadcasts       uint64 `json:"broadcasts"`
	Delivered        uint64 `json:"delivered"`
	Pruned           uint64 `json:"pruned"`
}

// Hub distributes event updates to subscribers.
type Hub struct {
	store  *store.Store
	source feed.Source
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	cycles           atomic.Uint64
	upstreamFailures atomic.Uint64
	broadcasts       atomic.Uint64
	delivered        atomic.Uint64
	pruned           atomic.Uint64
}

// New creates a hub over the given store and upstream source.
func New(st *store.Store, source feed.Source, opts Options) *Hub {
	opts.setDefaults()
	return &Hub{
		store:  st,
		source: source,
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
		subs:   make(map[string]*Subscription),
	}
}

// Run pulls the source on every refresh interval until ctx is cancelled,
// then closes every subscription.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("starting broadcast hub",
		zap.Duration("refresh", h.opts.RefreshInterval),
		zap.Duration("heartbeat", h.opts.HeartbeatInterval))

	// Initial pull
	h.Refresh(ctx)

	go h.heartbeatLoop(ctx)

	var pushes chan []types.Event
	if h.opts.Streamer != nil {
		pushes = make(chan []types.Event, 16)
		go func() {
			err := h.opts.Streamer.Stream(ctx, pushes)
			if err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Warn("upstream push stream stopped", zap.Error(err))
			}
		}()
	}

	refreshTicker := time.NewTicker(h.opts.RefreshInterval)
	defer refreshTicker.Stop()

	evictTicker := time.NewTicker(h.opts.EvictInterval)
	defer evictTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("shutting down broadcast hub")
			h.Close()
			return ctx.Err()

		case <-refreshTicker.C:
			h.Refresh(ctx)

		case <-evictTicker.C:
			h.Evict()

		case batch := <-pushes:
			h.Apply(ws.TypeLiveUpdate, batch)
		}
	}
}

// Refresh runs one pull cycle and returns the number of changed events.
// Upstream failures count as a cycle with no changes.
func (h *Hub) Refresh(ctx context.Context) int {
	h.cycles.Add(1)

	pullCtx, cancel := context.WithTimeout(ctx, h.opts.RefreshInterval)
	defer cancel()

	events, err := h.source.Fetch(pullCtx)
	if err != nil {
		h.upstreamFailures.Add(1)
		h.logger.Warn("upstream pull failed, skipping cycle", zap.Error(err))
		return 0
	}
	return h.Apply(ws.TypeUpdate, events)
}

// Apply merges events into the store and broadcasts the changed subset
// under the given message type. It returns the number of changed events.
func (h *Hub) Apply(msgType string, events []types.Event) int {
	if len(events) == 0 {
		return 0
	}
	changed := h.store.UpsertMany(events)
	if len(changed) == 0 {
		return 0
	}

	msg := ws.NewUpdate(msgType, changed)
	if err := h.opts.Journal.Write(&msg); err != nil {
		h.logger.Warn("journal write failed", zap.Error(err))
	}
	n := h.Broadcast(msg)
	h.logger.Debug("broadcast update",
		zap.String("type", msgType),
		zap.Int("events", len(changed)),
		zap.Int("delivered", n))
	return len(changed)
}

// Evict drops events the upstream has stopped reporting.
func (h *Hub) Evict() []string {
	removed := h.store.EvictStale(h.opts.Retention)
	if len(removed) > 0 {
		h.logger.Info("evicted stale events", zap.Strings("event_ids", removed))
	}
	return removed
}

// Subscribe registers conn, queues the greeting and a full snapshot for it
// alone, then adds it to the broadcast set.
func (h *Hub) Subscribe(conn Conn) (*Subscription, error) {
	sub := newSubscription(h, conn)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}

	// The buffer is fresh and holds at least two messages, so neither
	// send can block.
	sub.deliver(h.prepare(ws.NewConnected(), false), 0)
	sub.deliver(h.prepare(ws.NewUpdate(ws.TypeUpdate, h.store.All()), true), 0)
	h.subs[sub.ID] = sub
	count := len(h.subs)
	h.mu.Unlock()

	sub.start()

	h.logger.Info("subscriber joined",
		zap.String("subscriber", sub.ID),
		zap.Int("subscribers", count))
	return sub, nil
}

// Unsubscribe removes sub and closes its connection. It reports whether the
// subscription was still registered; calling it again is a no-op.
func (h *Hub) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	h.mu.Lock()
	cur, ok := h.subs[sub.ID]
	if ok && cur == sub {
		delete(h.subs, sub.ID)
	}
	h.mu.Unlock()

	sub.close()
	return ok && cur == sub
}

// Broadcast sends msg to every subscriber and returns how many accepted it.
// Subscribers that cannot take the message within the send timeout are
// pruned.
func (h *Hub) Broadcast(msg ws.Message) int {
	p := h.prepare(msg, false)
	if p == nil {
		return 0
	}
	h.broadcasts.Add(1)

	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	// Fast path: most subscribers have room.
	var slow []*Subscription
	delivered := 0
	for _, s := range subs {
		if s.deliver(p, 0) {
			delivered++
		} else {
			slow = append(slow, s)
		}
	}

	// Slow subscribers wait in parallel so the total delay is one timeout.
	if len(slow) > 0 {
		ok := make([]bool, len(slow))
		var wg sync.WaitGroup
		for i, s := range slow {
			wg.Add(1)
			go func(i int, s *Subscription) {
				defer wg.Done()
				ok[i] = s.deliver(p, h.opts.SendTimeout)
			}(i, s)
		}
		wg.Wait()

		for i, s := range slow {
			if ok[i] {
				delivered++
				continue
			}
			h.prune(s, "send timeout")
		}
	}

	h.delivered.Add(uint64(delivered))
	return delivered
}

// Ping prunes subscribers that have been silent for more than two heartbeat
// intervals, then pings the rest.
func (h *Hub) Ping() int {
	cutoff := h.opts.Now().Add(-2 * h.opts.HeartbeatInterval)

	h.mu.Lock()
	var silent []*Subscription
	for _, s := range h.subs {
		if s.LastSeen().Before(cutoff) {
			silent = append(silent, s)
		}
	}
	h.mu.Unlock()

	for _, s := range silent {
		h.prune(s, "heartbeat timeout")
	}
	return h.Broadcast(ws.NewPing())
}

func (h *Hub) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Ping()
		}
	}
}

// resync sends a fresh snapshot to one subscriber, honoring its filter.
func (h *Hub) resync(sub *Subscription) {
	p := h.prepare(ws.NewUpdate(ws.TypeUpdate, h.store.All()), true)
	if p == nil {
		return
	}
	if !sub.deliver(p, h.opts.SendTimeout) {
		h.prune(sub, "send timeout")
	}
}

func (h *Hub) prune(sub *Subscription, reason string) {
	if h.Unsubscribe(sub) {
		h.pruned.Add(1)
		h.logger.Info("pruned subscriber",
			zap.String("subscriber", sub.ID),
			zap.String("reason", reason))
	}
}

func (h *Hub) prepare(msg ws.Message, snapshot bool) *prepared {
	msg.Snapshot = snapshot
	raw, err := ws.Encode(msg)
	if err != nil {
		h.logger.Error("encoding message", zap.Error(err))
		return nil
	}
	return &prepared{msg: msg, raw: raw, snapshot: snapshot}
}

// Close unsubscribes everyone and rejects new subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for id, s := range h.subs {
		subs = append(subs, s)
		delete(h.subs, id)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscriptions returns the active subscriptions.
func (h *Hub) Subscriptions() []*Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		out = append(out, s)
	}
	return out
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Subscribers:      h.SubscriberCount(),
		Events:           h.store.Len(),
		Cycles:           h.cycles.Load(),
		UpstreamFailures: h.upstreamFailures.Load(),
		Broadcasts:       h.broadcasts.Load(),
		Delivered:        h.delivered.Load(),
		Pruned:           h.pruned.Load(),
	}
}

// LogStatus logs a one-line summary plus one line per subscriber.
func (h *Hub) LogStatus() {
	st := h.Stats()
	h.logger.Info("hub status",
		zap.Int("subscribers", st.Subscribers),
		zap.Int("events", st.Events),
		zap.Uint64("cycles", st.Cycles),
		zap.Uint64("upstream_failures", st.UpstreamFailures),
		zap.Uint64("pruned", st.Pruned))

	now := h.opts.Now()
	for _, s := range h.Subscriptions() {
		h.logger.Debug("subscriber",
			zap.String("id", s.ID),
			zap.Int64("msgs", s.MessageCount()),
			zap.Strings("sports", s.Sports()),
			zap.Duration("idle", now.Sub(s.LastSeen()).Round(time.Second)))
	}
}
