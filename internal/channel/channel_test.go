package channel

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johan/oddsrelay/internal/types"
	"github.com/johan/oddsrelay/internal/ws"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{clock: c, t: t}
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

type fakeTimerHandle struct {
	clock *fakeClock
	t     *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	active := !h.t.stopped && !h.t.fired
	h.t.stopped = true
	return active
}

// pending returns timers with duration d that have neither fired nor been
// stopped.
func (c *fakeClock) pending(d time.Duration) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if t.d == d && !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the single pending timer whose duration satisfies match.
func (c *fakeClock) fire(t *testing.T, match func(time.Duration) bool) time.Duration {
	t.Helper()
	c.mu.Lock()
	var next *fakeTimer
	for _, tm := range c.timers {
		if !tm.stopped && !tm.fired && match(tm.d) {
			next = tm
			break
		}
	}
	if next == nil {
		c.mu.Unlock()
		t.Fatal("no pending timer")
	}
	next.fired = true
	c.mu.Unlock()

	next.f()
	return next.d
}

func (c *fakeClock) all() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

func anyTimer(time.Duration) bool { return true }

type fakeConn struct {
	in      chan []byte
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan []byte, 8),
		written: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.written <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) next(t *testing.T) ws.Message {
	t.Helper()
	select {
	case data := <-c.written:
		msg, err := ws.Parse(data)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
	}
	return ws.Message{}
}

// scriptedDialer fails until succeed is set, then hands out fresh conns.
type scriptedDialer struct {
	succeed atomic.Bool
	dials   atomic.Int32
	mu      sync.Mutex
	conns   []*fakeConn
}

func (d *scriptedDialer) dial(ctx context.Context, url string) (Conn, error) {
	d.dials.Add(1)
	if !d.succeed.Load() {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *scriptedDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{50, 30 * time.Second},
		{10000, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, time.Second, 30*time.Second, 2); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_NonDecreasingAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		d := Backoff(attempt, 250*time.Millisecond, 10*time.Second, 1.7)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v, less than previous %v", attempt, d, prev)
		}
		if d > 10*time.Second {
			t.Fatalf("Backoff(%d) = %v, above cap", attempt, d)
		}
		prev = d
	}
}

func TestChannel_ReconnectBackoffSequence(t *testing.T) {
	clock := &fakeClock{}
	dialer := &scriptedDialer{}

	var mu sync.Mutex
	var transitions []State
	c := New(Options{
		Dialer: dialer.dial,
		Clock:  clock,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	})
	defer c.Close()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected first connect to fail")
	}
	if c.State() != StateReconnecting {
		t.Errorf("State = %v, want RECONNECTING", c.State())
	}

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if c.Attempt() != i+1 {
			t.Errorf("Attempt = %d, want %d", c.Attempt(), i+1)
		}
		if got := c.NextDelay(); got != w*time.Second {
			t.Errorf("delay %d = %v, want %v", i+1, got, w*time.Second)
		}
		clock.fire(t, anyTimer)
	}

	dialer.succeed.Store(true)
	clock.fire(t, anyTimer)

	if c.State() != StateConnected {
		t.Fatalf("State = %v, want CONNECTED", c.State())
	}
	if c.Attempt() != 0 {
		t.Errorf("Attempt after connect = %d, want 0", c.Attempt())
	}

	// A drop after a successful connect starts again from the base delay.
	dialer.last().Close()
	waitFor(t, "reconnect to be scheduled", func() bool { return c.State() == StateReconnecting })
	if c.Attempt() != 1 {
		t.Errorf("Attempt after drop = %d, want 1", c.Attempt())
	}
	if c.NextDelay() != time.Second {
		t.Errorf("delay after drop = %v, want 1s", c.NextDelay())
	}

	mu.Lock()
	defer mu.Unlock()
	if transitions[0] != StateConnecting || transitions[1] != StateReconnecting {
		t.Errorf("first transitions = %v, want CONNECTING, RECONNECTING", transitions[:2])
	}
}

func TestChannel_PingGetsPong(t *testing.T) {
	dialer := &scriptedDialer{}
	dialer.succeed.Store(true)

	c := New(Options{Dialer: dialer.dial, Clock: &fakeClock{}})
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	conn := dialer.last()
	conn.in <- []byte(`{"type":"ping","timestamp":777}`)

	msg := conn.next(t)
	if msg.Type != ws.TypePong || msg.Echo != 777 {
		t.Errorf("reply = %+v, want pong echoing 777", msg)
	}
}

func TestChannel_SendsSportFilter(t *testing.T) {
	dialer := &scriptedDialer{}
	dialer.succeed.Store(true)

	c := New(Options{Dialer: dialer.dial, Clock: &fakeClock{}, Sports: []string{"tennis"}})
	defer c.Close()

	c.Connect(context.Background())

	msg := dialer.last().next(t)
	if msg.Type != ws.TypeSubscribe || len(msg.Sports) != 1 || msg.Sports[0] != "tennis" {
		t.Errorf("first frame = %+v, want subscribe [tennis]", msg)
	}
}

func TestChannel_UpdateMergesIntoCache(t *testing.T) {
	dialer := &scriptedDialer{}
	dialer.succeed.Store(true)

	updates := make(chan []types.Event, 4)
	c := New(Options{
		Dialer:   dialer.dial,
		Clock:    &fakeClock{},
		OnUpdate: func(events []types.Event) { updates <- events },
	})
	defer c.Close()

	c.Connect(context.Background())
	conn := dialer.last()

	conn.in <- []byte(`{"type":"update","events":[
		{"id":"ev1","sport":"soccer","status":"live","markets":[{"id":"1x2","outcomes":[{"id":"home","odds":1.8}]}]},
		{"id":"ev2","sport":"tennis","status":"scheduled","markets":[]}
	]}`)

	select {
	case batch := <-updates:
		if len(batch) != 2 {
			t.Errorf("OnUpdate batch = %d events, want 2", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnUpdate not called")
	}

	// Whole-event replacement: the second frame drops ev1's markets.
	conn.in <- []byte(`{"type":"liveUpdate","events":[{"id":"ev1","sport":"soccer","status":"finished","markets":[]}]}`)
	<-updates

	ev, ok := c.Event("ev1")
	if !ok {
		t.Fatal("ev1 missing from cache")
	}
	if ev.Status != types.EventFinished || len(ev.Markets) != 0 {
		t.Errorf("ev1 = %+v, want finished with no markets", ev)
	}
	if len(c.Events()) != 2 {
		t.Errorf("Events = %d, want 2", len(c.Events()))
	}
}

func TestChannel_MalformedFrameKeepsConnection(t *testing.T) {
	dialer := &scriptedDialer{}
	dialer.succeed.Store(true)

	c := New(Options{Dialer: dialer.dial, Clock: &fakeClock{}})
	defer c.Close()

	c.Connect(context.Background())
	conn := dialer.last()

	conn.in <- []byte(`garbage`)
	conn.in <- []byte(`{"type":"ping","timestamp":1}`)

	if msg := conn.next(t); msg.Type != ws.TypePong {
		t.Errorf("reply = %q, want pong", msg.Type)
	}
	if c.State() != StateConnected {
		t.Errorf("State = %v, want CONNECTED", c.State())
	}
}

func TestChannel_PollsOnConstruction(t *testing.T) {
	clock := &fakeClock{}
	var polls atomic.Int32
	poller := PollerFunc(func(ctx context.Context) ([]types.Event, error) {
		polls.Add(1)
		return []types.Event{{ID: "ev1", Status: types.EventLive}}, nil
	})

	c := New(Options{Poller: poller, PollInterval: 10 * time.Second, Clock: clock})
	defer c.Close()

	waitFor(t, "first poll", func() bool { return len(clock.pending(10*time.Second)) == 1 })
	if polls.Load() != 1 {
		t.Errorf("polls = %d, want 1", polls.Load())
	}
	if _, ok := c.Event("ev1"); !ok {
		t.Error("polled event not cached")
	}
	if c.State() != StateDisconnected {
		t.Errorf("State = %v, want DISCONNECTED", c.State())
	}

	clock.fire(t, func(d time.Duration) bool { return d == 10*time.Second })
	if polls.Load() != 2 {
		t.Errorf("polls after tick = %d, want 2", polls.Load())
	}
}

func TestChannel_PollFailureKeepsPolling(t *testing.T) {
	clock := &fakeClock{}
	poller := PollerFunc(func(ctx context.Context) ([]types.Event, error) {
		return nil, errors.New("relay down")
	})

	c := New(Options{Poller: poller, Clock: clock})
	defer c.Close()

	waitFor(t, "poll timer", func() bool { return len(clock.pending(defaultPollInterval)) == 1 })
	clock.fire(t, anyTimer)
	if n := len(clock.pending(defaultPollInterval)); n != 1 {
		t.Errorf("pending poll timers = %d, want 1", n)
	}
}

func TestChannel_SuspendPollingWhileConnected(t *testing.T) {
	clock := &fakeClock{}
	dialer := &scriptedDialer{}
	dialer.succeed.Store(true)

	var polls atomic.Int32
	poller := PollerFunc(func(ctx context.Context) ([]types.Event, error) {
		polls.Add(1)
		return nil, nil
	})

	c := New(Options{
		Dialer:         dialer.dial,
		Poller:         poller,
		PollInterval:   time.Minute,
		SuspendPolling: true,
		Clock:          clock,
	})
	defer c.Close()

	waitFor(t, "first poll", func() bool { return len(clock.pending(time.Minute)) == 1 })
	c.Connect(context.Background())

	clock.fire(t, func(d time.Duration) bool { return d == time.Minute })
	if polls.Load() != 1 {
		t.Errorf("polls while connected = %d, want 1", polls.Load())
	}

	dialer.last().Close()
	waitFor(t, "disconnect", func() bool { return c.State() == StateReconnecting })

	clock.fire(t, func(d time.Duration) bool { return d == time.Minute })
	if polls.Load() != 2 {
		t.Errorf("polls after disconnect = %d, want 2", polls.Load())
	}
}

func TestChannel_CloseFromAnyState(t *testing.T) {
	t.Run("fresh", func(t *testing.T) {
		c := New(Options{Clock: &fakeClock{}})
		c.Close()
		c.Close()
		if c.State() != StateDisconnected {
			t.Errorf("State = %v, want DISCONNECTED", c.State())
		}
	})

	t.Run("reconnecting", func(t *testing.T) {
		clock := &fakeClock{}
		dialer := &scriptedDialer{}
		c := New(Options{Dialer: dialer.dial, Clock: clock})
		c.Connect(context.Background())

		c.Close()
		for _, tm := range clock.all() {
			if !tm.stopped {
				t.Errorf("timer %v not cancelled", tm.d)
			}
		}
		if c.State() != StateDisconnected {
			t.Errorf("State = %v, want DISCONNECTED", c.State())
		}
		if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
			t.Errorf("Connect after Close = %v, want ErrClosed", err)
		}
	})

	t.Run("connected", func(t *testing.T) {
		dialer := &scriptedDialer{}
		dialer.succeed.Store(true)
		clock := &fakeClock{}
		c := New(Options{Dialer: dialer.dial, Clock: clock})
		c.Connect(context.Background())
		conn := dialer.last()

		c.Close()
		c.Close()
		if !conn.isClosed() {
			t.Error("connection not closed")
		}
		// The read loop sees the close but must not schedule a reconnect.
		time.Sleep(20 * time.Millisecond)
		if n := len(clock.all()); n != 0 {
			t.Errorf("timers after close = %d, want 0", n)
		}
		if dialer.dials.Load() != 1 {
			t.Errorf("dials = %d, want 1", dialer.dials.Load())
		}
	})

	t.Run("polling", func(t *testing.T) {
		clock := &fakeClock{}
		poller := PollerFunc(func(ctx context.Context) ([]types.Event, error) { return nil, nil })
		c := New(Options{Poller: poller, Clock: clock})
		waitFor(t, "poll timer", func() bool { return len(clock.pending(defaultPollInterval)) == 1 })

		c.Close()
		if n := len(clock.pending(defaultPollInterval)); n != 0 {
			t.Errorf("pending poll timers after close = %d, want 0", n)
		}
	})
}

func TestState_String(t *testing.T) {
	if StateReconnecting.String() != "RECONNECTING" {
		t.Errorf("String = %q, want RECONNECTING", StateReconnecting.String())
	}
	if State(99).String() != "UNKNOWN" {
		t.Errorf("String = %q, want UNKNOWN", State(99).String())
	}
}

type scopedFunc struct {
	PollerFunc
	covers func(types.Event) bool
}

func (s scopedFunc) Covers(ev types.Event) bool { return s.covers(ev) }

func TestChannel_ScopedPollDropsMissingEvents(t *testing.T) {
	clock := &fakeClock{}
	var round atomic.Int32
	poller := scopedFunc{
		PollerFunc: func(ctx context.Context) ([]types.Event, error) {
			if round.Add(1) == 1 {
				return []types.Event{
					{ID: "ev1", Status: types.EventLive},
					{ID: "ev2", Status: types.EventLive},
				}, nil
			}
			// ev2 finished, so a live-only listing no longer has it.
			return []types.Event{{ID: "ev1", Status: types.EventLive}}, nil
		},
		covers: func(ev types.Event) bool { return ev.IsLive() },
	}

	c := New(Options{Poller: poller, Clock: clock})
	defer c.Close()

	waitFor(t, "first poll", func() bool { return c.Cache().Len() == 2 })
	waitFor(t, "poll timer", func() bool { return len(clock.pending(defaultPollInterval)) == 1 })
	clock.fire(t, anyTimer)

	if _, ok := c.Event("ev2"); ok {
		t.Error("ev2 still cached after a listing without it")
	}
	if _, ok := c.Event("ev1"); !ok {
		t.Error("ev1 missing")
	}
}

func TestChannel_SnapshotFrameDropsMissingEvents(t *testing.T) {
	dialer := &scriptedDialer{}
	dialer.succeed.Store(true)

	updates := make(chan []types.Event, 4)
	c := New(Options{
		Dialer:   dialer.dial,
		Clock:    &fakeClock{},
		Sports:   []string{"soccer"},
		OnUpdate: func(events []types.Event) { updates <- events },
	})
	defer c.Close()

	c.Connect(context.Background())
	conn := dialer.last()
	conn.next(t) // subscribe frame

	c.Cache().Merge([]types.Event{
		{ID: "old", Sport: "soccer"},
		{ID: "other", Sport: "tennis"},
	})

	conn.in <- []byte(`{"type":"update","snapshot":true,"events":[{"id":"ev1","sport":"soccer","markets":[]}]}`)
	<-updates

	if _, ok := c.Event("old"); ok {
		t.Error("event missing from the snapshot is still cached")
	}
	if _, ok := c.Event("other"); !ok {
		t.Error("event outside the sport filter was dropped")
	}
	if _, ok := c.Event("ev1"); !ok {
		t.Error("snapshot event not cached")
	}
}
