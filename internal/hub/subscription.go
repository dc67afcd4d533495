package hub

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/johan/oddsrelay/internal/types"
	"github.com/johan/oddsrelay/internal/ws"
)

// prepared is a message encoded once per broadcast. Subscribers with a
// sport filter re-encode their own filtered copy.
type prepared struct {
	msg      ws.Message
	raw      []byte
	snapshot bool
}

// Subscription is one connected subscriber.
type Subscription struct {
	ID        string
	StartTime time.Time

	hub  *Hub
	conn Conn
	out  chan []byte
	done chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	sports map[string]struct{}

	lastSeen     atomic.Int64
	messageCount atomic.Int64
}

func newSubscription(h *Hub, conn Conn) *Subscription {
	now := h.opts.Now()
	s := &Subscription{
		ID:        uuid.NewString(),
		StartTime: now,
		hub:       h,
		conn:      conn,
		out:       make(chan []byte, h.opts.SendBuffer),
		done:      make(chan struct{}),
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

func (s *Subscription) start() {
	go s.writeLoop()
	go s.readLoop()
}

// Done is closed once the subscription has been removed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// LastSeen is when the subscriber last sent anything.
func (s *Subscription) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// MessageCount returns the number of frames written to the subscriber.
func (s *Subscription) MessageCount() int64 {
	return s.messageCount.Load()
}

// Sports returns the sport filter, or nil when unfiltered.
func (s *Subscription) Sports() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sports) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.sports))
	for k := range s.sports {
		out = append(out, k)
	}
	return out
}

func (s *Subscription) setSports(sports []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sports) == 0 {
		s.sports = nil
		return
	}
	s.sports = make(map[string]struct{}, len(sports))
	for _, sp := range sports {
		sp = strings.ToLower(strings.TrimSpace(sp))
		if sp != "" {
			s.sports[sp] = struct{}{}
		}
	}
}

func (s *Subscription) wants(ev *types.Event) bool {
	if len(s.sports) == 0 {
		return true
	}
	if _, ok := s.sports[strings.ToLower(ev.Sport)]; ok {
		return true
	}
	_, ok := s.sports[strconv.Itoa(ev.SportID)]
	return ok
}

// payload returns the bytes to send for p, applying the sport filter.
// A filtered delta with nothing left is skipped.
func (s *Subscription) payload(p *prepared) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sports) == 0 || !p.msg.IsUpdate() {
		return p.raw, true
	}

	var events []types.Event
	for i := range p.msg.Events {
		if s.wants(&p.msg.Events[i]) {
			events = append(events, p.msg.Events[i])
		}
	}
	if len(events) == 0 && !p.snapshot {
		return nil, false
	}

	msg := p.msg
	msg.Events = events
	raw, err := ws.Encode(msg)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// deliver queues p for the writer. It returns false if the subscriber is
// gone or its queue stayed full for the whole timeout.
func (s *Subscription) deliver(p *prepared, timeout time.Duration) bool {
	data, ok := s.payload(p)
	if !ok {
		return true
	}
	return s.send(data, timeout)
}

func (s *Subscription) send(data []byte, timeout time.Duration) bool {
	select {
	case <-s.done:
		return false
	case s.out <- data:
		return true
	default:
	}

	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return false
	case s.out <- data:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Subscription) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.out:
			if err := s.conn.WriteMessage(data); err != nil {
				s.hub.logger.Debug("subscriber write failed",
					zap.String("subscriber", s.ID), zap.Error(err))
				s.hub.Unsubscribe(s)
				return
			}
			s.messageCount.Add(1)
		}
	}
}

func (s *Subscription) readLoop() {
	logger := s.hub.logger.With(zap.String("subscriber", s.ID))

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				if !ws.IsNormalClose(err) {
					logger.Debug("subscriber read failed", zap.Error(err))
				}
			}
			if s.hub.Unsubscribe(s) {
				logger.Info("subscriber left")
			}
			return
		}

		s.lastSeen.Store(s.hub.opts.Now().UnixNano())

		msg, err := ws.Parse(data)
		if err != nil {
			logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case ws.TypePong:
		case ws.TypePing:
			pong := s.hub.prepare(ws.NewPong(msg.Timestamp), false)
			if pong != nil && !s.deliver(pong, s.hub.opts.SendTimeout) {
				s.hub.prune(s, "send timeout")
				return
			}
		case ws.TypeSubscribe:
			s.setSports(msg.Sports)
			logger.Info("subscriber filter set", zap.Strings("sports", msg.Sports))
			s.hub.resync(s)
		default:
			logger.Debug("ignoring frame", zap.String("type", msg.Type))
		}
	}
}

// close stops delivery at once. The socket is closed on its own goroutine
// so a peer that stopped reading cannot hold up the caller.
func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		go s.conn.Close()
	})
}
