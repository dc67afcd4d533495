package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultURL is the relay endpoint on a local server.
	DefaultURL = "ws://localhost:8080/ws"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 4 << 20 // 4MB, full snapshots can be large
	closeFrameTimeout       = time.Second
)

// ErrNotConnected is returned when writing to a closed connection.
var ErrNotConnected = errors.New("not connected")

// Conn wraps a gorilla websocket connection with serialized writes and
// per-write deadlines. Reads must come from a single goroutine.
type Conn struct {
	writeTimeout time.Duration
	conn         *websocket.Conn

	// mu serializes writes and is held for the whole write.
	mu     sync.Mutex
	closed atomic.Bool
}

// NewConn wraps an established websocket connection.
func NewConn(conn *websocket.Conn, writeTimeout time.Duration) *Conn {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	conn.SetReadLimit(defaultReadLimit)
	return &Conn{conn: conn, writeTimeout: writeTimeout}
}

// ReadMessage blocks until the next text or binary frame arrives.
func (c *Conn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteMessage sends a text frame, failing if it cannot be written within
// the write timeout.
func (c *Conn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

// Close closes the socket, which also fails any write in progress. A close
// frame is sent first only when no write holds the connection. It is safe
// to call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	if c.mu.TryLock() {
		deadline := time.Now().Add(closeFrameTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.mu.Unlock()
	}
	return c.conn.Close()
}

// RemoteAddr returns the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// IsNormalClose reports whether err is a clean close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// Dialer opens client connections to the relay.
type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// NewDialer creates a dialer with default timeouts.
func NewDialer() *Dialer {
	return &Dialer{
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteTimeout:     defaultWriteTimeout,
	}
}

// Dial establishes a websocket connection to url.
func (d *Dialer) Dial(ctx context.Context, url string) (*Conn, error) {
	if url == "" {
		url = DefaultURL
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dialing websocket: %w", err)
	}
	return NewConn(conn, d.WriteTimeout), nil
}
