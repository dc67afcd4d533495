// Package ws provides the JSON wire protocol spoken on the /ws endpoint and
// a gorilla/websocket connection wrapper used by both ends of it.
package ws

import (
	"time"

	"github.com/johan/oddsrelay/internal/types"
)

// Message types exchanged on the duplex connection.
const (
	TypeConnection = "connection"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeUpdate     = "update"
	TypeLiveUpdate = "liveUpdate"
	TypeSubscribe  = "subscribe"
)

// StatusConnected is sent in the connection message on open.
const StatusConnected = "connected"

// Message is the envelope for every frame. Fields unused by a given type
// are omitted on the wire.
type Message struct {
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Timestamp int64         `json:"timestamp,omitempty"`
	Echo      int64         `json:"echo,omitempty"`
	Sports    []string      `json:"sports,omitempty"`
	Events    []types.Event `json:"events,omitempty"`

	// Snapshot marks an update that carries every event the receiver
	// should hold, rather than a delta.
	Snapshot bool `json:"snapshot,omitempty"`
}

// IsUpdate reports whether the message carries events.
func (m Message) IsUpdate() bool {
	return m.Type == TypeUpdate || m.Type == TypeLiveUpdate
}

// NewConnected builds the greeting sent when a subscriber joins.
func NewConnected() Message {
	return Message{Type: TypeConnection, Status: StatusConnected, Timestamp: nowMillis()}
}

// NewPing builds a heartbeat ping.
func NewPing() Message {
	return Message{Type: TypePing, Timestamp: nowMillis()}
}

// NewPong answers a ping, echoing its timestamp.
func NewPong(echo int64) Message {
	return Message{Type: TypePong, Timestamp: nowMillis(), Echo: echo}
}

// NewUpdate builds an update message of the given type.
func NewUpdate(msgType string, events []types.Event) Message {
	return Message{Type: msgType, Timestamp: nowMillis(), Events: events}
}

// NewSubscribe builds a sport filter request.
func NewSubscribe(sports []string) Message {
	return Message{Type: TypeSubscribe, Sports: sports}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
