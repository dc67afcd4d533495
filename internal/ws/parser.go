package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a frame that could not be decoded. Such frames are
// dropped; the connection stays open.
var ErrMalformed = errors.New("malformed message")

// Parse decodes a single frame.
func Parse(data []byte) (Message, error) {
	data = trimWhitespace(data)
	if len(data) == 0 {
		return Message{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	// Some clients send a bare "ping" text frame.
	if string(data) == TypePing {
		return Message{Type: TypePing}, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v (data: %s)", ErrMalformed, err, truncate(data, 100))
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type (data: %s)", ErrMalformed, truncate(data, 100))
	}
	return msg, nil
}

// Encode serializes a message for the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s message: %w", msg.Type, err)
	}
	return data, nil
}

// trimWhitespace removes leading and trailing whitespace from a byte slice.
func trimWhitespace(data []byte) []byte {
	for len(data) > 0 && isSpace(data[0]) {
		data = data[1:]
	}
	for len(data) > 0 && isSpace(data[len(data)-1]) {
		data = data[:len(data)-1]
	}
	return data
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// truncate truncates a byte slice to a maximum length for error messages.
func truncate(data []byte, maxLen int) string {
	if len(data) <= maxLen {
		return string(data)
	}
	return string(data[:maxLen]) + "..."
}
