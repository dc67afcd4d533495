// Package storage provides the update journal and the snapshot cache used
// to warm-start the relay.
package storage

import (
	"github.com/johan/oddsrelay/internal/ws"
)

// Storage defines the interface for journaling broadcast messages.
type Storage interface {
	// Write appends a broadcast message to the journal.
	Write(msg *ws.Message) error

	// Close closes the storage backend.
	Close() error
}

// NullStorage is a no-op storage that discards all data.
type NullStorage struct{}

// NewNullStorage creates a new null storage.
func NewNullStorage() *NullStorage {
	return &NullStorage{}
}

// Write does nothing.
func (s *NullStorage) Write(msg *ws.Message) error {
	return nil
}

// Close does nothing.
func (s *NullStorage) Close() error {
	return nil
}
