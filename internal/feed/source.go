// Package feed provides upstream odds sources for the broadcast hub and
// normalizes provider payloads into types.Event at the boundary.
package feed

import (
	"context"

	"github.com/johan/oddsrelay/internal/types"
)

// Source pulls the current set of events from an upstream provider.
type Source interface {
	Fetch(ctx context.Context) ([]types.Event, error)
}

// Streamer is implemented by sources that can also push deltas. Stream
// blocks until ctx is done, sending batches of changed events to out.
type Streamer interface {
	Stream(ctx context.Context, out chan<- []types.Event) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]types.Event, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context) ([]types.Event, error) {
	return f(ctx)
}
