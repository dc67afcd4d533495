// Package store holds the in-memory snapshot of current events.
//
// A Store has a single writer (the hub's refresh loop) and any number of
// concurrent readers. Writers build a new snapshot and swap it in; readers
// always see a complete snapshot and receive copies of the events in it.
package store

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/johan/oddsrelay/internal/types"
)

type entry struct {
	event types.Event
	seen  time.Time
}

type snapshot struct {
	events map[string]entry
}

// Store is a copy-on-write map of events keyed by id.
type Store struct {
	// wmu only guards against accidental concurrent writers.
	wmu  sync.Mutex
	snap atomic.Pointer[snapshot]
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp refreshes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&snapshot{events: map[string]entry{}})
	return s
}

// Get returns a copy of the event with the given id.
func (s *Store) Get(id string) (types.Event, bool) {
	e, ok := s.snap.Load().events[id]
	if !ok {
		return types.Event{}, false
	}
	return e.event.Clone(), true
}

// All returns copies of every event, ordered by start time then id.
func (s *Store) All() []types.Event {
	snap := s.snap.Load()
	out := make([]types.Event, 0, len(snap.events))
	for _, e := range snap.events {
		out = append(out, e.event.Clone())
	}
	SortEvents(out)
	return out
}

// Len returns the number of events held.
func (s *Store) Len() int {
	return len(s.snap.Load().events)
}

// UpsertMany merges events by id, replacing each event's markets wholesale.
// It returns the events that are new or whose score, status, or outcome
// odds/status differ from the previous snapshot. Every event passed in is
// marked as refreshed, changed or not.
func (s *Store) UpsertMany(events []types.Event) []types.Event {
	if len(events) == 0 {
		return nil
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	now := s.now()
	prev := s.snap.Load()
	next := &snapshot{events: make(map[string]entry, len(prev.events)+len(events))}
	for id, e := range prev.events {
		next.events[id] = e
	}

	var changed []types.Event
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		ev = ev.Clone()
		old, existed := next.events[ev.ID]
		next.events[ev.ID] = entry{event: ev, seen: now}
		if !existed || types.Changed(old.event, ev) {
			changed = append(changed, ev.Clone())
		}
	}

	s.snap.Store(next)
	return changed
}

// Restore seeds the store with events, typically from a persisted snapshot.
// Restored events are stamped as refreshed now and are not reported as
// changed.
func (s *Store) Restore(events []types.Event) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	now := s.now()
	prev := s.snap.Load()
	next := &snapshot{events: make(map[string]entry, len(prev.events)+len(events))}
	for id, e := range prev.events {
		next.events[id] = e
	}
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		if _, ok := next.events[ev.ID]; ok {
			continue
		}
		next.events[ev.ID] = entry{event: ev.Clone(), seen: now}
	}
	s.snap.Store(next)
}

// EvictStale removes events that have not been refreshed within maxAge and
// returns their ids.
func (s *Store) EvictStale(maxAge time.Duration) []string {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	cutoff := s.now().Add(-maxAge)
	prev := s.snap.Load()

	var removed []string
	next := &snapshot{events: make(map[string]entry, len(prev.events))}
	for id, e := range prev.events {
		if e.seen.Before(cutoff) {
			removed = append(removed, id)
			continue
		}
		next.events[id] = e
	}
	if len(removed) == 0 {
		return nil
	}

	sort.Strings(removed)
	s.snap.Store(next)
	return removed
}

// SortEvents orders events by start time, then id.
func SortEvents(events []types.Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.Before(events[j].StartTime)
		}
		return events[i].ID < events[j].ID
	})
}
