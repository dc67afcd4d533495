package channel

import (
	"sort"
	"sync"
	"time"

	"github.com/johan/oddsrelay/internal/store"
	"github.com/johan/oddsrelay/internal/types"
)

// Cache is the client's local view of events. Both the push path and the
// polling path merge into it; the last merge for an id wins.
type Cache struct {
	mu      sync.RWMutex
	events  map[string]types.Event
	updated time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{events: make(map[string]types.Event)}
}

// Merge replaces each event by id and returns copies of what was merged.
func (c *Cache) Merge(events []types.Event) []types.Event {
	if len(events) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	merged := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		c.events[ev.ID] = ev.Clone()
		merged = append(merged, ev.Clone())
	}
	if len(merged) > 0 {
		c.updated = time.Now()
	}
	return merged
}

// Replace merges a complete listing. Cached events that covers reports as
// within the listing's scope but that the listing lacks are dropped. A nil
// covers means the listing is complete for every event.
func (c *Cache) Replace(events []types.Event, covers func(types.Event) bool) ([]types.Event, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(events))
	merged := make([]types.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		seen[ev.ID] = struct{}{}
		c.events[ev.ID] = ev.Clone()
		merged = append(merged, ev.Clone())
	}

	var removed []string
	for id, ev := range c.events {
		if _, ok := seen[id]; ok {
			continue
		}
		if covers == nil || covers(ev) {
			delete(c.events, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)

	if len(merged) > 0 || len(removed) > 0 {
		c.updated = time.Now()
	}
	return merged, removed
}

// Get returns a copy of one event.
func (c *Cache) Get(id string) (types.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ev, ok := c.events[id]
	if !ok {
		return types.Event{}, false
	}
	return ev.Clone(), true
}

// Snapshot returns copies of every event ordered by start time.
func (c *Cache) Snapshot() []types.Event {
	c.mu.RLock()
	out := make([]types.Event, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Clone())
	}
	c.mu.RUnlock()

	store.SortEvents(out)
	return out
}

// Len returns the number of cached events.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Updated returns when the cache last changed.
func (c *Cache) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}
