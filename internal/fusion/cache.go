// Package fusion merges venue feeds into a latest-quote-per-venue view and
// drives the detector on every update.
package fusion

import (
	"sort"
	"sync"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// Cache holds the most recent update per venue. Put overwrites the slot
// unconditionally, even when the incoming TS is older than the stored one.
type Cache struct {
	mu    sync.RWMutex
	slots map[quote.Venue]quote.Update
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{slots: make(map[quote.Venue]quote.Update)}
}

// Put stores u in its venue's slot.
func (c *Cache) Put(u quote.Update) {
	c.mu.Lock()
	c.slots[u.Venue] = u
	c.mu.Unlock()
}

// Delete empties venue's slot.
func (c *Cache) Delete(venue quote.Venue) {
	c.mu.Lock()
	delete(c.slots, venue)
	c.mu.Unlock()
}

// Get returns the slot for venue.
func (c *Cache) Get(venue quote.Venue) (quote.Update, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.slots[venue]
	return u, ok
}

// Pair returns both slots when both are populated.
func (c *Cache) Pair(a, b quote.Venue) (quote.Update, quote.Update, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ua, okA := c.slots[a]
	ub, okB := c.slots[b]
	return ua, ub, okA && okB
}

// Len returns the number of populated slots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// Snapshot copies every slot, ordered by venue name.
func (c *Cache) Snapshot() []quote.Update {
	c.mu.RLock()
	out := make([]quote.Update, 0, len(c.slots))
	for _, u := range c.slots {
		out = append(out, u)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Venue.Name < out[j].Venue.Name })
	return out
}
