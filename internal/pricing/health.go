package pricing

import (
	"sync"
	"time"
)

// FeedHealth is a point-in-time view of one feed, served on /status.
type FeedHealth struct {
	Venue      string    `json:"venue"`
	Instrument string    `json:"instrument"`
	Connected  bool      `json:"connected"`
	LastUpdate time.Time `json:"last_update"`
	Updates    uint64    `json:"updates"`

	// ParseErrors counts exchange frames that failed numeric or JSON parsing;
	// DecodeErrors counts pool account payloads that failed to decode.
	ParseErrors  uint64 `json:"parse_errors"`
	DecodeErrors uint64 `json:"decode_errors"`

	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
	Subscriptions int       `json:"subscriptions"`
}

// HealthProvider is implemented by sources that expose feed health.
// Health must be safe to call from any goroutine.
type HealthProvider interface {
	Health() FeedHealth
}

// healthTracker is the mutable state behind FeedHealth.
type healthTracker struct {
	mu sync.RWMutex
	h  FeedHealth
}

func newHealthTracker(venue string) *healthTracker {
	return &healthTracker{h: FeedHealth{Venue: venue}}
}

func (t *healthTracker) connected(instrument string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.Instrument = instrument
	t.h.Connected = true
	t.h.Subscriptions++
}

func (t *healthTracker) disconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.Connected = false
}

func (t *healthTracker) update(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.LastUpdate = at
	t.h.Updates++
}

func (t *healthTracker) parseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.ParseErrors++
	t.setError(err)
}

func (t *healthTracker) decodeError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.h.DecodeErrors++
	t.setError(err)
}

func (t *healthTracker) failure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setError(err)
}

// setError expects t.mu held.
func (t *healthTracker) setError(err error) {
	t.h.LastError = err.Error()
	t.h.LastErrorTime = time.Now()
}

func (t *healthTracker) snapshot() FeedHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.h
}
