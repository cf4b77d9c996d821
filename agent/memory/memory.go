// Package memory owns all mutable orchestration state: the TTL result
// cache, the pin store, the date-range accumulation sets, and per-session
// conversation history. Everything lives in process memory; durability is
// an explicit non-goal, and unbounded growth is the documented limitation.
package memory

import (
	"sync"
	"time"

	contractx "github.com/chronomap/chronomap/agent/contract"
)

// Kind selects the fixed TTL a cache write receives.
type Kind string

const (
	KindPins        Kind = "pins"
	KindExplanation Kind = "explanation"
)

const (
	pinsTTL        = time.Hour
	explanationTTL = 12 * time.Hour
)

func (k Kind) ttl() time.Duration {
	if k == KindExplanation {
		return explanationTTL
	}
	return pinsTTL
}

type cacheEntry struct {
	value  any
	expiry time.Time
}

// Memory serializes access per key-space: cache, pins, accumulation sets
// and conversations each sit behind their own lock, so a read-modify-write
// such as MergePins cannot interleave with a concurrent merge on the same
// key while independent key-spaces stay contention-free.
type Memory struct {
	now func() time.Time

	cacheMu sync.Mutex
	cache   map[string]cacheEntry

	pinsMu sync.RWMutex
	pins   map[string]contractx.Pin

	rangesMu sync.Mutex
	ranges   map[string][]contractx.Pin

	convMu        sync.Mutex
	conversations map[string][]contractx.Message
}

// Option customizes a Memory.
type Option func(*Memory)

// WithClock injects the time source, used by tests to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func New(opts ...Option) *Memory {
	m := &Memory{
		now:           time.Now,
		cache:         make(map[string]cacheEntry),
		pins:          make(map[string]contractx.Pin),
		ranges:        make(map[string][]contractx.Pin),
		conversations: make(map[string][]contractx.Message),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

/* --------------------------------- cache --------------------------------- */

// GetCache returns the live value for key. An expired entry is a miss and
// is dropped on the spot.
func (m *Memory) GetCache(key string) (any, bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	entry, ok := m.cache[key]
	if !ok {
		return nil, false
	}
	if m.now().After(entry.expiry) {
		delete(m.cache, key)
		return nil, false
	}
	return entry.value, true
}

// PutCache stores value under key with the kind's fixed TTL.
func (m *Memory) PutCache(kind Kind, key string, value any) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.cache[key] = cacheEntry{value: value, expiry: m.now().Add(kind.ttl())}
}

// SweepExpired drops every expired entry and reports how many were removed.
func (m *Memory) SweepExpired() int {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.cache {
		if now.After(entry.expiry) {
			delete(m.cache, key)
			removed++
		}
	}
	return removed
}

/* -------------------------------- pin store ------------------------------- */

// PutPin stores a pin; a later put with the same event id overwrites.
func (m *Memory) PutPin(pin contractx.Pin) {
	if pin.EventID == "" {
		return
	}
	m.pinsMu.Lock()
	defer m.pinsMu.Unlock()
	m.pins[pin.EventID] = pin
}

// Pin returns the stored pin for eventID.
func (m *Memory) Pin(eventID string) (contractx.Pin, bool) {
	m.pinsMu.RLock()
	defer m.pinsMu.RUnlock()
	pin, ok := m.pins[eventID]
	return pin, ok
}

// FindPin is the fallback lookup: when the direct store misses, it scans
// live cached pin lists for the event id and promotes a hit into the store.
func (m *Memory) FindPin(eventID string) (contractx.Pin, bool) {
	if pin, ok := m.Pin(eventID); ok {
		return pin, true
	}

	m.cacheMu.Lock()
	now := m.now()
	var found *contractx.Pin
	for _, entry := range m.cache {
		if now.After(entry.expiry) {
			continue
		}
		pins, ok := entry.value.([]contractx.Pin)
		if !ok {
			continue
		}
		for i := range pins {
			if pins[i].EventID == eventID {
				pin := pins[i]
				found = &pin
				break
			}
		}
		if found != nil {
			break
		}
	}
	m.cacheMu.Unlock()

	if found == nil {
		return contractx.Pin{}, false
	}
	m.PutPin(*found)
	return *found, true
}

/* ----------------------------- accumulation ------------------------------ */

// MergePins unions newPins into the accumulated set for (dateRange,
// language), deduplicating by event id with first-seen-wins semantics, and
// returns a copy of the full merged set. The key ignores the viewport on
// purpose: panning across one date range keeps growing a single picture.
func (m *Memory) MergePins(dateRange contractx.DateRange, language string, newPins []contractx.Pin) []contractx.Pin {
	key := rangeKey(dateRange, language)

	m.rangesMu.Lock()
	defer m.rangesMu.Unlock()

	existing := m.ranges[key]
	seen := make(map[string]struct{}, len(existing)+len(newPins))
	merged := make([]contractx.Pin, 0, len(existing)+len(newPins))
	for _, pin := range existing {
		if _, dup := seen[pin.EventID]; dup {
			continue
		}
		seen[pin.EventID] = struct{}{}
		merged = append(merged, pin)
	}
	for _, pin := range newPins {
		if _, dup := seen[pin.EventID]; dup {
			continue
		}
		seen[pin.EventID] = struct{}{}
		merged = append(merged, pin)
	}
	m.ranges[key] = merged

	out := make([]contractx.Pin, len(merged))
	copy(out, merged)
	return out
}

// RangePins returns a copy of the accumulated set for (dateRange, language).
func (m *Memory) RangePins(dateRange contractx.DateRange, language string) []contractx.Pin {
	key := rangeKey(dateRange, language)

	m.rangesMu.Lock()
	defer m.rangesMu.Unlock()

	existing := m.ranges[key]
	out := make([]contractx.Pin, len(existing))
	copy(out, existing)
	return out
}

/* ----------------------------- conversations ----------------------------- */

// AppendMessage appends one turn to the session's history. History is
// append-only and lives for the process lifetime.
func (m *Memory) AppendMessage(sessionID string, msg contractx.Message) {
	if sessionID == "" {
		return
	}
	m.convMu.Lock()
	defer m.convMu.Unlock()
	m.conversations[sessionID] = append(m.conversations[sessionID], msg)
}

// Conversation returns a copy of the session's ordered history.
func (m *Memory) Conversation(sessionID string) []contractx.Message {
	m.convMu.Lock()
	defer m.convMu.Unlock()

	history := m.conversations[sessionID]
	out := make([]contractx.Message, len(history))
	copy(out, history)
	return out
}

// ClearConversation discards a session's history when the session ends.
func (m *Memory) ClearConversation(sessionID string) {
	m.convMu.Lock()
	defer m.convMu.Unlock()
	delete(m.conversations, sessionID)
}
