// tracker/queue.go
package tracker

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"coursepulse/analytics/models"
)

const (
	// DefaultMaxQueueSize caps the durable buffer; oldest entries are evicted
	// first so the most recent activity is preserved.
	DefaultMaxQueueSize = 100

	// queuePruneAge drops entries that have been pending longer than this.
	queuePruneAge = 24 * time.Hour
)

// legacyQueueKeys are storage keys used by earlier tracker schema versions.
// MigrateLegacy reinterprets their contents once and deletes them.
var legacyQueueKeys = []string{"analytics_events_v1", "cp_pending_events"}

// EventQueue is the durable ordered buffer of pending events. Every mutation
// persists synchronously so the buffer survives process restarts.
type EventQueue struct {
	mu     sync.Mutex
	store  KeyValueStore
	max    int
	events []models.Event
}

func NewEventQueue(store KeyValueStore, maxSize int) *EventQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueueSize
	}
	q := &EventQueue{store: store, max: maxSize}
	q.load()
	return q
}

func (q *EventQueue) load() {
	raw, ok := q.store.Get(queueKey)
	if !ok || raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), &q.events); err != nil {
		// Corrupted persisted queue: discard rather than propagate.
		log.Printf("Persisted event queue is corrupted, discarding: %v", err)
		q.events = nil
		q.store.Remove(queueKey)
	}
}

// Enqueue appends an event, opportunistically prunes stale entries, evicts
// oldest-first past the cap, and persists.
func (q *EventQueue) Enqueue(event models.Event, now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, event)

	cutoff := now.Add(-queuePruneAge)
	kept := q.events[:0]
	for _, e := range q.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	q.events = kept

	if overflow := len(q.events) - q.max; overflow > 0 {
		q.events = append([]models.Event(nil), q.events[overflow:]...)
	}

	q.persist()
}

// Drain returns and atomically clears all queued events.
func (q *EventQueue) Drain() []models.Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return nil
	}
	drained := q.events
	q.events = nil
	q.persist()
	return drained
}

// Restore re-inserts events after a failed delivery attempt. Appended, not
// prepended, preserving rough chronological order on retry.
func (q *EventQueue) Restore(events []models.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, events...)
	if overflow := len(q.events) - q.max; overflow > 0 {
		q.events = append([]models.Event(nil), q.events[overflow:]...)
	}
	q.persist()
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Clear drops the buffer and its storage key. Used on opt-out.
func (q *EventQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = nil
	q.store.Remove(queueKey)
	q.store.Remove(migratedKey)
}

// persist must be called with q.mu held.
func (q *EventQueue) persist() {
	data, err := json.Marshal(q.events)
	if err != nil {
		log.Printf("Failed to marshal event queue: %v", err)
		return
	}
	q.store.Set(queueKey, string(data))
}

// legacyEvent is the pre-v2 persisted shape: short type strings and a
// millisecond timestamp.
type legacyEvent struct {
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
	Path     string `json:"path"`
	Title    string `json:"title"`
	Referrer string `json:"referrer"`
}

var legacyTypeMap = map[string]string{
	"view":          models.EventTypePageview,
	"click":         models.EventTypeOutboundClick,
	"session-start": models.EventTypeSessionStart,
	"session-end":   models.EventTypeSessionEnd,
}

// MigrateLegacy reinterprets entries persisted by earlier tracker versions
// into the current Event shape, stamped with the caller's identity, and merges
// them into the queue. Runs at most once, guarded by a persisted flag.
// Malformed entries are dropped (logged, not fatal); the legacy keys are
// deleted afterward regardless so a corrupt payload never retries forever.
func (q *EventQueue) MigrateLegacy(visitorID, sessionID string, now time.Time) {
	if done, ok := q.store.Get(migratedKey); ok && done == "1" {
		return
	}

	for _, key := range legacyQueueKeys {
		raw, ok := q.store.Get(key)
		if ok && raw != "" {
			q.mergeLegacy(raw, visitorID, sessionID, now)
		}
		q.store.Remove(key)
	}

	q.store.Set(migratedKey, "1")
}

func (q *EventQueue) mergeLegacy(raw, visitorID, sessionID string, now time.Time) {
	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Printf("Legacy event payload is not a JSON array, dropping: %v", err)
		return
	}

	migrated := 0
	for _, entry := range entries {
		var legacy legacyEvent
		if err := json.Unmarshal(entry, &legacy); err != nil || legacy.Type == "" {
			log.Printf("Dropping malformed legacy event entry: %v", err)
			continue
		}

		eventType, ok := legacyTypeMap[legacy.Type]
		if !ok {
			eventType = models.EventTypeCustom
		}
		ts := now
		if legacy.TS > 0 {
			ts = time.UnixMilli(legacy.TS).UTC()
		}

		q.Enqueue(models.Event{
			EventType:       eventType,
			Timestamp:       ts,
			URL:             legacy.Path,
			Title:           legacy.Title,
			Referrer:        legacy.Referrer,
			VisitorID:       visitorID,
			SessionID:       sessionID,
			ClientGenerated: false,
			ClientVersion:   ClientVersion,
		}, now)
		migrated++
	}

	if migrated > 0 {
		log.Printf("Migrated %d legacy events into the queue.", migrated)
	}
}
