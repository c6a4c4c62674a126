// tracker/tracker.go
package tracker

import (
	"context"
	"sync"
	"time"

	"coursepulse/analytics/models"
)

// ClientVersion tags every emitted event's schema version.
const ClientVersion = "2.0.0"

// activityThrottle bounds how often observed activity is persisted.
const activityThrottle = 30 * time.Second

// PageContext describes the page the tracker is embedded in; it provides the
// defaults for TrackPageView.
type PageContext struct {
	URL      string
	Title    string
	Referrer string
}

// Config wires a Tracker. Zero values get sensible defaults; only Endpoint
// (or an explicit Transport) is required for real delivery.
type Config struct {
	Endpoint      string
	Store         KeyValueStore
	Transport     Transport
	Beacon        Beacon
	FlushInterval time.Duration
	BatchSize     int
	MaxQueueSize  int
	Page          PageContext
	UserAgent     string
	Language      string
	Screen        string

	// DoNotTrack mirrors the browser signal: consulted on every tracking
	// call, and honored exactly like a persisted opt-out.
	DoNotTrack func() bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Tracker is the public tracking API. One tracker per page load; the
// composition root owns its lifecycle (New / Close) and injects it into
// whatever needs to record events.
type Tracker struct {
	cfg      Config
	store    KeyValueStore
	identity *IdentityManager
	queue    *EventQueue
	delivery *DeliveryEngine

	mu        sync.Mutex
	active    bool
	lastTouch time.Time
}

// New builds a tracker and, unless opted out, resolves identity, migrates any
// legacy queue data, starts the flush loop and records the initial pageview.
func New(cfg Config) *Tracker {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Transport == nil {
		transport := NewHTTPTransport(cfg.Endpoint)
		cfg.Transport = transport
		if cfg.Beacon == nil {
			cfg.Beacon = transport
		}
	}
	if cfg.Beacon == nil {
		if beacon, ok := cfg.Transport.(Beacon); ok {
			cfg.Beacon = beacon
		} else {
			cfg.Beacon = noopBeacon{}
		}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	t := &Tracker{cfg: cfg, store: newResilientStore(cfg.Store)}

	if flag, ok := t.store.Get(optOutKey); ok && flag == "1" {
		return t
	}
	t.initialize()
	return t
}

func (t *Tracker) initialize() {
	now := t.cfg.Now()

	t.mu.Lock()
	t.identity = NewIdentityManager(t.store)
	t.queue = NewEventQueue(t.store, t.cfg.MaxQueueSize)
	t.delivery = NewDeliveryEngine(t.queue, t.cfg.Transport, t.cfg.Beacon, t.cfg.FlushInterval, t.cfg.BatchSize)
	t.active = true
	t.mu.Unlock()

	// Resolving identity here emits session_start for the very first session
	// over fresh storage, before the initial pageview.
	visitorID, sessionID := t.session(now)
	t.queue.MigrateLegacy(visitorID, sessionID, now)
	t.delivery.Start()

	t.TrackPageView("", "")
}

// session resolves the current visitor and session tokens. Whenever a fresh
// session token is minted, session_start is enqueued immediately, so every
// session boundary is recorded no matter which call crossed it. Callers must
// not hold t.mu.
func (t *Tracker) session(now time.Time) (string, string) {
	t.mu.Lock()
	visitorID := t.identity.VisitorID(now)
	sessionID, isNew := t.identity.SessionID(now)
	queue := t.queue
	t.mu.Unlock()

	if isNew {
		queue.Enqueue(t.buildEvent(models.EventTypeSessionStart, "", "", nil, visitorID, sessionID, now), now)
	}
	return visitorID, sessionID
}

func (t *Tracker) disabled() bool {
	if t.cfg.DoNotTrack != nil && t.cfg.DoNotTrack() {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.active
}

// track builds the event for the current identity and enqueues it. A session
// renewal emits session_start ahead of the triggering event.
func (t *Tracker) track(eventType, url, title string, additional map[string]string) {
	if t.disabled() {
		return
	}

	now := t.cfg.Now()
	visitorID, sessionID := t.session(now)

	t.mu.Lock()
	if now.Sub(t.lastTouch) >= activityThrottle {
		t.identity.TouchActivity(now)
		t.lastTouch = now
	}
	queue, delivery := t.queue, t.delivery
	t.mu.Unlock()

	queue.Enqueue(t.buildEvent(eventType, url, title, additional, visitorID, sessionID, now), now)
	delivery.NotifyEnqueue()
}

func (t *Tracker) buildEvent(eventType, url, title string, additional map[string]string, visitorID, sessionID string, now time.Time) models.Event {
	if url == "" {
		url = t.cfg.Page.URL
	}
	if title == "" {
		title = t.cfg.Page.Title
	}
	return models.Event{
		EventType:       eventType,
		Timestamp:       now,
		URL:             url,
		Title:           title,
		Referrer:        t.cfg.Page.Referrer,
		UserAgent:       t.cfg.UserAgent,
		Language:        t.cfg.Language,
		VisitorID:       visitorID,
		SessionID:       sessionID,
		Screen:          t.cfg.Screen,
		Additional:      additional,
		ClientGenerated: true,
		ClientVersion:   ClientVersion,
	}
}

// TrackPageView records a pageview. Empty url/title default to the configured
// page context.
func (t *Tracker) TrackPageView(url, title string) {
	t.track(models.EventTypePageview, url, title, nil)
}

// TrackOutboundClick records a click on an external link.
func (t *Tracker) TrackOutboundClick(href, text string) {
	additional := map[string]string{"outboundHref": href}
	if text != "" {
		additional["linkText"] = text
	}
	t.track(models.EventTypeOutboundClick, "", "", additional)
}

// TrackCustomEvent records an event with an arbitrary payload.
func (t *Tracker) TrackCustomEvent(data map[string]string) {
	t.track(models.EventTypeCustom, "", "", data)
}

// RecordActivity notes user activity (click, scroll, keypress) to keep the
// session alive. Persisted at most once per throttle window.
func (t *Tracker) RecordActivity() {
	if t.disabled() {
		return
	}
	now := t.cfg.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Sub(t.lastTouch) < activityThrottle {
		return
	}
	t.identity.TouchActivity(now)
	t.lastTouch = now
}

// OptOut persists the opt-out flag, halts delivery and clears every identity
// and queue key. All tracking calls become no-ops until OptIn.
func (t *Tracker) OptOut() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		t.store.Set(optOutKey, "1")
		return
	}
	identity, queue, delivery := t.identity, t.queue, t.delivery
	t.active = false
	t.mu.Unlock()

	delivery.Stop()
	identity.Clear()
	queue.Clear()
	t.store.Set(optOutKey, "1")
}

// OptIn clears the opt-out flag and re-initializes identity, queue and
// delivery (recording a fresh pageview, as on construction).
func (t *Tracker) OptIn() {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.store.Remove(optOutKey)
	t.initialize()
}

// Close is the page-teardown path: it synthesizes a final session_end and
// hands everything pending to the fire-and-forget beacon, then stops the
// flush loop. Safe to call once at composition-root shutdown.
func (t *Tracker) Close() {
	if t.disabled() {
		return
	}
	now := t.cfg.Now()
	visitorID, sessionID := t.session(now)

	t.mu.Lock()
	delivery := t.delivery
	t.active = false
	t.mu.Unlock()

	delivery.FlushFinal([]models.Event{
		t.buildEvent(models.EventTypeSessionEnd, "", "", nil, visitorID, sessionID, now),
	})
	delivery.Stop()
}

// VisitorID exposes the current visitor token for debugging surfaces.
func (t *Tracker) VisitorID() string {
	if t.disabled() {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identity.VisitorID(t.cfg.Now())
}

// SessionID exposes the current session token for debugging surfaces. Like
// any other call, it emits session_start when it happens to cross a timeout.
func (t *Tracker) SessionID() string {
	if t.disabled() {
		return ""
	}
	_, id := t.session(t.cfg.Now())
	return id
}

// QueueLength reports how many events are pending delivery.
func (t *Tracker) QueueLength() int {
	t.mu.Lock()
	queue := t.queue
	active := t.active
	t.mu.Unlock()
	if !active || queue == nil {
		return 0
	}
	return queue.Len()
}

// ForceFlush triggers an immediate delivery attempt and reports its outcome.
func (t *Tracker) ForceFlush() error {
	t.mu.Lock()
	delivery := t.delivery
	active := t.active
	t.mu.Unlock()
	if !active || delivery == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return delivery.Flush(ctx)
}

type noopBeacon struct{}

func (noopBeacon) SendBeacon([]models.Event) {}
