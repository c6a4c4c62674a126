package tracker

import (
	"testing"
	"time"

	"coursepulse/analytics/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) (func() time.Time, func(d time.Duration)) {
	current := start
	return func() time.Time { return current }, func(d time.Duration) { current = current.Add(d) }
}

func newTestTracker(store KeyValueStore, transport *mockTransport, now func() time.Time) *Tracker {
	return New(Config{
		Store:         store,
		Transport:     transport,
		Beacon:        transport,
		FlushInterval: time.Hour,
		BatchSize:     100,
		MaxQueueSize:  50,
		Page:          PageContext{URL: "/courses", Title: "Courses", Referrer: "https://google.com/search"},
		UserAgent:     "test-agent",
		Language:      "en-US",
		Screen:        "1920x1080",
		Now:           now,
	})
}

func TestNewTrackerRecordsSessionStartAndPageview(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	tr := newTestTracker(NewMemoryStore(), &mockTransport{}, now)
	defer tr.Close()

	// Construction mints a session (session_start) and records the load.
	require.Equal(t, 2, tr.QueueLength())

	require.NoError(t, tr.ForceFlush())
	assert.Equal(t, 0, tr.QueueLength())
}

func TestTrackPageViewDefaultsToPageContext(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	transport := &mockTransport{}
	tr := newTestTracker(NewMemoryStore(), transport, now)
	defer tr.Close()

	tr.TrackPageView("", "")
	require.NoError(t, tr.ForceFlush())

	batches := transport.sent()
	require.Len(t, batches, 1)
	events := batches[0]
	require.Len(t, events, 3) // session_start + construction pageview + explicit pageview

	assert.Equal(t, models.EventTypeSessionStart, events[0].EventType)
	last := events[2]
	assert.Equal(t, models.EventTypePageview, last.EventType)
	assert.Equal(t, "/courses", last.URL)
	assert.Equal(t, "Courses", last.Title)
	assert.Equal(t, "test-agent", last.UserAgent)
	assert.Equal(t, "en-US", last.Language)
	assert.Equal(t, "1920x1080", last.Screen)
	assert.True(t, last.ClientGenerated)
	assert.Equal(t, ClientVersion, last.ClientVersion)
	assert.NotEmpty(t, last.VisitorID)
	assert.NotEmpty(t, last.SessionID)
}

func TestTrackOutboundClickCarriesHrefAndText(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	transport := &mockTransport{}
	tr := newTestTracker(NewMemoryStore(), transport, now)
	defer tr.Close()

	tr.TrackOutboundClick("https://partner.example.com", "Partner")
	require.NoError(t, tr.ForceFlush())

	batches := transport.sent()
	require.Len(t, batches, 1)
	click := batches[0][len(batches[0])-1]
	assert.Equal(t, models.EventTypeOutboundClick, click.EventType)
	assert.Equal(t, "https://partner.example.com", click.Additional["outboundHref"])
	assert.Equal(t, "Partner", click.Additional["linkText"])
}

func TestTrackCustomEventPayload(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	transport := &mockTransport{}
	tr := newTestTracker(NewMemoryStore(), transport, now)
	defer tr.Close()

	tr.TrackCustomEvent(map[string]string{"courseId": "go-101", "action": "enroll"})
	require.NoError(t, tr.ForceFlush())

	batches := transport.sent()
	custom := batches[0][len(batches[0])-1]
	assert.Equal(t, models.EventTypeCustom, custom.EventType)
	assert.Equal(t, "go-101", custom.Additional["courseId"])
}

func TestSessionRenewalEmitsSessionStartOnce(t *testing.T) {
	now, advance := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	transport := &mockTransport{}
	tr := newTestTracker(NewMemoryStore(), transport, now)
	defer tr.Close()

	firstSession := tr.SessionID()
	require.NoError(t, tr.ForceFlush())

	// 31 idle minutes: the next tracked event belongs to a fresh session.
	advance(31 * time.Minute)
	tr.TrackPageView("/pricing", "Pricing")
	require.NoError(t, tr.ForceFlush())

	batches := transport.sent()
	require.Len(t, batches, 2)
	renewal := batches[1]
	require.Len(t, renewal, 2)
	assert.Equal(t, models.EventTypeSessionStart, renewal[0].EventType)
	assert.Equal(t, models.EventTypePageview, renewal[1].EventType)
	assert.NotEqual(t, firstSession, renewal[1].SessionID)
	assert.Equal(t, renewal[0].SessionID, renewal[1].SessionID)
}

func TestCloseAfterTimeoutBracketsFinalSession(t *testing.T) {
	now, advance := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	transport := &mockTransport{}
	tr := newTestTracker(NewMemoryStore(), transport, now)
	require.NoError(t, tr.ForceFlush())

	// The timeout crosses at teardown: the session minted for session_end
	// still gets its session_start.
	advance(31 * time.Minute)
	tr.Close()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.beacons, 1)
	final := transport.beacons[0]
	require.Len(t, final, 2)
	assert.Equal(t, models.EventTypeSessionStart, final[0].EventType)
	assert.Equal(t, models.EventTypeSessionEnd, final[1].EventType)
	assert.Equal(t, final[0].SessionID, final[1].SessionID)
}

func TestSessionIDIntrospectionRecordsRenewal(t *testing.T) {
	now, advance := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	transport := &mockTransport{}
	tr := newTestTracker(NewMemoryStore(), transport, now)
	defer tr.Close()

	first := tr.SessionID()
	require.NoError(t, tr.ForceFlush())

	// Reading the session id across a timeout mints the session, so the
	// session_start must be recorded too.
	advance(31 * time.Minute)
	renewed := tr.SessionID()
	require.NotEqual(t, first, renewed)
	require.NoError(t, tr.ForceFlush())

	batches := transport.sent()
	require.Len(t, batches, 2)
	renewal := batches[1]
	require.Len(t, renewal, 1)
	assert.Equal(t, models.EventTypeSessionStart, renewal[0].EventType)
	assert.Equal(t, renewed, renewal[0].SessionID)
}

func TestOptOutClearsStorageAndDisablesTracking(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	tr := newTestTracker(store, &mockTransport{}, now)

	tr.OptOut()

	// All identity and queue keys owned by the tracker are gone.
	for _, key := range []string{visitorKey, sessionKey, sessionActivityKey, queueKey, migratedKey} {
		_, ok := store.Get(key)
		assert.False(t, ok, "key %s should be cleared", key)
	}
	flag, _ := store.Get(optOutKey)
	assert.Equal(t, "1", flag)

	// Subsequent tracking calls are no-ops.
	tr.TrackPageView("/courses", "Courses")
	assert.Equal(t, 0, tr.QueueLength())
	assert.Empty(t, tr.VisitorID())
}

func TestOptOutPersistsAcrossConstruction(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	store := NewMemoryStore()

	tr := newTestTracker(store, &mockTransport{}, now)
	tr.OptOut()

	// A new page load over the same storage stays opted out.
	again := newTestTracker(store, &mockTransport{}, now)
	again.TrackPageView("", "")
	assert.Equal(t, 0, again.QueueLength())
}

func TestOptInReinitializesTracking(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	tr := newTestTracker(store, &mockTransport{}, now)

	tr.OptOut()
	tr.OptIn()
	defer tr.Close()

	_, ok := store.Get(optOutKey)
	assert.False(t, ok)

	// Re-initialization records a fresh session_start + pageview.
	assert.Equal(t, 2, tr.QueueLength())
	assert.NotEmpty(t, tr.VisitorID())
}

func TestDoNotTrackSignalSuppressesTracking(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	dnt := false
	tr := New(Config{
		Store:      NewMemoryStore(),
		Transport:  &mockTransport{},
		Now:        now,
		DoNotTrack: func() bool { return dnt },
	})
	defer tr.Close()

	before := tr.QueueLength()

	// The signal is consulted on every call, not just at construction.
	dnt = true
	tr.TrackPageView("/courses", "")
	assert.Equal(t, before, tr.QueueLength())

	dnt = false
	tr.TrackPageView("/courses", "")
	assert.Equal(t, before+1, tr.QueueLength())
}

func TestCloseSendsSessionEndViaBeacon(t *testing.T) {
	now, _ := fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	transport := &mockTransport{}
	tr := newTestTracker(NewMemoryStore(), transport, now)

	tr.Close()

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.Len(t, transport.beacons, 1)
	final := transport.beacons[0]
	last := final[len(final)-1]
	assert.Equal(t, models.EventTypeSessionEnd, last.EventType)
}
