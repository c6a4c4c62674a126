// tracker/identity.go
package tracker

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Storage keys owned by the identity manager and the event queue. Nothing
// outside this package writes them.
const (
	visitorKey         = "cp_visitor_id"
	sessionKey         = "cp_session_id"
	sessionActivityKey = "cp_session_activity"
	queueKey           = "cp_event_queue"
	migratedKey        = "cp_queue_migrated"
	optOutKey          = "cp_opt_out"
)

// SessionTimeout is how long a session survives without observed activity.
const SessionTimeout = 30 * time.Minute

// IdentityManager owns the visitor and session tokens. The visitor token is
// minted once and reused until storage is cleared or the user opts out; the
// session token renews whenever the activity gap exceeds SessionTimeout.
type IdentityManager struct {
	store   KeyValueStore
	timeout time.Duration
}

func NewIdentityManager(store KeyValueStore) *IdentityManager {
	return &IdentityManager{store: store, timeout: SessionTimeout}
}

// newToken mints a collision-resistant token: random uuid plus a time
// component.
func newToken(now time.Time) string {
	return fmt.Sprintf("%s-%s", uuid.New().String(), strconv.FormatInt(now.UnixMilli(), 36))
}

// VisitorID returns the persisted visitor token, minting one on first use.
// Never fails: storage errors degrade to an in-memory token upstream.
func (m *IdentityManager) VisitorID(now time.Time) string {
	if id, ok := m.store.Get(visitorKey); ok && id != "" {
		return id
	}
	id := newToken(now)
	m.store.Set(visitorKey, id)
	return id
}

// SessionID returns the current session token. When no token exists, or the
// last recorded activity is older than the timeout, a fresh token is minted
// and persisted; the second return value signals the caller to emit exactly
// one session_start.
func (m *IdentityManager) SessionID(now time.Time) (string, bool) {
	id, ok := m.store.Get(sessionKey)
	if ok && id != "" {
		if last, ok := m.lastActivity(); ok && now.Sub(last) <= m.timeout {
			return id, false
		}
	}

	// Expired tokens are never reused; a new session always gets a fresh one.
	id = newToken(now)
	m.store.Set(sessionKey, id)
	m.store.Set(sessionActivityKey, strconv.FormatInt(now.UnixMilli(), 10))
	return id, true
}

// TouchActivity extends the current session's validity window. Callers must
// throttle (>=30s between calls) to avoid write amplification.
func (m *IdentityManager) TouchActivity(now time.Time) {
	m.store.Set(sessionActivityKey, strconv.FormatInt(now.UnixMilli(), 10))
}

func (m *IdentityManager) lastActivity() (time.Time, bool) {
	raw, ok := m.store.Get(sessionActivityKey)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// Corrupted value, treat as absent.
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Clear removes all identity state. Used on opt-out.
func (m *IdentityManager) Clear() {
	m.store.Remove(visitorKey)
	m.store.Remove(sessionKey)
	m.store.Remove(sessionActivityKey)
}
