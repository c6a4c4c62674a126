// Package tracker implements the client-side analytics pipeline: identity
// management, a durable capped event queue, and batched at-least-once
// delivery to the collection endpoint.
package tracker

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// KeyValueStore is the client persistence capability. Implementations must
// tolerate arbitrary values; callers treat a failed Set as "storage
// unavailable" and fall back to memory for the process lifetime.
type KeyValueStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryStore is a process-lifetime KeyValueStore. Used in tests and as the
// fallback when durable storage is unavailable.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// FileStore persists keys as a single JSON map, written atomically
// (temp file + rename) so a crash mid-write never corrupts the whole store.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// NewFileStore loads (or creates) the store at path. A corrupted file is
// discarded and treated as empty rather than propagated.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker store %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		log.Printf("Tracker store %s is corrupted, starting empty: %v", path, err)
		s.values = make(map[string]string)
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.persist()
}

func (s *FileStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.persist()
}

func (s *FileStore) persist() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("failed to marshal tracker store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write tracker store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace tracker store: %w", err)
	}
	return nil
}

// DefaultStorePath places the tracker store under the user config directory.
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tracker_store.json"
	}
	return filepath.Join(dir, "coursepulse", "tracker_store.json")
}

// resilientStore wraps a KeyValueStore so that write failures degrade to an
// in-memory overlay instead of surfacing errors into tracking call sites.
// Overlay values win on read for the rest of the process lifetime.
type resilientStore struct {
	mu      sync.Mutex
	backing KeyValueStore
	overlay map[string]string
	removed map[string]struct{}
}

func newResilientStore(backing KeyValueStore) *resilientStore {
	return &resilientStore{
		backing: backing,
		overlay: make(map[string]string),
		removed: make(map[string]struct{}),
	}
}

func (r *resilientStore) Get(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.overlay[key]; ok {
		return v, true
	}
	if _, gone := r.removed[key]; gone {
		return "", false
	}
	return r.backing.Get(key)
}

func (r *resilientStore) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.removed, key)
	if err := r.backing.Set(key, value); err != nil {
		log.Printf("Tracker storage unavailable for %s, keeping value in memory: %v", key, err)
		r.overlay[key] = value
		return nil
	}
	delete(r.overlay, key)
	return nil
}

func (r *resilientStore) Remove(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overlay, key)
	if err := r.backing.Remove(key); err != nil {
		log.Printf("Tracker storage unavailable removing %s, masking in memory: %v", key, err)
		r.removed[key] = struct{}{}
	}
	return nil
}
