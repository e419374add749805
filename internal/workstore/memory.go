package workstore

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// MemoryStore is an in-process WorkStore. All operations hold a single mutex,
// which makes Increment atomic across goroutines.
type MemoryStore struct {
	mu   sync.Mutex
	kv   map[string]memEntry
	sets map[string]map[string]struct{}
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:   make(map[string]memEntry),
		sets: make(map[string]map[string]struct{}),
		now:  time.Now,
	}
}

// SetClock replaces the store's time source (used by tests).
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// lookupLocked returns the live entry for key, evicting it if expired.
func (m *MemoryStore) lookupLocked(key string) (memEntry, bool) {
	e, ok := m.kv[key]
	if !ok {
		return memEntry{}, false
	}
	if e.expired(m.now()) {
		delete(m.kv, key)
		return memEntry{}, false
	}
	return e, true
}

// Get returns the value stored at key.
func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set stores value at key with the given ttl.
func (m *MemoryStore) Set(key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

// Delete removes key and any set stored under the same name.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	delete(m.sets, key)
	return nil
}

// AddToSet adds members to the set at key.
func (m *MemoryStore) AddToSet(key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// RemoveFromSet removes members from the set at key.
func (m *MemoryStore) RemoveFromSet(key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(m.sets, key)
	}
	return nil
}

// Members returns the sorted members of the set at key.
func (m *MemoryStore) Members(key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.sets[key]
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

// Increment atomically adds n to the counter at key.
func (m *MemoryStore) Increment(key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	var cur int64
	if ok {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("increment %s: %w", key, ErrNotInteger)
		}
		cur = v
	}
	cur += n
	e.value = strconv.FormatInt(cur, 10)
	m.kv[key] = e
	return cur, nil
}

// TTL returns the remaining lifetime of key.
func (m *MemoryStore) TTL(key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expires.IsZero() {
		return NoExpiry, nil
	}
	return e.expires.Sub(m.now()), nil
}

// Expire sets a new ttl on key; ttl <= 0 removes the expiry.
func (m *MemoryStore) Expire(key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.lookupLocked(key)
	if !ok {
		return ErrNotFound
	}
	e.expires = time.Time{}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
