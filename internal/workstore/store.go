// Package workstore defines the key-value/set/counter store that agent health
// and pool bookkeeping are written to, along with in-memory and SQLite backends.
package workstore

import (
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("key not found")

// ErrNotInteger is returned when Increment targets a non-integer value.
var ErrNotInteger = errors.New("value is not an integer")

// NoExpiry is returned by TTL for keys that exist without an expiry.
const NoExpiry time.Duration = -1

// WorkStore is a key-value store with per-key TTL, string sets and atomic
// counters. A ttl <= 0 passed to Set means the key never expires.
type WorkStore interface {
	io.Closer

	Get(key string) (string, error)
	Set(key, value string, ttl time.Duration) error
	Delete(key string) error

	AddToSet(key string, members ...string) error
	RemoveFromSet(key string, members ...string) error
	// Members returns the set's members in sorted order.
	Members(key string) ([]string, error)

	// Increment atomically adds n to the integer stored at key, creating it
	// at zero if absent, and returns the new value. An existing TTL is kept.
	Increment(key string, n int64) (int64, error)
	// TTL returns the remaining lifetime of key, NoExpiry when it has none,
	// or ErrNotFound.
	TTL(key string) (time.Duration, error)
	// Expire sets a new ttl on an existing key without touching its value.
	Expire(key string, ttl time.Duration) error
}

// Compile-time verification that both backends implement WorkStore.
var (
	_ WorkStore = (*MemoryStore)(nil)
	_ WorkStore = (*SQLiteStore)(nil)
)
