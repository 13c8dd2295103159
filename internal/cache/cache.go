// Package cache provides a TTL-and-version-stamped key/value cache over a
// pluggable string storage medium. It backs the engine's optimistic reads:
// stale or version-mismatched records are treated as absent and evicted, so
// callers never see old data re-served as fresh. Caching is best-effort —
// a write that keeps failing after one eviction pass is dropped and logged,
// never surfaced as an error on the caller's path.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// KV is the persistence medium for cache records. Implemented by
// storage.Store (kv table); any persistent string key/value store works.
type KV interface {
	SetKV(key, value string) error
	GetKV(key string) (string, error)
	DeleteKV(key string) error
	KVKeys() ([]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// record is the stored envelope around a cached value.
type record struct {
	Data          json.RawMessage `json:"data"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion int             `json:"schemaVersion"`
}

// Cache stores values of type T under string keys with a TTL and a fixed
// schema version. A record is valid only if its version matches the running
// version and it is younger than the TTL.
type Cache[T any] struct {
	kv       KV
	notFound error
	version  int
	ttl      time.Duration
	clock    Clock
	logger   *slog.Logger
}

// New creates a Cache over the given medium. notFound is the medium's
// missing-key sentinel (storage.ErrNotFound for the SQLite KV).
func New[T any](kv KV, notFound error, version int, ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		kv:       kv,
		notFound: notFound,
		version:  version,
		ttl:      ttl,
		clock:    realClock{},
		logger:   slog.Default(),
	}
}

// NewWithClock creates a Cache with a custom clock (for testing).
func NewWithClock[T any](kv KV, notFound error, version int, ttl time.Duration, clock Clock) *Cache[T] {
	c := New[T](kv, notFound, version, ttl)
	c.clock = clock
	return c
}

// Set stores value under key, stamped with the current time and schema
// version. On a write failure it runs one eviction pass of expired records
// and retries exactly once; if the retry also fails the write is dropped
// and logged.
func (c *Cache[T]) Set(key string, value T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache: marshalling value failed, write dropped", "key", key, "error", err)
		return
	}
	rec := record{
		Data:          data,
		Timestamp:     c.clock.Now(),
		SchemaVersion: c.version,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("cache: marshalling record failed, write dropped", "key", key, "error", err)
		return
	}

	if err := c.kv.SetKV(key, string(raw)); err != nil {
		c.ClearExpired()
		if err := c.kv.SetKV(key, string(raw)); err != nil {
			c.logger.Warn("cache: write failed after eviction retry, dropped", "key", key, "error", err)
		}
	}
}

// Get returns the cached value for key. A missing, corrupt, TTL-expired, or
// version-mismatched record reports absent; invalid records are evicted so
// they are not re-read.
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T

	raw, err := c.kv.GetKV(key)
	if err != nil {
		if !errors.Is(err, c.notFound) {
			c.logger.Warn("cache: read failed, treating as miss", "key", key, "error", err)
		}
		return zero, false
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		c.evict(key)
		return zero, false
	}

	if !c.valid(rec) {
		c.evict(key)
		return zero, false
	}

	var value T
	if err := json.Unmarshal(rec.Data, &value); err != nil {
		c.evict(key)
		return zero, false
	}
	return value, true
}

// Remove deletes key from the medium.
func (c *Cache[T]) Remove(key string) {
	c.evict(key)
}

// ClearExpired removes every record that is expired, version-mismatched, or
// unreadable. Undecodable raw values are removed too.
func (c *Cache[T]) ClearExpired() {
	keys, err := c.kv.KVKeys()
	if err != nil {
		c.logger.Warn("cache: listing keys for eviction failed", "error", err)
		return
	}
	for _, key := range keys {
		raw, err := c.kv.GetKV(key)
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			c.evict(key)
			continue
		}
		if !c.valid(rec) {
			c.evict(key)
		}
	}
}

// ClearAll removes every record from the medium.
func (c *Cache[T]) ClearAll() {
	keys, err := c.kv.KVKeys()
	if err != nil {
		c.logger.Warn("cache: listing keys for clear failed", "error", err)
		return
	}
	for _, key := range keys {
		c.evict(key)
	}
}

func (c *Cache[T]) valid(rec record) bool {
	if rec.SchemaVersion != c.version {
		return false
	}
	return c.clock.Now().Sub(rec.Timestamp) < c.ttl
}

func (c *Cache[T]) evict(key string) {
	if err := c.kv.DeleteKV(key); err != nil {
		c.logger.Warn("cache: evicting key failed", "key", key, "error", err)
	}
}

// Key builds a namespaced cache key scoped to an owner, e.g. Key("books", "u1").
func Key(kind, ownerID string) string {
	return fmt.Sprintf("%s_%s", kind, ownerID)
}
