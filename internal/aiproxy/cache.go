package aiproxy

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Cache stores upstream response bodies keyed by request fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
	Flush(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
}

// CacheEntry is one stored response.
type CacheEntry struct {
	Key       string          `json:"key"`
	Body      json.RawMessage `json:"body"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (e CacheEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// MemoryCache is an in-process Cache with TTL and a size bound. When full,
// the oldest stored entry is evicted.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]CacheEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries responses
// (0 means unbounded).
func NewMemoryCache(maxEntries int) *MemoryCache {
	return &MemoryCache{
		entries:    make(map[string]CacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(c.now()) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.Body...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, body []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	entry := CacheEntry{Key: key, Body: append([]byte(nil), body...), StoredAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	if _, exists := c.entries[key]; !exists {
		c.makeRoomLocked(now)
	}
	c.entries[key] = entry
	return nil
}

func (c *MemoryCache) makeRoomLocked(now time.Time) {
	if c.maxEntries <= 0 || len(c.entries) < c.maxEntries {
		return
	}
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
		}
	}
	for len(c.entries) >= c.maxEntries {
		var oldest string
		var oldestAt time.Time
		for key, entry := range c.entries {
			if oldest == "" || entry.StoredAt.Before(oldestAt) {
				oldest, oldestAt = key, entry.StoredAt
			}
		}
		delete(c.entries, oldest)
	}
}

func (c *MemoryCache) Flush(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]CacheEntry)
	return n, nil
}

func (c *MemoryCache) Len(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries), nil
}

// Snapshot returns the live entries, oldest first.
func (c *MemoryCache) Snapshot() []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		if !entry.expired(now) {
			out = append(out, entry)
		}
	}
	sortEntries(out)
	return out
}

// Restore loads entries from a snapshot, skipping the expired ones. It
// returns how many entries were loaded.
func (c *MemoryCache) Restore(entries []CacheEntry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	sorted := append([]CacheEntry(nil), entries...)
	sortEntries(sorted)
	loaded := 0
	for _, entry := range sorted {
		if entry.Key == "" || entry.expired(now) {
			continue
		}
		if _, exists := c.entries[entry.Key]; !exists {
			c.makeRoomLocked(now)
		}
		c.entries[entry.Key] = entry
		loaded++
	}
	return loaded
}

func sortEntries(entries []CacheEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StoredAt.Before(entries[j].StoredAt)
	})
}
