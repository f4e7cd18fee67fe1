package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultDedupeTTL     = 30 * time.Second
	defaultDedupeMaxSize = 200
)

// DedupeCache is an in-memory LRU with TTL used to drop redelivered
// messages. Keys are refreshed on every hit.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	order   []string
	seen    map[string]time.Time
}

// NewDedupeCache returns a cache with the given TTL and capacity.
// Non-positive values fall back to the defaults.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	if maxSize <= 0 {
		maxSize = defaultDedupeMaxSize
	}
	return &DedupeCache{
		ttl:     ttl,
		maxSize: maxSize,
		seen:    make(map[string]time.Time),
	}
}

// Check reports whether key was already seen within the TTL. The first
// call inserts the key and returns false; later calls within the
// window refresh the timestamp and return true.
func (c *DedupeCache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if ts, ok := c.seen[key]; ok && now.Sub(ts) < c.ttl {
		c.seen[key] = now
		c.touch(key)
		slog.Debug("dedup hit", "key", key)
		return true
	}

	if _, ok := c.seen[key]; !ok {
		c.order = append(c.order, key)
	}
	c.seen[key] = now
	c.prune(now)
	return false
}

// Size returns the number of live entries.
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Clear drops all entries.
func (c *DedupeCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]time.Time)
	c.order = nil
}

func (c *DedupeCache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(append(c.order[:i:i], c.order[i+1:]...), key)
			return
		}
	}
}

func (c *DedupeCache) prune(now time.Time) {
	cutoff := now.Add(-c.ttl)
	kept := c.order[:0]
	for _, k := range c.order {
		if ts, ok := c.seen[k]; ok && !ts.Before(cutoff) {
			kept = append(kept, k)
		} else {
			delete(c.seen, k)
		}
	}
	c.order = kept

	for len(c.seen) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
}

// DedupeKey builds the cache key from the transport's native ids.
func DedupeKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}
