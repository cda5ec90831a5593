package orchestration

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// cacheEntry is one cached response with its expiry
type cacheEntry struct {
	result    *Result
	expiresAt time.Time
}

// responseCache is a TTL cache over completed successful runs. Streaming
// runs are never cached; a hit replays the stored envelope with its trace
// entries marked from_cache.
type responseCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	maxSize int

	hits   int64
	misses int64

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func newResponseCache(ttl time.Duration, maxSize int) *responseCache {
	c := &responseCache{
		entries:     make(map[string]*cacheEntry),
		ttl:         ttl,
		maxSize:     maxSize,
		stopCleanup: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// cacheKey hashes the inputs that determine a response. Session is part of
// the key so context-dependent answers never leak across sessions.
func cacheKey(message, sessionID string, online bool) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%t", message, sessionID, online)))
	return fmt.Sprintf("%x", h[:16])
}

func (c *responseCache) Get(key string) (*Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return entry.result, true
}

func (c *responseCache) Set(key string, result *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = &cacheEntry{result: result, expiresAt: time.Now().Add(c.ttl)}
}

// evictOldest removes the entry closest to expiry; caller holds the lock
func (c *responseCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expiresAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

func (c *responseCache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return map[string]interface{}{
		"entries":  len(c.entries),
		"hits":     c.hits,
		"misses":   c.misses,
		"hit_rate": hitRate,
	}
}

func (c *responseCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *responseCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}
