package secrets

import (
	"sync"
	"time"
)

// valueCache keeps resolved values per reference and version. A zero ttl never expires.
type valueCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]map[string]cachedValue
}

type cachedValue struct {
	value     string
	expiresAt time.Time
}

func newValueCache(ttl time.Duration, now func() time.Time) *valueCache {
	return &valueCache{ttl: ttl, now: now, entries: make(map[string]map[string]cachedValue)}
}

func (c *valueCache) get(name, version string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[name][version]
	if !ok {
		return "", false
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries[name], version)
		return "", false
	}
	return entry.value, true
}

func (c *valueCache) put(name, version, value string) {
	entry := cachedValue{value: value}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	versions, ok := c.entries[name]
	if !ok {
		versions = make(map[string]cachedValue)
		c.entries[name] = versions
	}
	versions[version] = entry
}

// drop forgets every cached version of name.
func (c *valueCache) drop(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}
