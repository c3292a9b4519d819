package security

import (
	"sync"
	"time"

	"github.com/fieldterm/fieldterm/internal/adapters/realclock"
	"github.com/fieldterm/fieldterm/internal/ports"
)

// DefaultCredentialTTL bounds how long an entered password or passphrase is
// kept in memory when the OS keyring is unavailable or disabled.
const DefaultCredentialTTL = 15 * time.Minute

// CredentialCache holds entered credentials in memory, keyed by credential
// key ("user@host" for passwords, key path for passphrases). It is the
// fallback when the OS keyring cannot be used; entries expire so a stolen
// process image has a bounded window.
type CredentialCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	clock   ports.Clock
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// CredentialCacheOption configures a CredentialCache.
type CredentialCacheOption func(*CredentialCache)

// WithCredentialCacheClock sets the clock used by CredentialCache.
func WithCredentialCacheClock(clock ports.Clock) CredentialCacheOption {
	return func(c *CredentialCache) {
		c.clock = clock
	}
}

// NewCredentialCache creates a credential cache with the given TTL.
func NewCredentialCache(ttl time.Duration, opts ...CredentialCacheOption) *CredentialCache {
	c := &CredentialCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		clock:   realclock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores a copy of credential under key, replacing any previous entry.
func (c *CredentialCache) Set(key string, credential []byte) {
	data := make([]byte, len(credential))
	copy(data, credential)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.wipeLocked(key)
	c.entries[key] = &cacheEntry{
		data:      data,
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

// Get retrieves a copy of the cached credential for key, or nil if absent
// or expired. Expired entries are wiped on access.
func (c *CredentialCache) Get(key string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.liveLocked(key)
	if e == nil {
		return nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out
}

// IsValid returns true if there is an unexpired cached credential for key.
func (c *CredentialCache) IsValid(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key) != nil
}

// ExpiresIn returns the time until the entry for key expires, or zero if
// there is no live entry.
func (c *CredentialCache) ExpiresIn(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.liveLocked(key)
	if e == nil {
		return 0
	}
	return e.expiresAt.Sub(c.clock.Now())
}

// Clear wipes and removes the entry for key.
func (c *CredentialCache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wipeLocked(key)
}

// ClearAll wipes and removes all entries.
func (c *CredentialCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		c.wipeLocked(key)
	}
}

// Cleanup removes expired entries. Get and IsValid already drop expired
// entries lazily; Cleanup exists for long-running callers that want expired
// secrets out of memory without touching every key.
func (c *CredentialCache) Cleanup() {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			c.wipeLocked(key)
		}
	}
}

// liveLocked returns the entry for key if it has not expired, wiping it
// otherwise. Callers hold c.mu.
func (c *CredentialCache) liveLocked(key string) *cacheEntry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.clock.Now().After(e.expiresAt) {
		c.wipeLocked(key)
		return nil
	}
	return e
}

// wipeLocked overwrites and removes the entry for key. Callers hold c.mu.
func (c *CredentialCache) wipeLocked(key string) {
	if e, ok := c.entries[key]; ok {
		WipeBytes(e.data)
		delete(c.entries, key)
	}
}
