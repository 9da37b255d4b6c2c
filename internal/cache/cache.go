// Package cache implements the TTL-indexed response cache: it stores the
// most recent payload seen for each endpoint and serves lookups either by
// exact URL or by wildcard triple pattern.
package cache

import (
	"sync"
	"time"

	"github.com/opensong/ws-proxy/internal/endpoint"
)

// Default TTLs applied when a caller does not specify one explicitly.
const (
	statusTTL  = 5 * time.Second
	listTTL    = 5 * time.Minute
	defaultTTL = 10 * time.Minute
)

// Payload is either a UTF-8 text frame or a binary (image) frame, never
// both.
type Payload struct {
	Text   string
	Binary []byte
	IsText bool
}

// TextPayload wraps a text frame.
func TextPayload(text string) Payload {
	return Payload{Text: text, IsText: true}
}

// BinaryPayload wraps a binary frame.
func BinaryPayload(b []byte) Payload {
	return Payload{Binary: b, IsText: false}
}

type entry struct {
	endpoint endpoint.Endpoint
	expiry   time.Time
	payload  Payload
}

// Cache is a TTL-indexed, at-most-one-entry-per-endpoint response cache.
// It is safe for concurrent use, though in this proxy it is owned
// exclusively by the upstream client per the concurrency model.
type Cache struct {
	now func() time.Time

	mu      sync.Mutex
	entries map[endpoint.Endpoint]*entry

	hits   uint64
	misses uint64
}

// New creates an empty Cache using time.Now for expiry computation.
func New() *Cache {
	return &Cache{
		now:     time.Now,
		entries: make(map[endpoint.Endpoint]*entry),
	}
}

// defaultTTLFor returns the default TTL applied to e when the caller did
// not specify one.
func defaultTTLFor(e endpoint.Endpoint) time.Duration {
	if e.Resource() == "presentation" && e.Action() == "status" {
		return statusTTL
	}
	if e.Resource() == "presentation" && e.Action() == "list" &&
		(e.Identifier() == "" || e.Identifier() == "list") {
		return listTTL
	}
	return defaultTTL
}

// Add stores payload for endpoint e, expiring at now()+ttl. A ttl of zero
// applies the per-endpoint-class default. Inserting a second entry for
// an endpoint already present replaces it and strictly refreshes the
// expiry (monotonic: a later Add never leaves an earlier, later expiry
// in place).
func (c *Cache) Add(e endpoint.Endpoint, payload Payload, ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultTTLFor(e)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e] = &entry{
		endpoint: e,
		expiry:   c.now().Add(ttl),
		payload:  payload,
	}
}

// GetByURL returns the live payload whose stored endpoint's URL equals
// url. A present but expired entry returns (Payload{}, false) without
// being evicted — eviction only happens via Purge.
func (c *Cache) GetByURL(url string) (Payload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ent := range c.entries {
		if ent.endpoint.URL() != url {
			continue
		}
		if ent.expiry.Before(c.now()) {
			c.misses++
			return Payload{}, false
		}
		c.hits++
		return ent.payload, true
	}
	c.misses++
	return Payload{}, false
}

// GetByTriple returns the live payload whose stored endpoint matches the
// probe (resource, action, identifier) under endpoint.Matches semantics,
// where the stored endpoint plays the role of the (possibly
// wildcard-bearing) pattern and the given triple is the concrete probe
// being looked up — the same direction as internal/acl.Allows and
// internal/upstream's pending-queue matching.
func (c *Cache) GetByTriple(resource, action, identifier string) (Payload, bool) {
	probe := endpoint.FromParts(resource, action, identifier, "")

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ent := range c.entries {
		if !ent.endpoint.Matches(probe) {
			continue
		}
		if ent.expiry.Before(c.now()) {
			continue
		}
		c.hits++
		return ent.payload, true
	}
	c.misses++
	return Payload{}, false
}

// Purge removes every entry whose expiry is strictly before now.
func (c *Cache) Purge() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, ent := range c.entries {
		if ent.expiry.Before(now) {
			delete(c.entries, key)
		}
	}
}

// Len reports the current number of stored entries, live or expired —
// used for metrics reporting (see internal/metrics).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HitsAndMisses reports cumulative lookup counters, used for metrics
// reporting.
func (c *Cache) HitsAndMisses() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
