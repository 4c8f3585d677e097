// Package cachemem holds process-local, droppable caches. Nothing here is
// a source of truth: dropping an entry costs a rebuild, never correctness.
package cachemem

import (
	"sync"
	"time"
)

type entry struct {
	leaves    []string
	expiresAt time.Time
	hasExpiry bool
}

// LeafCache caches credential leaf sets by issuance id, plus the combined
// registry root. Invalidated explicitly at the points where source data
// changes (issuance, revocation).
type LeafCache struct {
	mu      sync.Mutex
	entries map[string]entry
	root    string
	ttl     time.Duration
}

func NewLeafCache(ttl time.Duration) *LeafCache {
	return &LeafCache{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
}

func (c *LeafCache) Get(issuanceID string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[issuanceID]
	if !ok {
		return nil, false
	}
	if e.hasExpiry && time.Now().After(e.expiresAt) {
		delete(c.entries, issuanceID)
		return nil, false
	}
	leaves := make([]string, len(e.leaves))
	copy(leaves, e.leaves)
	return leaves, true
}

func (c *LeafCache) Put(issuanceID string, leaves []string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{leaves: append([]string(nil), leaves...)}
	if c.ttl > 0 {
		e.hasExpiry = true
		e.expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[issuanceID] = e
}

// Root returns the cached registry root, if any.
func (c *LeafCache) Root() (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root, c.root != ""
}

func (c *LeafCache) PutRoot(root string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root = root
}

// Invalidate drops one issuance's leaves and the registry root.
func (c *LeafCache) Invalidate(issuanceID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, issuanceID)
	c.root = ""
}

// Clear drops everything.
func (c *LeafCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.root = ""
}
