//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package navigation

import (
	"sync"
	"time"
)

// cacheKey scopes one unified graph to a root tree and team.
type cacheKey struct {
	rootTreeID string
	teamID     string
}

// CacheEntry holds everything derived from one loaded hierarchy.
type CacheEntry struct {
	Graph     *UnifiedGraph
	Hierarchy *Hierarchy
	// Location maps node id to owning tree id.
	Location map[string]string
	// Bidirectional maps edge id to its bidirectionality.
	Bidirectional map[string]bool
	BuiltAt       time.Time
}

// Cache is the process-wide unified-graph cache. Entries never expire by
// time; any write to a tree in the hierarchy invalidates its root entry.
// Single writer, many readers.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*CacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*CacheEntry)}
}

// Get returns the cached entry for a root tree, if present.
func (c *Cache) Get(rootTreeID, teamID string) (*CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cacheKey{rootTreeID, teamID}]
	return e, ok
}

// Put stores a freshly built entry, replacing any previous one.
func (c *Cache) Put(rootTreeID, teamID string, entry *CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry.BuiltAt = time.Now()
	c.entries[cacheKey{rootTreeID, teamID}] = entry
}

// Remove drops the entry for a root tree.
func (c *Cache) Remove(rootTreeID, teamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey{rootTreeID, teamID})
}

// Len reports the number of cached hierarchies.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
