//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package navigation

import (
	"context"
	"fmt"

	"github.com/virtualpytest/virtualpytest/log"
)

// Engine is the navigation engine: it loads hierarchies, maintains the
// unified-graph cache and answers pathfinding and validation queries.
type Engine struct {
	store Store
	cache *Cache
}

// NewEngine creates a navigation engine over the given store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, cache: NewCache()}
}

// LoadHierarchy loads a hierarchy, builds its unified graph and caches both.
func (e *Engine) LoadHierarchy(ctx context.Context, rootTreeID, teamID string) (*Hierarchy, error) {
	h, err := LoadHierarchy(ctx, e.store, rootTreeID, teamID)
	if err != nil {
		return nil, err
	}
	g, err := BuildUnified(h)
	if err != nil {
		return nil, err
	}
	e.cache.Put(rootTreeID, teamID, &CacheEntry{
		Graph:         g,
		Hierarchy:     h,
		Location:      g.Location,
		Bidirectional: g.Bidirectional,
	})
	log.Debugf("navigation: cached unified graph for root %s (%d trees, %d real edges, %d virtual edges)",
		rootTreeID, len(h.Trees), g.RealEdgeCount, g.VirtualEdgeCount)
	return h, nil
}

// FindPath answers a pathfinding query against the cached unified graph.
// There is no single-tree fallback: a cache miss is the caller's error.
func (e *Engine) FindPath(rootTreeID, teamID, targetNodeID, startNodeID string) ([]Transition, error) {
	entry, ok := e.cache.Get(rootTreeID, teamID)
	if !ok {
		return nil, fmt.Errorf("%w: root %s", ErrUnifiedCacheMissing, rootTreeID)
	}
	return entry.Graph.FindPath(targetNodeID, startNodeID)
}

// ValidationSequence generates a walk exercising every real edge of one tree.
func (e *Engine) ValidationSequence(ctx context.Context, treeID, teamID string, opts ValidationOptions) (*ValidationSequence, error) {
	nodes, err := e.store.TreeNodes(ctx, treeID, teamID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.TreeEdges(ctx, treeID, teamID)
	if err != nil {
		return nil, err
	}
	return BuildValidationSequence(nodes, edges, opts)
}

// Invalidate drops the cache entry rooted above the written tree, walking
// parent links up to the root.
func (e *Engine) Invalidate(ctx context.Context, treeID, teamID string) {
	rootID := treeID
	for i := 0; i <= MaxTreeDepth; i++ {
		tree, err := e.store.TreeMetadata(ctx, rootID, teamID)
		if err != nil || tree.ParentTreeID == nil {
			break
		}
		rootID = *tree.ParentTreeID
	}
	e.cache.Remove(rootID, teamID)
	log.Debugf("navigation: invalidated unified cache for root %s (write to tree %s)", rootID, treeID)
}

// Unified returns the cached unified graph for the root tree.
func (e *Engine) Unified(rootTreeID, teamID string) (*UnifiedGraph, bool) {
	entry, ok := e.cache.Get(rootTreeID, teamID)
	if !ok {
		return nil, false
	}
	return entry.Graph, true
}

// Cached reports whether a unified graph is cached for the root tree.
func (e *Engine) Cached(rootTreeID, teamID string) bool {
	_, ok := e.cache.Get(rootTreeID, teamID)
	return ok
}
