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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements Store from in-memory fixtures.
type fakeStore struct {
	trees map[string]*Tree
	nodes map[string][]*Node
	edges map[string][]*Edge
}

func (s *fakeStore) TreeMetadata(_ context.Context, treeID, _ string) (*Tree, error) {
	t, ok := s.trees[treeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, treeID)
	}
	return t, nil
}

func (s *fakeStore) ChildTrees(_ context.Context, treeID, _ string) ([]*Tree, error) {
	var children []*Tree
	for _, t := range s.trees {
		if t.ParentTreeID != nil && *t.ParentTreeID == treeID {
			children = append(children, t)
		}
	}
	return children, nil
}

func (s *fakeStore) TreeNodes(_ context.Context, treeID, _ string) ([]*Node, error) {
	return s.nodes[treeID], nil
}

func (s *fakeStore) TreeEdges(_ context.Context, treeID, _ string) ([]*Edge, error) {
	return s.edges[treeID], nil
}

func strPtr(s string) *string { return &s }

func simpleEdge(treeID, edgeID, from, to string) *Edge {
	return &Edge{
		TreeID:       treeID,
		EdgeID:       edgeID,
		SourceNodeID: from,
		TargetNodeID: to,
		ActionSets: []ActionSet{
			{ID: edgeID + "_default", Actions: []Action{{Command: "press_key", Params: map[string]any{"key": "OK"}}}},
		},
		DefaultActionSetID: edgeID + "_default",
	}
}

func bidiEdge(treeID, edgeID, from, to string) *Edge {
	return &Edge{
		TreeID:       treeID,
		EdgeID:       edgeID,
		SourceNodeID: from,
		TargetNodeID: to,
		ActionSets: []ActionSet{
			{ID: "open", Actions: []Action{{Command: "press_key", Params: map[string]any{"key": "OK"}}}},
			{ID: "close", Actions: []Action{{Command: "press_key", Params: map[string]any{"key": "BACK"}}}},
		},
		DefaultActionSetID: "open",
	}
}

// twoTreeStore builds root tree T with home -> live -> live_fullscreen and a
// subtree S anchored at live with entry settings_entry -> audio.
func twoTreeStore() *fakeStore {
	return &fakeStore{
		trees: map[string]*Tree{
			"T": {ID: "T", TeamID: "team1", Name: "root", IsRootTree: true},
			"S": {ID: "S", TeamID: "team1", Name: "sub", ParentTreeID: strPtr("T"),
				ParentNodeID: strPtr("live"), TreeDepth: 1},
		},
		nodes: map[string][]*Node{
			"T": {
				{TreeID: "T", NodeID: "home", Label: "Home", Type: NodeTypeScreen, IsRoot: true},
				{TreeID: "T", NodeID: "live", Label: "Live", Type: NodeTypeScreen},
				{TreeID: "T", NodeID: "live_fullscreen", Label: "Live Fullscreen", Type: NodeTypeScreen},
			},
			"S": {
				{TreeID: "S", NodeID: "settings_entry", Label: "Settings", Type: NodeTypeEntry, IsRoot: true},
				{TreeID: "S", NodeID: "audio", Label: "Audio", Type: NodeTypeScreen},
			},
		},
		edges: map[string][]*Edge{
			"T": {
				simpleEdge("T", "e1", "home", "live"),
				bidiEdge("T", "e2", "live", "live_fullscreen"),
			},
			"S": {
				bidiEdge("S", "e3", "settings_entry", "audio"),
			},
		},
	}
}

func TestLoadHierarchyDepthOrder(t *testing.T) {
	store := twoTreeStore()
	h, err := LoadHierarchy(context.Background(), store, "T", "team1")
	require.NoError(t, err)
	require.Len(t, h.Trees, 2)
	assert.Equal(t, "T", h.Trees[0].ID)
	assert.Equal(t, "S", h.Trees[1].ID)
}

func TestLoadHierarchyMissingRoot(t *testing.T) {
	store := twoTreeStore()
	_, err := LoadHierarchy(context.Background(), store, "nope", "team1")
	assert.ErrorIs(t, err, ErrTreeNotFound)
}

func TestLoadHierarchyBrokenParentLink(t *testing.T) {
	store := twoTreeStore()
	store.trees["S"].ParentNodeID = strPtr("missing")
	_, err := LoadHierarchy(context.Background(), store, "T", "team1")
	assert.ErrorIs(t, err, ErrBrokenParentLink)
}

func TestLoadHierarchyDepthMismatch(t *testing.T) {
	store := twoTreeStore()
	store.trees["S"].TreeDepth = 3
	_, err := LoadHierarchy(context.Background(), store, "T", "team1")
	assert.ErrorIs(t, err, ErrBrokenParentLink)
}

func TestBuildUnifiedEdgeCounts(t *testing.T) {
	store := twoTreeStore()
	h, err := LoadHierarchy(context.Background(), store, "T", "team1")
	require.NoError(t, err)
	g, err := BuildUnified(h)
	require.NoError(t, err)

	// |real_edges| + 2 * |non_root_trees|.
	assert.Equal(t, 3, g.RealEdgeCount)
	assert.Equal(t, 2, g.VirtualEdgeCount)

	var enter, exit int
	for _, edges := range g.Outgoing {
		for _, ue := range edges {
			switch ue.Kind {
			case EdgeKindEnterSubtree:
				enter++
			case EdgeKindExitSubtree:
				exit++
			}
		}
	}
	assert.Equal(t, enter, exit, "every ENTER_SUBTREE needs a matching EXIT_SUBTREE")
	assert.Equal(t, "T", g.Location["home"])
	assert.Equal(t, "S", g.Location["audio"])
	assert.True(t, g.Bidirectional["e2"])
	assert.False(t, g.Bidirectional["e1"])
}

func TestBuildUnifiedRejectsBadDefaultSet(t *testing.T) {
	store := twoTreeStore()
	store.edges["T"][0].DefaultActionSetID = "ghost"
	h, err := LoadHierarchy(context.Background(), store, "T", "team1")
	require.NoError(t, err)
	_, err = BuildUnified(h)
	assert.ErrorContains(t, err, "default action set")
}

func TestBuildUnifiedRejectsOrphan(t *testing.T) {
	store := twoTreeStore()
	store.nodes["T"] = append(store.nodes["T"],
		&Node{TreeID: "T", NodeID: "lonely", Type: NodeTypeScreen})
	h, err := LoadHierarchy(context.Background(), store, "T", "team1")
	require.NoError(t, err)
	_, err = BuildUnified(h)
	assert.ErrorContains(t, err, "orphan")
}

func TestFindPathSelfIsEmpty(t *testing.T) {
	engine := NewEngine(twoTreeStore())
	_, err := engine.LoadHierarchy(context.Background(), "T", "team1")
	require.NoError(t, err)

	path, err := engine.FindPath("T", "team1", "home", "home")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.NotNil(t, path)
}

func TestFindPathCrossTree(t *testing.T) {
	engine := NewEngine(twoTreeStore())
	_, err := engine.LoadHierarchy(context.Background(), "T", "team1")
	require.NoError(t, err)

	path, err := engine.FindPath("T", "team1", "audio", "")
	require.NoError(t, err)
	// home -> live -> (enter subtree) settings_entry -> audio.
	require.Len(t, path, 3)
	assert.Equal(t, EdgeKindReal, path[0].Kind)
	assert.Equal(t, EdgeKindEnterSubtree, path[1].Kind)
	assert.Equal(t, "settings_entry", path[1].ToNodeID)
	assert.Equal(t, "audio", path[2].ToNodeID)
	assert.Equal(t, DirectionForward, path[2].Direction)
}

func TestFindPathCarriesFinalWaitTime(t *testing.T) {
	store := twoTreeStore()
	store.edges["T"][0].FinalWaitTime = 1500
	engine := NewEngine(store)
	_, err := engine.LoadHierarchy(context.Background(), "T", "team1")
	require.NoError(t, err)

	path, err := engine.FindPath("T", "team1", "live", "home")
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, 1500, path[0].FinalWaitTime)

	// Virtual cross-tree edges carry no settle wait.
	path, err = engine.FindPath("T", "team1", "audio", "")
	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, 1500, path[0].FinalWaitTime)
	assert.Zero(t, path[1].FinalWaitTime)
}

func TestFindPathReverseOverBidirectional(t *testing.T) {
	engine := NewEngine(twoTreeStore())
	_, err := engine.LoadHierarchy(context.Background(), "T", "team1")
	require.NoError(t, err)

	path, err := engine.FindPath("T", "team1", "live", "live_fullscreen")
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, DirectionReverse, path[0].Direction)
	assert.Equal(t, "close", path[0].ActionSetID)
}

func TestFindPathRequiresCache(t *testing.T) {
	engine := NewEngine(twoTreeStore())
	_, err := engine.FindPath("T", "team1", "live", "")
	assert.ErrorIs(t, err, ErrUnifiedCacheMissing)
}

func TestInvalidateWalksToRoot(t *testing.T) {
	engine := NewEngine(twoTreeStore())
	_, err := engine.LoadHierarchy(context.Background(), "T", "team1")
	require.NoError(t, err)
	require.True(t, engine.Cached("T", "team1"))

	// A write to the subtree invalidates the root entry.
	engine.Invalidate(context.Background(), "S", "team1")
	assert.False(t, engine.Cached("T", "team1"))

	_, err = engine.FindPath("T", "team1", "live", "")
	assert.ErrorIs(t, err, ErrUnifiedCacheMissing)
}
