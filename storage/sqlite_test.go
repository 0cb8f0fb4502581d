//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/navigation"
	"github.com/virtualpytest/virtualpytest/plancache"
)

const testTeam = "team1"

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vpt_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func saveRootTree(t *testing.T, s *SQLite, id string) *navigation.Tree {
	t.Helper()
	tree := &navigation.Tree{ID: id, TeamID: testTeam, Name: id, UIName: "horizon_android_mobile"}
	require.NoError(t, s.SaveTree(context.Background(), tree))
	return tree
}

func saveNode(t *testing.T, s *SQLite, treeID, nodeID string) *navigation.Node {
	t.Helper()
	node := &navigation.Node{TreeID: treeID, NodeID: nodeID, Label: nodeID, Type: navigation.NodeTypeScreen}
	require.NoError(t, s.SaveNode(context.Background(), node, testTeam))
	return node
}

func saveSubtree(t *testing.T, s *SQLite, id, parentTreeID, parentNodeID string) *navigation.Tree {
	t.Helper()
	tree := &navigation.Tree{
		ID: id, TeamID: testTeam, Name: id, UIName: "horizon_android_mobile",
		ParentTreeID: strPtr(parentTreeID), ParentNodeID: strPtr(parentNodeID),
	}
	require.NoError(t, s.SaveTree(context.Background(), tree))
	return tree
}

func TestSaveTreeComputesDepth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	saveNode(t, s, "root", "settings")
	child := saveSubtree(t, s, "settings_tree", "root", "settings")
	assert.Equal(t, 1, child.TreeDepth)
	assert.False(t, child.IsRootTree)

	got, err := s.TreeMetadata(ctx, "settings_tree", testTeam)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TreeDepth)
	require.NotNil(t, got.ParentTreeID)
	assert.Equal(t, "root", *got.ParentTreeID)
}

func TestSaveTreeMaxDepth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "t0")
	parent := "t0"
	for depth := 1; depth <= navigation.MaxTreeDepth; depth++ {
		nodeID := fmt.Sprintf("anchor%d", depth)
		saveNode(t, s, parent, nodeID)
		child := fmt.Sprintf("t%d", depth)
		tree := saveSubtree(t, s, child, parent, nodeID)
		assert.Equal(t, depth, tree.TreeDepth)
		parent = child
	}

	// One level deeper is rejected and leaves no row behind.
	saveNode(t, s, parent, "toodeep")
	err := s.SaveTree(ctx, &navigation.Tree{
		ID: "t6", TeamID: testTeam, Name: "t6",
		ParentTreeID: strPtr(parent), ParentNodeID: strPtr("toodeep"),
	})
	require.ErrorIs(t, err, ErrMaxDepth)
	_, err = s.TreeMetadata(ctx, "t6", testTeam)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubtreeCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	saveNode(t, s, "root", "settings")
	saveSubtree(t, s, "sub_a", "root", "settings")
	saveSubtree(t, s, "sub_b", "root", "settings")

	nodes, err := s.TreeNodes(ctx, "root", testTeam)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].HasSubtree)
	assert.Equal(t, 2, nodes[0].SubtreeCount)

	require.NoError(t, s.DeleteTree(ctx, "sub_a", testTeam))
	nodes, _ = s.TreeNodes(ctx, "root", testTeam)
	assert.True(t, nodes[0].HasSubtree)
	assert.Equal(t, 1, nodes[0].SubtreeCount)

	require.NoError(t, s.DeleteTree(ctx, "sub_b", testTeam))
	nodes, _ = s.TreeNodes(ctx, "root", testTeam)
	assert.False(t, nodes[0].HasSubtree)
	assert.Equal(t, 0, nodes[0].SubtreeCount)
}

func TestDeleteNodeCascadesSubtrees(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	saveNode(t, s, "root", "home")
	saveNode(t, s, "root", "settings")
	saveSubtree(t, s, "settings_tree", "root", "settings")
	saveNode(t, s, "settings_tree", "audio")
	saveSubtree(t, s, "audio_tree", "settings_tree", "audio")
	saveNode(t, s, "audio_tree", "volume")

	require.NoError(t, s.SaveEdge(ctx, &navigation.Edge{
		TreeID: "root", EdgeID: "e1", SourceNodeID: "home", TargetNodeID: "settings",
		ActionSets:         []navigation.ActionSet{{ID: "go", Actions: []navigation.Action{{Command: "click"}}}},
		DefaultActionSetID: "go",
	}, testTeam))

	// Deleting the anchor node removes the whole branch: both nested trees,
	// their nodes and the touching edge.
	require.NoError(t, s.DeleteNode(ctx, "root", "settings", testTeam))

	_, err := s.TreeMetadata(ctx, "settings_tree", testTeam)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.TreeMetadata(ctx, "audio_tree", testTeam)
	assert.ErrorIs(t, err, ErrNotFound)

	nodes, err := s.TreeNodes(ctx, "audio_tree", testTeam)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	edges, err := s.TreeEdges(ctx, "root", testTeam)
	require.NoError(t, err)
	assert.Empty(t, edges)

	remaining, err := s.TreeNodes(ctx, "root", testTeam)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "home", remaining[0].NodeID)
}

func TestSaveNodeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	node := &navigation.Node{
		TreeID: "root", NodeID: "live", Label: "Live TV", Type: navigation.NodeTypeScreen,
		PositionX: 120.5, PositionY: 44, Screenshot: "live.png",
		Verifications: []navigation.Verification{
			{Type: "image", Command: "waitForImage", Params: map[string]any{"timeout": float64(3000)}},
		},
	}
	require.NoError(t, s.SaveNode(ctx, node, testTeam))

	nodes, err := s.TreeNodes(ctx, "root", testTeam)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	got := nodes[0]
	assert.Equal(t, "Live TV", got.Label)
	assert.Equal(t, 120.5, got.PositionX)
	require.Len(t, got.Verifications, 1)
	assert.Equal(t, "waitForImage", got.Verifications[0].Command)

	// Re-saving is an update, not a second row.
	node.Label = "Live"
	require.NoError(t, s.SaveNode(ctx, node, testTeam))
	nodes, _ = s.TreeNodes(ctx, "root", testTeam)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Live", nodes[0].Label)
}

func TestSaveNodePropagatesToDescendants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	saveNode(t, s, "root", "settings")
	saveSubtree(t, s, "settings_tree", "root", "settings")
	// The subtree mirrors the anchor node under the same node id.
	saveNode(t, s, "settings_tree", "settings")
	saveNode(t, s, "settings_tree", "audio")

	anchor := &navigation.Node{
		TreeID: "root", NodeID: "settings", Label: "Settings v2",
		Type: navigation.NodeTypeMenu, Screenshot: "settings_v2.png",
	}
	require.NoError(t, s.SaveNode(ctx, anchor, testTeam))

	nodes, err := s.TreeNodes(ctx, "settings_tree", testTeam)
	require.NoError(t, err)
	byID := map[string]*navigation.Node{}
	for _, n := range nodes {
		byID[n.NodeID] = n
	}
	assert.Equal(t, "Settings v2", byID["settings"].Label)
	assert.Equal(t, "settings_v2.png", byID["settings"].Screenshot)
	assert.Equal(t, "audio", byID["audio"].Label, "other nodes stay untouched")
}

func TestSaveEdgeValidatesActionSets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	saveRootTree(t, s, "root")

	err := s.SaveEdge(ctx, &navigation.Edge{
		TreeID: "root", EdgeID: "bad", SourceNodeID: "a", TargetNodeID: "b",
		ActionSets:         []navigation.ActionSet{{ID: "go"}},
		DefaultActionSetID: "missing",
	}, testTeam)
	assert.Error(t, err)

	edge := &navigation.Edge{
		TreeID: "root", EdgeID: "e1", SourceNodeID: "home", TargetNodeID: "settings",
		ActionSets: []navigation.ActionSet{
			{ID: "open", Actions: []navigation.Action{{Command: "click", Params: map[string]any{"element": "gear"}}}},
			{ID: "close", Actions: []navigation.Action{{Command: "press", Params: map[string]any{"key": "BACK"}}}},
		},
		DefaultActionSetID: "open",
		FinalWaitTime:      500,
	}
	require.NoError(t, s.SaveEdge(ctx, edge, testTeam))

	edges, err := s.TreeEdges(ctx, "root", testTeam)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	got := edges[0]
	assert.True(t, got.IsBidirectional())
	assert.Equal(t, 500, got.FinalWaitTime)
	reverse, ok := got.ReverseActionSet()
	require.True(t, ok)
	assert.Equal(t, "close", reverse.ID)
}

func TestTreeEdgesFiltered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	saveRootTree(t, s, "root")

	for i, pair := range [][2]string{{"a", "b"}, {"b", "c"}, {"c", "d"}} {
		require.NoError(t, s.SaveEdge(ctx, &navigation.Edge{
			TreeID: "root", EdgeID: fmt.Sprintf("e%d", i),
			SourceNodeID: pair[0], TargetNodeID: pair[1],
			ActionSets:         []navigation.ActionSet{{ID: "go", Actions: []navigation.Action{{Command: "click"}}}},
			DefaultActionSetID: "go",
		}, testTeam))
	}

	edges, err := s.TreeEdgesFiltered(ctx, "root", testTeam, []string{"a"})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "e0", edges[0].EdgeID)

	edges, err = s.TreeEdgesFiltered(ctx, "root", testTeam, []string{"b"})
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestNavigationStoreContractWithEngine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	root := &navigation.Node{TreeID: "root", NodeID: "home", Label: "Home",
		Type: navigation.NodeTypeScreen, IsRoot: true}
	require.NoError(t, s.SaveNode(ctx, root, testTeam))
	saveNode(t, s, "root", "live")
	require.NoError(t, s.SaveEdge(ctx, &navigation.Edge{
		TreeID: "root", EdgeID: "e1", SourceNodeID: "home", TargetNodeID: "live",
		ActionSets:         []navigation.ActionSet{{ID: "go", Actions: []navigation.Action{{Command: "click"}}}},
		DefaultActionSetID: "go",
	}, testTeam))

	engine := navigation.NewEngine(s)
	_, err := engine.LoadHierarchy(ctx, "root", testTeam)
	require.NoError(t, err)
	path, err := engine.FindPath("root", testTeam, "live", "home")
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.Equal(t, "e1", path[0].EdgeID)
}

func TestMoveSubtree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	saveNode(t, s, "root", "old_anchor")
	saveNode(t, s, "root", "new_anchor")
	saveSubtree(t, s, "sub", "root", "old_anchor")

	require.NoError(t, s.MoveSubtree(ctx, "sub", "root", "new_anchor", testTeam))

	got, err := s.TreeMetadata(ctx, "sub", testTeam)
	require.NoError(t, err)
	assert.Equal(t, "new_anchor", *got.ParentNodeID)

	nodes, _ := s.TreeNodes(ctx, "root", testTeam)
	byID := map[string]*navigation.Node{}
	for _, n := range nodes {
		byID[n.NodeID] = n
	}
	assert.Equal(t, 0, byID["old_anchor"].SubtreeCount)
	assert.False(t, byID["old_anchor"].HasSubtree)
	assert.Equal(t, 1, byID["new_anchor"].SubtreeCount)
	assert.True(t, byID["new_anchor"].HasSubtree)
}

func TestMoveSubtreeShiftsDescendantDepths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	saveNode(t, s, "root", "shallow")
	saveNode(t, s, "root", "deep")
	saveSubtree(t, s, "deep_tree", "root", "deep")
	saveNode(t, s, "deep_tree", "anchor")
	saveSubtree(t, s, "moved", "root", "shallow")
	saveNode(t, s, "moved", "inner")
	saveSubtree(t, s, "moved_child", "moved", "inner")

	require.NoError(t, s.MoveSubtree(ctx, "moved", "deep_tree", "anchor", testTeam))

	got, err := s.TreeMetadata(ctx, "moved", testTeam)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TreeDepth)
	child, err := s.TreeMetadata(ctx, "moved_child", testTeam)
	require.NoError(t, err)
	assert.Equal(t, 3, child.TreeDepth)

	// The whole hierarchy still loads after the move.
	_, err = navigation.LoadHierarchy(ctx, s, "root", testTeam)
	require.NoError(t, err)

	// A tree cannot be re-anchored inside its own branch.
	err = s.MoveSubtree(ctx, "moved", "moved_child", "inner", testTeam)
	assert.ErrorContains(t, err, "descendant")
}

func TestMoveSubtreeDepthCapCoversDescendants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	saveRootTree(t, s, "root")
	parent := "root"
	for depth := 1; depth <= 3; depth++ {
		nodeID := fmt.Sprintf("anchor%d", depth)
		saveNode(t, s, parent, nodeID)
		child := fmt.Sprintf("c%d", depth)
		saveSubtree(t, s, child, parent, nodeID)
		parent = child
	}

	// A two-level branch at depths 1..3 under the root.
	saveNode(t, s, "root", "branch_anchor")
	saveSubtree(t, s, "mv", "root", "branch_anchor")
	saveNode(t, s, "mv", "mv_anchor")
	saveSubtree(t, s, "mv2", "mv", "mv_anchor")
	saveNode(t, s, "mv2", "mv2_anchor")
	saveSubtree(t, s, "mv3", "mv2", "mv2_anchor")

	// Moving it under c3 would put mv3 at depth 6.
	saveNode(t, s, "c3", "target")
	err := s.MoveSubtree(ctx, "mv", "c3", "target", testTeam)
	require.ErrorIs(t, err, ErrMaxDepth)

	// Nothing moved.
	got, err := s.TreeMetadata(ctx, "mv", testTeam)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TreeDepth)
	require.NotNil(t, got.ParentTreeID)
	assert.Equal(t, "root", *got.ParentTreeID)
}

func TestTestcaseSaveListDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tc := &Testcase{
		ID: "tc1", TeamID: testTeam, Name: "Zap to live", UIName: "horizon_android_mobile",
		GraphJSON: json.RawMessage(`{"nodes":[{"id":"n0","type":"start"}],"edges":[]}`),
		Tags:      []string{"Smoke", "regression"},
	}
	require.NoError(t, s.SaveTestcase(ctx, tc))

	got, err := s.GetTestcase(ctx, "tc1", testTeam)
	require.NoError(t, err)
	assert.Equal(t, "Zap to live", got.Name)
	assert.Equal(t, []string{"regression", "smoke"}, got.Tags, "tags are lowercased")
	assert.JSONEq(t, string(tc.GraphJSON), string(got.GraphJSON))

	// A different testcase with the same name is rejected.
	dup := &Testcase{ID: "tc2", TeamID: testTeam, Name: "Zap to live", GraphJSON: json.RawMessage(`{}`)}
	assert.ErrorIs(t, s.SaveTestcase(ctx, dup), ErrDuplicateName)

	// Re-saving under the same id updates in place.
	tc.Description = "updated"
	require.NoError(t, s.SaveTestcase(ctx, tc))
	list, err := s.ListTestcases(ctx, testTeam)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "updated", list[0].Description)

	require.NoError(t, s.DeleteTestcase(ctx, "tc1", testTeam))
	_, err = s.GetTestcase(ctx, "tc1", testTeam)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetOrCreateFolderIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.GetOrCreateFolder(ctx, testTeam, "")
	require.NoError(t, err)
	assert.Equal(t, int64(RootFolderID), id)

	first, err := s.GetOrCreateFolder(ctx, testTeam, "Regression")
	require.NoError(t, err)
	second, err := s.GetOrCreateFolder(ctx, testTeam, "Regression")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	folders, err := s.ListFolders(ctx, testTeam)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, int64(RootFolderID), folders[0].ID)
}

func TestGetOrCreateTagPalette(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	smoke, err := s.GetOrCreateTag(ctx, testTeam, "Smoke")
	require.NoError(t, err)
	assert.Equal(t, "smoke", smoke.Name)
	assert.Equal(t, tagPalette[0], smoke.Color)

	again, err := s.GetOrCreateTag(ctx, testTeam, "SMOKE")
	require.NoError(t, err)
	assert.Equal(t, smoke.ID, again.ID)
	assert.Equal(t, smoke.Color, again.Color)

	second, err := s.GetOrCreateTag(ctx, testTeam, "nightly")
	require.NoError(t, err)
	assert.Equal(t, tagPalette[1], second.Color)
}

func TestSetExecutableTagsReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetExecutableTags(ctx, testTeam, ScriptTypeTestcase, "tc1", []string{"smoke", "nightly"}))
	tags, err := s.ExecutableTags(ctx, testTeam, ScriptTypeTestcase, "tc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"nightly", "smoke"}, tags)

	require.NoError(t, s.SetExecutableTags(ctx, testTeam, ScriptTypeTestcase, "tc1", []string{"regression"}))
	tags, err = s.ExecutableTags(ctx, testTeam, ScriptTypeTestcase, "tc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"regression"}, tags)
}

func TestPlanRoundTripAndMaintenance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	plan := &plancache.CachedPlan{
		Fingerprint:      "fp1",
		TeamID:           testTeam,
		NormalizedPrompt: "navigation_live_tv",
		Intent:           "navigation",
		Target:           "live_tv",
		DeviceModel:      "android_mobile",
		UIName:           "horizon_android_mobile",
		AvailableNodes:   []string{"home", "live"},
		Graph:            json.RawMessage(`{"nodes":[],"edges":[]}`),
		SuccessCount:     3, ExecutionCount: 3, AvgExecutionTimeMs: 2500,
		LastUsed: now, LastSuccess: now,
	}
	require.NoError(t, s.UpsertPlan(ctx, plan))

	got, err := s.PlanByFingerprint(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"home", "live"}, got.AvailableNodes)
	assert.InDelta(t, 2500, got.AvgExecutionTimeMs, 1e-9)
	assert.True(t, got.LastFailure.IsZero())

	miss, err := s.PlanByFingerprint(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, miss)

	compat, err := s.FindCompatiblePlans(ctx, testTeam, "navigation_live_tv")
	require.NoError(t, err)
	require.Len(t, compat, 1)

	// Failing and stale plans go; the healthy one stays.
	failing := *plan
	failing.Fingerprint = "failing"
	failing.SuccessCount, failing.ExecutionCount = 1, 10
	require.NoError(t, s.UpsertPlan(ctx, &failing))
	stale := *plan
	stale.Fingerprint = "stale"
	stale.SuccessCount, stale.ExecutionCount = 1, 2
	stale.LastUsed = now.Add(-120 * 24 * time.Hour)
	require.NoError(t, s.UpsertPlan(ctx, &stale))

	removed, err := s.PlanMaintenance(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	remaining, err := s.TopPlans(ctx, testTeam, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "fp1", remaining[0].Fingerprint)
}

func TestScriptResultRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	started := time.Now()

	r := &ScriptResult{
		ID: "r1", TeamID: testTeam, ScriptType: ScriptTypeTestcase, ScriptName: "Zap to live",
		Host: "host-1", DeviceID: "device1", Success: true,
		StartedAt: started, ExecutionTimeMs: 4200, ReportURL: "http://host/report/r1",
		StepResults: []execution.StepRecord{{StepNumber: 1, NodeID: "n1", Kind: "action", Success: true}},
	}
	require.NoError(t, s.InsertScriptResult(ctx, r))

	list, err := s.ListScriptResults(ctx, testTeam, ScriptTypeTestcase, "Zap to live")
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.True(t, got.Success)
	assert.Nil(t, got.Checked, "review columns start unset")
	require.Len(t, got.StepResults, 1)
	assert.Equal(t, "n1", got.StepResults[0].NodeID)

	checked := true
	checkType := "ai"
	got.Checked = &checked
	got.CheckType = &checkType
	require.NoError(t, s.UpdateScriptResult(ctx, got))

	list, _ = s.ListScriptResults(ctx, testTeam, "", "")
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Checked)
	assert.True(t, *list[0].Checked)
	assert.Equal(t, "ai", *list[0].CheckType)

	other, err := s.ListScriptResults(ctx, testTeam, ScriptTypeAI, "")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestAlertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Alert{ID: "a1", TeamID: testTeam, Kind: "host_unreachable",
		Message: "host-1 missed 3 heartbeats", CreatedAt: time.Now()}
	require.NoError(t, s.InsertAlert(ctx, a))

	resolved := time.Now()
	a.ResolvedAt = &resolved
	a.Message = "host-1 recovered"
	require.NoError(t, s.UpdateAlert(ctx, a))

	assert.ErrorIs(t, s.UpdateAlert(ctx, &Alert{ID: "nope", TeamID: testTeam}), ErrNotFound)
}
