//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationBidirectionalReturn(t *testing.T) {
	nodes := []*Node{
		{TreeID: "T", NodeID: "live", Type: NodeTypeScreen, IsRoot: true},
		{TreeID: "T", NodeID: "live_fullscreen", Type: NodeTypeScreen},
	}
	edges := []*Edge{{
		TreeID:       "T",
		EdgeID:       "e1",
		SourceNodeID: "live",
		TargetNodeID: "live_fullscreen",
		ActionSets: []ActionSet{
			{ID: "open", Actions: []Action{{Command: "press_key", Params: map[string]any{"key": "OK"}}}},
			{ID: "close", Actions: []Action{{Command: "press_key", Params: map[string]any{"key": "BACK"}}}},
		},
		DefaultActionSetID: "open",
	}}

	seq, err := BuildValidationSequence(nodes, edges, ValidationOptions{})
	require.NoError(t, err)
	require.Len(t, seq.Steps, 2)
	assert.Empty(t, seq.Skipped)

	assert.Equal(t, 1, seq.Steps[0].StepNumber)
	assert.Equal(t, "live", seq.Steps[0].FromNodeID)
	assert.Equal(t, "live_fullscreen", seq.Steps[0].ToNodeID)
	assert.Equal(t, "open", seq.Steps[0].ActionSetID)
	assert.Equal(t, DirectionForward, seq.Steps[0].Direction)

	assert.Equal(t, 2, seq.Steps[1].StepNumber)
	assert.Equal(t, "live_fullscreen", seq.Steps[1].FromNodeID)
	assert.Equal(t, "live", seq.Steps[1].ToNodeID)
	assert.Equal(t, "close", seq.Steps[1].ActionSetID)
	assert.Equal(t, DirectionReverse, seq.Steps[1].Direction)
	assert.Equal(t, StepTypeReturnReverse, seq.Steps[1].StepType)
}

func TestValidationDirectReturnPreferred(t *testing.T) {
	nodes := []*Node{
		{TreeID: "T", NodeID: "home", Type: NodeTypeScreen, IsRoot: true},
		{TreeID: "T", NodeID: "menu", Type: NodeTypeMenu},
	}
	edges := []*Edge{
		bidiEdge("T", "fwd", "home", "menu"),
		simpleEdge("T", "back", "menu", "home"),
	}

	seq, err := BuildValidationSequence(nodes, edges, ValidationOptions{})
	require.NoError(t, err)
	require.Len(t, seq.Steps, 2)
	// A distinct physical return edge wins over the reverse action set.
	assert.Equal(t, "back", seq.Steps[1].EdgeID)
	assert.Equal(t, StepTypeReturnDirect, seq.Steps[1].StepType)
	assert.Equal(t, DirectionForward, seq.Steps[1].Direction)
	assert.Empty(t, seq.Skipped)
}

func TestValidationTransitionalFallback(t *testing.T) {
	nodes := []*Node{
		{TreeID: "T", NodeID: "a", Type: NodeTypeScreen, IsRoot: true},
		{TreeID: "T", NodeID: "b", Type: NodeTypeScreen},
		{TreeID: "T", NodeID: "c", Type: NodeTypeScreen},
	}
	// a -> b one-way; return only via b -> c -> a.
	edges := []*Edge{
		simpleEdge("T", "ab", "a", "b"),
		simpleEdge("T", "bc", "b", "c"),
		simpleEdge("T", "ca", "c", "a"),
	}

	seq, err := BuildValidationSequence(nodes, edges, ValidationOptions{EnableTransitionalFallback: true})
	require.NoError(t, err)
	assert.Empty(t, seq.Skipped)

	var transitional int
	for _, s := range seq.Steps {
		if s.StepType == StepTypeReturnTransitional {
			transitional++
		}
	}
	assert.Greater(t, transitional, 0)

	// With the fallback disabled the same branch is skipped, never fatal.
	seq, err = BuildValidationSequence(nodes, edges, ValidationOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, seq.Skipped)
}

func TestValidationCoversEveryEdgeForward(t *testing.T) {
	nodes := []*Node{
		{TreeID: "T", NodeID: "home", Type: NodeTypeScreen, IsRoot: true},
		{TreeID: "T", NodeID: "live", Type: NodeTypeScreen},
		{TreeID: "T", NodeID: "guide", Type: NodeTypeScreen},
	}
	edges := []*Edge{
		bidiEdge("T", "e1", "home", "live"),
		bidiEdge("T", "e2", "home", "guide"),
	}

	seq, err := BuildValidationSequence(nodes, edges, ValidationOptions{})
	require.NoError(t, err)

	forward := make(map[string]bool)
	reverse := make(map[string]bool)
	for _, s := range seq.Steps {
		if s.Direction == DirectionForward {
			forward[s.EdgeID] = true
		} else {
			reverse[s.EdgeID] = true
		}
	}
	for _, e := range edges {
		assert.True(t, forward[e.EdgeID], "edge %s not visited forward", e.EdgeID)
		assert.True(t, reverse[e.EdgeID], "bidirectional edge %s not visited in reverse", e.EdgeID)
	}
	// No skipped return may be logged for a bidirectional edge.
	assert.Empty(t, seq.Skipped)
}

func TestValidationReverseRequiresNonDefaultSet(t *testing.T) {
	e := simpleEdge("T", "e1", "a", "b")
	_, ok := e.ReverseActionSet()
	assert.False(t, ok)

	b := bidiEdge("T", "e2", "a", "b")
	set, ok := b.ReverseActionSet()
	require.True(t, ok)
	assert.Equal(t, "close", set.ID)
	assert.NotEqual(t, b.DefaultActionSetID, set.ID)
}
