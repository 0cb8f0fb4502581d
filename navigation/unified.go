//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package navigation

import (
	"fmt"
	"sort"
)

// EdgeKind distinguishes real edges from the virtual cross-tree edges.
type EdgeKind string

const (
	// EdgeKindReal is a persisted edge of one tree.
	EdgeKindReal EdgeKind = "real"
	// EdgeKindEnterSubtree moves from a parent node into its subtree's entry.
	EdgeKindEnterSubtree EdgeKind = "enter_subtree"
	// EdgeKindExitSubtree moves from a subtree's exit back to the parent node.
	EdgeKindExitSubtree EdgeKind = "exit_subtree"
)

// UnifiedEdge is one directed edge of the unified graph with the metadata
// pathfinding needs.
type UnifiedEdge struct {
	EdgeID             string
	TreeID             string
	Kind               EdgeKind
	Source             string
	Target             string
	ActionSets         []ActionSet
	DefaultActionSetID string
	FinalWaitTime      int
	IsBidirectional    bool
	AlternativesCount  int
	HasTimerActions    bool
	Weight             int
}

// edge returns the underlying Edge view for action-set resolution.
func (ue *UnifiedEdge) edge() *Edge {
	return &Edge{
		TreeID:             ue.TreeID,
		EdgeID:             ue.EdgeID,
		SourceNodeID:       ue.Source,
		TargetNodeID:       ue.Target,
		ActionSets:         ue.ActionSets,
		DefaultActionSetID: ue.DefaultActionSetID,
	}
}

// UnifiedGraph is the merged multigraph of a whole hierarchy. Nodes are keyed
// by their stable node id; Location maps a node id to the tree owning it.
type UnifiedGraph struct {
	RootTreeID string
	TeamID     string

	Nodes    map[string]*Node
	Location map[string]string
	// Outgoing maps a source node id to its outgoing unified edges.
	Outgoing map[string][]*UnifiedEdge
	// Bidirectional maps an edge id to true when the edge carries a reverse set.
	Bidirectional map[string]bool

	RealEdgeCount    int
	VirtualEdgeCount int
}

// RootNodeID returns the root node of the root tree.
func (g *UnifiedGraph) RootNodeID() string {
	for id, n := range g.Nodes {
		if n.TreeID == g.RootTreeID && n.IsRoot {
			return id
		}
	}
	return ""
}

// BuildUnified assembles the unified multigraph for a loaded hierarchy: every
// real edge with its metadata, plus one ENTER_SUBTREE and one EXIT_SUBTREE
// virtual edge per nested tree.
func BuildUnified(h *Hierarchy) (*UnifiedGraph, error) {
	g := &UnifiedGraph{
		RootTreeID:    h.RootTreeID,
		TeamID:        h.TeamID,
		Nodes:         make(map[string]*Node),
		Location:      make(map[string]string),
		Outgoing:      make(map[string][]*UnifiedEdge),
		Bidirectional: make(map[string]bool),
	}

	for _, tree := range h.Trees {
		for _, n := range h.Nodes[tree.ID] {
			if _, ok := g.Nodes[n.NodeID]; !ok {
				g.Nodes[n.NodeID] = n
				g.Location[n.NodeID] = tree.ID
			}
		}
	}

	for _, tree := range h.Trees {
		for _, e := range h.Edges[tree.ID] {
			if err := validateEdge(e); err != nil {
				return nil, err
			}
			ue := &UnifiedEdge{
				EdgeID:             e.EdgeID,
				TreeID:             tree.ID,
				Kind:               EdgeKindReal,
				Source:             e.SourceNodeID,
				Target:             e.TargetNodeID,
				ActionSets:         e.ActionSets,
				DefaultActionSetID: e.DefaultActionSetID,
				FinalWaitTime:      e.FinalWaitTime,
				IsBidirectional:    e.IsBidirectional(),
				AlternativesCount:  len(e.ActionSets) - 1,
				HasTimerActions:    hasTimerActions(e),
				Weight:             1,
			}
			g.Outgoing[ue.Source] = append(g.Outgoing[ue.Source], ue)
			g.Bidirectional[e.EdgeID] = ue.IsBidirectional
			g.RealEdgeCount++
		}
	}

	for _, tree := range h.Trees {
		if tree.IsRootTree {
			continue
		}
		entry := entryNodeID(h.Nodes[tree.ID])
		if entry == "" {
			return nil, fmt.Errorf("tree %s has no entry node", tree.ID)
		}
		exit := exitNodeID(h.Nodes[tree.ID])
		parent := *tree.ParentNodeID
		g.Outgoing[parent] = append(g.Outgoing[parent], &UnifiedEdge{
			EdgeID: fmt.Sprintf("enter_%s", tree.ID),
			TreeID: tree.ID,
			Kind:   EdgeKindEnterSubtree,
			Source: parent,
			Target: entry,
			Weight: 1,
		})
		g.Outgoing[exit] = append(g.Outgoing[exit], &UnifiedEdge{
			EdgeID: fmt.Sprintf("exit_%s", tree.ID),
			TreeID: tree.ID,
			Kind:   EdgeKindExitSubtree,
			Source: exit,
			Target: parent,
			Weight: 1,
		})
		g.VirtualEdgeCount += 2
	}

	if err := validateUnified(g); err != nil {
		return nil, err
	}
	return g, nil
}

func validateEdge(e *Edge) error {
	if len(e.ActionSets) == 0 {
		return fmt.Errorf("edge %s has no action sets", e.EdgeID)
	}
	if _, ok := e.DefaultActionSet(); !ok {
		return fmt.Errorf("edge %s: default action set %q not found", e.EdgeID, e.DefaultActionSetID)
	}
	if e.IsBidirectional() {
		if len(e.ActionSets) != 2 {
			return fmt.Errorf("bidirectional edge %s has %d action sets, want 2", e.EdgeID, len(e.ActionSets))
		}
		if e.ActionSets[0].ID == e.ActionSets[1].ID {
			return fmt.Errorf("bidirectional edge %s has duplicate action set id %q", e.EdgeID, e.ActionSets[0].ID)
		}
	}
	return nil
}

func validateUnified(g *UnifiedGraph) error {
	connected := make(map[string]bool)
	for _, edges := range g.Outgoing {
		for _, ue := range edges {
			connected[ue.Source] = true
			connected[ue.Target] = true
		}
	}
	var orphans []string
	for id, n := range g.Nodes {
		if connected[id] || n.IsRoot || n.Type == NodeTypeEntry {
			continue
		}
		orphans = append(orphans, id)
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return fmt.Errorf("unified graph has orphan nodes: %v", orphans)
	}
	return nil
}

func hasTimerActions(e *Edge) bool {
	for _, as := range e.ActionSets {
		if as.TimerMs > 0 {
			return true
		}
	}
	return false
}

// entryNodeID picks the entry node of a subtree: the node typed "entry", or
// the subtree's root node when no explicit entry exists.
func entryNodeID(nodes []*Node) string {
	for _, n := range nodes {
		if n.Type == NodeTypeEntry {
			return n.NodeID
		}
	}
	for _, n := range nodes {
		if n.IsRoot {
			return n.NodeID
		}
	}
	return ""
}

// exitNodeID picks the exit node of a subtree: a node typed "exit" when one
// exists, otherwise the entry node.
func exitNodeID(nodes []*Node) string {
	for _, n := range nodes {
		if n.Type == NodeType("exit") {
			return n.NodeID
		}
	}
	return entryNodeID(nodes)
}
