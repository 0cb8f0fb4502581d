//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package navigation builds and caches the unified cross-tree navigation
// graph and answers pathfinding and validation-sequence queries.
package navigation

import "errors"

// MaxTreeDepth is the maximum nesting depth of a tree hierarchy.
const MaxTreeDepth = 5

// NodeType classifies a navigation node.
type NodeType string

// Known node types. The set is open; drivers may introduce more.
const (
	NodeTypeEntry  NodeType = "entry"
	NodeTypeScreen NodeType = "screen"
	NodeTypeMenu   NodeType = "menu"
	NodeTypeAction NodeType = "action"
)

var (
	// ErrTreeNotFound indicates the requested tree does not exist.
	ErrTreeNotFound = errors.New("navigation tree not found")
	// ErrDepthExceeded indicates a hierarchy deeper than MaxTreeDepth.
	ErrDepthExceeded = errors.New("maximum nesting depth reached (5 levels)")
	// ErrBrokenParentLink indicates a subtree whose parent node is missing.
	ErrBrokenParentLink = errors.New("broken parent link in tree hierarchy")
	// ErrUnifiedCacheMissing indicates pathfinding before the hierarchy was loaded.
	ErrUnifiedCacheMissing = errors.New("unified graph not cached: load hierarchy first")
	// ErrNodeNotFound indicates a node id absent from the unified graph.
	ErrNodeNotFound = errors.New("node not found in unified graph")
	// ErrNoPath indicates no route exists between the requested nodes.
	ErrNoPath = errors.New("no navigation path to target")
	// ErrNoReverseActionSet indicates a reverse traversal over an edge whose
	// only action set is the default one.
	ErrNoReverseActionSet = errors.New("edge has no action set for reverse traversal")
)

// Action is a single device command with opaque parameters. Params carries
// wait_time in milliseconds plus command-specific fields.
type Action struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// Verification is a check evaluated after navigating to a node.
type Verification struct {
	Type    string         `json:"type"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// ActionSet is a named bundle of actions attached to an edge. An edge holds
// at least one; a second set drives reverse traversal. TimerMs > 0 means the
// set auto-triggers that many milliseconds after arrival at the target node.
type ActionSet struct {
	ID             string         `json:"id"`
	Label          string         `json:"label,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	TimerMs        int            `json:"timer,omitempty"`
	Conditions     map[string]any `json:"conditions,omitempty"`
	Actions        []Action       `json:"actions"`
	RetryActions   []Action       `json:"retry_actions,omitempty"`
	FailureActions []Action       `json:"failure_actions,omitempty"`
}

// Node is a navigation node. NodeID is a stable label shared across sibling
// trees for synchronization; (TreeID, NodeID) identifies the row.
type Node struct {
	TreeID        string         `json:"tree_id"`
	NodeID        string         `json:"node_id"`
	Label         string         `json:"label"`
	Type          NodeType       `json:"node_type"`
	PositionX     float64        `json:"position_x"`
	PositionY     float64        `json:"position_y"`
	IsRoot        bool           `json:"is_root"`
	Screenshot    string         `json:"screenshot,omitempty"`
	Verifications []Verification `json:"verifications,omitempty"`
	HasSubtree    bool           `json:"has_subtree"`
	SubtreeCount  int            `json:"subtree_count"`
}

// Edge is a directed edge between two nodes of the same tree. It carries one
// or more action sets; the presence of a second set makes it bidirectional.
type Edge struct {
	TreeID             string      `json:"tree_id"`
	EdgeID             string      `json:"edge_id"`
	SourceNodeID       string      `json:"source_node_id"`
	TargetNodeID       string      `json:"target_node_id"`
	ActionSets         []ActionSet `json:"action_sets"`
	DefaultActionSetID string      `json:"default_action_set_id"`
	FinalWaitTime      int         `json:"final_wait_time,omitempty"`
	Priority           int         `json:"priority,omitempty"`
	Threshold          float64     `json:"threshold,omitempty"`
}

// IsBidirectional reports whether the edge carries a reverse action set.
func (e *Edge) IsBidirectional() bool { return len(e.ActionSets) >= 2 }

// ActionSet returns the action set with the given id.
func (e *Edge) ActionSet(id string) (*ActionSet, bool) {
	for i := range e.ActionSets {
		if e.ActionSets[i].ID == id {
			return &e.ActionSets[i], true
		}
	}
	return nil, false
}

// DefaultActionSet returns the edge's default action set.
func (e *Edge) DefaultActionSet() (*ActionSet, bool) {
	return e.ActionSet(e.DefaultActionSetID)
}

// ReverseActionSet returns the first action set that is not the default one.
// Reverse traversal of a bidirectional edge uses it.
func (e *Edge) ReverseActionSet() (*ActionSet, bool) {
	for i := range e.ActionSets {
		if e.ActionSets[i].ID != e.DefaultActionSetID {
			return &e.ActionSets[i], true
		}
	}
	return nil, false
}

// Tree is the metadata of one navigation tree. A non-root tree is anchored at
// (ParentTreeID, ParentNodeID) in its parent.
type Tree struct {
	ID           string  `json:"tree_id"`
	TeamID       string  `json:"team_id"`
	Name         string  `json:"name"`
	UIName       string  `json:"ui_name"`
	ParentTreeID *string `json:"parent_tree_id,omitempty"`
	ParentNodeID *string `json:"parent_node_id,omitempty"`
	TreeDepth    int     `json:"tree_depth"`
	IsRootTree   bool    `json:"is_root_tree"`
}

// Hierarchy is a root tree plus all nested trees, ordered by depth, with
// their nodes and edges loaded.
type Hierarchy struct {
	RootTreeID string
	TeamID     string
	// Trees is ordered from depth 0 to the deepest level.
	Trees []*Tree
	// Nodes and Edges are keyed by tree id.
	Nodes map[string][]*Node
	Edges map[string][]*Edge
}

// Tree returns the hierarchy tree with the given id.
func (h *Hierarchy) Tree(id string) (*Tree, bool) {
	for _, t := range h.Trees {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}
