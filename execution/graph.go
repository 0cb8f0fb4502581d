//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package execution runs execution graphs on behalf of stored testcases and
// live AI-generated plans with one shared traversal.
package execution

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/virtualpytest/virtualpytest/navigation"
)

var (
	// ErrMalformedGraph indicates a graph without exactly one start node or
	// with dangling edges.
	ErrMalformedGraph = errors.New("malformed execution graph")
	// ErrExecutionAborted indicates cancellation or an unrecoverable
	// controller error mid-traversal.
	ErrExecutionAborted = errors.New("execution aborted")
)

// NodeKind classifies an execution-graph node.
type NodeKind string

// Execution node kinds.
const (
	KindStart        NodeKind = "start"
	KindSuccess      NodeKind = "success"
	KindFailure      NodeKind = "failure"
	KindAction       NodeKind = "action"
	KindVerification NodeKind = "verification"
	KindNavigation   NodeKind = "navigation"
	KindLoop         NodeKind = "loop"
)

// Edge handles selecting the outgoing edge after a node completes.
const (
	HandleSuccess = "success"
	HandleFailure = "failure"
	HandleBody    = "body"
	HandleDone    = "done"
)

// Node is one execution-graph node. Fields beyond ID and Kind are populated
// per kind: Command/Params for actions, VerificationType for verifications,
// TargetNodeID/Transitions for navigations, MaxIterations for loops.
type Node struct {
	ID    string   `json:"id"`
	Kind  NodeKind `json:"type"`
	Label string   `json:"label,omitempty"`

	Command string         `json:"command,omitempty"`
	Params  map[string]any `json:"params,omitempty"`

	VerificationType string `json:"verification_type,omitempty"`

	TargetNodeID string `json:"target_node_id,omitempty"`
	// Transitions are pre-fetched so traversal needs no runtime lookups.
	Transitions []navigation.Transition `json:"transitions,omitempty"`

	MaxIterations int `json:"max_iterations,omitempty"`
}

// Edge connects two execution-graph nodes. SourceHandle routes by the
// previous node's outcome; loop nodes use the body/done handles.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	Type         string `json:"type,omitempty"`
}

// Graph is the execution-ready node+edge shape shared by stored testcases
// and AI plans.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// ParseGraph decodes graph JSON.
func ParseGraph(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks the structural invariants the traversal relies on.
func (g *Graph) Validate() error {
	var starts int
	ids := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrMalformedGraph)
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate node id %s", ErrMalformedGraph, n.ID)
		}
		ids[n.ID] = true
		if n.Kind == KindStart {
			starts++
		}
	}
	if starts != 1 {
		return fmt.Errorf("%w: want exactly one start node, have %d", ErrMalformedGraph, starts)
	}
	for _, e := range g.Edges {
		if !ids[e.Source] || !ids[e.Target] {
			return fmt.Errorf("%w: edge %s-%s references unknown node", ErrMalformedGraph, e.Source, e.Target)
		}
	}
	return nil
}

// Start returns the unique start node.
func (g *Graph) Start() (*Node, error) {
	for _, n := range g.Nodes {
		if n.Kind == KindStart {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: no start node", ErrMalformedGraph)
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// next returns the target of the first outgoing edge whose handle matches.
// An edge without a handle matches the success outcome.
func (g *Graph) next(nodeID, handle string) (string, bool) {
	for _, e := range g.Edges {
		if e.Source != nodeID {
			continue
		}
		h := e.SourceHandle
		if h == "" {
			h = HandleSuccess
		}
		if h == handle {
			return e.Target, true
		}
	}
	return "", false
}
