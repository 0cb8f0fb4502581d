//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package navigation

import "fmt"

// Validation step types.
const (
	StepTypeForward            = "forward"
	StepTypeReturnDirect       = "return_direct"
	StepTypeReturnReverse      = "return_reverse"
	StepTypeReturnTransitional = "return_transitional"
)

// edgeState is the per-edge state machine driven by sequence generation.
type edgeState int

const (
	statePending edgeState = iota
	stateForwardDone
	stateReturnDone
	stateReturnSkipped
)

// ValidationOptions tune sequence generation.
type ValidationOptions struct {
	// EnableTransitionalFallback allows multi-edge return paths when an edge
	// has neither a direct return edge nor a reverse action set.
	EnableTransitionalFallback bool
	// MaxTransitionalSteps bounds a transitional return path. Zero means 3.
	MaxTransitionalSteps int
}

// ValidationStep is one step of a validation walk.
type ValidationStep struct {
	StepNumber    int            `json:"step_number"`
	FromNodeID    string         `json:"from_node_id"`
	ToNodeID      string         `json:"to_node_id"`
	EdgeID        string         `json:"edge_id"`
	ActionSetID   string         `json:"action_set_id"`
	Direction     Direction      `json:"transition_direction"`
	StepType      string         `json:"step_type"`
	Actions       []Action       `json:"actions,omitempty"`
	RetryActions  []Action       `json:"retry_actions,omitempty"`
	Verifications []Verification `json:"verifications,omitempty"`
}

// SkippedReturn records a branch whose return to the parent was not possible.
type SkippedReturn struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	EdgeID     string `json:"edge_id"`
	Reason     string `json:"reason"`
}

// ValidationSequence is the result of sequence generation: an ordered walk
// exercising every real edge at least once, plus the returns it had to skip.
type ValidationSequence struct {
	Steps   []ValidationStep `json:"steps"`
	Skipped []SkippedReturn  `json:"skipped,omitempty"`
}

// directedKey identifies one traversal direction of one edge.
type directedKey struct {
	edgeID  string
	reverse bool
}

type validator struct {
	nodes map[string]*Node
	// byPair maps (source, target) to candidate edges; bidirectional edges
	// appear under both orientations, flagged sameEdge on the reverse one.
	byPair  map[[2]string][]pairEdge
	out     map[string][]*Edge
	state   map[string]edgeState
	visited map[directedKey]bool
	opts    ValidationOptions
	seq     *ValidationSequence
}

type pairEdge struct {
	edge *Edge
	// sameEdge marks the reverse orientation of a bidirectional edge: the
	// traversal uses the same underlying edge row.
	sameEdge bool
}

// BuildValidationSequence produces a depth-first walk over one tree's real
// edges. Forward traversals use the default action set; returns use, in
// order of preference, a distinct direct edge, the edge's reverse action set,
// or a bounded transitional path. Unreachable returns are skipped, never
// fatal.
func BuildValidationSequence(nodes []*Node, edges []*Edge, opts ValidationOptions) (*ValidationSequence, error) {
	if opts.MaxTransitionalSteps == 0 {
		opts.MaxTransitionalSteps = 3
	}
	v := &validator{
		nodes:   make(map[string]*Node),
		byPair:  make(map[[2]string][]pairEdge),
		out:     make(map[string][]*Edge),
		state:   make(map[string]edgeState),
		visited: make(map[directedKey]bool),
		opts:    opts,
		seq:     &ValidationSequence{},
	}
	for _, n := range nodes {
		v.nodes[n.NodeID] = n
	}
	for _, e := range edges {
		if err := validateEdge(e); err != nil {
			return nil, err
		}
		v.out[e.SourceNodeID] = append(v.out[e.SourceNodeID], e)
		v.byPair[[2]string{e.SourceNodeID, e.TargetNodeID}] = append(
			v.byPair[[2]string{e.SourceNodeID, e.TargetNodeID}], pairEdge{edge: e})
		if e.IsBidirectional() {
			v.byPair[[2]string{e.TargetNodeID, e.SourceNodeID}] = append(
				v.byPair[[2]string{e.TargetNodeID, e.SourceNodeID}], pairEdge{edge: e, sameEdge: true})
		}
		v.state[e.EdgeID] = statePending
	}

	for _, entry := range v.entryPoints(nodes) {
		if err := v.walk(entry, ""); err != nil {
			return nil, err
		}
	}
	return v.seq, nil
}

// entryPoints returns the starting nodes of the walk: the root node first,
// then any explicit entry nodes.
func (v *validator) entryPoints(nodes []*Node) []string {
	var entries []string
	for _, n := range nodes {
		if n.IsRoot {
			entries = append(entries, n.NodeID)
		}
	}
	for _, n := range nodes {
		if n.Type == NodeTypeEntry && !n.IsRoot {
			entries = append(entries, n.NodeID)
		}
	}
	return entries
}

func (v *validator) walk(nodeID, parentID string) error {
	for _, e := range v.out[nodeID] {
		key := directedKey{edgeID: e.EdgeID}
		if v.visited[key] {
			continue
		}
		// Skip the trivial hop straight back to where we came from.
		if e.TargetNodeID == parentID {
			continue
		}
		v.visited[key] = true

		set, ok := e.DefaultActionSet()
		if !ok {
			return fmt.Errorf("edge %s: default action set %q not found", e.EdgeID, e.DefaultActionSetID)
		}
		v.appendStep(e, set, nodeID, e.TargetNodeID, DirectionForward, StepTypeForward)
		v.state[e.EdgeID] = stateForwardDone

		if err := v.walk(e.TargetNodeID, nodeID); err != nil {
			return err
		}
		if err := v.returnStep(e, nodeID); err != nil {
			return err
		}
	}
	return nil
}

// returnStep emits the step bringing the walk from e's target back to its
// source, trying direct, bidirectional, then transitional strategies.
func (v *validator) returnStep(e *Edge, parent string) error {
	child := e.TargetNodeID

	// Direct: a distinct physical edge child -> parent.
	for _, cand := range v.byPair[[2]string{child, parent}] {
		if cand.sameEdge || cand.edge.EdgeID == e.EdgeID {
			continue
		}
		key := directedKey{edgeID: cand.edge.EdgeID}
		if v.visited[key] {
			// Already exercised; the walk is physically back at the parent.
			v.state[e.EdgeID] = stateReturnDone
			return nil
		}
		v.visited[key] = true
		set, ok := cand.edge.DefaultActionSet()
		if !ok {
			return fmt.Errorf("edge %s: default action set %q not found",
				cand.edge.EdgeID, cand.edge.DefaultActionSetID)
		}
		v.appendStep(cand.edge, set, child, parent, DirectionForward, StepTypeReturnDirect)
		v.state[cand.edge.EdgeID] = stateForwardDone
		v.state[e.EdgeID] = stateReturnDone
		return nil
	}

	// Bidirectional: the forward edge itself carries a reverse set.
	if e.IsBidirectional() {
		key := directedKey{edgeID: e.EdgeID, reverse: true}
		if !v.visited[key] {
			v.visited[key] = true
			set, ok := e.ReverseActionSet()
			if !ok {
				return fmt.Errorf("%w: edge %s", ErrNoReverseActionSet, e.EdgeID)
			}
			v.appendStep(e, set, child, parent, DirectionReverse, StepTypeReturnReverse)
		}
		v.state[e.EdgeID] = stateReturnDone
		return nil
	}

	// Transitional: a short path of real edges back to the parent.
	if v.opts.EnableTransitionalFallback {
		if path := v.transitionalPath(child, parent); path != nil {
			for _, step := range path {
				set, ok := step.DefaultActionSet()
				if !ok {
					return fmt.Errorf("edge %s: default action set %q not found",
						step.EdgeID, step.DefaultActionSetID)
				}
				v.appendStep(step, set, step.SourceNodeID, step.TargetNodeID,
					DirectionForward, StepTypeReturnTransitional)
				if v.state[step.EdgeID] == statePending {
					v.state[step.EdgeID] = stateForwardDone
				}
			}
			v.state[e.EdgeID] = stateReturnDone
			return nil
		}
	}

	v.state[e.EdgeID] = stateReturnSkipped
	v.seq.Skipped = append(v.seq.Skipped, SkippedReturn{
		FromNodeID: child,
		ToNodeID:   parent,
		EdgeID:     e.EdgeID,
		Reason:     "no direct, reverse or transitional return available",
	})
	return nil
}

// transitionalPath finds a forward-edge path from -> to of at most
// MaxTransitionalSteps hops, breadth-first.
func (v *validator) transitionalPath(from, to string) []*Edge {
	type queued struct {
		node string
		path []*Edge
	}
	seen := map[string]bool{from: true}
	queue := []queued{{node: from}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if len(cur.path) >= v.opts.MaxTransitionalSteps {
			continue
		}
		for _, e := range v.out[cur.node] {
			if seen[e.TargetNodeID] {
				continue
			}
			path := append(append([]*Edge{}, cur.path...), e)
			if e.TargetNodeID == to {
				return path
			}
			seen[e.TargetNodeID] = true
			queue = append(queue, queued{node: e.TargetNodeID, path: path})
		}
	}
	return nil
}

func (v *validator) appendStep(e *Edge, set *ActionSet, from, to string, dir Direction, stepType string) {
	step := ValidationStep{
		StepNumber:   len(v.seq.Steps) + 1,
		FromNodeID:   from,
		ToNodeID:     to,
		EdgeID:       e.EdgeID,
		ActionSetID:  set.ID,
		Direction:    dir,
		StepType:     stepType,
		Actions:      set.Actions,
		RetryActions: set.RetryActions,
	}
	if target, ok := v.nodes[to]; ok {
		step.Verifications = target.Verifications
	}
	v.seq.Steps = append(v.seq.Steps, step)
}
