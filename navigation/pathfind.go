//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package navigation

import (
	"container/heap"
	"fmt"
)

// Direction tags which way an edge's action sets are applied.
type Direction string

const (
	// DirectionForward applies the default action set.
	DirectionForward Direction = "forward"
	// DirectionReverse applies the non-default set of a bidirectional edge.
	DirectionReverse Direction = "reverse"
)

// Transition is one entry of a computed navigation path.
type Transition struct {
	FromNodeID     string         `json:"from_node_id"`
	ToNodeID       string         `json:"to_node_id"`
	TreeID         string         `json:"tree_id"`
	EdgeID         string         `json:"edge_id"`
	Kind           EdgeKind       `json:"kind"`
	Direction      Direction      `json:"direction"`
	ActionSetID    string         `json:"action_set_id,omitempty"`
	Actions        []Action       `json:"actions,omitempty"`
	RetryActions   []Action       `json:"retry_actions,omitempty"`
	FailureActions []Action       `json:"failure_actions,omitempty"`
	FinalWaitTime  int            `json:"final_wait_time,omitempty"`
	Verifications  []Verification `json:"verifications,omitempty"`
}

// hop is a traversable move derived from a unified edge; bidirectional real
// edges yield one hop per direction.
type hop struct {
	edge      *UnifiedEdge
	target    string
	direction Direction
	priority  int
}

// pathCost orders candidate paths: fewest edges, then fewest cross-tree
// transitions, then lowest sum of action-set priorities.
type pathCost struct {
	hops      int
	crossTree int
	priority  int
}

func (c pathCost) less(o pathCost) bool {
	if c.hops != o.hops {
		return c.hops < o.hops
	}
	if c.crossTree != o.crossTree {
		return c.crossTree < o.crossTree
	}
	return c.priority < o.priority
}

// FindPath computes the shortest path from start to target over the unified
// graph. An empty start means the root node of the root tree. Pathfinding
// from a node to itself returns an empty path.
func (g *UnifiedGraph) FindPath(targetNodeID, startNodeID string) ([]Transition, error) {
	if startNodeID == "" {
		startNodeID = g.RootNodeID()
	}
	if _, ok := g.Nodes[startNodeID]; !ok {
		return nil, fmt.Errorf("%w: start %s", ErrNodeNotFound, startNodeID)
	}
	if _, ok := g.Nodes[targetNodeID]; !ok {
		return nil, fmt.Errorf("%w: target %s", ErrNodeNotFound, targetNodeID)
	}
	if startNodeID == targetNodeID {
		return []Transition{}, nil
	}

	adjacency := g.hops()

	type visit struct {
		cost pathCost
		prev string
		via  hop
	}
	best := map[string]visit{startNodeID: {}}
	pq := &costQueue{{node: startNodeID}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(costEntry)
		if cur.node == targetNodeID {
			break
		}
		if b, ok := best[cur.node]; ok && b.cost.less(cur.cost) {
			continue
		}
		for _, hp := range adjacency[cur.node] {
			next := pathCost{
				hops:      cur.cost.hops + hp.edge.Weight,
				crossTree: cur.cost.crossTree,
				priority:  cur.cost.priority + hp.priority,
			}
			if hp.edge.Kind != EdgeKindReal {
				next.crossTree++
			}
			if b, seen := best[hp.target]; !seen || next.less(b.cost) {
				best[hp.target] = visit{cost: next, prev: cur.node, via: hp}
				heap.Push(pq, costEntry{node: hp.target, cost: next})
			}
		}
	}

	if _, ok := best[targetNodeID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPath, targetNodeID)
	}

	var path []Transition
	for at := targetNodeID; at != startNodeID; {
		v := best[at]
		t, err := g.transitionFor(v.via)
		if err != nil {
			return nil, err
		}
		path = append([]Transition{t}, path...)
		at = v.prev
	}
	return path, nil
}

// hops expands the unified edges into directed moves, adding the reverse
// direction of every bidirectional real edge.
func (g *UnifiedGraph) hops() map[string][]hop {
	adjacency := make(map[string][]hop)
	for _, edges := range g.Outgoing {
		for _, ue := range edges {
			forwardPriority := 0
			if set, ok := ue.edge().DefaultActionSet(); ok {
				forwardPriority = set.Priority
			}
			adjacency[ue.Source] = append(adjacency[ue.Source], hop{
				edge:      ue,
				target:    ue.Target,
				direction: DirectionForward,
				priority:  forwardPriority,
			})
			if ue.Kind == EdgeKindReal && ue.IsBidirectional {
				reversePriority := 0
				if set, ok := ue.edge().ReverseActionSet(); ok {
					reversePriority = set.Priority
				}
				adjacency[ue.Target] = append(adjacency[ue.Target], hop{
					edge:      ue,
					target:    ue.Source,
					direction: DirectionReverse,
					priority:  reversePriority,
				})
			}
		}
	}
	return adjacency
}

func (g *UnifiedGraph) transitionFor(hp hop) (Transition, error) {
	ue := hp.edge
	source := ue.Source
	if hp.direction == DirectionReverse {
		source = ue.Target
	}
	t := Transition{
		FromNodeID: source,
		ToNodeID:   hp.target,
		TreeID:     ue.TreeID,
		EdgeID:     ue.EdgeID,
		Kind:       ue.Kind,
		Direction:  hp.direction,
	}
	if target, ok := g.Nodes[hp.target]; ok {
		t.Verifications = target.Verifications
	}
	if ue.Kind != EdgeKindReal {
		return t, nil
	}
	t.FinalWaitTime = ue.FinalWaitTime

	var set *ActionSet
	var ok bool
	if hp.direction == DirectionForward {
		set, ok = ue.edge().DefaultActionSet()
	} else {
		set, ok = ue.edge().ReverseActionSet()
	}
	if !ok {
		return Transition{}, fmt.Errorf("%w: edge %s", ErrNoReverseActionSet, ue.EdgeID)
	}
	t.ActionSetID = set.ID
	t.Actions = set.Actions
	t.RetryActions = set.RetryActions
	t.FailureActions = set.FailureActions
	return t, nil
}

// costEntry and costQueue implement the pathfinding priority queue.
type costEntry struct {
	node string
	cost pathCost
}

type costQueue []costEntry

func (q costQueue) Len() int            { return len(q) }
func (q costQueue) Less(i, j int) bool  { return q[i].cost.less(q[j].cost) }
func (q costQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *costQueue) Push(x any)         { *q = append(*q, x.(costEntry)) }
func (q *costQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}
