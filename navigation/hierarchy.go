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
)

// Store is the slice of the persistence layer the navigation engine consumes.
type Store interface {
	// TreeMetadata returns one tree's metadata, or a not-found error.
	TreeMetadata(ctx context.Context, treeID, teamID string) (*Tree, error)
	// ChildTrees returns the trees anchored at any node of the given tree.
	ChildTrees(ctx context.Context, treeID, teamID string) ([]*Tree, error)
	// TreeNodes returns all nodes of one tree.
	TreeNodes(ctx context.Context, treeID, teamID string) ([]*Node, error)
	// TreeEdges returns all edges of one tree.
	TreeEdges(ctx context.Context, treeID, teamID string) ([]*Edge, error)
}

// LoadHierarchy loads the root tree and every nested tree reachable through
// parent links, ordered from depth 0 to the deepest level.
func LoadHierarchy(ctx context.Context, store Store, rootTreeID, teamID string) (*Hierarchy, error) {
	root, err := store.TreeMetadata(ctx, rootTreeID, teamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotFound, rootTreeID)
	}
	if !root.IsRootTree {
		return nil, fmt.Errorf("%w: %s is not a root tree", ErrTreeNotFound, rootTreeID)
	}

	h := &Hierarchy{
		RootTreeID: rootTreeID,
		TeamID:     teamID,
		Nodes:      make(map[string][]*Node),
		Edges:      make(map[string][]*Edge),
	}

	// Breadth-first over parent links keeps the result depth-ordered.
	level := []*Tree{root}
	for len(level) > 0 {
		var next []*Tree
		for _, tree := range level {
			if tree.TreeDepth > MaxTreeDepth {
				return nil, fmt.Errorf("%w: tree %s at depth %d", ErrDepthExceeded, tree.ID, tree.TreeDepth)
			}
			nodes, err := store.TreeNodes(ctx, tree.ID, teamID)
			if err != nil {
				return nil, fmt.Errorf("load nodes of tree %s: %w", tree.ID, err)
			}
			edges, err := store.TreeEdges(ctx, tree.ID, teamID)
			if err != nil {
				return nil, fmt.Errorf("load edges of tree %s: %w", tree.ID, err)
			}
			h.Trees = append(h.Trees, tree)
			h.Nodes[tree.ID] = nodes
			h.Edges[tree.ID] = edges

			children, err := store.ChildTrees(ctx, tree.ID, teamID)
			if err != nil {
				return nil, fmt.Errorf("load child trees of %s: %w", tree.ID, err)
			}
			for _, child := range children {
				if child.ParentTreeID == nil || child.ParentNodeID == nil {
					return nil, fmt.Errorf("%w: tree %s has no parent anchor", ErrBrokenParentLink, child.ID)
				}
				if !containsNode(nodes, *child.ParentNodeID) {
					return nil, fmt.Errorf("%w: tree %s anchored at missing node %s",
						ErrBrokenParentLink, child.ID, *child.ParentNodeID)
				}
				if child.TreeDepth != tree.TreeDepth+1 {
					return nil, fmt.Errorf("%w: tree %s depth %d under parent depth %d",
						ErrBrokenParentLink, child.ID, child.TreeDepth, tree.TreeDepth)
				}
				next = append(next, child)
			}
		}
		level = next
	}
	return h, nil
}

func containsNode(nodes []*Node, nodeID string) bool {
	for _, n := range nodes {
		if n.NodeID == nodeID {
			return true
		}
	}
	return false
}
