//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/virtualpytest/virtualpytest/internal/httpapi"
	"github.com/virtualpytest/virtualpytest/navigation"
)

func (s *Server) handleTreeMetadata(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	tree, err := s.store.TreeMetadata(r.Context(), mux.Vars(r)["id"], teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"tree": tree})
}

func (s *Server) handleTreeSave(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var tree navigation.Tree
	if err := httpapi.Decode(r, &tree); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	tree.ID = mux.Vars(r)["id"]
	tree.TeamID = teamID
	if tree.ID == "" {
		tree.ID = uuid.NewString()
	}
	if err := s.store.SaveTree(r.Context(), &tree); err != nil {
		writeError(w, err)
		return
	}
	s.nav.Invalidate(r.Context(), tree.ID, teamID)
	httpapi.OK(w, map[string]any{"tree": tree})
}

func (s *Server) handleTreeDelete(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := mux.Vars(r)["id"]
	s.nav.Invalidate(r.Context(), treeID, teamID)
	if err := s.store.DeleteTree(r.Context(), treeID, teamID); err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, nil)
}

// handleTreeCascadeDelete removes a tree with its descendants. DeleteTree is
// already recursive; the separate route keeps the destructive intent explicit.
func (s *Server) handleTreeCascadeDelete(w http.ResponseWriter, r *http.Request) {
	s.handleTreeDelete(w, r)
}

func (s *Server) handleTreeNodes(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	nodes, total, err := s.store.TreeNodesPaginated(r.Context(), mux.Vars(r)["id"], teamID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"nodes": nodes, "total": total, "page": page, "limit": limit})
}

func (s *Server) handleNodeSave(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := mux.Vars(r)["id"]
	var node navigation.Node
	if err := httpapi.Decode(r, &node); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	node.TreeID = treeID
	if node.NodeID == "" {
		httpapi.Errorf(w, http.StatusBadRequest, "node_id is required")
		return
	}
	if err := s.store.SaveNode(r.Context(), &node, teamID); err != nil {
		writeError(w, err)
		return
	}
	s.nav.Invalidate(r.Context(), treeID, teamID)
	httpapi.OK(w, map[string]any{"node": node})
}

func (s *Server) handleNodeDelete(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	vars := mux.Vars(r)
	if err := s.store.DeleteNode(r.Context(), vars["id"], vars["node"], teamID); err != nil {
		writeError(w, err)
		return
	}
	s.nav.Invalidate(r.Context(), vars["id"], teamID)
	httpapi.OK(w, nil)
}

func (s *Server) handleNodeSubtrees(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	vars := mux.Vars(r)
	trees, err := s.store.NodeSubtrees(r.Context(), vars["tree"], vars["node"], teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"subtrees": trees})
}

func (s *Server) handleSubtreeCreate(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	vars := mux.Vars(r)
	var tree navigation.Tree
	if err := httpapi.Decode(r, &tree); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if tree.ID == "" {
		tree.ID = uuid.NewString()
	}
	tree.TeamID = teamID
	parentTree, parentNode := vars["id"], vars["node"]
	tree.ParentTreeID = &parentTree
	tree.ParentNodeID = &parentNode
	if err := s.store.SaveTree(r.Context(), &tree); err != nil {
		writeError(w, err)
		return
	}
	s.nav.Invalidate(r.Context(), parentTree, teamID)
	httpapi.OK(w, map[string]any{"tree": tree})
}

func (s *Server) handleSubtreeMove(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var req struct {
		NewParentTreeID string `json:"new_parent_tree_id"`
		NewParentNodeID string `json:"new_parent_node_id"`
	}
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	subtreeID := mux.Vars(r)["id"]
	// The hierarchy the subtree leaves goes stale too; its root is only
	// reachable through the parent links that exist before the move.
	s.nav.Invalidate(r.Context(), subtreeID, teamID)
	if err := s.store.MoveSubtree(r.Context(), subtreeID, req.NewParentTreeID, req.NewParentNodeID, teamID); err != nil {
		writeError(w, err)
		return
	}
	s.nav.Invalidate(r.Context(), req.NewParentTreeID, teamID)
	httpapi.OK(w, nil)
}

func (s *Server) handleTreeEdges(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var nodeIDs []string
	if csv := r.URL.Query().Get("node_ids"); csv != "" {
		nodeIDs = strings.Split(csv, ",")
	}
	edges, err := s.store.TreeEdgesFiltered(r.Context(), mux.Vars(r)["id"], teamID, nodeIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"edges": edges})
}

func (s *Server) handleEdgeSave(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := mux.Vars(r)["id"]
	var edge navigation.Edge
	if err := httpapi.Decode(r, &edge); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	edge.TreeID = treeID
	if edge.EdgeID == "" {
		edge.EdgeID = uuid.NewString()
	}
	if err := s.store.SaveEdge(r.Context(), &edge, teamID); err != nil {
		writeError(w, err)
		return
	}
	s.nav.Invalidate(r.Context(), treeID, teamID)
	httpapi.OK(w, map[string]any{"edge": edge})
}

func (s *Server) handleEdgeDelete(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	vars := mux.Vars(r)
	if err := s.store.DeleteEdge(r.Context(), vars["id"], vars["edge"], teamID); err != nil {
		writeError(w, err)
		return
	}
	s.nav.Invalidate(r.Context(), vars["id"], teamID)
	httpapi.OK(w, nil)
}

func (s *Server) handleTreeFull(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	treeID := mux.Vars(r)["id"]
	ctx := r.Context()
	tree, err := s.store.TreeMetadata(ctx, treeID, teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	nodes, err := s.store.TreeNodes(ctx, treeID, teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	edges, err := s.store.TreeEdges(ctx, treeID, teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"tree": tree, "nodes": nodes, "edges": edges})
}

// handleHierarchy loads the whole hierarchy below a root tree and primes the
// unified-graph cache as a side effect.
func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	h, err := s.nav.LoadHierarchy(r.Context(), mux.Vars(r)["id"], teamID)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{
		"trees": h.Trees,
		"nodes": h.Nodes,
		"edges": h.Edges,
	})
}

// handleValidationSequence previews the walk exercising every edge of a tree.
func (s *Server) handleValidationSequence(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	q := r.URL.Query()
	opts := navigation.ValidationOptions{
		EnableTransitionalFallback: q.Get("transitional") == "true",
	}
	if n, err := strconv.Atoi(q.Get("max_transitional_steps")); err == nil {
		opts.MaxTransitionalSteps = n
	}
	seq, err := s.nav.ValidationSequence(r.Context(), mux.Vars(r)["id"], teamID, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"steps": seq.Steps, "skipped": seq.Skipped})
}

// handleBreadcrumb walks parent links from a tree up to its root.
func (s *Server) handleBreadcrumb(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	ctx := r.Context()

	var crumbs []*navigation.Tree
	id := mux.Vars(r)["id"]
	for i := 0; i <= navigation.MaxTreeDepth; i++ {
		tree, err := s.store.TreeMetadata(ctx, id, teamID)
		if err != nil {
			writeError(w, err)
			return
		}
		crumbs = append([]*navigation.Tree{tree}, crumbs...)
		if tree.ParentTreeID == nil {
			break
		}
		id = *tree.ParentTreeID
	}
	httpapi.OK(w, map[string]any{"breadcrumb": crumbs})
}
