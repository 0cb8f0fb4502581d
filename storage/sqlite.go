//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/virtualpytest/virtualpytest/navigation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS navigation_trees (
	id             TEXT NOT NULL,
	team_id        TEXT NOT NULL,
	name           TEXT NOT NULL,
	ui_name        TEXT NOT NULL DEFAULT '',
	parent_tree_id TEXT,
	parent_node_id TEXT,
	tree_depth     INTEGER NOT NULL DEFAULT 0 CHECK (tree_depth BETWEEN 0 AND 5),
	is_root_tree   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (id),
	CHECK (is_root_tree = (parent_tree_id IS NULL AND parent_node_id IS NULL)),
	UNIQUE (parent_tree_id, parent_node_id, name)
);

CREATE TABLE IF NOT EXISTS navigation_nodes (
	tree_id       TEXT NOT NULL,
	node_id       TEXT NOT NULL,
	team_id       TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	node_type     TEXT NOT NULL DEFAULT 'screen',
	position_x    REAL NOT NULL DEFAULT 0,
	position_y    REAL NOT NULL DEFAULT 0,
	is_root       INTEGER NOT NULL DEFAULT 0,
	screenshot    TEXT NOT NULL DEFAULT '',
	verifications TEXT NOT NULL DEFAULT '[]',
	has_subtree   INTEGER NOT NULL DEFAULT 0,
	subtree_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tree_id, node_id)
);

CREATE TABLE IF NOT EXISTS navigation_edges (
	tree_id               TEXT NOT NULL,
	edge_id               TEXT NOT NULL,
	team_id               TEXT NOT NULL,
	source_node_id        TEXT NOT NULL,
	target_node_id        TEXT NOT NULL,
	action_sets           TEXT NOT NULL DEFAULT '[]',
	default_action_set_id TEXT NOT NULL,
	final_wait_time       INTEGER NOT NULL DEFAULT 0,
	priority              INTEGER NOT NULL DEFAULT 0,
	threshold             REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (tree_id, edge_id)
);

CREATE TABLE IF NOT EXISTS testcases (
	id              TEXT NOT NULL PRIMARY KEY,
	team_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	ui_name         TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	graph_json      TEXT NOT NULL,
	creation_method TEXT NOT NULL DEFAULT 'visual',
	ai_prompt       TEXT NOT NULL DEFAULT '',
	ai_analysis     TEXT NOT NULL DEFAULT '',
	folder_id       INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	UNIQUE (team_id, name)
);

CREATE TABLE IF NOT EXISTS folders (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	team_id TEXT NOT NULL,
	name    TEXT NOT NULL,
	UNIQUE (team_id, name)
);

CREATE TABLE IF NOT EXISTS tags (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	team_id TEXT NOT NULL,
	name    TEXT NOT NULL,
	color   TEXT NOT NULL,
	UNIQUE (team_id, name)
);

CREATE TABLE IF NOT EXISTS executable_tags (
	team_id         TEXT NOT NULL,
	executable_type TEXT NOT NULL,
	executable_id   TEXT NOT NULL,
	tag_id          INTEGER NOT NULL,
	PRIMARY KEY (team_id, executable_type, executable_id, tag_id)
);

CREATE TABLE IF NOT EXISTS ai_plans (
	fingerprint           TEXT NOT NULL PRIMARY KEY,
	team_id               TEXT NOT NULL,
	normalized_prompt     TEXT NOT NULL,
	intent                TEXT NOT NULL DEFAULT '',
	target                TEXT NOT NULL DEFAULT '',
	device_model          TEXT NOT NULL DEFAULT '',
	ui_name               TEXT NOT NULL DEFAULT '',
	available_nodes       TEXT NOT NULL DEFAULT '[]',
	context_signature     TEXT NOT NULL DEFAULT '',
	graph                 TEXT NOT NULL,
	success_count         INTEGER NOT NULL DEFAULT 0,
	failure_count         INTEGER NOT NULL DEFAULT 0,
	execution_count       INTEGER NOT NULL DEFAULT 0,
	avg_execution_time_ms REAL NOT NULL DEFAULT 0,
	last_used             INTEGER NOT NULL DEFAULT 0,
	last_success          INTEGER NOT NULL DEFAULT 0,
	last_failure          INTEGER NOT NULL DEFAULT 0,
	failure_reasons       TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS script_results (
	id                TEXT NOT NULL PRIMARY KEY,
	team_id           TEXT NOT NULL,
	script_type       TEXT NOT NULL CHECK (script_type IN ('script', 'testcase', 'ai')),
	script_name       TEXT NOT NULL,
	host              TEXT NOT NULL DEFAULT '',
	device_id         TEXT NOT NULL DEFAULT '',
	success           INTEGER NOT NULL DEFAULT 0,
	started_at        INTEGER NOT NULL,
	execution_time_ms INTEGER NOT NULL DEFAULT 0,
	report_url        TEXT NOT NULL DEFAULT '',
	step_results      TEXT NOT NULL DEFAULT '[]',
	checked           INTEGER,
	check_type        TEXT,
	discard           INTEGER,
	discard_type      TEXT,
	discard_comment   TEXT
);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT NOT NULL PRIMARY KEY,
	team_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	resolved_at INTEGER
);
`

// SQLite is the database/sql implementation of Store.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (creating if needed) the SQLite database at path. Pass
// ":memory:" for an ephemeral store.
func Open(path string) (*SQLite, error) {
	dsn := path
	if path == ":memory:" {
		// A shared in-memory database survives connection churn in the pool.
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// TreeMetadata returns one tree's metadata.
func (s *SQLite) TreeMetadata(ctx context.Context, treeID, teamID string) (*navigation.Tree, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, name, ui_name, parent_tree_id, parent_node_id, tree_depth, is_root_tree
		 FROM navigation_trees WHERE id = ? AND team_id = ?`, treeID, teamID)
	return scanTree(row)
}

func scanTree(row *sql.Row) (*navigation.Tree, error) {
	var t navigation.Tree
	var parentTree, parentNode sql.NullString
	err := row.Scan(&t.ID, &t.TeamID, &t.Name, &t.UIName, &parentTree, &parentNode, &t.TreeDepth, &t.IsRootTree)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if parentTree.Valid {
		t.ParentTreeID = &parentTree.String
	}
	if parentNode.Valid {
		t.ParentNodeID = &parentNode.String
	}
	return &t, nil
}

// ChildTrees returns the trees anchored at any node of the given tree.
func (s *SQLite) ChildTrees(ctx context.Context, treeID, teamID string) ([]*navigation.Tree, error) {
	return s.queryTrees(ctx,
		`SELECT id, team_id, name, ui_name, parent_tree_id, parent_node_id, tree_depth, is_root_tree
		 FROM navigation_trees WHERE parent_tree_id = ? AND team_id = ? ORDER BY id`, treeID, teamID)
}

// NodeSubtrees returns the trees anchored at one (tree, node) pair.
func (s *SQLite) NodeSubtrees(ctx context.Context, treeID, nodeID, teamID string) ([]*navigation.Tree, error) {
	return s.queryTrees(ctx,
		`SELECT id, team_id, name, ui_name, parent_tree_id, parent_node_id, tree_depth, is_root_tree
		 FROM navigation_trees WHERE parent_tree_id = ? AND parent_node_id = ? AND team_id = ? ORDER BY id`,
		treeID, nodeID, teamID)
}

func (s *SQLite) queryTrees(ctx context.Context, query string, args ...any) ([]*navigation.Tree, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var trees []*navigation.Tree
	for rows.Next() {
		var t navigation.Tree
		var parentTree, parentNode sql.NullString
		if err := rows.Scan(&t.ID, &t.TeamID, &t.Name, &t.UIName, &parentTree, &parentNode,
			&t.TreeDepth, &t.IsRootTree); err != nil {
			return nil, err
		}
		if parentTree.Valid {
			t.ParentTreeID = &parentTree.String
		}
		if parentNode.Valid {
			t.ParentNodeID = &parentNode.String
		}
		trees = append(trees, &t)
	}
	return trees, rows.Err()
}

// SaveTree inserts or updates a tree. Creating a subtree checks the depth
// bound and maintains the parent node's subtree counters in the same
// transaction, mirroring the database triggers of the original schema.
func (s *SQLite) SaveTree(ctx context.Context, tree *navigation.Tree) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if (tree.ParentTreeID == nil) != (tree.ParentNodeID == nil) {
		return fmt.Errorf("tree %s: parent tree and parent node must be set together", tree.ID)
	}
	tree.IsRootTree = tree.ParentTreeID == nil
	if tree.IsRootTree {
		tree.TreeDepth = 0
	} else {
		var parentDepth int
		err := tx.QueryRowContext(ctx, `SELECT tree_depth FROM navigation_trees WHERE id = ? AND team_id = ?`,
			*tree.ParentTreeID, tree.TeamID).Scan(&parentDepth)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: parent tree %s", ErrNotFound, *tree.ParentTreeID)
		}
		if err != nil {
			return err
		}
		if parentDepth >= navigation.MaxTreeDepth {
			return ErrMaxDepth
		}
		tree.TreeDepth = parentDepth + 1
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM navigation_trees WHERE id = ?`, tree.ID).
		Scan(&existing); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO navigation_trees (id, team_id, name, ui_name, parent_tree_id, parent_node_id, tree_depth, is_root_tree)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, ui_name = excluded.ui_name`,
		tree.ID, tree.TeamID, tree.Name, tree.UIName,
		nullable(tree.ParentTreeID), nullable(tree.ParentNodeID), tree.TreeDepth, boolInt(tree.IsRootTree))
	if err != nil {
		return err
	}

	if existing == 0 && !tree.IsRootTree {
		if _, err := tx.ExecContext(ctx,
			`UPDATE navigation_nodes SET subtree_count = subtree_count + 1, has_subtree = 1
			 WHERE tree_id = ? AND node_id = ?`, *tree.ParentTreeID, *tree.ParentNodeID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteTree removes a tree and all its descendant trees atomically,
// updating the parent node's subtree counters.
func (s *SQLite) DeleteTree(ctx context.Context, treeID, teamID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.deleteTreeTx(ctx, tx, treeID, teamID, true); err != nil {
		return err
	}
	return tx.Commit()
}

// deleteTreeTx removes one tree and recurses into its children.
func (s *SQLite) deleteTreeTx(ctx context.Context, tx *sql.Tx, treeID, teamID string, adjustParent bool) error {
	var parentTree, parentNode sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT parent_tree_id, parent_node_id FROM navigation_trees WHERE id = ? AND team_id = ?`,
		treeID, teamID).Scan(&parentTree, &parentNode)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM navigation_trees WHERE parent_tree_id = ? AND team_id = ?`, treeID, teamID)
	if err != nil {
		return err
	}
	var children []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		children = append(children, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, child := range children {
		if err := s.deleteTreeTx(ctx, tx, child, teamID, false); err != nil {
			return err
		}
	}

	for _, stmt := range []string{
		`DELETE FROM navigation_edges WHERE tree_id = ?`,
		`DELETE FROM navigation_nodes WHERE tree_id = ?`,
		`DELETE FROM navigation_trees WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, treeID); err != nil {
			return err
		}
	}

	if adjustParent && parentTree.Valid {
		if _, err := tx.ExecContext(ctx,
			`UPDATE navigation_nodes
			 SET subtree_count = CASE WHEN subtree_count > 0 THEN subtree_count - 1 ELSE 0 END,
			     has_subtree = CASE WHEN subtree_count > 1 THEN 1 ELSE 0 END
			 WHERE tree_id = ? AND node_id = ?`, parentTree.String, parentNode.String); err != nil {
			return err
		}
	}
	return nil
}

// MoveSubtree re-anchors a subtree under a new (tree, node) pair, keeping
// depth invariants and counters consistent.
func (s *SQLite) MoveSubtree(ctx context.Context, subtreeID, newParentTreeID, newParentNodeID, teamID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var oldParentTree, oldParentNode sql.NullString
	var oldDepth int
	err = tx.QueryRowContext(ctx,
		`SELECT parent_tree_id, parent_node_id, tree_depth FROM navigation_trees WHERE id = ? AND team_id = ?`,
		subtreeID, teamID).Scan(&oldParentTree, &oldParentNode, &oldDepth)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !oldParentTree.Valid {
		return fmt.Errorf("tree %s is a root tree and cannot be moved", subtreeID)
	}

	var newDepth int
	err = tx.QueryRowContext(ctx, `SELECT tree_depth FROM navigation_trees WHERE id = ? AND team_id = ?`,
		newParentTreeID, teamID).Scan(&newDepth)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: parent tree %s", ErrNotFound, newParentTreeID)
	}
	if err != nil {
		return err
	}

	// The moved branch keeps its internal parent links; the depth of every
	// tree in it shifts by the same delta.
	var deepest int
	var inBranch int
	err = tx.QueryRowContext(ctx,
		`WITH RECURSIVE branch(id, depth) AS (
		   SELECT id, tree_depth FROM navigation_trees WHERE id = ?
		   UNION ALL
		   SELECT t.id, t.tree_depth FROM navigation_trees t JOIN branch b ON t.parent_tree_id = b.id
		 )
		 SELECT MAX(depth), SUM(id = ?) FROM branch`,
		subtreeID, newParentTreeID).Scan(&deepest, &inBranch)
	if err != nil {
		return err
	}
	if inBranch > 0 {
		return fmt.Errorf("tree %s cannot be moved under its own descendant %s", subtreeID, newParentTreeID)
	}
	depthDelta := newDepth + 1 - oldDepth
	if deepest+depthDelta > navigation.MaxTreeDepth {
		return ErrMaxDepth
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE navigation_trees SET parent_tree_id = ?, parent_node_id = ? WHERE id = ?`,
		newParentTreeID, newParentNodeID, subtreeID); err != nil {
		return err
	}
	if depthDelta != 0 {
		if _, err := tx.ExecContext(ctx,
			`WITH RECURSIVE branch(id) AS (
			   SELECT id FROM navigation_trees WHERE id = ?
			   UNION ALL
			   SELECT t.id FROM navigation_trees t JOIN branch b ON t.parent_tree_id = b.id
			 )
			 UPDATE navigation_trees SET tree_depth = tree_depth + ?
			 WHERE id IN (SELECT id FROM branch)`,
			subtreeID, depthDelta); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE navigation_nodes
		 SET subtree_count = CASE WHEN subtree_count > 0 THEN subtree_count - 1 ELSE 0 END,
		     has_subtree = CASE WHEN subtree_count > 1 THEN 1 ELSE 0 END
		 WHERE tree_id = ? AND node_id = ?`, oldParentTree.String, oldParentNode.String); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE navigation_nodes SET subtree_count = subtree_count + 1, has_subtree = 1
		 WHERE tree_id = ? AND node_id = ?`, newParentTreeID, newParentNodeID); err != nil {
		return err
	}
	return tx.Commit()
}

// TreeNodes returns all nodes of one tree.
func (s *SQLite) TreeNodes(ctx context.Context, treeID, teamID string) ([]*navigation.Node, error) {
	nodes, _, err := s.TreeNodesPaginated(ctx, treeID, teamID, 0, 0)
	return nodes, err
}

// TreeNodesPaginated returns one page of nodes plus the total count. A zero
// limit returns everything.
func (s *SQLite) TreeNodesPaginated(ctx context.Context, treeID, teamID string, page, limit int) ([]*navigation.Node, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM navigation_nodes WHERE tree_id = ? AND team_id = ?`,
		treeID, teamID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT tree_id, node_id, label, node_type, position_x, position_y, is_root,
	                 screenshot, verifications, has_subtree, subtree_count
	          FROM navigation_nodes WHERE tree_id = ? AND team_id = ? ORDER BY node_id`
	args := []any{treeID, teamID}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, page*limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var nodes []*navigation.Node
	for rows.Next() {
		var n navigation.Node
		var verifications string
		if err := rows.Scan(&n.TreeID, &n.NodeID, &n.Label, &n.Type, &n.PositionX, &n.PositionY,
			&n.IsRoot, &n.Screenshot, &verifications, &n.HasSubtree, &n.SubtreeCount); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal([]byte(verifications), &n.Verifications); err != nil {
			return nil, 0, fmt.Errorf("node %s verifications: %w", n.NodeID, err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, total, rows.Err()
}

// SaveNode inserts or updates a node. When the node anchors subtrees, its
// label and screenshot propagate to every node with the same (team, node id)
// in descendant trees, in the same transaction.
func (s *SQLite) SaveNode(ctx context.Context, node *navigation.Node, teamID string) error {
	verifications, err := json.Marshal(node.Verifications)
	if err != nil {
		return err
	}
	if node.Verifications == nil {
		verifications = []byte("[]")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO navigation_nodes (tree_id, node_id, team_id, label, node_type, position_x, position_y,
		                               is_root, screenshot, verifications)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tree_id, node_id) DO UPDATE SET
		   label = excluded.label, node_type = excluded.node_type,
		   position_x = excluded.position_x, position_y = excluded.position_y,
		   is_root = excluded.is_root, screenshot = excluded.screenshot,
		   verifications = excluded.verifications`,
		node.TreeID, node.NodeID, teamID, node.Label, string(node.Type),
		node.PositionX, node.PositionY, boolInt(node.IsRoot), node.Screenshot, string(verifications))
	if err != nil {
		return err
	}

	// Label/screenshot mirroring across descendant trees of the anchoring
	// node, same (team_id, node_id).
	var anchored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM navigation_trees WHERE parent_tree_id = ? AND parent_node_id = ?`,
		node.TreeID, node.NodeID).Scan(&anchored); err != nil {
		return err
	}
	if anchored > 0 {
		if _, err := tx.ExecContext(ctx,
			`WITH RECURSIVE descendants(id) AS (
			   SELECT id FROM navigation_trees WHERE parent_tree_id = ?
			   UNION ALL
			   SELECT t.id FROM navigation_trees t JOIN descendants d ON t.parent_tree_id = d.id
			 )
			 UPDATE navigation_nodes SET label = ?, screenshot = ?
			 WHERE team_id = ? AND node_id = ? AND tree_id IN (SELECT id FROM descendants)`,
			node.TreeID, node.Label, node.Screenshot, teamID, node.NodeID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteNode removes a node, its touching edges and, when the node anchors
// subtrees, cascade-deletes those whole subtrees atomically.
func (s *SQLite) DeleteNode(ctx context.Context, treeID, nodeID, teamID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM navigation_trees WHERE parent_tree_id = ? AND parent_node_id = ? AND team_id = ?`,
		treeID, nodeID, teamID)
	if err != nil {
		return err
	}
	var subtrees []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		subtrees = append(subtrees, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, subtree := range subtrees {
		if err := s.deleteTreeTx(ctx, tx, subtree, teamID, false); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM navigation_edges WHERE tree_id = ? AND (source_node_id = ? OR target_node_id = ?)`,
		treeID, nodeID, nodeID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM navigation_nodes WHERE tree_id = ? AND node_id = ? AND team_id = ?`,
		treeID, nodeID, teamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// TreeEdges returns all edges of one tree.
func (s *SQLite) TreeEdges(ctx context.Context, treeID, teamID string) ([]*navigation.Edge, error) {
	return s.TreeEdgesFiltered(ctx, treeID, teamID, nil)
}

// TreeEdgesFiltered restricts the edge list to edges touching the given
// node ids; a nil filter returns everything.
func (s *SQLite) TreeEdgesFiltered(ctx context.Context, treeID, teamID string, nodeIDs []string) ([]*navigation.Edge, error) {
	query := `SELECT tree_id, edge_id, source_node_id, target_node_id, action_sets,
	                 default_action_set_id, final_wait_time, priority, threshold
	          FROM navigation_edges WHERE tree_id = ? AND team_id = ?`
	args := []any{treeID, teamID}
	if len(nodeIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nodeIDs)), ",")
		query += ` AND (source_node_id IN (` + placeholders + `) OR target_node_id IN (` + placeholders + `))`
		for _, id := range nodeIDs {
			args = append(args, id)
		}
		for _, id := range nodeIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY edge_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*navigation.Edge
	for rows.Next() {
		var e navigation.Edge
		var actionSets string
		if err := rows.Scan(&e.TreeID, &e.EdgeID, &e.SourceNodeID, &e.TargetNodeID, &actionSets,
			&e.DefaultActionSetID, &e.FinalWaitTime, &e.Priority, &e.Threshold); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actionSets), &e.ActionSets); err != nil {
			return nil, fmt.Errorf("edge %s action sets: %w", e.EdgeID, err)
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// SaveEdge inserts or updates an edge after validating its action sets.
func (s *SQLite) SaveEdge(ctx context.Context, edge *navigation.Edge, teamID string) error {
	if len(edge.ActionSets) == 0 {
		return fmt.Errorf("edge %s: at least one action set required", edge.EdgeID)
	}
	if _, ok := edge.DefaultActionSet(); !ok {
		return fmt.Errorf("edge %s: default action set %q not in action sets", edge.EdgeID, edge.DefaultActionSetID)
	}
	actionSets, err := json.Marshal(edge.ActionSets)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO navigation_edges (tree_id, edge_id, team_id, source_node_id, target_node_id,
		                               action_sets, default_action_set_id, final_wait_time, priority, threshold)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tree_id, edge_id) DO UPDATE SET
		   source_node_id = excluded.source_node_id, target_node_id = excluded.target_node_id,
		   action_sets = excluded.action_sets, default_action_set_id = excluded.default_action_set_id,
		   final_wait_time = excluded.final_wait_time, priority = excluded.priority,
		   threshold = excluded.threshold`,
		edge.TreeID, edge.EdgeID, teamID, edge.SourceNodeID, edge.TargetNodeID,
		string(actionSets), edge.DefaultActionSetID, edge.FinalWaitTime, edge.Priority, edge.Threshold)
	return err
}

// DeleteEdge removes one edge.
func (s *SQLite) DeleteEdge(ctx context.Context, treeID, edgeID, teamID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM navigation_edges WHERE tree_id = ? AND edge_id = ? AND team_id = ?`,
		treeID, edgeID, teamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
