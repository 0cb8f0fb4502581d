//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package storage is the persistence layer: a normalized store for trees,
// nodes, edges, testcases, plans and results. All writes from other
// components go through it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/navigation"
	"github.com/virtualpytest/virtualpytest/plancache"
)

var (
	// ErrNotFound indicates a missing entity.
	ErrNotFound = errors.New("entity not found")
	// ErrMaxDepth rejects a subtree below the deepest allowed level.
	ErrMaxDepth = errors.New("maximum nesting depth reached (5 levels)")
	// ErrDuplicateName rejects a name that must be unique per team.
	ErrDuplicateName = errors.New("name already in use")
)

// RootFolderID is the reserved root folder.
const RootFolderID = 0

// Script types of a result row.
const (
	ScriptTypeScript   = "script"
	ScriptTypeTestcase = "testcase"
	ScriptTypeAI       = "ai"
)

// Testcase creation methods.
const (
	CreationVisual = "visual"
	CreationAI     = "ai"
)

// Testcase is a stored execution graph with its organizational metadata.
type Testcase struct {
	ID             string          `json:"testcase_id"`
	TeamID         string          `json:"team_id"`
	Name           string          `json:"name"`
	UIName         string          `json:"ui_name"`
	Description    string          `json:"description,omitempty"`
	GraphJSON      json.RawMessage `json:"graph_json"`
	CreationMethod string          `json:"creation_method"`
	AIPrompt       string          `json:"ai_prompt,omitempty"`
	AIAnalysis     string          `json:"ai_analysis,omitempty"`
	FolderID       int64           `json:"folder_id"`
	Tags           []string        `json:"tags,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Folder is a flat organizational bucket. ID 0 is the reserved root.
type Folder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Tag is a lowercase label with a palette color.
type Tag struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// ScriptResult is one script_results row. The review columns are written
// only by the external review pipeline.
type ScriptResult struct {
	ID              string                 `json:"id"`
	TeamID          string                 `json:"team_id"`
	ScriptType      string                 `json:"script_type"`
	ScriptName      string                 `json:"script_name"`
	Host            string                 `json:"host"`
	DeviceID        string                 `json:"device_id"`
	Success         bool                   `json:"success"`
	StartedAt       time.Time              `json:"started_at"`
	ExecutionTimeMs int64                  `json:"execution_time_ms"`
	ReportURL       string                 `json:"report_url,omitempty"`
	StepResults     []execution.StepRecord `json:"step_results,omitempty"`

	Checked        *bool   `json:"checked,omitempty"`
	CheckType      *string `json:"check_type,omitempty"`
	Discard        *bool   `json:"discard,omitempty"`
	DiscardType    *string `json:"discard_type,omitempty"`
	DiscardComment *string `json:"discard_comment,omitempty"`
}

// Alert is a monitoring row surfaced to operators.
type Alert struct {
	ID         string     `json:"id"`
	TeamID     string     `json:"team_id"`
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// TreeStore covers tree, node and edge entity operations. It is a superset
// of navigation.Store so the navigation engine can consume it directly.
type TreeStore interface {
	navigation.Store

	SaveTree(ctx context.Context, tree *navigation.Tree) error
	DeleteTree(ctx context.Context, treeID, teamID string) error
	// MoveSubtree re-anchors a subtree under a new (tree, node) pair.
	MoveSubtree(ctx context.Context, subtreeID, newParentTreeID, newParentNodeID, teamID string) error
	// NodeSubtrees lists the trees anchored at one (tree, node) pair.
	NodeSubtrees(ctx context.Context, treeID, nodeID, teamID string) ([]*navigation.Tree, error)

	TreeNodesPaginated(ctx context.Context, treeID, teamID string, page, limit int) ([]*navigation.Node, int, error)
	SaveNode(ctx context.Context, node *navigation.Node, teamID string) error
	DeleteNode(ctx context.Context, treeID, nodeID, teamID string) error

	// TreeEdgesFiltered restricts the edge list to the given node ids.
	TreeEdgesFiltered(ctx context.Context, treeID, teamID string, nodeIDs []string) ([]*navigation.Edge, error)
	SaveEdge(ctx context.Context, edge *navigation.Edge, teamID string) error
	DeleteEdge(ctx context.Context, treeID, edgeID, teamID string) error
}

// TestcaseStore covers testcases, folders, tags and executable tagging.
type TestcaseStore interface {
	SaveTestcase(ctx context.Context, tc *Testcase) error
	ListTestcases(ctx context.Context, teamID string) ([]*Testcase, error)
	GetTestcase(ctx context.Context, id, teamID string) (*Testcase, error)
	DeleteTestcase(ctx context.Context, id, teamID string) error

	GetOrCreateFolder(ctx context.Context, teamID, name string) (int64, error)
	GetOrCreateTag(ctx context.Context, teamID, name string) (*Tag, error)
	ListFolders(ctx context.Context, teamID string) ([]*Folder, error)
	ListTags(ctx context.Context, teamID string) ([]*Tag, error)
	// SetExecutableTags replaces the tag set of one executable.
	SetExecutableTags(ctx context.Context, teamID, executableType, executableID string, tagNames []string) error
	ExecutableTags(ctx context.Context, teamID, executableType, executableID string) ([]string, error)
}

// ResultStore covers script results and alerts.
type ResultStore interface {
	InsertScriptResult(ctx context.Context, r *ScriptResult) error
	UpdateScriptResult(ctx context.Context, r *ScriptResult) error
	ListScriptResults(ctx context.Context, teamID, scriptType, scriptName string) ([]*ScriptResult, error)

	InsertAlert(ctx context.Context, a *Alert) error
	UpdateAlert(ctx context.Context, a *Alert) error
}

// Store is the full persistence contract.
type Store interface {
	TreeStore
	TestcaseStore
	ResultStore
	plancache.Store

	Close() error
}
