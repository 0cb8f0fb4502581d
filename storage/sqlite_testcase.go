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
	"errors"
	"fmt"
	"strings"
	"time"
)

// SaveTestcase inserts or updates a testcase. The (team, name) pair is
// unique; a clash with a different testcase id reports ErrDuplicateName.
// Tags on the struct replace the stored tag set.
func (s *SQLite) SaveTestcase(ctx context.Context, tc *Testcase) error {
	var ownerID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM testcases WHERE team_id = ? AND name = ?`, tc.TeamID, tc.Name).Scan(&ownerID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil && ownerID != tc.ID {
		return fmt.Errorf("%w: testcase %q", ErrDuplicateName, tc.Name)
	}

	now := time.Now()
	if tc.CreatedAt.IsZero() {
		tc.CreatedAt = now
	}
	tc.UpdatedAt = now
	if tc.CreationMethod == "" {
		tc.CreationMethod = CreationVisual
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO testcases (id, team_id, name, ui_name, description, graph_json,
		                        creation_method, ai_prompt, ai_analysis, folder_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, ui_name = excluded.ui_name, description = excluded.description,
		   graph_json = excluded.graph_json, creation_method = excluded.creation_method,
		   ai_prompt = excluded.ai_prompt, ai_analysis = excluded.ai_analysis,
		   folder_id = excluded.folder_id, updated_at = excluded.updated_at`,
		tc.ID, tc.TeamID, tc.Name, tc.UIName, tc.Description, string(tc.GraphJSON),
		tc.CreationMethod, tc.AIPrompt, tc.AIAnalysis, tc.FolderID,
		tc.CreatedAt.UnixMilli(), tc.UpdatedAt.UnixMilli())
	if err != nil {
		return err
	}
	if tc.Tags != nil {
		return s.SetExecutableTags(ctx, tc.TeamID, ScriptTypeTestcase, tc.ID, tc.Tags)
	}
	return nil
}

// ListTestcases returns a team's testcases, newest first, tags included.
func (s *SQLite) ListTestcases(ctx context.Context, teamID string) ([]*Testcase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, name, ui_name, description, graph_json, creation_method,
		        ai_prompt, ai_analysis, folder_id, created_at, updated_at
		 FROM testcases WHERE team_id = ? ORDER BY updated_at DESC`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Testcase
	for rows.Next() {
		tc, err := scanTestcase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, tc := range out {
		tags, err := s.ExecutableTags(ctx, teamID, ScriptTypeTestcase, tc.ID)
		if err != nil {
			return nil, err
		}
		tc.Tags = tags
	}
	return out, nil
}

// GetTestcase returns one testcase with its tags.
func (s *SQLite) GetTestcase(ctx context.Context, id, teamID string) (*Testcase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, name, ui_name, description, graph_json, creation_method,
		        ai_prompt, ai_analysis, folder_id, created_at, updated_at
		 FROM testcases WHERE id = ? AND team_id = ?`, id, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	tc, err := scanTestcase(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	tags, err := s.ExecutableTags(ctx, teamID, ScriptTypeTestcase, tc.ID)
	if err != nil {
		return nil, err
	}
	tc.Tags = tags
	return tc, nil
}

func scanTestcase(rows *sql.Rows) (*Testcase, error) {
	var tc Testcase
	var graph string
	var created, updated int64
	if err := rows.Scan(&tc.ID, &tc.TeamID, &tc.Name, &tc.UIName, &tc.Description, &graph,
		&tc.CreationMethod, &tc.AIPrompt, &tc.AIAnalysis, &tc.FolderID, &created, &updated); err != nil {
		return nil, err
	}
	tc.GraphJSON = []byte(graph)
	tc.CreatedAt = time.UnixMilli(created)
	tc.UpdatedAt = time.UnixMilli(updated)
	return &tc, nil
}

// DeleteTestcase removes a testcase and its tag links.
func (s *SQLite) DeleteTestcase(ctx context.Context, id, teamID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM testcases WHERE id = ? AND team_id = ?`, id, teamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM executable_tags WHERE team_id = ? AND executable_type = ? AND executable_id = ?`,
		teamID, ScriptTypeTestcase, id)
	return err
}

// GetOrCreateFolder resolves a folder name to its id, creating the folder on
// first use. The empty name maps to the reserved root folder.
func (s *SQLite) GetOrCreateFolder(ctx context.Context, teamID, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RootFolderID, nil
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM folders WHERE team_id = ? AND name = ?`, teamID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (team_id, name) VALUES (?, ?)
		 ON CONFLICT (team_id, name) DO NOTHING`, teamID, name)
	if err != nil {
		return 0, err
	}
	if id, err = res.LastInsertId(); err == nil && id > 0 {
		if n, _ := res.RowsAffected(); n > 0 {
			return id, nil
		}
	}
	// Lost a concurrent insert race; the row exists now.
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM folders WHERE team_id = ? AND name = ?`, teamID, name).Scan(&id)
	return id, err
}

// GetOrCreateTag resolves a tag name (lowercased) to its tag, creating it
// with the next palette color on first use.
func (s *SQLite) GetOrCreateTag(ctx context.Context, teamID, name string) (*Tag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, fmt.Errorf("tag name must not be empty")
	}
	tag, err := s.tagByName(ctx, teamID, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tags WHERE team_id = ?`, teamID).Scan(&count); err != nil {
		return nil, err
	}
	color := paletteColor(count)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (team_id, name, color) VALUES (?, ?, ?)
		 ON CONFLICT (team_id, name) DO NOTHING`, teamID, name, color); err != nil {
		return nil, err
	}
	return s.tagByName(ctx, teamID, name)
}

func (s *SQLite) tagByName(ctx context.Context, teamID, name string) (*Tag, error) {
	var t Tag
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, color FROM tags WHERE team_id = ? AND name = ?`, teamID, name).
		Scan(&t.ID, &t.Name, &t.Color)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListFolders returns a team's folders, the reserved root first.
func (s *SQLite) ListFolders(ctx context.Context, teamID string) ([]*Folder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM folders WHERE team_id = ? ORDER BY name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Folder{{ID: RootFolderID, Name: "Root"}}
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

// ListTags returns a team's tags ordered by name.
func (s *SQLite) ListTags(ctx context.Context, teamID string) ([]*Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, color FROM tags WHERE team_id = ? ORDER BY name`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SetExecutableTags replaces the tag set of one executable, auto-creating
// any tag named for the first time.
func (s *SQLite) SetExecutableTags(ctx context.Context, teamID, executableType, executableID string, tagNames []string) error {
	var tagIDs []int64
	for _, name := range tagNames {
		tag, err := s.GetOrCreateTag(ctx, teamID, name)
		if err != nil {
			return err
		}
		tagIDs = append(tagIDs, tag.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM executable_tags WHERE team_id = ? AND executable_type = ? AND executable_id = ?`,
		teamID, executableType, executableID); err != nil {
		return err
	}
	for _, tagID := range tagIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO executable_tags (team_id, executable_type, executable_id, tag_id)
			 VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
			teamID, executableType, executableID, tagID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ExecutableTags returns the tag names linked to one executable.
func (s *SQLite) ExecutableTags(ctx context.Context, teamID, executableType, executableID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.name FROM executable_tags et JOIN tags t ON t.id = et.tag_id
		 WHERE et.team_id = ? AND et.executable_type = ? AND et.executable_id = ?
		 ORDER BY t.name`, teamID, executableType, executableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
