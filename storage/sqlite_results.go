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
	"fmt"
	"time"
)

// InsertScriptResult writes one execution result row.
func (s *SQLite) InsertScriptResult(ctx context.Context, r *ScriptResult) error {
	steps, err := json.Marshal(r.StepResults)
	if err != nil {
		return err
	}
	if r.StepResults == nil {
		steps = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO script_results (id, team_id, script_type, script_name, host, device_id,
		                             success, started_at, execution_time_ms, report_url, step_results,
		                             checked, check_type, discard, discard_type, discard_comment)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TeamID, r.ScriptType, r.ScriptName, r.Host, r.DeviceID,
		boolInt(r.Success), r.StartedAt.UnixMilli(), r.ExecutionTimeMs, r.ReportURL, string(steps),
		nullBool(r.Checked), nullStr(r.CheckType), nullBool(r.Discard),
		nullStr(r.DiscardType), nullStr(r.DiscardComment))
	return err
}

// UpdateScriptResult rewrites a result row, including the review columns.
func (s *SQLite) UpdateScriptResult(ctx context.Context, r *ScriptResult) error {
	steps, err := json.Marshal(r.StepResults)
	if err != nil {
		return err
	}
	if r.StepResults == nil {
		steps = []byte("[]")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE script_results SET
		   success = ?, execution_time_ms = ?, report_url = ?, step_results = ?,
		   checked = ?, check_type = ?, discard = ?, discard_type = ?, discard_comment = ?
		 WHERE id = ? AND team_id = ?`,
		boolInt(r.Success), r.ExecutionTimeMs, r.ReportURL, string(steps),
		nullBool(r.Checked), nullStr(r.CheckType), nullBool(r.Discard),
		nullStr(r.DiscardType), nullStr(r.DiscardComment),
		r.ID, r.TeamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListScriptResults returns a team's results, newest first. Empty
// scriptType or scriptName match everything.
func (s *SQLite) ListScriptResults(ctx context.Context, teamID, scriptType, scriptName string) ([]*ScriptResult, error) {
	query := `SELECT id, team_id, script_type, script_name, host, device_id, success,
	                 started_at, execution_time_ms, report_url, step_results,
	                 checked, check_type, discard, discard_type, discard_comment
	          FROM script_results WHERE team_id = ?`
	args := []any{teamID}
	if scriptType != "" {
		query += ` AND script_type = ?`
		args = append(args, scriptType)
	}
	if scriptName != "" {
		query += ` AND script_name = ?`
		args = append(args, scriptName)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScriptResult
	for rows.Next() {
		var r ScriptResult
		var success int
		var started int64
		var steps string
		var checked, discard sql.NullBool
		var checkType, discardType, discardComment sql.NullString
		if err := rows.Scan(&r.ID, &r.TeamID, &r.ScriptType, &r.ScriptName, &r.Host, &r.DeviceID,
			&success, &started, &r.ExecutionTimeMs, &r.ReportURL, &steps,
			&checked, &checkType, &discard, &discardType, &discardComment); err != nil {
			return nil, err
		}
		r.Success = success != 0
		r.StartedAt = time.UnixMilli(started)
		if err := json.Unmarshal([]byte(steps), &r.StepResults); err != nil {
			return nil, fmt.Errorf("result %s step results: %w", r.ID, err)
		}
		if checked.Valid {
			r.Checked = &checked.Bool
		}
		if checkType.Valid {
			r.CheckType = &checkType.String
		}
		if discard.Valid {
			r.Discard = &discard.Bool
		}
		if discardType.Valid {
			r.DiscardType = &discardType.String
		}
		if discardComment.Valid {
			r.DiscardComment = &discardComment.String
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// InsertAlert writes one alert row.
func (s *SQLite) InsertAlert(ctx context.Context, a *Alert) error {
	var resolved any
	if a.ResolvedAt != nil {
		resolved = a.ResolvedAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, team_id, kind, message, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.TeamID, a.Kind, a.Message, a.CreatedAt.UnixMilli(), resolved)
	return err
}

// UpdateAlert rewrites an alert's message and resolution time.
func (s *SQLite) UpdateAlert(ctx context.Context, a *Alert) error {
	var resolved any
	if a.ResolvedAt != nil {
		resolved = a.ResolvedAt.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET message = ?, resolved_at = ? WHERE id = ? AND team_id = ?`,
		a.Message, resolved, a.ID, a.TeamID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
