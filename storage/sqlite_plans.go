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

	"github.com/virtualpytest/virtualpytest/plancache"
)

// Eviction policy for ai_plans.
const (
	planFailureMinExecs = 5
	planFailureMaxRate  = 0.3
	planStaleAge        = 90 * 24 * time.Hour
	planStaleMaxRate    = 0.7
	planMaxPerTeam      = 1000
)

const selectPlanColumns = `fingerprint, team_id, normalized_prompt, intent, target,
	device_model, ui_name, available_nodes, context_signature, graph,
	success_count, failure_count, execution_count, avg_execution_time_ms,
	last_used, last_success, last_failure, failure_reasons`

// PlanByFingerprint returns one plan, or nil on a miss.
func (s *SQLite) PlanByFingerprint(ctx context.Context, fingerprint string) (*plancache.CachedPlan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectPlanColumns+` FROM ai_plans WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanPlan(rows)
}

// FindCompatiblePlans returns a team's plans sharing the normalized prompt.
func (s *SQLite) FindCompatiblePlans(ctx context.Context, teamID, normalizedPrompt string) ([]*plancache.CachedPlan, error) {
	return s.queryPlans(ctx,
		`SELECT `+selectPlanColumns+` FROM ai_plans WHERE team_id = ? AND normalized_prompt = ?`,
		teamID, normalizedPrompt)
}

// TopPlans returns a team's most recently used plans.
func (s *SQLite) TopPlans(ctx context.Context, teamID string, limit int) ([]*plancache.CachedPlan, error) {
	return s.queryPlans(ctx,
		`SELECT `+selectPlanColumns+` FROM ai_plans WHERE team_id = ? ORDER BY last_used DESC LIMIT ?`,
		teamID, limit)
}

func (s *SQLite) queryPlans(ctx context.Context, query string, args ...any) ([]*plancache.CachedPlan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*plancache.CachedPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(rows *sql.Rows) (*plancache.CachedPlan, error) {
	var p plancache.CachedPlan
	var nodes, graph, reasons string
	var lastUsed, lastSuccess, lastFailure int64
	if err := rows.Scan(&p.Fingerprint, &p.TeamID, &p.NormalizedPrompt, &p.Intent, &p.Target,
		&p.DeviceModel, &p.UIName, &nodes, &p.ContextSignature, &graph,
		&p.SuccessCount, &p.FailureCount, &p.ExecutionCount, &p.AvgExecutionTimeMs,
		&lastUsed, &lastSuccess, &lastFailure, &reasons); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(nodes), &p.AvailableNodes); err != nil {
		return nil, fmt.Errorf("plan %s available nodes: %w", p.Fingerprint, err)
	}
	if err := json.Unmarshal([]byte(reasons), &p.FailureReasons); err != nil {
		return nil, fmt.Errorf("plan %s failure reasons: %w", p.Fingerprint, err)
	}
	p.Graph = []byte(graph)
	p.LastUsed = millisTime(lastUsed)
	p.LastSuccess = millisTime(lastSuccess)
	p.LastFailure = millisTime(lastFailure)
	return &p, nil
}

// UpsertPlan writes a plan row, replacing any previous version.
func (s *SQLite) UpsertPlan(ctx context.Context, plan *plancache.CachedPlan) error {
	nodes, err := json.Marshal(plan.AvailableNodes)
	if err != nil {
		return err
	}
	if plan.AvailableNodes == nil {
		nodes = []byte("[]")
	}
	reasons, err := json.Marshal(plan.FailureReasons)
	if err != nil {
		return err
	}
	if plan.FailureReasons == nil {
		reasons = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ai_plans (fingerprint, team_id, normalized_prompt, intent, target,
		                       device_model, ui_name, available_nodes, context_signature, graph,
		                       success_count, failure_count, execution_count, avg_execution_time_ms,
		                       last_used, last_success, last_failure, failure_reasons)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (fingerprint) DO UPDATE SET
		   graph = excluded.graph, available_nodes = excluded.available_nodes,
		   success_count = excluded.success_count, failure_count = excluded.failure_count,
		   execution_count = excluded.execution_count,
		   avg_execution_time_ms = excluded.avg_execution_time_ms,
		   last_used = excluded.last_used, last_success = excluded.last_success,
		   last_failure = excluded.last_failure, failure_reasons = excluded.failure_reasons`,
		plan.Fingerprint, plan.TeamID, plan.NormalizedPrompt, plan.Intent, plan.Target,
		plan.DeviceModel, plan.UIName, string(nodes), plan.ContextSignature, string(plan.Graph),
		plan.SuccessCount, plan.FailureCount, plan.ExecutionCount, plan.AvgExecutionTimeMs,
		timeMillis(plan.LastUsed), timeMillis(plan.LastSuccess), timeMillis(plan.LastFailure),
		string(reasons))
	return err
}

// InvalidatePlan deletes one plan by fingerprint.
func (s *SQLite) InvalidatePlan(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ai_plans WHERE fingerprint = ?`, fingerprint)
	return err
}

// PlanMaintenance evicts plans that keep failing, plans unused for 90 days
// without a strong success rate, and trims each team to its plan limit by
// least recent use.
func (s *SQLite) PlanMaintenance(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var removed int64
	res, err := tx.ExecContext(ctx,
		`DELETE FROM ai_plans
		 WHERE execution_count > ? AND CAST(success_count AS REAL) / execution_count < ?`,
		planFailureMinExecs, planFailureMaxRate)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	removed += n

	staleBefore := now.Add(-planStaleAge).UnixMilli()
	res, err = tx.ExecContext(ctx,
		`DELETE FROM ai_plans
		 WHERE last_used < ?
		   AND (execution_count = 0 OR CAST(success_count AS REAL) / execution_count < ?)`,
		staleBefore, planStaleMaxRate)
	if err != nil {
		return 0, err
	}
	n, _ = res.RowsAffected()
	removed += n

	res, err = tx.ExecContext(ctx,
		`DELETE FROM ai_plans WHERE fingerprint IN (
		   SELECT fingerprint FROM (
		     SELECT fingerprint,
		            ROW_NUMBER() OVER (PARTITION BY team_id ORDER BY last_used DESC) AS rn
		     FROM ai_plans
		   ) WHERE rn > ?
		 )`, planMaxPerTeam)
	if err != nil {
		return 0, err
	}
	n, _ = res.RowsAffected()
	removed += n

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(removed), nil
}

var _ plancache.Store = (*SQLite)(nil)

func timeMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func millisTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
