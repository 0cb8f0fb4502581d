//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package plancache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/virtualpytest/virtualpytest/log"
)

const (
	// ewmaAlpha weights new samples in the average execution time.
	ewmaAlpha = 0.2
	// minJaccard is the node-set overlap required for a compatible plan.
	minJaccard = 0.8
	// topNPerTeam bounds the in-memory index.
	topNPerTeam = 50
)

// Confidence levels of a reuse decision.
const (
	ConfidenceHigh    = "high"
	ConfidenceMonitor = "monitor"
)

// CachedPlan is one stored execution graph with its reuse metrics.
type CachedPlan struct {
	Fingerprint      string          `json:"fingerprint"`
	TeamID           string          `json:"team_id"`
	NormalizedPrompt string          `json:"normalized_prompt"`
	Intent           string          `json:"intent"`
	Target           string          `json:"target"`
	DeviceModel      string          `json:"device_model"`
	UIName           string          `json:"ui_name"`
	AvailableNodes   []string        `json:"available_nodes"`
	ContextSignature string          `json:"context_signature"`
	Graph            json.RawMessage `json:"graph"`

	SuccessCount       int       `json:"success_count"`
	FailureCount       int       `json:"failure_count"`
	ExecutionCount     int       `json:"execution_count"`
	AvgExecutionTimeMs float64   `json:"avg_execution_time_ms"`
	LastUsed           time.Time `json:"last_used"`
	LastSuccess        time.Time `json:"last_success"`
	LastFailure        time.Time `json:"last_failure"`
	FailureReasons     []string  `json:"failure_reasons,omitempty"`
}

// SuccessRate is success_count / execution_count.
func (p *CachedPlan) SuccessRate() float64 {
	if p.ExecutionCount == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.ExecutionCount)
}

// TaskContext is the execution context a lookup or store runs under.
type TaskContext struct {
	TeamID         string
	DeviceModel    string
	UIName         string
	AvailableNodes []string
	UseCache       bool
	DebugMode      bool
}

// Store is the persistence slice the plan cache consumes.
type Store interface {
	PlanByFingerprint(ctx context.Context, fingerprint string) (*CachedPlan, error)
	// FindCompatiblePlans returns candidates sharing the normalized prompt.
	FindCompatiblePlans(ctx context.Context, teamID, normalizedPrompt string) ([]*CachedPlan, error)
	UpsertPlan(ctx context.Context, plan *CachedPlan) error
	InvalidatePlan(ctx context.Context, fingerprint string) error
	// TopPlans returns a team's plans ordered for the memory index.
	TopPlans(ctx context.Context, teamID string, limit int) ([]*CachedPlan, error)
	// PlanMaintenance applies the eviction policy and reports removals.
	PlanMaintenance(ctx context.Context, now time.Time) (int, error)
}

// Lookup is the outcome of a cache query.
type Lookup struct {
	Plan       *CachedPlan
	Hit        bool
	Exact      bool
	Confidence string
	// Fingerprint of the current request, for storage after generation.
	Fingerprint string
	Normalized  NormalizedPrompt
}

// Cache is the AI plan cache: content-addressed store plus a small per-team
// memory index refreshed on writes.
type Cache struct {
	store Store

	mu    sync.RWMutex
	index map[string][]*CachedPlan
}

// New creates a plan cache over the given store.
func New(store Store) *Cache {
	return &Cache{store: store, index: make(map[string][]*CachedPlan)}
}

// WarmIndex loads the per-team memory index from the store.
func (c *Cache) WarmIndex(ctx context.Context, teamIDs ...string) {
	for _, teamID := range teamIDs {
		plans, err := c.store.TopPlans(ctx, teamID, topNPerTeam)
		if err != nil {
			log.Warnf("plan cache: warm index for team %s: %v", teamID, err)
			continue
		}
		c.mu.Lock()
		c.index[teamID] = plans
		c.mu.Unlock()
	}
}

// Get looks up a reusable plan for the prompt and context. A miss is a
// normal event, never an error.
func (c *Cache) Get(ctx context.Context, prompt string, tc TaskContext) (*Lookup, error) {
	normalized := Normalize(prompt)
	fp := Fingerprint(normalized.Text, tc.DeviceModel, tc.UIName, tc.AvailableNodes)
	lookup := &Lookup{Fingerprint: fp, Normalized: normalized}

	if !tc.UseCache {
		log.Infof("plan cache: lookup skipped (use_cache=false) for %q", normalized.Text)
		return lookup, nil
	}

	plan, err := c.store.PlanByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	if plan != nil {
		if ok, confidence := reusable(plan); ok {
			log.Infof("plan cache: HIT (exact) fingerprint=%s confidence=%s", fp, confidence)
			lookup.Plan, lookup.Hit, lookup.Exact, lookup.Confidence = plan, true, true, confidence
			return lookup, nil
		}
		log.Infof("plan cache: entry %s below reuse threshold (rate=%.2f) — will regenerate",
			fp, plan.SuccessRate())
		return lookup, nil
	}

	candidates, err := c.store.FindCompatiblePlans(ctx, tc.TeamID, normalized.Text)
	if err != nil {
		return nil, err
	}
	var compatible []*CachedPlan
	for _, cand := range candidates {
		if cand.DeviceModel != tc.DeviceModel || cand.UIName != tc.UIName {
			continue
		}
		if jaccard(tc.AvailableNodes, cand.AvailableNodes) < minJaccard {
			continue
		}
		compatible = append(compatible, cand)
	}
	sort.SliceStable(compatible, func(i, j int) bool {
		a, b := compatible[i], compatible[j]
		if a.SuccessRate() != b.SuccessRate() {
			return a.SuccessRate() > b.SuccessRate()
		}
		if a.ExecutionCount != b.ExecutionCount {
			return a.ExecutionCount > b.ExecutionCount
		}
		return a.LastUsed.After(b.LastUsed)
	})
	for _, cand := range compatible {
		if ok, confidence := reusable(cand); ok {
			log.Infof("plan cache: HIT (compatible) fingerprint=%s confidence=%s", cand.Fingerprint, confidence)
			lookup.Plan, lookup.Hit, lookup.Confidence = cand, true, confidence
			return lookup, nil
		}
	}

	log.Infof("plan cache: MISS (normal) — will generate plan for %q", normalized.Text)
	return lookup, nil
}

// reusable applies the reuse thresholds: ≥0.8 with ≥2 executions is high
// confidence, ≥0.6 is reuse-with-monitoring, below 0.5 or an invalid graph
// is discarded.
func reusable(p *CachedPlan) (bool, string) {
	if !json.Valid(p.Graph) || len(p.Graph) == 0 {
		return false, ""
	}
	rate := p.SuccessRate()
	if rate >= 0.8 && p.ExecutionCount >= 2 {
		return true, ConfidenceHigh
	}
	if rate >= 0.6 {
		return true, ConfidenceMonitor
	}
	return false, ""
}

// StoreResult records an execution outcome. A plan is stored only when the
// whole execution and every step succeeded, caching is enabled and debug
// mode is off; for an existing cached plan a failure updates its metrics.
func (c *Cache) StoreResult(ctx context.Context, lookup *Lookup, tc TaskContext,
	graph json.RawMessage, success, allStepsSucceeded bool, execTimeMs int64, failureReason string) error {

	now := time.Now()

	// Caching disabled or debug runs never touch the store.
	if !tc.UseCache || tc.DebugMode {
		var reasons []string
		if !tc.UseCache {
			reasons = append(reasons, "use_cache=false")
		}
		if tc.DebugMode {
			reasons = append(reasons, "debug_mode=true")
		}
		log.Infof("plan cache: NOT STORED: %s", strings.Join(reasons, ", "))
		return nil
	}

	if existing, err := c.store.PlanByFingerprint(ctx, lookup.Fingerprint); err != nil {
		return err
	} else if existing != nil {
		existing.ExecutionCount++
		existing.LastUsed = now
		if success && allStepsSucceeded {
			existing.SuccessCount++
			existing.LastSuccess = now
			existing.AvgExecutionTimeMs = ewma(existing.AvgExecutionTimeMs, float64(execTimeMs))
		} else {
			existing.FailureCount++
			existing.LastFailure = now
			if failureReason != "" {
				existing.FailureReasons = append(existing.FailureReasons, failureReason)
			}
		}
		if err := c.store.UpsertPlan(ctx, existing); err != nil {
			return err
		}
		c.refreshIndex(ctx, tc.TeamID)
		log.Infof("plan cache: metrics updated fingerprint=%s rate=%.2f",
			existing.Fingerprint, existing.SuccessRate())
		return nil
	}

	var reasons []string
	if !success {
		reasons = append(reasons, "execution failed")
	}
	if !allStepsSucceeded {
		reasons = append(reasons, "not all steps succeeded")
	}
	if len(reasons) > 0 {
		log.Infof("plan cache: NOT STORED: %s", strings.Join(reasons, ", "))
		return nil
	}

	plan := &CachedPlan{
		Fingerprint:        lookup.Fingerprint,
		TeamID:             tc.TeamID,
		NormalizedPrompt:   lookup.Normalized.Text,
		Intent:             lookup.Normalized.Intent,
		Target:             lookup.Normalized.Target,
		DeviceModel:        tc.DeviceModel,
		UIName:             tc.UIName,
		AvailableNodes:     append([]string(nil), tc.AvailableNodes...),
		ContextSignature:   Fingerprint("", tc.DeviceModel, tc.UIName, tc.AvailableNodes),
		Graph:              graph,
		SuccessCount:       1,
		ExecutionCount:     1,
		AvgExecutionTimeMs: float64(execTimeMs),
		LastUsed:           now,
		LastSuccess:        now,
	}
	if err := c.store.UpsertPlan(ctx, plan); err != nil {
		return err
	}
	c.refreshIndex(ctx, tc.TeamID)
	log.Infof("plan cache: STORED fingerprint=%s", plan.Fingerprint)
	return nil
}

// Invalidate removes one plan by fingerprint.
func (c *Cache) Invalidate(ctx context.Context, teamID, fingerprint string) error {
	if err := c.store.InvalidatePlan(ctx, fingerprint); err != nil {
		return err
	}
	c.refreshIndex(ctx, teamID)
	return nil
}

// Maintenance applies the daily eviction policy.
func (c *Cache) Maintenance(ctx context.Context) {
	removed, err := c.store.PlanMaintenance(ctx, time.Now())
	if err != nil {
		log.Errorf("plan cache: maintenance: %v", err)
		return
	}
	log.Infof("plan cache: maintenance removed %d entries", removed)
}

func (c *Cache) refreshIndex(ctx context.Context, teamID string) {
	plans, err := c.store.TopPlans(ctx, teamID, topNPerTeam)
	if err != nil {
		log.Warnf("plan cache: refresh index for team %s: %v", teamID, err)
		return
	}
	c.mu.Lock()
	c.index[teamID] = plans
	c.mu.Unlock()
}

// Indexed returns the memory index snapshot for a team.
func (c *Cache) Indexed(teamID string) []*CachedPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*CachedPlan(nil), c.index[teamID]...)
}

func ewma(old, sample float64) float64 {
	if old == 0 {
		return sample
	}
	return ewmaAlpha*sample + (1-ewmaAlpha)*old
}
