//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/internal/httpapi"
	"github.com/virtualpytest/virtualpytest/log"
	"github.com/virtualpytest/virtualpytest/plancache"
	"github.com/virtualpytest/virtualpytest/planner"
	"github.com/virtualpytest/virtualpytest/storage"
)

// aiTask is one in-flight AI execution tracked on the server side. The plan
// cache write happens exactly once, on the first status poll after the host
// reports completion.
type aiTask struct {
	hostTaskID string
	hostURL    string
	hostID     string
	deviceID   string
	teamID     string
	taskName   string
	lookup     *plancache.Lookup
	tc         plancache.TaskContext
	// graphJSON is the generated graph before transition pre-baking; cached
	// plans must stay portable across hierarchy rebuilds.
	graphJSON json.RawMessage
	startedAt time.Time
	cached    bool
	finalized bool
}

type aiExecuteRequest struct {
	TaskDescription string `json:"task_description"`
	DeviceID        string `json:"device_id"`
	UIName          string `json:"userinterface_name"`
	TreeID          string `json:"tree_id,omitempty"`
	UseCache        *bool  `json:"use_cache,omitempty"`
	DebugMode       bool   `json:"debug_mode,omitempty"`
}

// handleAIExecuteTask plans a free-form task (or reuses a cached plan) and
// dispatches it to the device's host.
func (s *Server) handleAIExecuteTask(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if s.planner == nil {
		httpapi.Errorf(w, http.StatusBadRequest, "AI planning is not configured")
		return
	}
	var req aiExecuteRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.TaskDescription == "" || req.DeviceID == "" {
		httpapi.Errorf(w, http.StatusBadRequest, "task_description and device_id are required")
		return
	}

	device, err := s.hosts.Device(req.DeviceID)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := s.hosts.HostForDevice(req.DeviceID)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if req.TreeID != "" && !s.nav.Cached(req.TreeID, teamID) {
		if _, err := s.nav.LoadHierarchy(ctx, req.TreeID, teamID); err != nil {
			writeError(w, err)
			return
		}
	}
	tc := plancache.TaskContext{
		TeamID:         teamID,
		DeviceModel:    device.Model,
		UIName:         req.UIName,
		AvailableNodes: s.availableNodes(req.TreeID, teamID),
		UseCache:       req.UseCache == nil || *req.UseCache,
		DebugMode:      req.DebugMode,
	}

	lookup, err := s.plans.Get(ctx, req.TaskDescription, tc)
	if err != nil {
		writeError(w, err)
		return
	}

	var g *execution.Graph
	var rawGraph json.RawMessage
	if lookup.Hit {
		g, err = planner.ParsePlan(lookup.Plan.Graph)
		if err != nil {
			// A stored plan that no longer parses is dropped and replanned.
			log.Warnf("cached plan %s unparsable, invalidating: %v", lookup.Plan.Fingerprint, err)
			if ierr := s.plans.Invalidate(ctx, teamID, lookup.Plan.Fingerprint); ierr != nil {
				log.Errorf("invalidate plan %s: %v", lookup.Plan.Fingerprint, ierr)
			}
			lookup.Hit, lookup.Plan = false, nil
		} else {
			rawGraph = lookup.Plan.Graph
		}
	}
	if g == nil {
		g, rawGraph, err = s.planner.Generate(ctx, req.TaskDescription, planner.DeviceContext{
			DeviceModel:    device.Model,
			UIName:         req.UIName,
			AvailableNodes: tc.AvailableNodes,
		})
		if err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.prebakeTransitions(ctx, g, req.TreeID, teamID); err != nil {
		writeError(w, err)
		return
	}
	graphJSON, err := json.Marshal(g)
	if err != nil {
		httpapi.Error(w, http.StatusInternalServerError, err)
		return
	}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	body := hostExecuteRequest{TeamID: teamID, DeviceID: req.DeviceID, Graph: graphJSON}
	if err := s.postHost(ctx, info.HostURL, "/host/aiagent/executeTask", teamID, body, &resp); err != nil {
		writeError(w, err)
		return
	}

	task := &aiTask{
		hostTaskID: resp.TaskID,
		hostURL:    info.HostURL,
		hostID:     info.HostID,
		deviceID:   req.DeviceID,
		teamID:     teamID,
		taskName:   taskDisplayName(req.TaskDescription),
		lookup:     lookup,
		tc:         tc,
		graphJSON:  rawGraph,
		startedAt:  time.Now(),
		cached:     lookup.Hit,
	}
	serverTaskID := uuid.NewString()
	s.mu.Lock()
	s.aiTasks[serverTaskID] = task
	s.mu.Unlock()

	httpapi.OK(w, map[string]any{
		"task_id":    serverTaskID,
		"host":       info.HostID,
		"cached":     lookup.Hit,
		"confidence": lookup.Confidence,
	})
}

// handleAIGetStatus proxies a status poll to the owning host. The first poll
// observing completion finalizes the task: plan-cache metrics, result row and
// review enqueue.
func (s *Server) handleAIGetStatus(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	q := r.URL.Query()
	taskID := q.Get("task_id")

	s.mu.Lock()
	task, ok := s.aiTasks[taskID]
	s.mu.Unlock()
	if !ok {
		writeError(w, execution.ErrTaskNotFound)
		return
	}

	query := url.Values{}
	query.Set("task_id", task.hostTaskID)
	query.Set("since", q.Get("since"))
	var status hostTaskStatus
	if err := s.getHost(r.Context(), task.hostURL, "/host/aiagent/status", teamID, query, &status); err != nil {
		writeError(w, err)
		return
	}
	status.TaskID = taskID

	if !status.IsExecuting && status.Result != nil {
		s.finalizeAITask(r.Context(), task, &status)
	}

	httpapi.OK(w, map[string]any{
		"task_id":       status.TaskID,
		"is_executing":  status.IsExecuting,
		"current_step":  status.CurrentStep,
		"execution_log": status.ExecutionLog,
		"log_index":     status.LogIndex,
		"result":        status.Result,
		"cached":        task.cached,
	})
}

// finalizeAITask records the outcome of one finished AI execution exactly once.
func (s *Server) finalizeAITask(ctx context.Context, task *aiTask, status *hostTaskStatus) {
	s.mu.Lock()
	if task.finalized {
		s.mu.Unlock()
		return
	}
	task.finalized = true
	s.mu.Unlock()

	result := status.Result
	allSteps := true
	failureReason := ""
	for _, step := range result.Steps {
		if !step.Success {
			allSteps = false
			if failureReason == "" {
				failureReason = step.Error
			}
		}
	}
	if err := s.plans.StoreResult(ctx, task.lookup, task.tc, task.graphJSON,
		result.Success, allSteps, result.ExecutionTimeMs, failureReason); err != nil {
		log.Errorf("plan cache store for task %s: %v", task.hostTaskID, err)
	}

	s.recordResult(ctx, resultFromStatus(task.teamID, storage.ScriptTypeAI,
		task.taskName, task.hostID, task.deviceID, task.startedAt, status))
}

// taskDisplayName derives a stable result-row name from the prompt.
func taskDisplayName(prompt string) string {
	words := strings.Fields(strings.ToLower(prompt))
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, "_")
}

type analyzeRequest struct {
	Prompt         string `json:"prompt"`
	UserInterfaces []struct {
		Name        string `json:"userinterface_name"`
		DeviceModel string `json:"device_model"`
		TreeID      string `json:"tree_id,omitempty"`
	} `json:"userinterfaces"`
}

// handleAnalyzeTestCase runs phase one of AI testcase generation: a
// compatibility verdict per candidate UI, held for later confirmation.
func (s *Server) handleAnalyzeTestCase(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if s.analyzer == nil {
		httpapi.Errorf(w, http.StatusBadRequest, "AI planning is not configured")
		return
	}
	var req analyzeRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.Prompt == "" || len(req.UserInterfaces) == 0 {
		httpapi.Errorf(w, http.StatusBadRequest, "prompt and userinterfaces are required")
		return
	}

	uis := make([]planner.UIInfo, 0, len(req.UserInterfaces))
	for _, ui := range req.UserInterfaces {
		if ui.TreeID != "" && !s.nav.Cached(ui.TreeID, teamID) {
			if _, err := s.nav.LoadHierarchy(r.Context(), ui.TreeID, teamID); err != nil {
				writeError(w, err)
				return
			}
		}
		uis = append(uis, planner.UIInfo{
			Name:           ui.Name,
			DeviceModel:    ui.DeviceModel,
			AvailableNodes: s.availableNodes(ui.TreeID, teamID),
		})
	}

	analysis, err := s.analyzer.AnalyzeTestCase(r.Context(), req.Prompt, uis)
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{
		"analysis_id":          analysis.ID,
		"compatibility_matrix": analysis.Compatibility,
	})
}

// handleGenerateTestCases runs phase two: graphs for the confirmed UIs,
// persisted as AI-created testcases.
func (s *Server) handleGenerateTestCases(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	if s.analyzer == nil {
		httpapi.Errorf(w, http.StatusBadRequest, "AI planning is not configured")
		return
	}
	var req struct {
		AnalysisID   string   `json:"analysis_id"`
		ConfirmedUIs []string `json:"confirmed_uis"`
		Folder       string   `json:"folder,omitempty"`
		Tags         []string `json:"tags,omitempty"`
	}
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}

	generated, err := s.analyzer.GenerateTestCases(r.Context(), req.AnalysisID, req.ConfirmedUIs)
	if err != nil {
		writeError(w, err)
		return
	}
	folderID, err := s.store.GetOrCreateFolder(r.Context(), teamID, req.Folder)
	if err != nil {
		writeError(w, err)
		return
	}

	saved := make([]*storage.Testcase, 0, len(generated))
	for _, gen := range generated {
		tc := &storage.Testcase{
			ID:             uuid.NewString(),
			TeamID:         teamID,
			Name:           gen.Name,
			UIName:         gen.UIName,
			GraphJSON:      gen.GraphJSON,
			CreationMethod: storage.CreationAI,
			AIPrompt:       gen.AIPrompt,
			AIAnalysis:     gen.AIAnalysis,
			FolderID:       folderID,
			Tags:           req.Tags,
		}
		if tc.Tags == nil {
			tc.Tags = []string{}
		}
		if err := s.store.SaveTestcase(r.Context(), tc); err != nil {
			writeError(w, err)
			return
		}
		saved = append(saved, tc)
	}
	httpapi.OK(w, map[string]any{"testcases": saved})
}

// handleAIExecuteTestCase runs a previously generated testcase on a device.
func (s *Server) handleAIExecuteTestCase(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var req struct {
		TestCaseID string `json:"test_case_id"`
		DeviceID   string `json:"device_id"`
		TreeID     string `json:"tree_id,omitempty"`
	}
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.TestCaseID == "" || req.DeviceID == "" {
		httpapi.Errorf(w, http.StatusBadRequest, "test_case_id and device_id are required")
		return
	}
	taskID, hostID, err := s.executeStoredTestcase(r.Context(), teamID, req.TestCaseID, req.DeviceID, req.TreeID, "aitestcase")
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"task_id": taskID, "host": hostID})
}
