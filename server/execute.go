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
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/virtualpytest/virtualpytest/internal/httpapi"
	"github.com/virtualpytest/virtualpytest/log"
	"github.com/virtualpytest/virtualpytest/planner"
	"github.com/virtualpytest/virtualpytest/storage"
)

// handleTestcaseExecute proxies a stored testcase to the host owning the
// target device. The result row is recorded when the host reports completion.
func (s *Server) handleTestcaseExecute(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var req struct {
		DeviceID string `json:"device_id"`
		// TreeID roots navigation resolution; empty means the graph must
		// carry pre-baked transitions already.
		TreeID string `json:"tree_id,omitempty"`
	}
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.DeviceID == "" {
		httpapi.Errorf(w, http.StatusBadRequest, "device_id is required")
		return
	}

	taskID, hostID, err := s.executeStoredTestcase(r.Context(), teamID, mux.Vars(r)["id"], req.DeviceID, req.TreeID, "testcase")
	if err != nil {
		writeError(w, err)
		return
	}
	httpapi.OK(w, map[string]any{"task_id": taskID, "host": hostID})
}

// executeStoredTestcase loads a testcase, routes it to the device's host and
// leaves a poller behind that records the result row on completion.
func (s *Server) executeStoredTestcase(ctx context.Context, teamID, testcaseID, deviceID, treeID, kind string) (taskID, hostID string, err error) {
	tc, err := s.store.GetTestcase(ctx, testcaseID, teamID)
	if err != nil {
		return "", "", err
	}
	g, err := planner.ParsePlan(tc.GraphJSON)
	if err != nil {
		return "", "", err
	}
	info, err := s.hosts.HostForDevice(deviceID)
	if err != nil {
		return "", "", err
	}
	if err := s.prebakeTransitions(ctx, g, treeID, teamID); err != nil {
		return "", "", err
	}
	graphJSON, err := json.Marshal(g)
	if err != nil {
		return "", "", err
	}

	var resp struct {
		TaskID string `json:"task_id"`
	}
	body := hostExecuteRequest{TeamID: teamID, DeviceID: deviceID, Graph: graphJSON}
	if err := s.postHost(ctx, info.HostURL, "/host/"+kind+"/executeTask", teamID, body, &resp); err != nil {
		return "", "", err
	}

	startedAt := time.Now()
	hostURL, name := info.HostURL, tc.Name
	owner := info.HostID
	if err := s.pool.Submit(func() {
		status, err := s.pollHostTask(context.Background(), hostURL, kind, resp.TaskID, teamID)
		if err != nil {
			log.Errorf("testcase %s on %s: poll failed: %v", name, deviceID, err)
			return
		}
		s.recordResult(context.Background(), resultFromStatus(
			teamID, storage.ScriptTypeTestcase, name, owner, deviceID, startedAt, status))
	}); err != nil {
		log.Errorf("testcase %s: submit poller: %v", name, err)
	}
	return resp.TaskID, owner, nil
}

// scriptTarget addresses one device of a multi-device script run.
type scriptTarget struct {
	Host     string `json:"host"`
	DeviceID string `json:"device_id"`
}

// scriptCompletion is the per-target outcome of a script run.
type scriptCompletion struct {
	Host            string   `json:"host"`
	DeviceID        string   `json:"device_id"`
	Success         bool     `json:"success"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	Error           string   `json:"error,omitempty"`
	ExecutionLog    []string `json:"execution_log,omitempty"`
}

// handleScriptExecute fans one script graph out to several devices at once,
// streaming one completion line per target as it finishes and a summary line
// at the end. A team runs at most one multi-device execution at a time; the
// lock holds until the last target drains.
func (s *Server) handleScriptExecute(w http.ResponseWriter, r *http.Request) {
	teamID := httpapi.TeamID(r)
	var req struct {
		ScriptName string          `json:"script_name"`
		GraphJSON  json.RawMessage `json:"graph_json"`
		Targets    []scriptTarget  `json:"targets"`
		TreeID     string          `json:"tree_id,omitempty"`
	}
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.ScriptName == "" || len(req.GraphJSON) == 0 || len(req.Targets) == 0 {
		httpapi.Errorf(w, http.StatusBadRequest, "script_name, graph_json and targets are required")
		return
	}

	g, err := planner.ParsePlan(req.GraphJSON)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.prebakeTransitions(r.Context(), g, req.TreeID, teamID); err != nil {
		writeError(w, err)
		return
	}
	graphJSON, err := json.Marshal(g)
	if err != nil {
		httpapi.Error(w, http.StatusInternalServerError, err)
		return
	}

	if !s.lockTeam(teamID) {
		httpapi.Errorf(w, http.StatusConflict, "team already has a multi-device execution in progress")
		return
	}
	defer s.unlockTeam(teamID)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	done := make(chan scriptCompletion, len(req.Targets))
	for _, target := range req.Targets {
		target := target
		if submitErr := s.pool.Submit(func() {
			done <- s.runScriptTarget(teamID, req.ScriptName, target, graphJSON)
		}); submitErr != nil {
			done <- scriptCompletion{
				Host: target.Host, DeviceID: target.DeviceID, Error: submitErr.Error(),
			}
		}
	}

	enc := json.NewEncoder(w)
	allOK := true
	for range req.Targets {
		c := <-done
		if !c.Success {
			allOK = false
		}
		if err := enc.Encode(c); err != nil {
			log.Warnf("script %s: stream completion to client: %v", req.ScriptName, err)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := enc.Encode(map[string]any{"success": allOK, "script_name": req.ScriptName}); err != nil {
		log.Warnf("script %s: stream summary to client: %v", req.ScriptName, err)
	}
}

// runScriptTarget executes the script graph on one target device and records
// its result row. A busy device is a failed target, not a run-wide error.
func (s *Server) runScriptTarget(teamID, scriptName string, target scriptTarget, graphJSON json.RawMessage) scriptCompletion {
	completion := scriptCompletion{Host: target.Host, DeviceID: target.DeviceID}
	ctx := context.Background()

	info, err := s.hosts.Host(target.Host)
	if err != nil {
		info, err = s.hosts.HostForDevice(target.DeviceID)
	}
	if err != nil {
		completion.Error = err.Error()
		return completion
	}

	startedAt := time.Now()
	var resp struct {
		TaskID string `json:"task_id"`
	}
	body := hostExecuteRequest{TeamID: teamID, DeviceID: target.DeviceID, Graph: graphJSON}
	if err := s.postHost(ctx, info.HostURL, "/host/script/executeTask", teamID, body, &resp); err != nil {
		completion.Error = err.Error()
		return completion
	}

	status, err := s.pollHostTask(ctx, info.HostURL, "script", resp.TaskID, teamID)
	if err != nil {
		completion.Error = err.Error()
		return completion
	}

	result := resultFromStatus(teamID, storage.ScriptTypeScript, scriptName,
		info.HostID, target.DeviceID, startedAt, status)
	s.recordResult(ctx, result)

	completion.Success = result.Success
	completion.ExecutionTimeMs = result.ExecutionTimeMs
	completion.ExecutionLog = status.ExecutionLog
	return completion
}

// resultFromStatus builds the result row for one finished host task.
func resultFromStatus(teamID, scriptType, scriptName, hostID, deviceID string,
	startedAt time.Time, status *hostTaskStatus) *storage.ScriptResult {

	result := &storage.ScriptResult{
		ID:         uuid.NewString(),
		TeamID:     teamID,
		ScriptType: scriptType,
		ScriptName: scriptName,
		Host:       hostID,
		DeviceID:   deviceID,
		StartedAt:  startedAt,
	}
	if status.Result != nil {
		result.Success = status.Result.Success
		result.ExecutionTimeMs = status.Result.ExecutionTimeMs
		result.StepResults = status.Result.Steps
	}
	return result
}
