//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package host

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/internal/httpapi"
	"github.com/virtualpytest/virtualpytest/planner"
)

// executeTaskRequest is the body of POST /host/{kind}/executeTask.
type executeTaskRequest struct {
	TeamID   string          `json:"team_id"`
	DeviceID string          `json:"device_id"`
	Graph    json.RawMessage `json:"graph"`
}

// Handler builds the host HTTP surface. Every execution kind (aiagent,
// testcase, script) shares the same executeTask/status/cancel trio.
func (a *Agent) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/host/health", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/host/{kind}/executeTask", a.handleExecuteTask).Methods(http.MethodPost)
	r.HandleFunc("/host/{kind}/status", a.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/host/{kind}/cancel", a.handleCancel).Methods(http.MethodPost)
	return cors.AllowAll().Handler(r)
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpapi.OK(w, map[string]any{"host_id": a.cfg.HostID})
}

func (a *Agent) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	var req executeTaskRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if req.TeamID == "" {
		req.TeamID = httpapi.TeamID(r)
	}
	if req.DeviceID == "" {
		httpapi.Errorf(w, http.StatusBadRequest, "device_id is required")
		return
	}
	graph, err := planner.ParsePlan(req.Graph)
	if err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}

	taskID, err := a.ExecuteTask(req.TeamID, req.DeviceID, graph)
	if err != nil {
		if errors.Is(err, execution.ErrDeviceBusy) {
			httpapi.Error(w, http.StatusConflict, err)
			return
		}
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	httpapi.OK(w, map[string]any{"task_id": taskID})
}

func (a *Agent) handleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))
	status, err := a.Status(taskID, since)
	if err != nil {
		httpapi.Error(w, http.StatusNotFound, err)
		return
	}
	httpapi.OK(w, map[string]any{
		"task_id":       status.TaskID,
		"is_executing":  status.IsExecuting,
		"current_step":  status.CurrentStep,
		"execution_log": status.ExecutionLog,
		"log_index":     status.LogIndex,
		"result":        status.Result,
	})
}

func (a *Agent) handleCancel(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if err := a.Cancel(taskID); err != nil {
		httpapi.Error(w, http.StatusNotFound, err)
		return
	}
	httpapi.OK(w, map[string]any{"task_id": taskID})
}
