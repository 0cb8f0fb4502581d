//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/log"
	"github.com/virtualpytest/virtualpytest/storage"
)

// pollInterval paces server-side task polling against a host.
const pollInterval = time.Second

// hostExecuteRequest mirrors the host's executeTask body.
type hostExecuteRequest struct {
	TeamID   string          `json:"team_id"`
	DeviceID string          `json:"device_id"`
	Graph    json.RawMessage `json:"graph"`
}

// hostTaskStatus mirrors the host's status payload.
type hostTaskStatus struct {
	TaskID       string            `json:"task_id"`
	IsExecuting  bool              `json:"is_executing"`
	CurrentStep  int               `json:"current_step"`
	ExecutionLog []string          `json:"execution_log"`
	LogIndex     int               `json:"log_index"`
	Result       *execution.Result `json:"result,omitempty"`
}

// postHost sends a JSON body to one host endpoint and decodes the envelope
// into out. A 409 from the host surfaces as ErrDeviceBusy.
func (s *Server) postHost(ctx context.Context, hostURL, path, teamID string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hostURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Team-ID", teamID)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()
	return decodeHostResponse(resp, out)
}

// getHost queries one host endpoint with query parameters.
func (s *Server) getHost(ctx context.Context, hostURL, path, teamID string, query url.Values, out any) error {
	u := hostURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Team-ID", teamID)
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()
	return decodeHostResponse(resp, out)
}

func decodeHostResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: host reported a conflicting execution", execution.ErrDeviceBusy)
	}
	if resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("host returned %d: %s", resp.StatusCode, envelope.Error)
		}
		return fmt.Errorf("host returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// pollHostTask polls one host task until it finishes, accumulating the full
// execution log across incremental status responses.
func (s *Server) pollHostTask(ctx context.Context, hostURL, kind, taskID, teamID string) (*hostTaskStatus, error) {
	var logLines []string
	since := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		query := url.Values{}
		query.Set("task_id", taskID)
		query.Set("since", fmt.Sprintf("%d", since))
		var status hostTaskStatus
		if err := s.getHost(ctx, hostURL, "/host/"+kind+"/status", teamID, query, &status); err != nil {
			return nil, err
		}
		logLines = append(logLines, status.ExecutionLog...)
		since = status.LogIndex
		if !status.IsExecuting {
			status.ExecutionLog = logLines
			return &status, nil
		}
	}
}

// prebakeTransitions resolves the transitions of every navigation node
// against the unified graph, so the host can execute the graph without its
// own navigation state. Positions chain from the unified root through the
// navigation nodes in graph order.
func (s *Server) prebakeTransitions(ctx context.Context, g *execution.Graph, rootTreeID, teamID string) error {
	if rootTreeID == "" {
		return nil
	}
	if !s.nav.Cached(rootTreeID, teamID) {
		if _, err := s.nav.LoadHierarchy(ctx, rootTreeID, teamID); err != nil {
			return err
		}
	}
	current := ""
	for _, node := range g.Nodes {
		if node.Kind != execution.KindNavigation || node.TargetNodeID == "" {
			continue
		}
		if len(node.Transitions) == 0 {
			transitions, err := s.nav.FindPath(rootTreeID, teamID, node.TargetNodeID, current)
			if err != nil {
				return err
			}
			node.Transitions = transitions
		}
		current = node.TargetNodeID
	}
	return nil
}

// availableNodes lists the labels of the cached unified graph, for AI plan
// context and fingerprinting. Empty when the hierarchy is not cached.
func (s *Server) availableNodes(rootTreeID, teamID string) []string {
	if rootTreeID == "" {
		return nil
	}
	unified, ok := s.nav.Unified(rootTreeID, teamID)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(unified.Nodes))
	for id, n := range unified.Nodes {
		name := n.Label
		if name == "" {
			name = id
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// recordResult persists one finished execution and queues it for review.
func (s *Server) recordResult(ctx context.Context, result *storage.ScriptResult) {
	if err := s.store.InsertScriptResult(ctx, result); err != nil {
		log.Errorf("insert script result %s: %v", result.ID, err)
		return
	}
	s.pushReview(result.ID)
}
