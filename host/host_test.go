//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpytest/virtualpytest/config"
	"github.com/virtualpytest/virtualpytest/controller"
	"github.com/virtualpytest/virtualpytest/execution"
)

// slowDriver succeeds after a configurable delay.
type slowDriver struct {
	delay time.Duration
	mu    sync.Mutex
	calls int
}

func (d *slowDriver) Category() string          { return controller.CategoryRemote }
func (d *slowDriver) SupportedModels() []string { return nil }
func (d *slowDriver) Commands() []controller.CommandSpec {
	return []controller.CommandSpec{{Name: "press_key"}}
}

func (d *slowDriver) Execute(ctx context.Context, _ string, _ map[string]any) (*controller.ExecResult, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return &controller.ExecResult{Success: true}, nil
}

func newTestAgent(t *testing.T, delay time.Duration) (*Agent, *slowDriver) {
	t.Helper()
	driver := &slowDriver{delay: delay}
	registry := controller.NewRegistry()
	require.NoError(t, registry.Register(controller.CategoryRemote, driver.Commands(),
		func(controller.Device) (controller.Driver, error) { return driver, nil }))
	registry.AddDevice(controller.Device{ID: "device1", Model: "android_mobile"})

	cfg := &config.Config{HostID: "host-1", HostURL: "http://localhost:6109",
		ServerURL: "http://localhost:5109", HeartbeatInterval: 10 * time.Second}
	return New(cfg, registry, nil), driver
}

const hostGraphJSON = `{"nodes":[
  {"id":"start","type":"start"},
  {"id":"act","type":"action","command":"press_key","params":{"key":"OK"}},
  {"id":"success","type":"success"},
  {"id":"failure","type":"failure"}
],"edges":[
  {"source":"start","target":"act"},
  {"source":"act","target":"success","source_handle":"success"},
  {"source":"act","target":"failure","source_handle":"failure"}
]}`

func parseGraph(t *testing.T) *execution.Graph {
	t.Helper()
	g, err := execution.ParseGraph([]byte(hostGraphJSON))
	require.NoError(t, err)
	return g
}

func waitTaskDone(t *testing.T, a *Agent, taskID string) *execution.Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, done, err := a.tasks.Result(taskID)
		require.NoError(t, err)
		if done {
			return result
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not finish")
	return nil
}

func TestExecuteTaskRunsGraph(t *testing.T) {
	agent, driver := newTestAgent(t, 0)

	taskID, err := agent.ExecuteTask("team1", "device1", parseGraph(t))
	require.NoError(t, err)
	result := waitTaskDone(t, agent, taskID)
	assert.True(t, result.Success)
	assert.Equal(t, 1, driver.calls)
}

func TestDeviceBusyRejectsSecondTask(t *testing.T) {
	agent, _ := newTestAgent(t, 150*time.Millisecond)

	first, err := agent.ExecuteTask("team1", "device1", parseGraph(t))
	require.NoError(t, err)
	assert.True(t, agent.DeviceBusy("device1"))

	_, err = agent.ExecuteTask("team1", "device1", parseGraph(t))
	assert.ErrorIs(t, err, execution.ErrDeviceBusy)

	waitTaskDone(t, agent, first)
	// Release is asynchronous; the device frees shortly after completion.
	require.Eventually(t, func() bool { return !agent.DeviceBusy("device1") },
		2*time.Second, 20*time.Millisecond)

	_, err = agent.ExecuteTask("team1", "device1", parseGraph(t))
	assert.NoError(t, err)
}

func TestHandlerExecuteAndStatus(t *testing.T) {
	agent, _ := newTestAgent(t, 0)
	srv := httptest.NewServer(agent.Handler())
	defer srv.Close()

	body := fmt.Sprintf(`{"team_id":"team1","device_id":"device1","graph":%s}`, hostGraphJSON)
	resp, err := http.Post(srv.URL+"/host/aiagent/executeTask", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var execResp struct {
		Success bool   `json:"success"`
		TaskID  string `json:"task_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&execResp))
	assert.True(t, execResp.Success)
	require.NotEmpty(t, execResp.TaskID)

	waitTaskDone(t, agent, execResp.TaskID)

	statusResp, err := http.Get(srv.URL + "/host/aiagent/status?task_id=" + execResp.TaskID)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var status struct {
		Success      bool              `json:"success"`
		IsExecuting  bool              `json:"is_executing"`
		ExecutionLog []string          `json:"execution_log"`
		Result       *execution.Result `json:"result"`
	}
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.True(t, status.Success)
	assert.False(t, status.IsExecuting)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Success)
	assert.NotEmpty(t, status.ExecutionLog)
}

func TestHandlerRejectsBadGraph(t *testing.T) {
	agent, _ := newTestAgent(t, 0)
	srv := httptest.NewServer(agent.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/host/aiagent/executeTask", "application/json",
		strings.NewReader(`{"team_id":"team1","device_id":"device1","graph":{"nodes":[],"edges":[]}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerDeviceBusyConflict(t *testing.T) {
	agent, _ := newTestAgent(t, 200*time.Millisecond)
	srv := httptest.NewServer(agent.Handler())
	defer srv.Close()

	body := fmt.Sprintf(`{"team_id":"team1","device_id":"device1","graph":%s}`, hostGraphJSON)
	first, err := http.Post(srv.URL+"/host/script/executeTask", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Post(srv.URL+"/host/script/executeTask", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)
}

func TestRegisterSendsDevices(t *testing.T) {
	var got Registration
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/host/register", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	agent, _ := newTestAgent(t, 0)
	agent.cfg.ServerURL = ts.URL

	require.NoError(t, agent.Register(context.Background()))
	assert.Equal(t, "host-1", got.HostID)
	require.Len(t, got.Devices, 1)
	assert.Equal(t, "device1", got.Devices[0].ID)
	assert.Contains(t, got.Devices[0].Capabilities, controller.CategoryRemote)
}
