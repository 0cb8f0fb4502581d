//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpytest/virtualpytest/navigation"
)

// fakeRunner scripts per-command outcomes and counts invocations.
type fakeRunner struct {
	fail      map[string]int // command -> number of failures before success
	structErr map[string]error
	calls     []string
}

func (r *fakeRunner) run(command string) (*Outcome, error) {
	r.calls = append(r.calls, command)
	if err, ok := r.structErr[command]; ok {
		return nil, err
	}
	if n := r.fail[command]; n > 0 {
		r.fail[command] = n - 1
		return &Outcome{Detail: command + " failed"}, nil
	}
	return &Outcome{Success: true, Evidence: []string{"r2://" + command + ".png"}}, nil
}

func (r *fakeRunner) RunAction(_ context.Context, _ string, a navigation.Action) (*Outcome, error) {
	return r.run(a.Command)
}

func (r *fakeRunner) RunVerification(_ context.Context, _ string, v navigation.Verification) (*Outcome, error) {
	return r.run(v.Command)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: make(map[string]int), structErr: make(map[string]error)}
}

func linearGraph() *Graph {
	return &Graph{
		Nodes: []*Node{
			{ID: "n0", Kind: KindStart},
			{ID: "n1", Kind: KindAction, Command: "press_key", Params: map[string]any{"key": "OK"}},
			{ID: "n2", Kind: KindVerification, Command: "waitForImage", VerificationType: "image"},
			{ID: "ok", Kind: KindSuccess},
			{ID: "ko", Kind: KindFailure},
		},
		Edges: []*Edge{
			{Source: "n0", Target: "n1"},
			{Source: "n1", Target: "n2", SourceHandle: HandleSuccess},
			{Source: "n1", Target: "ko", SourceHandle: HandleFailure},
			{Source: "n2", Target: "ok", SourceHandle: HandleSuccess},
			{Source: "n2", Target: "ko", SourceHandle: HandleFailure},
		},
	}
}

func TestExecuteLinearSuccess(t *testing.T) {
	r := newFakeRunner()
	ex := NewExecutor(r, r, nil)
	ec := NewContext("team1", "device1", "host1")

	result, err := ex.Execute(context.Background(), linearGraph(), ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, 1, result.Steps[0].StepNumber)
	assert.True(t, result.Steps[0].Success)
	assert.NotEmpty(t, result.Steps[0].Evidence)
	assert.False(t, result.Steps[0].EndedAt.Before(result.Steps[0].StartedAt))
}

func TestExecuteFailureHandle(t *testing.T) {
	r := newFakeRunner()
	r.fail["waitForImage"] = 1
	ex := NewExecutor(r, r, nil)
	ec := NewContext("team1", "device1", "host1")

	result, err := ex.Execute(context.Background(), linearGraph(), ec)
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.False(t, result.Steps[1].Success)
	assert.Contains(t, result.Steps[1].Error, "failed")
}

func TestExecuteRunsOffGraphKeepsLastOutcome(t *testing.T) {
	g := &Graph{
		Nodes: []*Node{
			{ID: "n0", Kind: KindStart},
			{ID: "n1", Kind: KindAction, Command: "press_key"},
		},
		Edges: []*Edge{{Source: "n0", Target: "n1"}},
	}
	r := newFakeRunner()
	ex := NewExecutor(r, r, nil)

	result, err := ex.Execute(context.Background(), g, NewContext("t", "d", "h"))
	require.NoError(t, err)
	assert.True(t, result.Success)

	r = newFakeRunner()
	r.fail["press_key"] = 1
	result, err = NewExecutor(r, r, nil).Execute(context.Background(), g, NewContext("t", "d", "h"))
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestExecuteMalformedGraph(t *testing.T) {
	r := newFakeRunner()
	ex := NewExecutor(r, r, nil)

	_, err := ex.Execute(context.Background(), &Graph{}, NewContext("t", "d", "h"))
	assert.ErrorIs(t, err, ErrMalformedGraph)

	two := &Graph{Nodes: []*Node{{ID: "a", Kind: KindStart}, {ID: "b", Kind: KindStart}}}
	_, err = ex.Execute(context.Background(), two, NewContext("t", "d", "h"))
	assert.ErrorIs(t, err, ErrMalformedGraph)
}

func TestExecuteLoopNode(t *testing.T) {
	g := &Graph{
		Nodes: []*Node{
			{ID: "n0", Kind: KindStart},
			{ID: "loop", Kind: KindLoop, MaxIterations: 3},
			{ID: "body", Kind: KindAction, Command: "press_key"},
			{ID: "ok", Kind: KindSuccess},
		},
		Edges: []*Edge{
			{Source: "n0", Target: "loop"},
			{Source: "loop", Target: "body", SourceHandle: HandleBody},
			{Source: "body", Target: "loop", SourceHandle: HandleSuccess},
			{Source: "loop", Target: "ok", SourceHandle: HandleDone},
		},
	}
	r := newFakeRunner()
	ec := NewContext("t", "d", "h")

	result, err := NewExecutor(r, r, nil).Execute(context.Background(), g, ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, ec.LoopState["loop"])
	assert.Len(t, r.calls, 3)
}

func TestExecuteNavigationWithRetry(t *testing.T) {
	g := &Graph{
		Nodes: []*Node{
			{ID: "n0", Kind: KindStart},
			{ID: "nav", Kind: KindNavigation, TargetNodeID: "live", Transitions: []navigation.Transition{{
				FromNodeID:   "home",
				ToNodeID:     "live",
				ActionSetID:  "open",
				Actions:      []navigation.Action{{Command: "open_live"}},
				RetryActions: []navigation.Action{{Command: "open_live_retry"}},
			}}},
			{ID: "ok", Kind: KindSuccess},
			{ID: "ko", Kind: KindFailure},
		},
		Edges: []*Edge{
			{Source: "n0", Target: "nav"},
			{Source: "nav", Target: "ok", SourceHandle: HandleSuccess},
			{Source: "nav", Target: "ko", SourceHandle: HandleFailure},
		},
	}
	r := newFakeRunner()
	r.fail["open_live"] = 1
	ec := NewContext("t", "d", "h")

	result, err := NewExecutor(r, r, nil).Execute(context.Background(), g, ec)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "live", ec.CurrentNodeID)
	assert.Contains(t, r.calls, "open_live_retry")
}

func TestExecuteNavigationFailureActions(t *testing.T) {
	g := &Graph{
		Nodes: []*Node{
			{ID: "n0", Kind: KindStart},
			{ID: "nav", Kind: KindNavigation, Transitions: []navigation.Transition{{
				FromNodeID:     "home",
				ToNodeID:       "live",
				Actions:        []navigation.Action{{Command: "open_live"}},
				RetryActions:   []navigation.Action{{Command: "open_live_retry"}},
				FailureActions: []navigation.Action{{Command: "go_home"}},
			}}},
			{ID: "ko", Kind: KindFailure},
		},
		Edges: []*Edge{
			{Source: "n0", Target: "nav"},
			{Source: "nav", Target: "ko", SourceHandle: HandleFailure},
		},
	}
	r := newFakeRunner()
	r.fail["open_live"] = 1
	r.fail["open_live_retry"] = 1
	ec := NewContext("t", "d", "h")

	result, err := NewExecutor(r, r, nil).Execute(context.Background(), g, ec)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, r.calls, "go_home")
	assert.Empty(t, ec.CurrentNodeID)
}

func TestExecuteDeviceUnavailableAborts(t *testing.T) {
	r := newFakeRunner()
	r.structErr["press_key"] = ErrDeviceUnavailable
	ec := NewContext("t", "d", "h")

	result, err := NewExecutor(r, r, nil).Execute(context.Background(), linearGraph(), ec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionAborted)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.False(t, result.Success)
}

func TestExecuteCancellation(t *testing.T) {
	r := newFakeRunner()
	ec := NewContext("t", "d", "h")
	ec.Cancel()

	result, err := NewExecutor(r, r, nil).Execute(context.Background(), linearGraph(), ec)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.Canceled)
	assert.Empty(t, result.Steps, "cancellation stops before the next node executes")
}

func TestParseGraphRoundTrip(t *testing.T) {
	data := []byte(`{
		"nodes": [
			{"id": "n0", "type": "start"},
			{"id": "n1", "type": "action", "command": "press_key", "params": {"key": "OK", "wait_time": 100}},
			{"id": "ok", "type": "success"}
		],
		"edges": [
			{"source": "n0", "target": "n1"},
			{"source": "n1", "target": "ok", "source_handle": "success"}
		]
	}`)
	g, err := ParseGraph(data)
	require.NoError(t, err)
	require.Len(t, g.Nodes, 3)
	assert.Equal(t, KindAction, g.Nodes[1].Kind)
	assert.Equal(t, "OK", g.Nodes[1].Params["key"])

	_, err = ParseGraph([]byte(`{"nodes": [{"id": "x", "type": "action"}], "edges": []}`))
	assert.ErrorIs(t, err, ErrMalformedGraph)
}

func TestTaskManagerAsyncStatus(t *testing.T) {
	r := newFakeRunner()
	m := NewTaskManager(NewExecutor(r, r, nil))
	ec := NewContext("t", "d", "h")

	taskID := m.ExecuteAsync(linearGraph(), ec)
	require.NotEmpty(t, taskID)

	require.Eventually(t, func() bool {
		status, err := m.Status(taskID, 0)
		return err == nil && !status.IsExecuting
	}, 2*time.Second, 10*time.Millisecond)

	status, err := m.Status(taskID, 0)
	require.NoError(t, err)
	require.NotNil(t, status.Result)
	assert.True(t, status.Result.Success)
	assert.NotEmpty(t, status.ExecutionLog)

	// Delta reads surface only entries after the observed index.
	again, err := m.Status(taskID, status.LogIndex)
	require.NoError(t, err)
	assert.Empty(t, again.ExecutionLog)

	_, err = m.Status("ghost", 0)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskManagerEvictsFinishedTasks(t *testing.T) {
	r := newFakeRunner()
	m := NewTaskManager(NewExecutor(r, r, nil))
	m.retention = 20 * time.Millisecond

	taskID := m.ExecuteAsync(linearGraph(), NewContext("t", "d", "h"))
	require.Eventually(t, func() bool {
		_, done, err := m.Result(taskID)
		return err == nil && done
	}, 2*time.Second, 10*time.Millisecond)

	// Once the retention window passes, polls see an unknown task.
	require.Eventually(t, func() bool {
		_, err := m.Status(taskID, 0)
		return errors.Is(err, ErrTaskNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}
