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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtualpytest/virtualpytest/log"
)

// ErrTaskNotFound indicates an unknown task id.
var ErrTaskNotFound = errors.New("task not found")

// taskRetention is how long a finished task stays pollable before eviction.
// The polling contract only needs a short window after the terminal state.
const taskRetention = 5 * time.Minute

// TaskStatus is the polling view of one asynchronous execution.
type TaskStatus struct {
	TaskID       string       `json:"task_id"`
	IsExecuting  bool         `json:"is_executing"`
	CurrentStep  int          `json:"current_step"`
	ExecutionLog []string     `json:"execution_log"`
	LogIndex     int          `json:"log_index"`
	Result       *Result      `json:"result,omitempty"`
	Steps        []StepRecord `json:"step_results,omitempty"`
}

// task is one asynchronous execution owned by the manager.
type task struct {
	id     string
	ec     *Context
	cancel context.CancelFunc

	mu     sync.Mutex
	done   bool
	result *Result
	err    error
}

// TaskManager runs graph executions asynchronously and serves status polls
// against their monotonic logs.
type TaskManager struct {
	executor  *Executor
	retention time.Duration

	mu    sync.Mutex
	tasks map[string]*task
}

// NewTaskManager creates a task manager over one executor.
func NewTaskManager(executor *Executor) *TaskManager {
	return &TaskManager{executor: executor, retention: taskRetention, tasks: make(map[string]*task)}
}

// ExecuteAsync starts a graph execution in a worker goroutine and returns its
// task id immediately.
func (m *TaskManager) ExecuteAsync(g *Graph, ec *Context) string {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{id: uuid.NewString(), ec: ec, cancel: cancel}

	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()

	go func() {
		result, err := m.executor.Execute(ctx, g, ec)
		t.mu.Lock()
		t.done = true
		t.result = result
		t.err = err
		t.mu.Unlock()
		if err != nil {
			log.Errorf("task %s finished with error: %v", t.id, err)
		}
		time.AfterFunc(m.retention, func() { m.evict(t.id) })
	}()
	return t.id
}

// evict forgets a finished task once its retention window has passed.
func (m *TaskManager) evict(taskID string) {
	m.mu.Lock()
	delete(m.tasks, taskID)
	m.mu.Unlock()
}

// Status returns the task state plus the log entries strictly after the
// caller's last observed index.
func (m *TaskManager) Status(taskID string, sinceLogIndex int) (*TaskStatus, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, ErrTaskNotFound
	}

	delta, mark := t.ec.LogSince(sinceLogIndex)
	t.mu.Lock()
	defer t.mu.Unlock()
	status := &TaskStatus{
		TaskID:       taskID,
		IsExecuting:  !t.done,
		CurrentStep:  t.ec.CurrentStep(),
		ExecutionLog: delta,
		LogIndex:     mark,
	}
	if t.done {
		status.Result = t.result
		if t.result != nil {
			status.Steps = t.result.Steps
		}
	}
	return status, nil
}

// Cancel requests cancellation of a running task at its next node boundary.
func (m *TaskManager) Cancel(taskID string) error {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return ErrTaskNotFound
	}
	t.ec.Cancel()
	t.cancel()
	return nil
}

// Result returns the finished task's result and execution error. done is
// false while the task is still executing.
func (m *TaskManager) Result(taskID string) (result *Result, done bool, err error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	m.mu.Unlock()
	if !ok {
		return nil, false, ErrTaskNotFound
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.done {
		return nil, false, nil
	}
	return t.result, true, t.err
}
