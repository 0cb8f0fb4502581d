//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package execution

import (
	"fmt"
	"sync"
	"time"
)

// StepRecord captures the evidence of one executed step.
type StepRecord struct {
	StepNumber int            `json:"step_number"`
	NodeID     string         `json:"node_id"`
	Kind       NodeKind       `json:"kind"`
	Command    string         `json:"command,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	// Evidence holds URIs attached by sub-executors: screenshots,
	// extracted transcripts, frame descriptions.
	Evidence []string `json:"evidence,omitempty"`
}

// Result is the outcome of one graph execution.
type Result struct {
	Success         bool         `json:"success"`
	Canceled        bool         `json:"canceled,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	ExecutionTimeMs int64        `json:"execution_time_ms"`
	Steps           []StepRecord `json:"step_results"`
}

// Context is the per-execution state: ordered step records, a monotonically
// growing execution log, loop counters and the cancel flag. It is safe for
// use by the executing goroutine and concurrent status readers.
type Context struct {
	TeamID   string
	DeviceID string
	Host     string

	// CurrentNodeID tracks the device's position in the navigation tree;
	// updated after each successful navigation step.
	CurrentNodeID string

	// LoopState holds per-loop-node iteration counters.
	LoopState map[string]int

	mu       sync.Mutex
	steps    []StepRecord
	logLines []string
	canceled bool
}

// NewContext creates an execution context for one device.
func NewContext(teamID, deviceID, host string) *Context {
	return &Context{
		TeamID:    teamID,
		DeviceID:  deviceID,
		Host:      host,
		LoopState: make(map[string]int),
	}
}

// Cancel requests termination at the next node boundary. An in-flight step
// runs to its natural end.
func (c *Context) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = true
}

// Canceled reports whether cancellation was requested.
func (c *Context) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceled
}

// RecordStep appends a step record; the record is persisted in order before
// the next step begins.
func (c *Context) RecordStep(s StepRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.StepNumber = len(c.steps) + 1
	c.steps = append(c.steps, s)
}

// Steps returns a copy of the recorded steps.
func (c *Context) Steps() []StepRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StepRecord(nil), c.steps...)
}

// Logf appends one line to the execution log.
func (c *Context) Logf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logLines = append(c.logLines, fmt.Sprintf(format, args...))
}

// LogSince returns the log entries strictly after the given index, plus the
// new high-water mark. The log only grows, so deltas are stable.
func (c *Context) LogSince(index int) ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 {
		index = 0
	}
	if index > len(c.logLines) {
		index = len(c.logLines)
	}
	delta := append([]string(nil), c.logLines[index:]...)
	return delta, len(c.logLines)
}

// CurrentStep describes the step in flight for status polling.
func (c *Context) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}
