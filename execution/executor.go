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
	"time"

	"github.com/virtualpytest/virtualpytest/log"
	"github.com/virtualpytest/virtualpytest/navigation"
)

// ErrDeviceUnavailable is returned by runners when the device or its driver
// is structurally gone. It aborts the traversal.
var ErrDeviceUnavailable = errors.New("device unavailable")

// ErrDeviceBusy rejects a second concurrent execution on one device.
var ErrDeviceBusy = errors.New("device busy")

// Outcome is a sub-executor's report for one command. A false Success is a
// failed step, not a Go error; runners return a non-nil error only for
// structural failures.
type Outcome struct {
	Success  bool
	Detail   string
	Evidence []string
}

// ActionRunner executes device actions (remote keys, app launches, ...).
type ActionRunner interface {
	RunAction(ctx context.Context, deviceID string, action navigation.Action) (*Outcome, error)
}

// VerificationRunner evaluates verifications (image, text, video, audio).
type VerificationRunner interface {
	RunVerification(ctx context.Context, deviceID string, v navigation.Verification) (*Outcome, error)
}

// PathResolver supplies transitions for navigation nodes that were not
// pre-baked, starting from the device's current position.
type PathResolver interface {
	Resolve(ctx context.Context, targetNodeID, currentNodeID string) ([]navigation.Transition, error)
}

// Executor walks an execution graph, delegating steps to the runners and
// recording everything into the Context.
type Executor struct {
	actions       ActionRunner
	verifications VerificationRunner
	resolver      PathResolver
}

// NewExecutor creates an executor over the given sub-executors. The resolver
// may be nil when every navigation node carries pre-baked transitions.
func NewExecutor(actions ActionRunner, verifications VerificationRunner, resolver PathResolver) *Executor {
	return &Executor{actions: actions, verifications: verifications, resolver: resolver}
}

// Execute traverses the graph from its start node, following success/failure
// handles, until a terminal node, cancellation or an unrecoverable error.
func (e *Executor) Execute(ctx context.Context, g *Graph, ec *Context) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	start, err := g.Start()
	if err != nil {
		return nil, err
	}

	result := &Result{StartedAt: time.Now()}
	defer func() {
		result.ExecutionTimeMs = time.Since(result.StartedAt).Milliseconds()
		result.Steps = ec.Steps()
	}()

	current := start.ID
	lastOutcome := true
	for {
		// Cancellation is checked at node boundaries only; an in-flight
		// step always runs to its natural end.
		if ec.Canceled() || ctx.Err() != nil {
			result.Success = false
			result.Canceled = true
			ec.Logf("execution canceled at node %s", current)
			return result, nil
		}

		node, ok := g.Node(current)
		if !ok {
			return nil, ErrMalformedGraph
		}

		switch node.Kind {
		case KindSuccess:
			result.Success = true
			ec.Logf("reached success terminal %s", node.ID)
			return result, nil
		case KindFailure:
			result.Success = false
			ec.Logf("reached failure terminal %s", node.ID)
			return result, nil
		case KindStart:
			lastOutcome = true
		case KindLoop:
			next, ok := e.stepLoop(g, ec, node)
			if !ok {
				result.Success = lastOutcome
				return result, nil
			}
			current = next
			continue
		default:
			outcome, err := e.stepNode(ctx, g, ec, node)
			if err != nil {
				ec.Logf("aborting at node %s: %v", node.ID, err)
				result.Success = false
				return result, errors.Join(ErrExecutionAborted, err)
			}
			lastOutcome = outcome
		}

		handle := HandleSuccess
		if !lastOutcome {
			handle = HandleFailure
		}
		next, ok := g.next(node.ID, handle)
		if !ok {
			// Ran off the graph: the result follows the last outcome.
			result.Success = lastOutcome
			return result, nil
		}
		current = next
	}
}

// stepLoop advances a loop node: the body handle while the counter is below
// max, then the done handle.
func (e *Executor) stepLoop(g *Graph, ec *Context, node *Node) (string, bool) {
	count := ec.LoopState[node.ID]
	if count < node.MaxIterations {
		ec.LoopState[node.ID] = count + 1
		ec.Logf("loop %s iteration %d/%d", node.ID, count+1, node.MaxIterations)
		return g.next(node.ID, HandleBody)
	}
	return g.next(node.ID, HandleDone)
}

// stepNode dispatches one action, verification or navigation node and
// records its step. The bool is the step outcome; the error is unrecoverable.
func (e *Executor) stepNode(ctx context.Context, g *Graph, ec *Context, node *Node) (bool, error) {
	record := StepRecord{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Command:   node.Command,
		Params:    node.Params,
		StartedAt: time.Now(),
	}

	var outcome *Outcome
	var err error
	switch node.Kind {
	case KindAction:
		outcome, err = e.actions.RunAction(ctx, ec.DeviceID,
			navigation.Action{Command: node.Command, Params: node.Params})
	case KindVerification:
		outcome, err = e.verifications.RunVerification(ctx, ec.DeviceID,
			navigation.Verification{Type: node.VerificationType, Command: node.Command, Params: node.Params})
	case KindNavigation:
		outcome, err = e.stepNavigation(ctx, ec, node)
	default:
		record.EndedAt = time.Now()
		record.Error = "unknown node kind: " + string(node.Kind)
		ec.RecordStep(record)
		return false, ErrMalformedGraph
	}

	record.EndedAt = time.Now()
	if err != nil {
		record.Error = err.Error()
		ec.RecordStep(record)
		return false, err
	}
	record.Success = outcome.Success
	record.Error = outcome.Detail
	record.Evidence = outcome.Evidence
	if outcome.Success {
		record.Error = ""
	}
	ec.RecordStep(record)
	ec.Logf("step %s (%s): success=%v", node.ID, node.Kind, outcome.Success)
	return outcome.Success, nil
}

// stepNavigation walks a navigation node's transitions, pre-baked or
// resolved from the current position, updating CurrentNodeID on success.
func (e *Executor) stepNavigation(ctx context.Context, ec *Context, node *Node) (*Outcome, error) {
	transitions := node.Transitions
	if len(transitions) == 0 {
		if e.resolver == nil {
			return &Outcome{Detail: "no transitions and no path resolver"}, nil
		}
		var err error
		transitions, err = e.resolver.Resolve(ctx, node.TargetNodeID, ec.CurrentNodeID)
		if err != nil {
			return &Outcome{Detail: err.Error()}, nil
		}
	}

	var evidence []string
	for _, t := range transitions {
		outcome, err := e.runTransition(ctx, ec, t)
		if err != nil {
			return nil, err
		}
		evidence = append(evidence, outcome.Evidence...)
		if !outcome.Success {
			return &Outcome{Detail: outcome.Detail, Evidence: evidence}, nil
		}
		ec.CurrentNodeID = t.ToNodeID
	}
	if node.TargetNodeID != "" {
		ec.CurrentNodeID = node.TargetNodeID
	}
	return &Outcome{Success: true, Evidence: evidence}, nil
}

// runTransition applies one transition's action set with the retry policy:
// actions in order, retry_actions once on failure, then the step fails (the
// failure actions of the set are fired for cleanup). Afterwards the target
// node's verifications run.
func (e *Executor) runTransition(ctx context.Context, ec *Context, t navigation.Transition) (*Outcome, error) {
	var evidence []string

	run := func(actions []navigation.Action) (bool, string, error) {
		for _, a := range actions {
			outcome, err := e.actions.RunAction(ctx, ec.DeviceID, a)
			if err != nil {
				return false, "", err
			}
			evidence = append(evidence, outcome.Evidence...)
			if !outcome.Success {
				return false, outcome.Detail, nil
			}
			settle(ctx, a)
		}
		return true, "", nil
	}

	ok, detail, err := run(t.Actions)
	if err != nil {
		return nil, err
	}
	if !ok && len(t.RetryActions) > 0 {
		log.Debugf("transition %s -> %s failed, running retry actions", t.FromNodeID, t.ToNodeID)
		ok, detail, err = run(t.RetryActions)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		// Failure actions are cleanup; their own failures don't mask the
		// step's failure.
		if _, _, ferr := run(t.FailureActions); ferr != nil {
			return nil, ferr
		}
		return &Outcome{Detail: detail, Evidence: evidence}, nil
	}

	if t.FinalWaitTime > 0 {
		sleepCtx(ctx, time.Duration(t.FinalWaitTime)*time.Millisecond)
	}

	for _, v := range t.Verifications {
		outcome, err := e.verifications.RunVerification(ctx, ec.DeviceID, v)
		if err != nil {
			return nil, err
		}
		evidence = append(evidence, outcome.Evidence...)
		if !outcome.Success {
			return &Outcome{Detail: "verification failed: " + v.Command, Evidence: evidence}, nil
		}
	}
	return &Outcome{Success: true, Evidence: evidence}, nil
}

// settle applies an action's post-execution wait_time, in milliseconds.
func settle(ctx context.Context, a navigation.Action) {
	if ms, ok := a.Params["wait_time"]; ok {
		if f, ok := toMillis(ms); ok {
			sleepCtx(ctx, f)
		}
	}
}

func toMillis(v any) (time.Duration, bool) {
	switch n := v.(type) {
	case int:
		return time.Duration(n) * time.Millisecond, true
	case int64:
		return time.Duration(n) * time.Millisecond, true
	case float64:
		return time.Duration(n) * time.Millisecond, true
	}
	return 0, false
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
