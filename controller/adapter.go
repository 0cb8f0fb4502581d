//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package controller

import (
	"context"
	"fmt"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/navigation"
)

// Runner bridges the registry to the execution engine: actions route through
// the command table, verifications through their type's category.
type Runner struct {
	registry *Registry
}

// NewRunner wraps a registry for the execution engine.
func NewRunner(registry *Registry) *Runner {
	return &Runner{registry: registry}
}

var (
	_ execution.ActionRunner       = (*Runner)(nil)
	_ execution.VerificationRunner = (*Runner)(nil)
)

// RunAction executes one navigation action on a device.
func (r *Runner) RunAction(ctx context.Context, deviceID string, action navigation.Action) (*execution.Outcome, error) {
	res, err := r.registry.ExecuteCommand(ctx, deviceID, "", action.Command, action.Params)
	if err != nil {
		return nil, err
	}
	return &execution.Outcome{Success: res.Success, Detail: res.Detail, Evidence: res.Evidence}, nil
}

// RunVerification executes one verification on a device. The verification
// type selects the driver category.
func (r *Runner) RunVerification(ctx context.Context, deviceID string, v navigation.Verification) (*execution.Outcome, error) {
	category, ok := verificationCategory(v.Type)
	if !ok {
		return nil, fmt.Errorf("%w: verification type %q", ErrNoSuchController, v.Type)
	}
	res, err := r.registry.ExecuteCommand(ctx, deviceID, category, v.Command, v.Params)
	if err != nil {
		return nil, err
	}
	return &execution.Outcome{Success: res.Success, Detail: res.Detail, Evidence: res.Evidence}, nil
}

func verificationCategory(verificationType string) (string, bool) {
	switch verificationType {
	case "image":
		return CategoryVerificationImage, true
	case "text":
		return CategoryVerificationText, true
	case "video":
		return CategoryVerificationVideo, true
	case "audio":
		return CategoryVerificationAudio, true
	}
	return "", false
}
