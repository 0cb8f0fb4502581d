//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package controller defines the device driver contracts and the per-device
// controller registry that routes commands to them.
package controller

import (
	"context"
	"errors"
	"time"
)

// Driver categories.
const (
	CategoryRemote            = "remote"
	CategoryAV                = "av"
	CategoryVerificationImage = "verification_image"
	CategoryVerificationText  = "verification_text"
	CategoryVerificationVideo = "verification_video"
	CategoryVerificationAudio = "verification_audio"
	CategoryPower             = "power"
)

var (
	// ErrNoSuchController indicates no driver covers the device and category.
	ErrNoSuchController = errors.New("no controller for device and category")
	// ErrUnknownCommand indicates a command no registered driver declares.
	ErrUnknownCommand = errors.New("unknown controller command")
)

// CommandSpec declares one command a driver understands.
type CommandSpec struct {
	Name string `json:"name"`
	// ParamSchema maps parameter names to a short type hint ("string",
	// "int", "float").
	ParamSchema    map[string]string `json:"param_schema,omitempty"`
	TimeoutDefault time.Duration     `json:"-"`
}

// ExecResult is the outcome of one driver command.
type ExecResult struct {
	Success bool `json:"success"`
	// Detail is a short, user-facing message on failure.
	Detail string `json:"detail,omitempty"`
	// Evidence holds URIs or local paths of captured artifacts.
	Evidence []string `json:"evidence,omitempty"`
}

// Device is the static description of one attached device.
type Device struct {
	ID    string `json:"device_id"`
	Name  string `json:"device_name,omitempty"`
	Model string `json:"device_model"`
	// Serial addresses the device on its transport (adb serial, IP).
	Serial string `json:"serial,omitempty"`
	// CaptureDir is where the AV pipeline writes segments and frames.
	CaptureDir string `json:"capture_dir,omitempty"`
}

// Driver executes commands of one category against one device. Instances are
// created lazily by the registry and live for the process lifetime.
type Driver interface {
	Category() string
	SupportedModels() []string
	Commands() []CommandSpec
	Execute(ctx context.Context, command string, params map[string]any) (*ExecResult, error)
}

// AVCapture is the extra surface of capture-capable AV drivers.
type AVCapture interface {
	// RecentSegments returns the local paths of the newest capture
	// segments covering roughly durationSec seconds, capped at count.
	RecentSegments(count, durationSec int) ([]string, error)
	CaptureFolder() string
}

// Factory builds a driver bound to one device.
type Factory func(device Device) (Driver, error)
