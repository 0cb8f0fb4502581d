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
	"os/exec"
	"strings"
	"time"
)

// adbKeycodes maps remote key names to Android keyevent codes.
var adbKeycodes = map[string]string{
	"UP": "19", "DOWN": "20", "LEFT": "21", "RIGHT": "22",
	"OK": "23", "SELECT": "23", "BACK": "4", "HOME": "3", "MENU": "82",
	"POWER": "26", "VOLUME_UP": "24", "VOLUME_DOWN": "25", "MUTE": "164",
	"PLAY_PAUSE": "85", "STOP": "86", "REWIND": "89", "FAST_FORWARD": "90",
	"CHANNEL_UP": "166", "CHANNEL_DOWN": "167",
}

// adbRunner runs one adb invocation; swapped out in tests.
type adbRunner func(ctx context.Context, serial string, args ...string) (string, error)

func execADB(ctx context.Context, serial string, args ...string) (string, error) {
	full := append([]string{"-s", serial}, args...)
	out, err := exec.CommandContext(ctx, "adb", full...).CombinedOutput()
	return string(out), err
}

// ADBRemote is the remote controller for Android devices, driving them over
// adb shell input.
type ADBRemote struct {
	device Device
	run    adbRunner
}

// NewADBRemote builds a remote driver for one Android device.
func NewADBRemote(device Device) (Driver, error) {
	if device.Serial == "" {
		return nil, fmt.Errorf("device %s has no adb serial", device.ID)
	}
	return &ADBRemote{device: device, run: execADB}, nil
}

// Category implements Driver.
func (a *ADBRemote) Category() string { return CategoryRemote }

// SupportedModels implements Driver.
func (a *ADBRemote) SupportedModels() []string { return []string{"android_mobile", "android_tv"} }

// Commands implements Driver.
func (a *ADBRemote) Commands() []CommandSpec {
	return []CommandSpec{
		{Name: "press_key", ParamSchema: map[string]string{"key": "string"}, TimeoutDefault: 5 * time.Second},
		{Name: "click_element", ParamSchema: map[string]string{"x": "int", "y": "int"}, TimeoutDefault: 5 * time.Second},
		{Name: "input_text", ParamSchema: map[string]string{"text": "string"}, TimeoutDefault: 5 * time.Second},
		{Name: "launch_app", ParamSchema: map[string]string{"package": "string"}, TimeoutDefault: 10 * time.Second},
		{Name: "close_app", ParamSchema: map[string]string{"package": "string"}, TimeoutDefault: 10 * time.Second},
	}
}

// Execute implements Driver.
func (a *ADBRemote) Execute(ctx context.Context, command string, params map[string]any) (*ExecResult, error) {
	switch command {
	case "press_key":
		key := strings.ToUpper(paramString(params, "key"))
		code, ok := adbKeycodes[key]
		if !ok {
			return &ExecResult{Detail: fmt.Sprintf("unknown key %q", key)}, nil
		}
		return a.shell(ctx, "input", "keyevent", code)
	case "click_element":
		x, y := paramString(params, "x"), paramString(params, "y")
		if x == "" || y == "" {
			return &ExecResult{Detail: "click_element requires x and y"}, nil
		}
		return a.shell(ctx, "input", "tap", x, y)
	case "input_text":
		text := paramString(params, "text")
		return a.shell(ctx, "input", "text", strings.ReplaceAll(text, " ", "%s"))
	case "launch_app":
		pkg := paramString(params, "package")
		return a.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	case "close_app":
		pkg := paramString(params, "package")
		return a.shell(ctx, "am", "force-stop", pkg)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

func (a *ADBRemote) shell(ctx context.Context, args ...string) (*ExecResult, error) {
	out, err := a.run(ctx, a.device.Serial, append([]string{"shell"}, args...)...)
	if err != nil {
		return &ExecResult{Detail: strings.TrimSpace(out)}, nil
	}
	return &ExecResult{Success: true}, nil
}

// ADBTextVerifier checks on-screen text through a uiautomator dump.
type ADBTextVerifier struct {
	device Device
	run    adbRunner
}

// NewADBTextVerifier builds a text verification driver for one Android device.
func NewADBTextVerifier(device Device) (Driver, error) {
	if device.Serial == "" {
		return nil, fmt.Errorf("device %s has no adb serial", device.ID)
	}
	return &ADBTextVerifier{device: device, run: execADB}, nil
}

// Category implements Driver.
func (v *ADBTextVerifier) Category() string { return CategoryVerificationText }

// SupportedModels implements Driver.
func (v *ADBTextVerifier) SupportedModels() []string { return []string{"android_mobile", "android_tv"} }

// Commands implements Driver.
func (v *ADBTextVerifier) Commands() []CommandSpec {
	return []CommandSpec{
		{Name: "waitForTextToAppear", ParamSchema: map[string]string{"text": "string", "timeout": "int"},
			TimeoutDefault: 10 * time.Second},
		{Name: "waitForTextToDisappear", ParamSchema: map[string]string{"text": "string", "timeout": "int"},
			TimeoutDefault: 10 * time.Second},
	}
}

// Execute implements Driver.
func (v *ADBTextVerifier) Execute(ctx context.Context, command string, params map[string]any) (*ExecResult, error) {
	wantPresent := false
	switch command {
	case "waitForTextToAppear":
		wantPresent = true
	case "waitForTextToDisappear":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
	}

	text := paramString(params, "text")
	if text == "" {
		return &ExecResult{Detail: "verification requires text"}, nil
	}
	timeout := paramDuration(params, "timeout", 10*time.Second)
	deadline := time.Now().Add(timeout)
	for {
		dump, err := v.run(ctx, v.device.Serial, "exec-out", "uiautomator", "dump", "/dev/tty")
		if err == nil && strings.Contains(dump, text) == wantPresent {
			return &ExecResult{Success: true}, nil
		}
		if time.Now().After(deadline) {
			return &ExecResult{Detail: fmt.Sprintf("text %q condition not met within %s", text, timeout)}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func paramString(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", int64(v))
	case int:
		return fmt.Sprintf("%d", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func paramInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// paramDuration reads a millisecond count from params.
func paramDuration(params map[string]any, key string, fallback time.Duration) time.Duration {
	switch v := params[key].(type) {
	case float64:
		return time.Duration(v) * time.Millisecond
	case int:
		return time.Duration(v) * time.Millisecond
	}
	return fallback
}
