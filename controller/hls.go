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
	"os"
	"path/filepath"
	"sort"
	"time"
)

// HLSCapture is the AV driver over an HLS capture pipeline writing numbered
// .ts segments and .jpg frames into the device's capture folder.
type HLSCapture struct {
	device Device
	// segmentDuration is the duration of one capture segment in seconds.
	segmentDuration int
}

// NewHLSCaptureFactory returns a factory for AV drivers sharing one segment
// duration, so audio and video helpers align to the same window.
func NewHLSCaptureFactory(segmentDurationSec int) Factory {
	if segmentDurationSec <= 0 {
		segmentDurationSec = 2
	}
	return func(device Device) (Driver, error) {
		if device.CaptureDir == "" {
			return nil, fmt.Errorf("device %s has no capture folder", device.ID)
		}
		return &HLSCapture{device: device, segmentDuration: segmentDurationSec}, nil
	}
}

var _ AVCapture = (*HLSCapture)(nil)

// Category implements Driver.
func (h *HLSCapture) Category() string { return CategoryAV }

// SupportedModels implements Driver.
func (h *HLSCapture) SupportedModels() []string { return nil }

// Commands implements Driver.
func (h *HLSCapture) Commands() []CommandSpec {
	return []CommandSpec{
		{Name: "take_screenshot", TimeoutDefault: 5 * time.Second},
		{Name: "list_segments", ParamSchema: map[string]string{"count": "int", "duration": "int"},
			TimeoutDefault: 5 * time.Second},
	}
}

// Execute implements Driver.
func (h *HLSCapture) Execute(ctx context.Context, command string, params map[string]any) (*ExecResult, error) {
	switch command {
	case "take_screenshot":
		frame, err := h.latestFrame()
		if err != nil {
			return &ExecResult{Detail: err.Error()}, nil
		}
		return &ExecResult{Success: true, Evidence: []string{frame}}, nil
	case "list_segments":
		count := paramInt(params, "count", 5)
		duration := paramInt(params, "duration", 2*h.segmentDuration)
		segments, err := h.RecentSegments(count, duration)
		if err != nil {
			return &ExecResult{Detail: err.Error()}, nil
		}
		return &ExecResult{Success: true, Evidence: segments}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
}

// CaptureFolder implements AVCapture.
func (h *HLSCapture) CaptureFolder() string { return h.device.CaptureDir }

// RecentSegments implements AVCapture: the newest segments covering roughly
// durationSec seconds, oldest first, capped at count.
func (h *HLSCapture) RecentSegments(count, durationSec int) ([]string, error) {
	segments, err := h.listByModTime("*.ts")
	if err != nil {
		return nil, err
	}
	need := (durationSec + h.segmentDuration - 1) / h.segmentDuration
	if count > 0 && need > count {
		need = count
	}
	if need < len(segments) {
		segments = segments[len(segments)-need:]
	}
	return segments, nil
}

func (h *HLSCapture) latestFrame() (string, error) {
	frames, err := h.listByModTime("*.jpg")
	if err != nil {
		return "", err
	}
	if len(frames) == 0 {
		return "", fmt.Errorf("no captured frame in %s", h.device.CaptureDir)
	}
	return frames[len(frames)-1], nil
}

// listByModTime returns matching files sorted oldest to newest.
func (h *HLSCapture) listByModTime(pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(h.device.CaptureDir, pattern))
	if err != nil {
		return nil, err
	}
	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: path, mod: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mod.Equal(entries[j].mod) {
			return entries[i].path < entries[j].path
		}
		return entries[i].mod.Before(entries[j].mod)
	})
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.path
	}
	return out, nil
}
