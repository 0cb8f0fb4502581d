//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package host is the host agent: it registers its devices with the server,
// heartbeats, and executes graphs against local controllers.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/virtualpytest/virtualpytest/config"
	"github.com/virtualpytest/virtualpytest/controller"
	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/log"
)

// RegisteredDevice is the device description sent to the server.
type RegisteredDevice struct {
	controller.Device
	Capabilities []string `json:"capabilities"`
}

// Registration is the payload of POST {server}/host/register.
type Registration struct {
	HostID  string             `json:"host_id"`
	HostURL string             `json:"host_url"`
	Devices []RegisteredDevice `json:"devices"`
}

// Agent owns the controller registry and the execution engine of one host.
type Agent struct {
	cfg      *config.Config
	registry *controller.Registry
	tasks    *execution.TaskManager
	client   *http.Client

	mu sync.Mutex
	// busy maps an executing device to its task id.
	busy map[string]string
}

// New creates a host agent. The resolver may be nil when the server pre-bakes
// all navigation transitions.
func New(cfg *config.Config, registry *controller.Registry, resolver execution.PathResolver) *Agent {
	runner := controller.NewRunner(registry)
	executor := execution.NewExecutor(runner, runner, resolver)
	return &Agent{
		cfg:      cfg,
		registry: registry,
		tasks:    execution.NewTaskManager(executor),
		client:   &http.Client{Timeout: 10 * time.Second},
		busy:     make(map[string]string),
	}
}

// Register announces this host and its devices to the server.
func (a *Agent) Register(ctx context.Context) error {
	devices := a.registry.Devices()
	payload := Registration{
		HostID:  a.cfg.HostID,
		HostURL: a.cfg.HostURL,
		Devices: make([]RegisteredDevice, 0, len(devices)),
	}
	for _, d := range devices {
		payload.Devices = append(payload.Devices, RegisteredDevice{
			Device:       d,
			Capabilities: a.registry.Capabilities(d.ID),
		})
	}
	if err := a.post(ctx, "/host/register", payload); err != nil {
		return fmt.Errorf("register host %s: %w", a.cfg.HostID, err)
	}
	log.Infof("host %s registered with %d devices", a.cfg.HostID, len(payload.Devices))
	return nil
}

// RunHeartbeat sends heartbeats until the context ends. A failed beat is
// logged and retried at the next tick; the server marks this host unavailable
// after three misses.
func (a *Agent) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.post(ctx, "/host/heartbeat", map[string]string{"host_id": a.cfg.HostID}); err != nil {
				log.Warnf("heartbeat failed: %v", err)
			}
		}
	}
}

func (a *Agent) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ServerURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return nil
}

// ExecuteTask starts a graph execution on one device. A device runs one
// graph at a time; a second submission returns ErrDeviceBusy.
func (a *Agent) ExecuteTask(teamID, deviceID string, g *execution.Graph) (string, error) {
	if err := g.Validate(); err != nil {
		return "", err
	}

	a.mu.Lock()
	if taskID, running := a.busy[deviceID]; running {
		a.mu.Unlock()
		return "", fmt.Errorf("%w: device %s is executing task %s", execution.ErrDeviceBusy, deviceID, taskID)
	}
	// Reserve before spawning so concurrent submissions cannot both pass.
	a.busy[deviceID] = "pending"
	a.mu.Unlock()

	ec := execution.NewContext(teamID, deviceID, a.cfg.HostID)
	taskID := a.tasks.ExecuteAsync(g, ec)

	a.mu.Lock()
	a.busy[deviceID] = taskID
	a.mu.Unlock()

	go a.releaseWhenDone(taskID, deviceID)
	log.Infof("host: task %s started on device %s", taskID, deviceID)
	return taskID, nil
}

// releaseWhenDone frees the device once its task finishes.
func (a *Agent) releaseWhenDone(taskID, deviceID string) {
	for {
		_, done, _ := a.tasks.Result(taskID)
		if done {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	a.mu.Lock()
	if a.busy[deviceID] == taskID {
		delete(a.busy, deviceID)
	}
	a.mu.Unlock()
	log.Debugf("host: device %s released after task %s", deviceID, taskID)
}

// Status returns the task state with the log delta after sinceLogIndex.
func (a *Agent) Status(taskID string, sinceLogIndex int) (*execution.TaskStatus, error) {
	return a.tasks.Status(taskID, sinceLogIndex)
}

// Cancel requests cancellation of a running task.
func (a *Agent) Cancel(taskID string) error {
	return a.tasks.Cancel(taskID)
}

// DeviceBusy reports whether the device is currently executing.
func (a *Agent) DeviceBusy(deviceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, busy := a.busy[deviceID]
	return busy
}
