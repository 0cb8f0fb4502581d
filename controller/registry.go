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
	"sync"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/log"
)

type instanceKey struct {
	deviceID string
	category string
}

type registration struct {
	category string
	commands []CommandSpec
	factory  Factory
}

// Registry instantiates drivers lazily per (device, category) and serializes
// command execution per device.
type Registry struct {
	mu            sync.Mutex
	registrations map[string]*registration
	devices       map[string]Device
	instances     map[instanceKey]Driver
	// commandCategory routes a bare command name to its owning category.
	commandCategory map[string]string
	deviceLocks     map[string]*sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		registrations:   make(map[string]*registration),
		devices:         make(map[string]Device),
		instances:       make(map[instanceKey]Driver),
		commandCategory: make(map[string]string),
		deviceLocks:     make(map[string]*sync.Mutex),
	}
}

// Register installs a driver factory for one category and feeds its command
// declarations into the command routing table.
func (r *Registry) Register(category string, commands []CommandSpec, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.registrations[category]; dup {
		return fmt.Errorf("category %s already registered", category)
	}
	for _, cmd := range commands {
		if owner, clash := r.commandCategory[cmd.Name]; clash && owner != category {
			return fmt.Errorf("command %s declared by both %s and %s", cmd.Name, owner, category)
		}
		r.commandCategory[cmd.Name] = category
	}
	r.registrations[category] = &registration{category: category, commands: commands, factory: factory}
	return nil
}

// AddDevice makes a device addressable by the registry.
func (r *Registry) AddDevice(device Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[device.ID] = device
	if _, ok := r.deviceLocks[device.ID]; !ok {
		r.deviceLocks[device.ID] = &sync.Mutex{}
	}
}

// Devices returns the registered devices.
func (r *Registry) Devices() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Capabilities lists the categories whose drivers support a device's model.
func (r *Registry) Capabilities(deviceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return nil
	}
	var out []string
	for category, reg := range r.registrations {
		driver, err := r.instanceLocked(device, category, reg)
		if err != nil {
			continue
		}
		if modelSupported(driver, device.Model) {
			out = append(out, category)
		}
	}
	return out
}

// GetController returns the driver instance for (device, category), creating
// it on first use.
func (r *Registry) GetController(deviceID, category string) (Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: device %s", execution.ErrDeviceUnavailable, deviceID)
	}
	reg, ok := r.registrations[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoSuchController, deviceID, category)
	}
	driver, err := r.instanceLocked(device, category, reg)
	if err != nil {
		return nil, err
	}
	if !modelSupported(driver, device.Model) {
		return nil, fmt.Errorf("%w: %s does not support model %s", ErrNoSuchController, category, device.Model)
	}
	return driver, nil
}

func (r *Registry) instanceLocked(device Device, category string, reg *registration) (Driver, error) {
	key := instanceKey{deviceID: device.ID, category: category}
	if driver, ok := r.instances[key]; ok {
		return driver, nil
	}
	driver, err := reg.factory(device)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s controller for %s: %w", category, device.ID, err)
	}
	r.instances[key] = driver
	log.Debugf("controller: created %s driver for device %s", category, device.ID)
	return driver, nil
}

// ExecuteCommand routes a command to the owning driver and runs it while
// holding the device lock, so a device executes one command at a time. An
// empty category is resolved through the command routing table.
func (r *Registry) ExecuteCommand(ctx context.Context, deviceID, category, command string,
	params map[string]any) (*ExecResult, error) {

	if category == "" {
		r.mu.Lock()
		category = r.commandCategory[command]
		r.mu.Unlock()
		if category == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, command)
		}
	}
	driver, err := r.GetController(deviceID, category)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	lock := r.deviceLocks[deviceID]
	r.mu.Unlock()
	if lock == nil {
		return nil, fmt.Errorf("%w: device %s", execution.ErrDeviceUnavailable, deviceID)
	}
	lock.Lock()
	defer lock.Unlock()

	return driver.Execute(ctx, command, params)
}

func modelSupported(d Driver, model string) bool {
	models := d.SupportedModels()
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m == model || m == "*" {
			return true
		}
	}
	return false
}
