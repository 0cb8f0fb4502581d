//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/virtualpytest/virtualpytest/execution"
	"github.com/virtualpytest/virtualpytest/host"
	"github.com/virtualpytest/virtualpytest/internal/httpapi"
	"github.com/virtualpytest/virtualpytest/log"
	"github.com/virtualpytest/virtualpytest/storage"
)

// missedHeartbeats is how many intervals may pass before a host and its
// devices are marked unavailable.
const missedHeartbeats = 3

// ErrHostUnavailable indicates the owning host is down or unknown.
var ErrHostUnavailable = errors.New("host unavailable")

// HostInfo is the server's view of one registered host.
type HostInfo struct {
	HostID        string                  `json:"host_id"`
	HostURL       string                  `json:"host_url"`
	Devices       []host.RegisteredDevice `json:"devices"`
	LastHeartbeat time.Time               `json:"last_heartbeat"`
	Available     bool                    `json:"available"`
}

// HostRegistry tracks registered hosts and routes devices to them.
type HostRegistry struct {
	interval time.Duration
	alerts   storage.ResultStore

	mu    sync.RWMutex
	hosts map[string]*HostInfo
	// deviceHost maps a device id to its owning host id.
	deviceHost map[string]string
}

// NewHostRegistry creates a registry. alerts may be nil; when set, hosts
// going unavailable raise an alert row.
func NewHostRegistry(heartbeatInterval time.Duration, alerts storage.ResultStore) *HostRegistry {
	return &HostRegistry{
		interval:   heartbeatInterval,
		alerts:     alerts,
		hosts:      make(map[string]*HostInfo),
		deviceHost: make(map[string]string),
	}
}

// Register installs or refreshes a host and its device map.
func (r *HostRegistry) Register(reg host.Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.hosts[reg.HostID]; ok {
		for _, d := range old.Devices {
			delete(r.deviceHost, d.ID)
		}
	}
	info := &HostInfo{
		HostID:        reg.HostID,
		HostURL:       reg.HostURL,
		Devices:       reg.Devices,
		LastHeartbeat: time.Now(),
		Available:     true,
	}
	r.hosts[reg.HostID] = info
	for _, d := range reg.Devices {
		r.deviceHost[d.ID] = reg.HostID
	}
	log.Infof("host %s registered at %s with %d devices", reg.HostID, reg.HostURL, len(reg.Devices))
}

// Heartbeat refreshes a host's liveness.
func (r *HostRegistry) Heartbeat(hostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.hosts[hostID]
	if !ok {
		return fmt.Errorf("%w: %s never registered", ErrHostUnavailable, hostID)
	}
	info.LastHeartbeat = time.Now()
	if !info.Available {
		info.Available = true
		log.Infof("host %s recovered", hostID)
	}
	return nil
}

// Host returns one host by id.
func (r *HostRegistry) Host(hostID string) (*HostInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.hosts[hostID]
	if !ok || !info.Available {
		return nil, fmt.Errorf("%w: %s", ErrHostUnavailable, hostID)
	}
	return info, nil
}

// HostForDevice returns the available host owning a device.
func (r *HostRegistry) HostForDevice(deviceID string) (*HostInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hostID, ok := r.deviceHost[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: device %s", execution.ErrDeviceUnavailable, deviceID)
	}
	info := r.hosts[hostID]
	if info == nil || !info.Available {
		return nil, fmt.Errorf("%w: %s (device %s)", ErrHostUnavailable, hostID, deviceID)
	}
	return info, nil
}

// Device returns a device's registered description.
func (r *HostRegistry) Device(deviceID string) (host.RegisteredDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hostID, ok := r.deviceHost[deviceID]
	if !ok {
		return host.RegisteredDevice{}, fmt.Errorf("%w: device %s", execution.ErrDeviceUnavailable, deviceID)
	}
	for _, d := range r.hosts[hostID].Devices {
		if d.ID == deviceID {
			return d, nil
		}
	}
	return host.RegisteredDevice{}, fmt.Errorf("%w: device %s", execution.ErrDeviceUnavailable, deviceID)
}

// Hosts returns a snapshot of all hosts.
func (r *HostRegistry) Hosts() []*HostInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*HostInfo, 0, len(r.hosts))
	for _, info := range r.hosts {
		cp := *info
		out = append(out, &cp)
	}
	return out
}

// Monitor marks hosts unavailable after three missed heartbeats until the
// context ends.
func (r *HostRegistry) Monitor(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *HostRegistry) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(missedHeartbeats) * r.interval)
	r.mu.Lock()
	var lost []*HostInfo
	for _, info := range r.hosts {
		if info.Available && info.LastHeartbeat.Before(cutoff) {
			info.Available = false
			cp := *info
			lost = append(lost, &cp)
		}
	}
	r.mu.Unlock()

	for _, info := range lost {
		log.Warnf("host %s missed %d heartbeats, marking unavailable", info.HostID, missedHeartbeats)
		if r.alerts == nil {
			continue
		}
		alert := &storage.Alert{
			ID:        uuid.NewString(),
			TeamID:    "", // host liveness is not team scoped
			Kind:      "host_unreachable",
			Message:   fmt.Sprintf("host %s missed %d heartbeats", info.HostID, missedHeartbeats),
			CreatedAt: time.Now(),
		}
		if err := r.alerts.InsertAlert(ctx, alert); err != nil {
			log.Errorf("insert host alert: %v", err)
		}
	}
}

func (s *Server) handleHostRegister(w http.ResponseWriter, r *http.Request) {
	var reg host.Registration
	if err := httpapi.Decode(r, &reg); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if reg.HostID == "" || reg.HostURL == "" {
		httpapi.Errorf(w, http.StatusBadRequest, "host_id and host_url are required")
		return
	}
	s.hosts.Register(reg)
	httpapi.OK(w, nil)
}

func (s *Server) handleHostHeartbeat(w http.ResponseWriter, r *http.Request) {
	var beat struct {
		HostID string `json:"host_id"`
	}
	if err := httpapi.Decode(r, &beat); err != nil {
		httpapi.Error(w, http.StatusBadRequest, err)
		return
	}
	if err := s.hosts.Heartbeat(beat.HostID); err != nil {
		httpapi.Error(w, http.StatusNotFound, err)
		return
	}
	httpapi.OK(w, nil)
}
