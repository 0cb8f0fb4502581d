//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Command vpthost runs a host agent: it owns the attached devices, executes
// graphs against them and reports liveness to the API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/virtualpytest/virtualpytest/config"
	"github.com/virtualpytest/virtualpytest/controller"
	"github.com/virtualpytest/virtualpytest/host"
	"github.com/virtualpytest/virtualpytest/log"
)

// registerRetryInterval paces registration attempts while the server is down.
const registerRetryInterval = 5 * time.Second

func main() {
	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)

	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Fatalf("build controller registry: %v", err)
	}

	agent := host.New(cfg, registry, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for {
			if err := agent.Register(ctx); err == nil {
				break
			} else {
				log.Warnf("register with %s failed, retrying: %v", cfg.ServerURL, err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(registerRetryInterval):
			}
		}
		agent.RunHeartbeat(ctx)
	}()

	httpServer := &http.Server{
		Addr:    listenAddr(cfg.HostURL, ":6109"),
		Handler: agent.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Infof("vpthost %s listening on %s", cfg.HostID, httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}

// buildRegistry wires the built-in drivers and the devices declared in
// VPT_DEVICES (a JSON array of device descriptions).
func buildRegistry(cfg *config.Config) (*controller.Registry, error) {
	registry := controller.NewRegistry()

	if err := registry.Register(controller.CategoryRemote,
		(&controller.ADBRemote{}).Commands(), controller.NewADBRemote); err != nil {
		return nil, err
	}
	if err := registry.Register(controller.CategoryVerificationText,
		(&controller.ADBTextVerifier{}).Commands(), controller.NewADBTextVerifier); err != nil {
		return nil, err
	}
	hlsFactory := controller.NewHLSCaptureFactory(int(cfg.HLSSegmentDuration.Seconds()))
	if err := registry.Register(controller.CategoryAV,
		(&controller.HLSCapture{}).Commands(), hlsFactory); err != nil {
		return nil, err
	}

	raw := os.Getenv("VPT_DEVICES")
	if raw == "" {
		log.Warn("VPT_DEVICES unset, host starts with no devices")
		return registry, nil
	}
	var devices []controller.Device
	if err := json.Unmarshal([]byte(raw), &devices); err != nil {
		return nil, err
	}
	for _, d := range devices {
		registry.AddDevice(d)
		log.Infof("device %s (%s, model %s) attached", d.ID, d.Name, d.Model)
	}
	return registry, nil
}

// listenAddr derives a bind address from a published URL.
func listenAddr(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Port() == "" {
		return fallback
	}
	return ":" + u.Port()
}
