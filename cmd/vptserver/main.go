//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Command vptserver runs the VirtualPyTest API server: team-scoped HTTP
// surface, host registry and multi-device orchestration.
package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/virtualpytest/virtualpytest/config"
	"github.com/virtualpytest/virtualpytest/log"
	"github.com/virtualpytest/virtualpytest/planner"
	"github.com/virtualpytest/virtualpytest/server"
	"github.com/virtualpytest/virtualpytest/storage"
)

func main() {
	cfg := config.Load()
	log.SetLevel(cfg.LogLevel)

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database %s: %v", cfg.DBPath, err)
	}
	defer store.Close()

	var chat planner.ChatClient
	if cfg.OpenRouterAPIKey != "" {
		chat = planner.NewChatClient(cfg.OpenRouterAPIKey, cfg.OpenRouterModel)
		log.Infof("AI planning enabled with model %s", cfg.OpenRouterModel)
	} else {
		log.Warn("OPENROUTER_API_KEY unset, AI planning disabled")
	}

	srv, err := server.New(cfg, store, chat)
	if err != nil {
		log.Fatalf("assemble server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.Hosts().Monitor(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@daily", func() {
		srv.PlanCache().Maintenance(context.Background())
	}); err != nil {
		log.Fatalf("schedule plan maintenance: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:    listenAddr(cfg.ServerURL, ":5109"),
		Handler: srv.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Infof("vptserver listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}

// listenAddr derives a bind address from a published URL.
func listenAddr(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Port() == "" {
		return fallback
	}
	return ":" + u.Port()
}
