//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package config loads process configuration from the environment.
package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration shared by the server and host processes.
type Config struct {
	// ServerURL is the address the API server binds to and publishes.
	ServerURL string
	// HostURL is the address a host agent binds to and registers with the server.
	HostURL string
	// HostID identifies a host agent; defaults to the hostname.
	HostID string

	// DBPath is the SQLite database path. ":memory:" is accepted for tests.
	DBPath string

	// HLSSegmentDuration aligns AV capture helpers to the segment window.
	HLSSegmentDuration time.Duration

	// OpenRouterAPIKey and OpenRouterModel configure the AI plan generator.
	OpenRouterAPIKey string
	OpenRouterModel  string

	// RedisURL and RedisToken configure the optional review-pipeline queue.
	RedisURL   string
	RedisToken string

	// ProxyTimeout bounds a single server-to-host control call.
	ProxyTimeout time.Duration
	// HeartbeatInterval is how often a host reports liveness.
	HeartbeatInterval time.Duration

	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string
}

// Load reads configuration from environment variables, applying defaults for
// anything unset.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_URL", "http://localhost:5109")
	v.SetDefault("HOST_URL", "http://localhost:6109")
	v.SetDefault("HOST_ID", "")
	v.SetDefault("VPT_DB_PATH", "virtualpytest.db")
	v.SetDefault("HLS_SEGMENT_DURATION", 2)
	v.SetDefault("OPENROUTER_MODEL", "anthropic/claude-3.5-sonnet")
	v.SetDefault("VPT_PROXY_TIMEOUT_SECONDS", 30)
	v.SetDefault("VPT_HEARTBEAT_SECONDS", 10)
	v.SetDefault("VPT_LOG_LEVEL", "info")

	hostID := v.GetString("HOST_ID")
	if hostID == "" {
		hostID, _ = os.Hostname()
	}

	return &Config{
		ServerURL:          v.GetString("SERVER_URL"),
		HostURL:            v.GetString("HOST_URL"),
		HostID:             hostID,
		DBPath:             v.GetString("VPT_DB_PATH"),
		HLSSegmentDuration: time.Duration(v.GetInt("HLS_SEGMENT_DURATION")) * time.Second,
		OpenRouterAPIKey:   v.GetString("OPENROUTER_API_KEY"),
		OpenRouterModel:    v.GetString("OPENROUTER_MODEL"),
		RedisURL:           v.GetString("UPSTASH_REDIS_REST_URL"),
		RedisToken:         v.GetString("UPSTASH_REDIS_REST_TOKEN"),
		ProxyTimeout:       time.Duration(v.GetInt("VPT_PROXY_TIMEOUT_SECONDS")) * time.Second,
		HeartbeatInterval:  time.Duration(v.GetInt("VPT_HEARTBEAT_SECONDS")) * time.Second,
		LogLevel:           v.GetString("VPT_LOG_LEVEL"),
	}
}
