//
// Copyright (C) 2026 VirtualPyTest. All rights reserved.
//
// virtualpytest is licensed under the Apache License Version 2.0.
//
//

// Package httpapi carries the JSON envelope shared by the server and host
// HTTP surfaces: every body is {"success": bool, "error"?: string, ...}.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/virtualpytest/virtualpytest/log"
)

// OK writes a 200 envelope with success=true plus the payload fields.
func OK(w http.ResponseWriter, payload map[string]any) {
	WriteStatus(w, http.StatusOK, payload)
}

// WriteStatus writes an envelope with success=true at the given status.
func WriteStatus(w http.ResponseWriter, status int, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	write(w, status, body)
}

// Error writes a failure envelope.
func Error(w http.ResponseWriter, status int, err error) {
	write(w, status, map[string]any{"success": false, "error": err.Error()})
}

// Errorf writes a failure envelope with a formatted message.
func Errorf(w http.ResponseWriter, status int, format string, args ...any) {
	write(w, status, map[string]any{"success": false, "error": fmt.Sprintf(format, args...)})
}

func write(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warnf("httpapi: encode response: %v", err)
	}
}

// Decode reads a JSON request body into v.
func Decode(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// TeamID extracts the team scope from the query or the X-Team-ID header.
func TeamID(r *http.Request) string {
	if id := r.URL.Query().Get("team_id"); id != "" {
		return id
	}
	return r.Header.Get("X-Team-ID")
}
