// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package api is the ops surface: health, poller schedule control, the
// dashboard websocket upgrade and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/rmellis/castellan/internal/logging"
)

// APIResponse is the envelope every JSON endpoint returns.
type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError carries a machine-readable code and a human-readable message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := APIResponse{Error: &APIError{Code: code, Message: message}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Warn().Err(err).Msg("failed to encode error response")
	}
}
