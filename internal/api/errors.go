// Copyright (c) 2025 halocam
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/halocam/livedemo/internal/broker"
	"github.com/halocam/livedemo/internal/live"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a generic 400 error response.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// writeSessionError maps session lifecycle errors onto HTTP status codes.
// The distinction matters to callers: a rejection is final for that source,
// unavailability is worth retrying, and supersession means a newer request won.
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, broker.ErrRejected):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "session rejected by broker"})
	case errors.Is(err, broker.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broker unavailable"})
	case errors.Is(err, broker.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "broker request timed out"})
	case errors.Is(err, broker.ErrBadResponse):
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "broker returned a malformed response"})
	case errors.Is(err, live.ErrNoSources):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no playable sources available"})
	case errors.Is(err, live.ErrSuperseded):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "superseded by a newer request"})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}
