// ABOUTME: HTTP request handlers for the optimization control plane API
// ABOUTME: Holds shared dependencies and the JSON response helpers

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/openstack/watcher-sub000/engine"
	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/pool"
	"github.com/openstack/watcher-sub000/store"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine *engine.Engine
	store  store.Store
	pools  []*pool.Pool
}

// New creates a handler with its dependencies.
func New(eng *engine.Engine, st store.Store, pools ...*pool.Pool) *Handler {
	return &Handler{
		engine: eng,
		store:  st,
		pools:  pools,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps a domain error onto an HTTP status and writes it as JSON.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrInvalid):
		code = http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, models.ErrAuthFailure):
		code = http.StatusUnauthorized
	case errors.Is(err, models.ErrClusterStateNotDefined):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, code, struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}{
		Error: err.Error(),
		Code:  code,
	})
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return models.Invalid("malformed request body: %v", err)
	}
	return nil
}
