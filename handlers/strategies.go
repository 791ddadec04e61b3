// ABOUTME: Strategy catalog endpoints exposing names, metrics, and parameters
// ABOUTME: Backed by the engine's strategy registry introspection

package handlers

import (
	"net/http"

	"github.com/openstack/watcher-sub000/engine"
)

// ListStrategies handles GET /api/v1/strategies.
func (h *Handler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Strategies []*engine.StrategyInfo `json:"strategies"`
	}{Strategies: h.engine.ListStrategies()})
}

// GetStrategy handles GET /api/v1/strategies/{name}.
func (h *Handler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.GetStrategyInfo(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
