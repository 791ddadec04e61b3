// ABOUTME: Health check endpoint with worker pool statistics
// ABOUTME: Always returns 200 while the process is serving requests

package handlers

import (
	"net/http"
	"time"

	"github.com/openstack/watcher-sub000/pool"
)

var startTime = time.Now()

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := make([]pool.Stats, 0, len(h.pools))
	for _, p := range h.pools {
		stats = append(stats, p.Stats())
	}
	writeJSON(w, http.StatusOK, struct {
		Status  string       `json:"status"`
		Uptime  string       `json:"uptime"`
		Workers []pool.Stats `json:"workers,omitempty"`
	}{
		Status:  "ok",
		Uptime:  time.Since(startTime).Round(time.Second).String(),
		Workers: stats,
	})
}
