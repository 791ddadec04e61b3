// ABOUTME: Audit API endpoints: create, trigger, list, and inspect audits
// ABOUTME: Creation validates the strategy; trigger hands off to the engine

package handlers

import (
	"net/http"
	"time"

	"github.com/openstack/watcher-sub000/models"
)

type createAuditRequest struct {
	Name            string            `json:"name"`
	Type            models.AuditType  `json:"type,omitempty"`
	Strategy        string            `json:"strategy"`
	Parameters      map[string]any    `json:"parameters,omitempty"`
	Scope           models.AuditScope `json:"scope,omitempty"`
	IntervalSeconds int               `json:"interval_seconds,omitempty"`
	AutoTrigger     bool              `json:"auto_trigger,omitempty"`
	Trigger         bool              `json:"trigger,omitempty"`
}

// CreateAudit handles POST /api/v1/audits. With "trigger": true the audit
// is also submitted to the decision engine immediately.
func (h *Handler) CreateAudit(w http.ResponseWriter, r *http.Request) {
	var req createAuditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	audit := &models.Audit{
		Name:         req.Name,
		Type:         req.Type,
		StrategyName: req.Strategy,
		Parameters:   req.Parameters,
		Scope:        req.Scope,
		Interval:     time.Duration(req.IntervalSeconds) * time.Second,
		AutoTrigger:  req.AutoTrigger,
	}

	uuid, err := h.engine.CreateAudit(audit)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Trigger {
		if err := h.engine.TriggerAudit(r.Context(), uuid); err != nil {
			writeError(w, err)
			return
		}
	}

	created, err := h.store.GetAudit(uuid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListAudits handles GET /api/v1/audits.
func (h *Handler) ListAudits(w http.ResponseWriter, r *http.Request) {
	audits, err := h.store.ListAudits()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Audits []*models.Audit `json:"audits"`
	}{Audits: audits})
}

// GetAudit handles GET /api/v1/audits/{uuid}.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := h.store.GetAudit(r.PathValue("uuid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, audit)
}

// DeleteAudit handles DELETE /api/v1/audits/{uuid}. Deletion is soft:
// the audit leaves every listing but its record survives in the store.
func (h *Handler) DeleteAudit(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteAudit(r.PathValue("uuid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerAudit handles POST /api/v1/audits/{uuid}/trigger.
func (h *Handler) TriggerAudit(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := h.engine.TriggerAudit(r.Context(), uuid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	}{UUID: uuid, Status: "triggered"})
}
