// ABOUTME: Action plan API endpoints: list, inspect, launch, and cancel plans
// ABOUTME: Plan detail includes actions in scheduling order plus indicators

package handlers

import (
	"net/http"

	"github.com/openstack/watcher-sub000/models"
)

// ListActionPlans handles GET /api/v1/action_plans. An optional
// audit_uuid query parameter narrows the listing to one audit's plans.
func (h *Handler) ListActionPlans(w http.ResponseWriter, r *http.Request) {
	var (
		plans []*models.ActionPlan
		err   error
	)
	if auditUUID := r.URL.Query().Get("audit_uuid"); auditUUID != "" {
		plans, err = h.store.ListPlansForAudit(auditUUID)
	} else {
		plans, err = h.store.ListPlans()
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ActionPlans []*models.ActionPlan `json:"action_plans"`
	}{ActionPlans: plans})
}

type actionPlanDetail struct {
	*models.ActionPlan
	Actions    []*models.Action            `json:"actions"`
	Indicators []*models.EfficacyIndicator `json:"efficacy_indicators,omitempty"`
}

// GetActionPlan handles GET /api/v1/action_plans/{uuid}.
func (h *Handler) GetActionPlan(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	plan, err := h.store.GetPlan(uuid)
	if err != nil {
		writeError(w, err)
		return
	}
	actions, err := h.store.ListActionsForPlan(uuid)
	if err != nil {
		writeError(w, err)
		return
	}
	indicators, err := h.store.ListIndicatorsForPlan(uuid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, actionPlanDetail{
		ActionPlan: plan,
		Actions:    actions,
		Indicators: indicators,
	})
}

// DeleteActionPlan handles DELETE /api/v1/action_plans/{uuid}. Plans
// still PENDING or ONGOING must be cancelled first.
func (h *Handler) DeleteActionPlan(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteActionPlan(r.PathValue("uuid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LaunchActionPlan handles POST /api/v1/action_plans/{uuid}/launch.
func (h *Handler) LaunchActionPlan(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := h.engine.LaunchActionPlan(r.Context(), uuid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	}{UUID: uuid, Status: "launched"})
}

// CancelActionPlan handles POST /api/v1/action_plans/{uuid}/cancel.
func (h *Handler) CancelActionPlan(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := h.engine.CancelActionPlan(r.Context(), uuid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, struct {
		UUID   string `json:"uuid"`
		Status string `json:"status"`
	}{UUID: uuid, Status: "cancelling"})
}
