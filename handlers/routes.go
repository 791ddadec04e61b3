// ABOUTME: Declarative route table mapping API paths to handler methods
// ABOUTME: Registered onto an http.ServeMux with method-qualified patterns

package handlers

import "net/http"

// Route describes one API endpoint.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// Routes returns all API routes for registration.
func (h *Handler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/api/v1/health", h.Health},

		{http.MethodPost, "/api/v1/audits", h.CreateAudit},
		{http.MethodGet, "/api/v1/audits", h.ListAudits},
		{http.MethodGet, "/api/v1/audits/{uuid}", h.GetAudit},
		{http.MethodDelete, "/api/v1/audits/{uuid}", h.DeleteAudit},
		{http.MethodPost, "/api/v1/audits/{uuid}/trigger", h.TriggerAudit},

		{http.MethodGet, "/api/v1/action_plans", h.ListActionPlans},
		{http.MethodGet, "/api/v1/action_plans/{uuid}", h.GetActionPlan},
		{http.MethodDelete, "/api/v1/action_plans/{uuid}", h.DeleteActionPlan},
		{http.MethodPost, "/api/v1/action_plans/{uuid}/launch", h.LaunchActionPlan},
		{http.MethodPost, "/api/v1/action_plans/{uuid}/cancel", h.CancelActionPlan},

		{http.MethodGet, "/api/v1/strategies", h.ListStrategies},
		{http.MethodGet, "/api/v1/strategies/{name}", h.GetStrategy},

		{http.MethodGet, "/api/v1/data_model", h.GetDataModel},
	}
}

// Register wires every route onto mux, wrapping each handler with the
// supplied middleware (outermost first).
func (h *Handler) Register(mux *http.ServeMux, middlewares ...func(http.HandlerFunc) http.HandlerFunc) {
	for _, route := range h.Routes() {
		handler := route.Handler
		for i := len(middlewares) - 1; i >= 0; i-- {
			handler = middlewares[i](handler)
		}
		mux.HandleFunc(route.Method+" "+route.Path, handler)
	}
}
