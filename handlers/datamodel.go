// ABOUTME: Cluster data model endpoint returning the current model snapshot
// ABOUTME: Supports compute and storage model types via a query parameter

package handlers

import "net/http"

// GetDataModel handles GET /api/v1/data_model. The optional "type" query
// parameter selects compute (default) or storage.
func (h *Handler) GetDataModel(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.engine.GetDataModelInfo(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
