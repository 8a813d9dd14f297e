package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/promptops/internal/activity"
)

type ActivityHandler struct {
	svc *activity.Service
}

func NewActivityHandler(svc *activity.Service) *ActivityHandler {
	return &ActivityHandler{svc: svc}
}

func (h *ActivityHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50, 1, 500)
	if !ok {
		badRequest(w, "limit must be between 1 and 500")
		return
	}
	logs, err := h.svc.List(r.Context(), r.URL.Query().Get("action"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"activity": logs, "count": len(logs)})
}

func (h *ActivityHandler) Actions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.svc.Actions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"actions": actions})
}
