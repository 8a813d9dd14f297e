package handlers

import (
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/models"
)

type DeploymentHandler struct {
	svc *deployment.Service
}

func NewDeploymentHandler(svc *deployment.Service) *DeploymentHandler {
	return &DeploymentHandler{svc: svc}
}

func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	envID, ok := queryID(r, "environment_id")
	if !ok {
		badRequest(w, "invalid environment_id")
		return
	}
	promptID, ok := queryID(r, "prompt_id")
	if !ok {
		badRequest(w, "invalid prompt_id")
		return
	}
	limit, ok := queryInt(r, "limit", 100, 1, 500)
	if !ok {
		badRequest(w, "limit must be between 1 and 500")
		return
	}

	ds, err := h.svc.List(r.Context(), deployment.Filter{EnvironmentID: envID, PromptID: promptID, Limit: limit})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deployments": ds, "count": len(ds)})
}

func (h *DeploymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req deployment.DeployRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	d, err := h.svc.Deploy(r.Context(), req)
	if err != nil {
		h.writeDeployError(w, r, d, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	d, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

func (h *DeploymentHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	var req rollbackRequest
	if err := decodeBody(r, &req, true); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	d, err := h.svc.Rollback(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDeployError(w, r, d, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *DeploymentHandler) Active(w http.ResponseWriter, r *http.Request) {
	envID, ok := pathID(r, "environmentID")
	if !ok {
		badRequest(w, "invalid environment id")
		return
	}
	promptID, ok := pathID(r, "promptID")
	if !ok {
		badRequest(w, "invalid prompt id")
		return
	}

	d, err := h.svc.Active(r.Context(), promptID, envID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// writeDeployError reports a failed activation together with the record it
// left behind.
func (h *DeploymentHandler) writeDeployError(w http.ResponseWriter, r *http.Request, d *models.Deployment, err error) {
	if d == nil {
		writeError(w, r, err)
		return
	}
	slog.Warn("deployment not activated", "deployment_id", d.ID, "error", err)
	writeJSON(w, statusFor(err), map[string]interface{}{"error": err.Error(), "deployment": d})
}
