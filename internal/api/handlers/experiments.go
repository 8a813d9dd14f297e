package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/experiment"
)

type ExperimentHandler struct {
	svc *experiment.Service
}

func NewExperimentHandler(svc *experiment.Service) *ExperimentHandler {
	return &ExperimentHandler{svc: svc}
}

func (h *ExperimentHandler) List(w http.ResponseWriter, r *http.Request) {
	promptID, ok := queryID(r, "prompt_id")
	if !ok {
		badRequest(w, "invalid prompt_id")
		return
	}

	es, err := h.svc.List(r.Context(), promptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"experiments": es, "count": len(es)})
}

func (h *ExperimentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req experiment.CreateRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	e, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *ExperimentHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	var req experiment.UpdateRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	e, err := h.svc.Update(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *ExperimentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	e, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *ExperimentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ExperimentHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	e, err := h.svc.Start(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *ExperimentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	e, err := h.svc.Stop(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

type completeRequest struct {
	WinnerVariantID *uuid.UUID `json:"winner_variant_id"`
}

func (h *ExperimentHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	var req completeRequest
	if err := decodeBody(r, &req, true); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	e, err := h.svc.Complete(r.Context(), id, req.WinnerVariantID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Select draws a variant without running it.
func (h *ExperimentHandler) Select(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	_, v, err := h.svc.Select(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *ExperimentHandler) Results(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	results, err := h.svc.Results(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"experiment_id": id, "variants": results})
}
