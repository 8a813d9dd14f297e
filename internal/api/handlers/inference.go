package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/inference"
	"github.com/nikhilbhutani/promptops/internal/llm"
)

// ModelLister is the slice of llm.Gateway the model catalogue needs.
type ModelLister interface {
	ListModels() []llm.ModelInfo
}

type InferenceHandler struct {
	svc    *inference.Service
	models ModelLister
}

func NewInferenceHandler(svc *inference.Service, models ModelLister) *InferenceHandler {
	return &InferenceHandler{svc: svc, models: models}
}

func (h *InferenceHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req inference.RunRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	h.run(w, r, req)
}

type testRequest struct {
	VersionID *uuid.UUID        `json:"version_id"`
	Variables map[string]string `json:"variables"`
}

// Test runs a stored version with the given variables.
func (h *InferenceHandler) Test(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if req.VersionID == nil {
		badRequest(w, "version_id required")
		return
	}
	h.run(w, r, inference.RunRequest{VersionID: req.VersionID, Variables: req.Variables})
}

func (h *InferenceHandler) run(w http.ResponseWriter, r *http.Request, req inference.RunRequest) {
	res, err := h.svc.Run(r.Context(), req)
	if err != nil {
		if res != nil && errors.Is(err, apperr.ErrUpstream) {
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": err.Error(), "result": res})
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type streamEvent struct {
	Type      inference.EventType `json:"type"`
	Text      string              `json:"text,omitempty"`
	Result    *inference.Result   `json:"result,omitempty"`
	LatencyMs int64               `json:"latency_ms,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// RunStream sends the run as server-sent events: chunk events in order, then
// one done or error event. A client that goes away cancels the run.
func (h *InferenceHandler) RunStream(w http.ResponseWriter, r *http.Request) {
	var req inference.RunRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	st, err := h.svc.Stream(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() {
		st.Cancel()
		<-st.Done()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range st.Events() {
		out := streamEvent{Type: ev.Type, Text: ev.Text, Result: ev.Result}
		switch ev.Type {
		case inference.EventDone:
			out.LatencyMs = ev.Result.LatencyMs
		case inference.EventError:
			out.Error = ev.Err.Error()
		}

		data, _ := json.Marshal(out)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *InferenceHandler) Models(w http.ResponseWriter, r *http.Request) {
	models := []llm.ModelInfo{}
	if h.models != nil {
		models = append(models, h.models.ListModels()...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models, "count": len(models)})
}
