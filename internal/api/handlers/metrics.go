package handlers

import (
	"fmt"
	"net/http"

	"github.com/nikhilbhutani/promptops/internal/metrics"
)

type MetricsHandler struct {
	agg *metrics.Aggregator
}

func NewMetricsHandler(agg *metrics.Aggregator) *MetricsHandler {
	return &MetricsHandler{agg: agg}
}

func (h *MetricsHandler) days(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	days, ok := queryInt(r, "days", def, metrics.MinDays, metrics.MaxDays)
	if !ok {
		badRequest(w, fmt.Sprintf("days must be between %d and %d", metrics.MinDays, metrics.MaxDays))
	}
	return days, ok
}

func (h *MetricsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r, 7)
	if !ok {
		return
	}
	o, err := h.agg.Overview(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *MetricsHandler) ByModel(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r, 7)
	if !ok {
		return
	}
	stats, err := h.agg.ByModel(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *MetricsHandler) Latency(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r, 7)
	if !ok {
		return
	}
	buckets, err := h.agg.Latency(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (h *MetricsHandler) Costs(w http.ResponseWriter, r *http.Request) {
	days, ok := h.days(w, r, 30)
	if !ok {
		return
	}
	buckets, err := h.agg.Costs(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (h *MetricsHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 50, 1, metrics.MaxRecent)
	if !ok {
		badRequest(w, fmt.Sprintf("limit must be between 1 and %d", metrics.MaxRecent))
		return
	}
	outcomes, err := h.agg.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomes)
}
