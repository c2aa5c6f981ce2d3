package api

import (
	"net/http"
)

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	const op = "admin_sweep"

	report := h.janitor.Sweep()
	if h.metrics != nil {
		h.metrics.Sweeps.Inc()
		h.metrics.SweptEntries.WithLabelValues("direct_messages").Add(float64(report.DirectMessages))
		h.metrics.SweptEntries.WithLabelValues("group_messages").Add(float64(report.GroupMessages))
		h.metrics.SweptEntries.WithLabelValues("caches").Add(float64(report.Caches))
		h.metrics.SweptEntries.WithLabelValues("reshares").Add(float64(report.Reshares))
	}
	h.ok(w, op, report)
}
