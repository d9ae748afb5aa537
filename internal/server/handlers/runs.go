package handlers

import (
	"net/http"
)

// RunPipeline executes one orchestration run synchronously and returns its
// report. A run stopped early answers 422 with the report as body.
func (h *Handlers) RunPipeline(w http.ResponseWriter, r *http.Request) {
	report := h.svc.Run(r.Context())
	logger := h.log(r).With("runId", report.RunID)
	status := http.StatusOK
	if report.StoppedEarly {
		status = http.StatusUnprocessableEntity
		logger.Warn("run stopped early", "reason", report.StopReason, "failed", report.FailedStages())
	} else {
		logger.Info("run finished", "duration", report.FinishedAt.Sub(report.StartedAt))
	}
	h.writeJSON(w, r, status, report)
}

// LatestRun returns the report of the last run executed by this process.
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	report, ok := h.svc.LatestReport()
	if !ok {
		h.writeError(w, r, http.StatusNotFound, "no run has completed yet", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, report)
}
