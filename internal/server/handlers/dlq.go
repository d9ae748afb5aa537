package handlers

import (
	"net/http"
)

// ReplayDLQ redelivers dead letters whose operation contains the filter
// query parameter as a substring. An empty filter replays everything.
func (h *Handlers) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	res, err := h.svc.Replay(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "replay failed", err)
		return
	}
	h.log(r).Info("dlq replay", "filter", filter,
		"succeeded", res.Succeeded, "failed", res.Failed, "abandoned", res.Abandoned, "skipped", res.Skipped)
	h.writeJSON(w, r, http.StatusOK, res)
}
