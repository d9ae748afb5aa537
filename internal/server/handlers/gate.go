package handlers

import (
	"net/http"
)

// EvaluateGate runs the gate once and returns its verdict. A failing verdict
// is still a successful request; callers inspect state.
func (h *Handlers) EvaluateGate(w http.ResponseWriter, r *http.Request) {
	v := h.svc.EvaluateGate(r.Context())
	h.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"verdict": v,
		"passes":  v.State.Passes(),
	})
}

// FlagStatus returns the current gate flag and whether it is within its TTL.
func (h *Handlers) FlagStatus(w http.ResponseWriter, r *http.Request) {
	fs, err := h.svc.FlagStatus(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "failed to read gate flag", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, fs)
}
