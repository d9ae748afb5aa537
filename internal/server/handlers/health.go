package handlers

import (
	"net/http"
)

// Health reports liveness. It never touches a backend.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports 200 when every backend answers a ping and the gate flag is
// open, else 503.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ready", "flagOpen": false}

	if err := h.svc.Ping(r.Context()); err != nil {
		h.log(r).Warn("readiness ping failed", "error", err)
		body["status"] = "unavailable"
		body["error"] = "backend unavailable"
		h.writeJSON(w, r, http.StatusServiceUnavailable, body)
		return
	}

	fs, err := h.svc.FlagStatus(r.Context())
	if err != nil {
		h.log(r).Warn("readiness flag read failed", "error", err)
		body["status"] = "unavailable"
		body["error"] = "gate flag unreadable"
		h.writeJSON(w, r, http.StatusServiceUnavailable, body)
		return
	}
	body["flagOpen"] = fs.Open
	if !fs.Open {
		body["status"] = "gate closed"
		h.writeJSON(w, r, http.StatusServiceUnavailable, body)
		return
	}
	h.writeJSON(w, r, http.StatusOK, body)
}
