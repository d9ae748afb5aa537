// Package handlers implements HTTP request handlers for the muse API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dwsmith1983/muse/internal/gate"
	"github.com/dwsmith1983/muse/pkg/types"
)

// Service is the subset of the application the API exposes.
type Service interface {
	EvaluateGate(ctx context.Context) types.GateVerdict
	FlagStatus(ctx context.Context) (gate.FlagStatus, error)
	Run(ctx context.Context) types.RunReport
	LatestReport() (types.RunReport, bool)
	Replay(ctx context.Context, filter string) (types.ReplayResult, error)
	Ping(ctx context.Context) error
}

type contextKey struct{}

// WithRequestID returns a copy of ctx carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Handlers contains all HTTP handler dependencies.
type Handlers struct {
	svc    Service
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(svc Service) *Handlers {
	return &Handlers{
		svc:    svc,
		logger: slog.Default(),
	}
}

// SetLogger overrides the default logger.
func (h *Handlers) SetLogger(l *slog.Logger) {
	if l != nil {
		h.logger = l
	}
}

// log returns the handler logger tagged with the request's id.
func (h *Handlers) log(r *http.Request) *slog.Logger {
	if id := RequestID(r.Context()); id != "" {
		return h.logger.With("requestId", id)
	}
	return h.logger
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log(r).Error("encoding response", "error", err)
	}
}

// writeError logs the internal error and returns a sanitized JSON error to the client.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	if err != nil {
		h.log(r).Error(msg, "error", err, "status", status)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
