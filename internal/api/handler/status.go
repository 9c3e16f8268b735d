package handler

import (
	"net/http"

	"github.com/bcnelson/ipauth-sync/internal/domain"
)

// Reconciler is the part of the reconciler exposed over HTTP.
type Reconciler interface {
	Status() *domain.StatusResponse
	Trigger() bool
}

// StatusHandler serves the live reconciler state.
type StatusHandler struct {
	reconciler Reconciler
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(reconciler Reconciler) *StatusHandler {
	return &StatusHandler{reconciler: reconciler}
}

// Get returns the current phase, cache entries and last cycle.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.reconciler.Status())
}

// Sync requests an immediate reconciliation cycle. The cycle runs on the
// reconciler goroutine; the response only acknowledges the request.
func (h *StatusHandler) Sync(w http.ResponseWriter, r *http.Request) {
	queued := h.reconciler.Trigger()
	respondJSON(w, http.StatusAccepted, map[string]any{
		"queued": queued,
		"phase":  h.reconciler.Status().Phase,
	})
}
