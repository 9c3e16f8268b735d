package handler

import (
	"net/http"

	"github.com/bcnelson/ipauth-sync/internal/storage"
	"github.com/go-chi/chi/v5"
)

const (
	defaultCycleLimit = 20
	maxCycleLimit     = 200
)

// CycleHandler serves the recorded cycle history.
type CycleHandler struct {
	store storage.Storage
}

// NewCycleHandler creates a new CycleHandler.
func NewCycleHandler(store storage.Storage) *CycleHandler {
	return &CycleHandler{store: store}
}

// List returns cycle reports, newest first.
func (h *CycleHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, defaultCycleLimit, maxCycleLimit)

	cycles, err := h.store.ListCycles(r.Context(), limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cycles)
}

// Get returns one cycle report with its authorization events. Finished
// reports never change, so they carry an ETag.
func (h *CycleHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}

	cycle, err := h.store.GetCycle(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	if cycle.FinishedAt != nil {
		etag := GenerateETag("cycle", cycle.ID, *cycle.FinishedAt)
		if NotModified(r, etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		SetETagHeader(w, etag)
	}

	events, err := h.store.ListEvents(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	cycle.Events = events

	respondJSON(w, http.StatusOK, cycle)
}
