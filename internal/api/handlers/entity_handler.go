package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/services"
)

// EntityHandler accepts state updates for the entities events refer to.
type EntityHandler struct {
	service services.EntityServiceProvider
}

// NewEntityHandler creates a new EntityHandler.
func NewEntityHandler(service services.EntityServiceProvider) *EntityHandler {
	return &EntityHandler{service: service}
}

// Upsert replaces the snapshot of one entity.
func (h *EntityHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status   string     `json:"status"`
		Deadline *time.Time `json:"deadline,omitempty"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	snap, err := h.service.Upsert(models.EntitySnapshot{
		EntityType: chi.URLParam(r, "type"),
		EntityID:   chi.URLParam(r, "id"),
		Status:     payload.Status,
		Deadline:   payload.Deadline,
	})
	if err != nil {
		writeServiceError(w, err, "Failed to update entity")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
