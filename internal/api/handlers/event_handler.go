package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/pipeline"
	"github.com/isdelr/alertflow/internal/services"
	"github.com/rs/zerolog/log"
)

// Ingester feeds events into rule evaluation. *pipeline.Processor satisfies it.
type Ingester interface {
	Ingest(ev models.Event) (pipeline.Result, error)
	Reevaluate(id string) (pipeline.Result, error)
}

// EventHandler handles HTTP requests related to events.
type EventHandler struct {
	service   services.EventServiceProvider
	processor Ingester
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(service services.EventServiceProvider, processor Ingester) *EventHandler {
	return &EventHandler{service: service, processor: processor}
}

// EventPayload is the body of an ingestion request.
type EventPayload struct {
	EntityType  string            `json:"entityType"`
	EntityID    string            `json:"entityId"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
	Type        string            `json:"type"`
	Severity    string            `json:"severity"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Ingest stores an event and evaluates it. Urgent events come back with the
// alerts they raised; others are accepted for background evaluation.
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var payload EventPayload
	if !decodeJSON(w, r, &payload) {
		return
	}
	ev := models.Event{
		EntityType:  payload.EntityType,
		EntityID:    payload.EntityID,
		Type:        models.EventType(payload.Type),
		Severity:    models.EventSeverity(payload.Severity),
		Location:    payload.Location,
		Description: payload.Description,
		Source:      payload.Source,
		Metadata:    payload.Metadata,
	}
	if payload.Timestamp != nil {
		ev.Timestamp = *payload.Timestamp
	}

	res, err := h.processor.Ingest(ev)
	if err != nil && res.Event.ID == "" {
		writeServiceError(w, err, "Failed to ingest event")
		return
	}
	if err != nil {
		// The event is stored but some alerts are not. POST
		// /events/{id}/evaluate retries; dedup skips the ones that made it.
		log.Error().Err(err).Str("event_id", res.Event.ID).Int("alerts", len(res.Alerts)).Msg("Event evaluated with errors")
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "Failed to persist alerts",
			"eventId": res.Event.ID,
			"alerts":  res.Alerts,
		})
		return
	}

	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// GetRecent handles the request to get recent events.
func (h *EventHandler) GetRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	if limit == 0 {
		limit = 20
	}

	events, err := h.service.GetRecentEvents(limit)
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve events")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Evaluate re-runs the rule set against a stored event.
func (h *EventHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.processor.Reevaluate(id)
	if err != nil {
		writeServiceError(w, err, "Failed to evaluate event")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
