package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/rules"
	"github.com/isdelr/alertflow/internal/services"
	"github.com/rs/zerolog/log"
)

// AlertBroadcaster pushes lifecycle changes to live clients.
type AlertBroadcaster interface {
	BroadcastAlertUpdate(a models.Alert, action string) int
}

// RuleLister exposes the active rule set. *rules.Registry satisfies it.
type RuleLister interface {
	Rules() []rules.Rule
}

// AlertHandler handles HTTP requests for alerts.
type AlertHandler struct {
	service     services.AlertServiceProvider
	rules       RuleLister
	broadcaster AlertBroadcaster
}

// NewAlertHandler creates a new AlertHandler.
func NewAlertHandler(service services.AlertServiceProvider, rules RuleLister, broadcaster AlertBroadcaster) *AlertHandler {
	return &AlertHandler{service: service, rules: rules, broadcaster: broadcaster}
}

// List returns alerts filtered by status, severity, domain and sla_breached.
func (h *AlertHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.AlertFilter{
		Status:   models.AlertStatus(q.Get("status")),
		Severity: models.AlertSeverity(q.Get("severity")),
		Domain:   q.Get("domain"),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	}
	if v := q.Get("sla_breached"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "sla_breached must be true or false", http.StatusBadRequest)
			return
		}
		f.SLABreached = &b
	}

	alerts, err := h.service.ListAlerts(f)
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve alerts")
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// Get returns one alert.
func (h *AlertHandler) Get(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.GetAlert(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// Stats returns alert totals.
func (h *AlertHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats()
	if err != nil {
		writeServiceError(w, err, "Failed to compute alert stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RuleStats returns the alert count of every active rule.
func (h *AlertHandler) RuleStats(w http.ResponseWriter, r *http.Request) {
	active := h.rules.Rules()
	metas := make([]rules.Metadata, 0, len(active))
	for _, rule := range active {
		metas = append(metas, rule.Meta())
	}
	stats, err := h.service.RuleStats(metas)
	if err != nil {
		writeServiceError(w, err, "Failed to compute rule stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Acknowledge marks an open alert as seen by the caller.
func (h *AlertHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	h.transition(w, chi.URLParam(r, "id"), "acknowledged", func(id string) (models.Alert, error) {
		return h.service.Acknowledge(id, claims.UserID)
	})
}

// Assign hands an alert to a user.
func (h *AlertHandler) Assign(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AssignedTo string `json:"assignedTo"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.AssignedTo == "" {
		http.Error(w, "assignedTo is required", http.StatusBadRequest)
		return
	}
	h.transition(w, chi.URLParam(r, "id"), "assigned", func(id string) (models.Alert, error) {
		return h.service.Assign(id, payload.AssignedTo)
	})
}

// Investigate moves an assigned alert into investigation.
func (h *AlertHandler) Investigate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, chi.URLParam(r, "id"), "investigating", h.service.Investigate)
}

// Close resolves an alert with optional notes.
func (h *AlertHandler) Close(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	var payload struct {
		Notes string `json:"notes"`
	}
	if !decodeOptionalJSON(w, r, &payload) {
		return
	}
	h.transition(w, chi.URLParam(r, "id"), "closed", func(id string) (models.Alert, error) {
		return h.service.Close(id, claims.UserID, payload.Notes)
	})
}

// LinkCase attaches the alert to an investigation case.
func (h *AlertHandler) LinkCase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CaseID string `json:"caseId"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.CaseID == "" {
		http.Error(w, "caseId is required", http.StatusBadRequest)
		return
	}
	h.transition(w, chi.URLParam(r, "id"), "case_linked", func(id string) (models.Alert, error) {
		return h.service.LinkCase(id, payload.CaseID)
	})
}

func (h *AlertHandler) transition(w http.ResponseWriter, id, action string, apply func(string) (models.Alert, error)) {
	alert, err := apply(id)
	if err != nil {
		writeServiceError(w, err, "Failed to update alert")
		return
	}
	log.Info().Str("alert_id", alert.ID).Str("action", action).Str("status", string(alert.Status)).Msg("Alert updated")
	if h.broadcaster != nil {
		h.broadcaster.BroadcastAlertUpdate(alert, action)
	}
	writeJSON(w, http.StatusOK, alert)
}
