package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/alertflow/internal/models"
	"github.com/isdelr/alertflow/internal/notify"
	"github.com/isdelr/alertflow/internal/services"
	"github.com/rs/zerolog/log"
)

// NotificationHandler serves the caller's notification log and preferences.
type NotificationHandler struct {
	log      services.NotificationServiceProvider
	prefs    services.PreferenceServiceProvider
	notifier NoticeSubmitter
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(l services.NotificationServiceProvider, prefs services.PreferenceServiceProvider, notifier NoticeSubmitter) *NotificationHandler {
	return &NotificationHandler{log: l, prefs: prefs, notifier: notifier}
}

// List returns the caller's notifications, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	unread := r.URL.Query().Get("unread") == "true"
	items, err := h.log.ListForUser(claims.UserID, unread, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve notifications")
		return
	}
	if items == nil {
		items = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, items)
}

// UnreadCount returns how many of the caller's notifications are unread.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	n, err := h.log.UnreadCount(claims.UserID)
	if err != nil {
		writeServiceError(w, err, "Failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

// MarkRead marks one of the caller's notifications as read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	if err := h.log.MarkRead(claims.UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, "Failed to mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead marks every notification of the caller as read.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	n, err := h.log.MarkAllRead(claims.UserID)
	if err != nil {
		writeServiceError(w, err, "Failed to mark notifications read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// GetPreferences returns the caller's preferences, or the defaults.
func (h *NotificationHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	p, err := h.prefs.GetOrDefault(claims.UserID)
	if err != nil {
		writeServiceError(w, err, "Failed to load preferences")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePreferences replaces the caller's preferences.
func (h *NotificationHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsOrFail(w, r)
	if !ok {
		return
	}
	var p models.NotificationPreference
	if !decodeJSON(w, r, &p) {
		return
	}
	p.UserID = claims.UserID
	saved, err := h.prefs.Upsert(p)
	if err != nil {
		writeServiceError(w, err, "Failed to save preferences")
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// SendSystem pushes a system notice to every active user.
func (h *NotificationHandler) SendSystem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    string `json:"title"`
		Message  string `json:"message"`
		Priority string `json:"priority"`
	}
	if !decodeJSON(w, r, &payload) {
		return
	}
	if payload.Title == "" || payload.Message == "" {
		http.Error(w, "title and message are required", http.StatusBadRequest)
		return
	}
	if !h.notifier.Submit(notify.SystemNotice(payload.Title, payload.Message, payload.Priority)) {
		http.Error(w, "Notification queue is full", http.StatusServiceUnavailable)
		return
	}
	log.Info().Str("title", payload.Title).Msg("System notice queued")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
