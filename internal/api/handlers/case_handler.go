package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/alertflow/internal/notify"
)

// NoticeSubmitter queues a notice. *notify.Router satisfies it.
type NoticeSubmitter interface {
	Submit(n notify.Notice) bool
}

// CaseHandler relays case changes from the case management service.
type CaseHandler struct {
	notifier NoticeSubmitter
}

// NewCaseHandler creates a new CaseHandler.
func NewCaseHandler(notifier NoticeSubmitter) *CaseHandler {
	return &CaseHandler{notifier: notifier}
}

// Update notifies the case's recipients, or security staff when none are named.
func (h *CaseHandler) Update(w http.ResponseWriter, r *http.Request) {
	var payload notify.CaseUpdate
	if !decodeJSON(w, r, &payload) {
		return
	}
	payload.CaseID = chi.URLParam(r, "id")
	if !h.notifier.Submit(notify.CaseUpdated(payload)) {
		http.Error(w, "Notification queue is full", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
