package notify

import (
	"fmt"
	"time"

	"github.com/isdelr/alertflow/internal/email"
	"github.com/isdelr/alertflow/internal/models"
)

// Notice is one thing to tell people about.
type Notice struct {
	Kind     models.NotificationKind
	Action   string // created, acknowledged, breached, ...
	Title    string
	Message  string
	Severity models.AlertSeverity
	Priority string
	Data     map[string]any

	// Recipients overrides the role-based audience. Inactive or unknown
	// users are skipped.
	Recipients []string

	// Escalation bypasses preferences: every recipient gets push and email.
	Escalation bool

	// EmailData selects the mail template by type: email.AlertEmail,
	// email.CaseEmail, email.BreachEmail, email.DigestEmail. Anything else
	// renders the generic notice template.
	EmailData any
}

// AlertCreated announces a new alert to security staff.
func AlertCreated(a models.Alert) Notice {
	return Notice{
		Kind:      models.KindAlert,
		Action:    "created",
		Title:     fmt.Sprintf("Alert: %s", a.Severity),
		Message:   nonEmpty(a.Description, "New alert"),
		Severity:  a.Severity,
		Priority:  a.Severity.Priority(),
		Data:      a.Summary(),
		EmailData: alertEmail(a),
	}
}

// SLABreach escalates an alert that missed its SLA to supervisors and admins.
func SLABreach(a models.Alert) Notice {
	data := a.Summary()
	sla := 0
	if a.SLATimerMinutes != nil {
		sla = *a.SLATimerMinutes
	}
	data["sla_timer_minutes"] = sla
	return Notice{
		Kind:       models.KindSLABreach,
		Action:     "breached",
		Title:      fmt.Sprintf("SLA BREACH: Alert %s", a.ID),
		Message:    nonEmpty(a.Description, "SLA Breach"),
		Severity:   a.Severity,
		Priority:   "urgent",
		Data:       data,
		Escalation: true,
		EmailData: email.BreachEmail{
			AlertID:     a.ID,
			Severity:    string(a.Severity),
			Description: a.Description,
			SLAMinutes:  sla,
		},
	}
}

// CaseUpdate describes a change to an investigation case.
type CaseUpdate struct {
	CaseID     string   `json:"caseId"`
	CaseNumber string   `json:"caseNumber"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	Priority   string   `json:"priority"`
	UpdateType string   `json:"updateType"`
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
}

// CaseUpdated announces a case change.
func CaseUpdated(c CaseUpdate) Notice {
	number := nonEmpty(c.CaseNumber, "CASE-"+c.CaseID)
	update := nonEmpty(c.UpdateType, "update")
	priority := nonEmpty(c.Priority, "normal")
	return Notice{
		Kind:     models.KindCaseUpdate,
		Action:   update,
		Title:    fmt.Sprintf("Case %s: %s", update, number),
		Message:  nonEmpty(c.Title, "Case Update"),
		Priority: priority,
		Data: map[string]any{
			"case_id":     c.CaseID,
			"case_number": number,
			"title":       c.Title,
			"status":      c.Status,
			"priority":    priority,
			"message":     c.Message,
		},
		Recipients: c.Recipients,
		EmailData: email.CaseEmail{
			CaseNumber: number,
			Title:      nonEmpty(c.Title, "Untitled Case"),
			Status:     nonEmpty(c.Status, "Unknown"),
			Priority:   priority,
			UpdateType: update,
			Message:    c.Message,
		},
	}
}

// SystemNotice is a push-only message for every active user.
func SystemNotice(title, message, priority string) Notice {
	return Notice{
		Kind:     models.KindSystem,
		Action:   "notification",
		Title:    title,
		Message:  message,
		Priority: nonEmpty(priority, "normal"),
		Data:     map[string]any{"title": title, "message": message},
	}
}

// Digest is the daily summary for one user.
func Digest(userID string, day time.Time, alerts []models.Alert) Notice {
	d := email.DigestEmail{Date: day.Format("2006-01-02"), TotalAlerts: len(alerts)}
	for _, a := range alerts {
		if a.Severity == models.SeverityCritical {
			d.CriticalAlerts++
		}
		if a.Status != models.StatusClosed {
			d.OpenAlerts++
		}
		if a.SLABreached {
			d.SLABreaches++
		}
		if len(d.Alerts) < 20 {
			d.Alerts = append(d.Alerts, alertEmail(a))
		}
	}
	return Notice{
		Kind:       models.KindDigest,
		Action:     "digest",
		Title:      fmt.Sprintf("Daily Digest - %s", d.Date),
		Message:    fmt.Sprintf("%d alerts in the last 24 hours, %d critical, %d SLA breaches", d.TotalAlerts, d.CriticalAlerts, d.SLABreaches),
		Priority:   "low",
		Recipients: []string{userID},
		Data: map[string]any{
			"date":            d.Date,
			"total_alerts":    d.TotalAlerts,
			"critical_alerts": d.CriticalAlerts,
			"open_alerts":     d.OpenAlerts,
			"sla_breaches":    d.SLABreaches,
		},
		EmailData: d,
	}
}

func alertEmail(a models.Alert) email.AlertEmail {
	return email.AlertEmail{
		ID:          a.ID,
		Severity:    string(a.Severity),
		Domain:      a.Domain,
		Description: nonEmpty(a.Description, "No description"),
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
