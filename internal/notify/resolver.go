// Package notify decides, per user, which channels a notification goes to
// and fans it out to the websocket hub and the email dispatcher, recording
// every attempt in the notification log.
package notify

import (
	"time"

	"github.com/isdelr/alertflow/internal/models"
)

// Decision is the set of channels a notification should use for one user.
type Decision struct {
	Push  bool
	Email bool
	Sound bool
}

// Resolve applies a user's preferences to one notification. It is pure: the
// same inputs always give the same decision. A nil preference means the user
// never saved any and the default policy applies. Quiet hours are read in the
// preference's timezone, or in loc when it names none.
func Resolve(p *models.NotificationPreference, kind models.NotificationKind, severity models.AlertSeverity, now time.Time, loc *time.Location) Decision {
	if p == nil {
		def := models.DefaultPreference("")
		p = &def
	}

	var d Decision
	switch kind {
	case models.KindSystem:
		d.Push = p.PushEnabled

	case models.KindDigest:
		d.Email = p.EmailEnabled && p.EmailDailyDigest

	case models.KindAlert:
		d.Push = p.PushEnabled
		d.Email = p.EmailEnabled && severityEnabled(p, severity)
		if d.Email && severity != models.SeverityCritical && InQuietHours(p, now, loc) {
			d.Email = false
		}

	case models.KindCaseUpdate:
		d.Push = p.PushEnabled
		d.Email = p.EmailEnabled && p.EmailCaseUpdates && !InQuietHours(p, now, loc)

	case models.KindSLABreach:
		d.Push, d.Email = true, true
	}
	d.Sound = d.Push && p.PushSound
	return d
}

func severityEnabled(p *models.NotificationPreference, severity models.AlertSeverity) bool {
	switch severity {
	case models.SeverityCritical:
		return p.EmailCritical
	case models.SeverityHigh:
		return p.EmailHigh
	case models.SeverityMedium:
		return p.EmailMedium
	case models.SeverityLow:
		return p.EmailLow
	}
	return false
}

// InQuietHours reports whether now falls in the user's quiet window. The
// window is [start, end) and wraps midnight when start is after end.
func InQuietHours(p *models.NotificationPreference, now time.Time, loc *time.Location) bool {
	if p == nil || !p.QuietHoursEnabled || p.QuietHoursStart == "" || p.QuietHoursEnd == "" {
		return false
	}
	if p.Timezone != "" {
		if tz, err := time.LoadLocation(p.Timezone); err == nil {
			loc = tz
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	// HH:MM strings compare in clock order.
	clock := now.In(loc).Format("15:04")
	start, end := p.QuietHoursStart, p.QuietHoursEnd
	switch {
	case start == end:
		return false
	case start < end:
		return clock >= start && clock < end
	default:
		return clock >= start || clock < end
	}
}
