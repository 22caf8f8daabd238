package models

import "time"

// AlertSeverity is the severity assigned by the rule that raised the alert.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "Critical"
	SeverityHigh     AlertSeverity = "High"
	SeverityMedium   AlertSeverity = "Medium"
	SeverityLow      AlertSeverity = "Low"
)

// ValidAlertSeverity reports whether s is a known alert severity.
func ValidAlertSeverity(s AlertSeverity) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Priority maps an alert severity to a notification priority.
func (s AlertSeverity) Priority() string {
	switch s {
	case SeverityCritical:
		return "urgent"
	case SeverityHigh:
		return "high"
	case SeverityLow:
		return "low"
	default:
		return "normal"
	}
}

// AlertStatus is a state of the alert lifecycle.
type AlertStatus string

const (
	StatusOpen          AlertStatus = "open"
	StatusAcknowledged  AlertStatus = "acknowledged"
	StatusAssigned      AlertStatus = "assigned"
	StatusInvestigating AlertStatus = "investigating"
	StatusClosed        AlertStatus = "closed"
)

// transitions lists, for every target state, the states it may be entered from.
var transitions = map[AlertStatus][]AlertStatus{
	StatusAcknowledged:  {StatusOpen},
	StatusAssigned:      {StatusOpen, StatusAcknowledged},
	StatusInvestigating: {StatusAssigned},
	StatusClosed:        {StatusOpen, StatusAcknowledged, StatusAssigned, StatusInvestigating},
}

// AllowedFrom returns the states from which target can be entered.
func AllowedFrom(target AlertStatus) []AlertStatus {
	return transitions[target]
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to AlertStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// SLAWatched are the states in which an alert can still breach its SLA.
var SLAWatched = []AlertStatus{StatusOpen, StatusAcknowledged}

// Alert is a persisted record that a rule matched an event.
type Alert struct {
	ID              string        `json:"id"`
	EventID         string        `json:"eventId"`
	EntityType      string        `json:"entityType,omitempty"`
	EntityID        string        `json:"entityId,omitempty"`
	Severity        AlertSeverity `json:"severity"`
	Confidence      float64       `json:"confidence"`
	Domain          string        `json:"domain"`
	SiteZone        string        `json:"siteZone,omitempty"`
	RuleID          string        `json:"ruleId"`
	RuleName        string        `json:"ruleName"`
	Description     string        `json:"description"`
	Status          AlertStatus   `json:"status"`
	SLATimerMinutes *int          `json:"slaTimerMinutes,omitempty"`
	SLABreached     bool          `json:"slaBreached"`
	CaseID          *string       `json:"caseId,omitempty"`
	AssignedTo      *string       `json:"assignedTo,omitempty"`
	AcknowledgedAt  *time.Time    `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy  *string       `json:"acknowledgedBy,omitempty"`
	ResolvedAt      *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy      *string       `json:"resolvedBy,omitempty"`
	ResolutionNotes string        `json:"resolutionNotes,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// SLADeadline returns when the alert breaches its SLA, if it has a timer.
func (a Alert) SLADeadline() (time.Time, bool) {
	if a.SLATimerMinutes == nil {
		return time.Time{}, false
	}
	return a.CreatedAt.Add(time.Duration(*a.SLATimerMinutes) * time.Minute), true
}

// Summary is the payload pushed to clients and rendered into emails.
func (a Alert) Summary() map[string]any {
	return map[string]any{
		"alert_id":    a.ID,
		"severity":    a.Severity,
		"description": a.Description,
		"domain":      a.Domain,
		"rule_id":     a.RuleID,
		"rule_name":   a.RuleName,
		"status":      a.Status,
		"created_at":  a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
