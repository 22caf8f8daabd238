package models

import "time"

// EventType classifies where an event came from in the movement timeline.
type EventType string

const (
	EventPlanned     EventType = "planned"
	EventActual      EventType = "actual"
	EventSecurity    EventType = "security"
	EventOperational EventType = "operational"
)

// EventSeverity is the producer-assigned severity of a raw event.
type EventSeverity string

const (
	EventInfo     EventSeverity = "info"
	EventWarning  EventSeverity = "warning"
	EventCritical EventSeverity = "critical"
)

// Event is an immutable timestamped occurrence tied to an operational entity.
type Event struct {
	ID          string            `json:"id"`
	EntityType  string            `json:"entityType"` // e.g. "movement"
	EntityID    string            `json:"entityId"`
	Timestamp   time.Time         `json:"timestamp"`
	Type        EventType         `json:"type"`
	Severity    EventSeverity     `json:"severity"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"` // iot, manual, ais, satellite
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Urgent reports whether the event must be evaluated on the ingestion path.
func (e Event) Urgent() bool {
	return e.Type == EventSecurity || e.Severity == EventCritical
}

// ValidEventType reports whether t is one of the known event types.
func ValidEventType(t EventType) bool {
	switch t {
	case EventPlanned, EventActual, EventSecurity, EventOperational:
		return true
	}
	return false
}

// ValidEventSeverity reports whether s is one of the known event severities.
func ValidEventSeverity(s EventSeverity) bool {
	switch s {
	case EventInfo, EventWarning, EventCritical:
		return true
	}
	return false
}
