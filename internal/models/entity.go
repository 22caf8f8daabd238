package models

import "time"

// EntitySnapshot is the latest known state of an operational entity (usually a
// movement) as reported by the owning service. Temporal rules read it.
type EntitySnapshot struct {
	EntityType string     `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Status     string     `json:"status"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}
