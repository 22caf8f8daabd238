package models

import "time"

// Roles known to audience resolution and room assignment.
const (
	RoleAdmin        = "admin"
	RoleSupervisor   = "supervisor"
	RoleSecurityLead = "security_lead"
	RoleOperator     = "operator"
	RoleViewer       = "viewer"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSupervisor, RoleSecurityLead, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// User represents a user account in the system.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"isActive"`
	PasswordHash string    `json:"-"` // Never expose this to the client
	CreatedAt    time.Time `json:"createdAt"`
}
