package websocket

import "github.com/isdelr/alertflow/internal/models"

// Well-known rooms.
const (
	RoomAllUsers       = "all_users"
	RoomSecurityAlerts = "security_alerts"
	RoomCases          = "cases"
	RoomSupervisors    = "supervisors"
	RoomMovements      = "movements"
)

// DefaultRooms returns the rooms a user of role joins on connect.
func DefaultRooms(role string) []string {
	rooms := []string{RoomAllUsers}
	switch role {
	case models.RoleSecurityLead, models.RoleSupervisor, models.RoleAdmin:
		rooms = append(rooms, RoomSecurityAlerts, RoomCases)
	}
	switch role {
	case models.RoleSupervisor, models.RoleAdmin:
		rooms = append(rooms, RoomSupervisors)
	}
	switch role {
	case models.RoleOperator, models.RoleSupervisor, models.RoleAdmin:
		rooms = append(rooms, RoomMovements)
	}
	return rooms
}

// CanJoin reports whether a user of role may subscribe to room. The
// well-known rooms follow DefaultRooms; any other room is open.
func CanJoin(role, room string) bool {
	switch room {
	case RoomAllUsers, RoomSecurityAlerts, RoomCases, RoomSupervisors, RoomMovements:
		for _, r := range DefaultRooms(role) {
			if r == room {
				return true
			}
		}
		return false
	}
	return room != ""
}
