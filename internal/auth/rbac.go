package auth

import (
	"crypto/subtle"

	"github.com/liminal-foundation/lre-core/internal/protocol"
)

// Roles form a fixed closed set.
const (
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
	RoleViewer    = "viewer"
)

// Wildcard grants every message type; only admin carries it.
const Wildcard = "*"

// rolePermissions maps each role to the message types it may submit.
// Any role/type pair absent from its set is denied.
var rolePermissions = map[string][]string{
	RoleAdmin: {
		Wildcard,
	},
	RoleDeveloper: {
		protocol.EventGetAgentStatus,
		protocol.EventFetchHistory,
		protocol.EventSystemPing,
		protocol.EventEchoPayload,
	},
	RoleViewer: {
		protocol.EventFetchHistory,
		protocol.EventSystemPing,
	},
}

// Allowed reports whether the role may submit the given message type.
// It never mutates state and must be evaluated before any handler with
// side effects runs. Comparison is constant-time per entry.
func Allowed(role, eventType string) bool {
	perms, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if subtle.ConstantTimeCompare([]byte(p), []byte(Wildcard)) == 1 {
			return true
		}
	}
	for _, p := range perms {
		if subtle.ConstantTimeCompare([]byte(p), []byte(eventType)) == 1 {
			return true
		}
	}
	return false
}

// ValidRole reports whether the role is part of the closed set.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// RolePermissions returns a copy of the permission list for a role.
func RolePermissions(role string) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// Roles lists the closed role set.
func Roles() []string {
	return []string{RoleAdmin, RoleDeveloper, RoleViewer}
}
