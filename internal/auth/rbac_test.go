package auth

import (
	"testing"

	"github.com/liminal-foundation/lre-core/internal/protocol"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		role      string
		eventType string
		want      bool
	}{
		{RoleAdmin, protocol.EventEmergencyShutdown, true},
		{RoleAdmin, protocol.EventGetDBStats, true},
		{RoleAdmin, protocol.EventSystemPing, true},
		{RoleAdmin, protocol.EventEchoPayload, true},

		{RoleDeveloper, protocol.EventSystemPing, true},
		{RoleDeveloper, protocol.EventEchoPayload, true},
		{RoleDeveloper, protocol.EventFetchHistory, true},
		{RoleDeveloper, protocol.EventGetAgentStatus, true},
		{RoleDeveloper, protocol.EventEmergencyShutdown, false},
		{RoleDeveloper, protocol.EventGetDBStats, false},

		{RoleViewer, protocol.EventFetchHistory, true},
		{RoleViewer, protocol.EventSystemPing, true},
		{RoleViewer, protocol.EventEchoPayload, false},
		{RoleViewer, protocol.EventGetAgentStatus, false},
		{RoleViewer, protocol.EventEmergencyShutdown, false},

		{"unknown_role", protocol.EventSystemPing, false},
		{"", protocol.EventSystemPing, false},
	}
	for _, tc := range cases {
		if got := Allowed(tc.role, tc.eventType); got != tc.want {
			t.Fatalf("Allowed(%q, %q) = %v, want %v", tc.role, tc.eventType, got, tc.want)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range Roles() {
		if !ValidRole(r) {
			t.Fatalf("role %s should be valid", r)
		}
	}
	if ValidRole("superuser") {
		t.Fatalf("unknown role accepted")
	}
}

func TestRolePermissions_ReturnsCopy(t *testing.T) {
	perms := RolePermissions(RoleViewer)
	if len(perms) == 0 {
		t.Fatalf("viewer has no permissions")
	}
	perms[0] = "tampered"
	if !Allowed(RoleViewer, protocol.EventFetchHistory) {
		t.Fatalf("permission table mutated through returned slice")
	}
}
