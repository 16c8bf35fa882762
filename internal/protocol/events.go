// Package protocol defines the wire-message contract: the envelope shape,
// the registry of event types, the error-code taxonomy, and the structural
// validator every inbound and outbound message passes through.
package protocol

// Event type constants. These are the single source of truth for event
// names; no other package may use string literals for event types.
const (
	// System events: infrastructure and health checks.
	EventSystemPing = "system_ping"
	EventSystemPong = "system_pong"

	// User events: application logic.
	EventEchoPayload = "echo_payload"
	EventLogMessage  = "log_message"
	EventMockDeploy  = "mock_deploy"

	// Auth events.
	EventAuthLogin   = "auth_login"
	EventAuthRequest = "auth_request"
	EventAuthToken   = "auth_token"
	EventAuthSuccess = "auth_success"
	EventAuthFailure = "auth_failure"

	// Query events.
	EventFetchHistory      = "fetch_history"
	EventHistoryResult     = "history_result"
	EventGetAgentStatus    = "get_agent_status"
	EventAgentStatusResult = "agent_status_result"
	EventGetDBStats        = "get_db_stats"
	EventDBStatsResult     = "db_stats_result"

	// Control events: administrative actions.
	EventEmergencyShutdown = "emergency_shutdown"

	// Error events.
	EventError = "error"
)

// registry is the closed set of event types accepted on the wire.
var registry = map[string]string{
	EventSystemPing:        "system",
	EventSystemPong:        "system",
	EventEchoPayload:       "user",
	EventLogMessage:        "user",
	EventMockDeploy:        "user",
	EventAuthLogin:         "auth",
	EventAuthRequest:       "auth",
	EventAuthToken:         "auth",
	EventAuthSuccess:       "auth",
	EventAuthFailure:       "auth",
	EventFetchHistory:      "query",
	EventHistoryResult:     "query",
	EventGetAgentStatus:    "query",
	EventAgentStatusResult: "query",
	EventGetDBStats:        "query",
	EventDBStatsResult:     "query",
	EventEmergencyShutdown: "control",
	EventError:             "error",
}

// IsRegistered reports whether the event type is part of the protocol.
func IsRegistered(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}

// Category returns the category of a registered event type ("system",
// "user", "auth", "query", "control", "error") or "" for unknown types.
func Category(eventType string) string {
	return registry[eventType]
}

// RegisteredTypes returns all registered event type names.
func RegisteredTypes() []string {
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}
