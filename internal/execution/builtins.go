package execution

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/protocol"
	"github.com/liminal-foundation/lre-core/internal/store"
)

// Builtins supplies the dependencies of the standard action set.
type Builtins struct {
	Store *store.Store
	// PresenceWindow bounds how long ago an agent may have pinged and
	// still count as online in get_agent_status.
	PresenceWindow time.Duration
	// Shutdown is invoked by emergency_shutdown. Nil disables the action
	// body; the acknowledgement is still produced.
	Shutdown func(reason string)
	Log      zerolog.Logger
}

// PongResult is the system_ping response payload.
type PongResult struct {
	Message         string `json:"message"`
	AgentID         string `json:"agent_id,omitempty"`
	ServerTimestamp string `json:"server_timestamp"`
}

// EchoResult is the echo_payload response payload. The payload comes
// back byte-identical.
type EchoResult struct {
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

// LogResult acknowledges a log_message action.
type LogResult struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

// DeployResult is the mock_deploy response payload.
type DeployResult struct {
	Message  string  `json:"message"`
	Target   string  `json:"target,omitempty"`
	Duration float64 `json:"duration"`
}

// HistoryResult is the fetch_history response payload.
type HistoryResult struct {
	Events  []store.EventRecord `json:"events"`
	Count   int                 `json:"count"`
	Filters store.Filter        `json:"filters"`
}

// AgentStatusResult is the get_agent_status response payload.
type AgentStatusResult struct {
	Agents    []store.AgentStatus `json:"agents"`
	Timestamp string              `json:"timestamp"`
}

// ShutdownResult acknowledges an emergency_shutdown action.
type ShutdownResult struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
	Mode    string `json:"mode"`
}

// RegisterBuiltins installs the standard action set on the registry.
func RegisterBuiltins(r *Registry, b Builtins) {
	r.Register(protocol.EventSystemPing, b.systemPing)
	r.Register(protocol.EventEchoPayload, b.echoPayload)
	r.Register(protocol.EventLogMessage, b.logMessage)
	r.Register(protocol.EventMockDeploy, b.mockDeploy)
	r.Register(protocol.EventFetchHistory, b.fetchHistory)
	r.Register(protocol.EventGetAgentStatus, b.getAgentStatus)
	r.Register(protocol.EventGetDBStats, b.getDBStats)
	r.Register(protocol.EventEmergencyShutdown, b.emergencyShutdown)
}

func (b Builtins) systemPing(_ context.Context, req Request) (any, error) {
	return &PongResult{
		Message:         "pong",
		AgentID:         req.AgentID,
		ServerTimestamp: time.Now().UTC().Format(protocol.WireTimeFormat),
	}, nil
}

func (b Builtins) echoPayload(_ context.Context, req Request) (any, error) {
	payload := req.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	return &EchoResult{Message: "echo", Payload: payload}, nil
}

func (b Builtins) logMessage(_ context.Context, req Request) (any, error) {
	var p struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "log_message payload")
		}
	}
	if p.Level == "" {
		p.Level = "info"
	}

	evt := b.Log.Info()
	switch p.Level {
	case "debug":
		evt = b.Log.Debug()
	case "warn", "warning":
		evt = b.Log.Warn()
	case "error":
		evt = b.Log.Error()
	}
	evt.Str("trace_id", req.TraceID).Str("agent_id", req.AgentID).Msg(p.Message)

	return &LogResult{Message: "logged", Level: p.Level}, nil
}

// mockDeploy simulates a deployment taking payload.duration seconds. The
// wait honors the execution deadline so oversized durations surface as a
// timeout rather than stalling the pipeline.
func (b Builtins) mockDeploy(ctx context.Context, req Request) (any, error) {
	var p struct {
		Target   string  `json:"target"`
		Duration float64 `json:"duration"`
	}
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "mock_deploy payload")
		}
	}
	if p.Duration <= 0 {
		p.Duration = 1
	}

	timer := time.NewTimer(time.Duration(p.Duration * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	return &DeployResult{
		Message:  "deployment_complete",
		Target:   p.Target,
		Duration: p.Duration,
	}, nil
}

func (b Builtins) fetchHistory(ctx context.Context, req Request) (any, error) {
	var f store.Filter
	if len(req.Payload) > 0 {
		var p struct {
			TraceID string `json:"trace_id"`
			AgentID string `json:"agent_id"`
			Type    string `json:"type"`
			Limit   int    `json:"limit"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "fetch_history payload")
		}
		f = store.Filter{TraceID: p.TraceID, AgentID: p.AgentID, Type: p.Type, Limit: p.Limit}
	}
	if f.Limit <= 0 {
		f.Limit = store.DefaultHistoryLimit
	}

	events, err := b.Store.History(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "fetch history")
	}
	if events == nil {
		events = []store.EventRecord{}
	}
	return &HistoryResult{Events: events, Count: len(events), Filters: f}, nil
}

func (b Builtins) getAgentStatus(ctx context.Context, req Request) (any, error) {
	window := b.PresenceWindow
	if len(req.Payload) > 0 {
		var p struct {
			SinceSeconds float64 `json:"since_seconds"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, errors.Wrap(err, "get_agent_status payload")
		}
		if p.SinceSeconds > 0 {
			window = time.Duration(p.SinceSeconds * float64(time.Second))
		}
	}

	agents, err := b.Store.RecentAgents(ctx, window)
	if err != nil {
		return nil, errors.Wrap(err, "recent agents")
	}
	if agents == nil {
		agents = []store.AgentStatus{}
	}
	return &AgentStatusResult{
		Agents:    agents,
		Timestamp: time.Now().UTC().Format(protocol.WireTimeFormat),
	}, nil
}

func (b Builtins) getDBStats(ctx context.Context, _ Request) (any, error) {
	stats, err := b.Store.GetStats(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "db stats")
	}
	return stats, nil
}

func (b Builtins) emergencyShutdown(_ context.Context, req Request) (any, error) {
	reason := "emergency shutdown requested"
	if len(req.Payload) > 0 {
		var p struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(req.Payload, &p); err == nil && p.Reason != "" {
			reason = p.Reason
		}
	}

	b.Log.Warn().Str("trace_id", req.TraceID).Str("reason", reason).Msg("emergency shutdown initiated")
	if b.Shutdown != nil {
		b.Shutdown(reason)
	}
	return &ShutdownResult{Message: "shutdown_initiated", Reason: reason, Mode: "graceful"}, nil
}
