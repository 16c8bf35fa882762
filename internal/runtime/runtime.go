// Package runtime owns the websocket surface: one session per
// connection, auth-first message ordering, idempotent persistence of
// traffic, and dispatch into the decision pipeline or the direct
// handlers.
package runtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/auth"
	"github.com/liminal-foundation/lre-core/internal/config"
	"github.com/liminal-foundation/lre-core/internal/execution"
	"github.com/liminal-foundation/lre-core/internal/metrics"
	"github.com/liminal-foundation/lre-core/internal/pipeline"
	"github.com/liminal-foundation/lre-core/internal/protocol"
	"github.com/liminal-foundation/lre-core/internal/store"
)

// responseType maps each request type to the event type of its reply.
var responseType = map[string]string{
	protocol.EventSystemPing:     protocol.EventSystemPong,
	protocol.EventEchoPayload:    protocol.EventEchoPayload,
	protocol.EventLogMessage:     protocol.EventLogMessage,
	protocol.EventMockDeploy:     protocol.EventMockDeploy,
	protocol.EventFetchHistory:   protocol.EventHistoryResult,
	protocol.EventGetAgentStatus: protocol.EventAgentStatusResult,
	protocol.EventGetDBStats:     protocol.EventDBStatsResult,
}

// Deps wires the runtime's collaborators; all are required except
// Metrics.
type Deps struct {
	Config   *config.Config
	Store    *store.Store
	Retry    *store.RetryQueue
	Auth     *auth.Manager
	Pipeline *pipeline.Pipeline
	Registry *execution.Registry
	Metrics  *metrics.Metrics
	// Hub may be pre-built so presence checks can reference it before
	// the runtime exists; nil means the runtime owns a fresh one.
	Hub *Hub
	Log zerolog.Logger
}

// Runtime accepts websocket connections and runs one session per
// connection. Sessions process their own messages sequentially;
// connections proceed in parallel.
type Runtime struct {
	cfg       *config.Config
	store     *store.Store
	retry     *store.RetryQueue
	auth      *auth.Manager
	pipeline  *pipeline.Pipeline
	registry  *execution.Registry
	metrics   *metrics.Metrics
	validator *protocol.Validator
	hub       *Hub
	log       zerolog.Logger

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds the runtime.
func New(d Deps) *Runtime {
	hub := d.Hub
	if hub == nil {
		hub = NewHub(d.Log)
	}
	return &Runtime{
		cfg:        d.Config,
		store:      d.Store,
		retry:      d.Retry,
		auth:       d.Auth,
		pipeline:   d.Pipeline,
		registry:   d.Registry,
		metrics:    d.Metrics,
		validator:  protocol.NewValidator(d.Config.MaxPayloadBytes),
		hub:        hub,
		log:        d.Log.With().Str("component", "runtime").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Hub exposes the session table, used by presence checks.
func (rt *Runtime) Hub() *Hub { return rt.hub }

// ShutdownRequested is closed when an emergency shutdown was accepted.
// The service loop watches it to stop the HTTP server.
func (rt *Runtime) ShutdownRequested() <-chan struct{} { return rt.shutdownCh }

// TriggerShutdown closes every session with a normal-closure status and
// signals the service loop. Safe to call more than once.
func (rt *Runtime) TriggerShutdown(reason string) {
	rt.shutdownOnce.Do(func() {
		rt.log.Warn().Str("reason", reason).Msg("shutdown triggered")
		rt.hub.CloseAll(reason)
		close(rt.shutdownCh)
	})
}

// ServeWS upgrades the request and runs the session until the
// connection closes. One goroutine per connection: this handler's own.
func (rt *Runtime) ServeWS(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.RequireWSS && r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
		http.Error(w, "secure transport required", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		rt.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	// Envelope framing on top of the payload limit.
	conn.SetReadLimit(int64(rt.cfg.MaxPayloadBytes) + 4096)

	sess := newSession(rt, conn, r.RemoteAddr)
	rt.hub.add(sess)
	if rt.metrics != nil {
		rt.metrics.ConnectionsActive.Inc()
	}
	defer func() {
		rt.hub.remove(sess)
		if rt.metrics != nil {
			rt.metrics.ConnectionsActive.Dec()
		}
	}()

	sess.run(r.Context())
}

// HubPresence reports an agent online when it either holds an open
// authenticated session or pinged within the store window. It is the
// presence collaborator the service wires into the pipeline.
type HubPresence struct {
	Hub   *Hub
	Store pipeline.PresenceChecker
}

// IsOnline checks the live session table first, then recent pings.
func (p HubPresence) IsOnline(ctx context.Context, agentID string) (bool, error) {
	if p.Hub != nil && p.Hub.IsConnected(agentID) {
		return true, nil
	}
	if p.Store == nil {
		return false, nil
	}
	return p.Store.IsOnline(ctx, agentID)
}

// pingLatency measures how far behind the client's clock-stamped send
// time the server processed the ping. Negative skew clamps to zero.
func pingLatency(sent time.Time) float64 {
	d := time.Since(sent)
	if d < 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
