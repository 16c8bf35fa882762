package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/auth"
	"github.com/liminal-foundation/lre-core/internal/execution"
	"github.com/liminal-foundation/lre-core/internal/pipeline"
	"github.com/liminal-foundation/lre-core/internal/protocol"
	"github.com/liminal-foundation/lre-core/internal/store"
)

const writeTimeout = 5 * time.Second

// Session owns one websocket connection. Messages are processed
// sequentially in the connection's goroutine; no two messages from the
// same session are ever in flight at once.
type Session struct {
	rt     *Runtime
	conn   *websocket.Conn
	remote string
	log    zerolog.Logger

	// mu guards the identity fields, which the hub reads from other
	// goroutines.
	mu       sync.Mutex
	authed   bool
	userID   string
	username string
	role     string
	traceID  string
	closed   bool
}

func newSession(rt *Runtime, conn *websocket.Conn, remote string) *Session {
	return &Session{
		rt:     rt,
		conn:   conn,
		remote: remote,
		log:    rt.log.With().Str("remote", remote).Logger(),
	}
}

// AgentID returns the agent identity the session is bound to, empty
// until authentication succeeds.
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authed {
		return ""
	}
	return s.username
}

func (s *Session) close(status websocket.StatusCode, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	_ = s.conn.Close(status, reason)
}

// run reads messages until the connection drops. The first message must
// authenticate; everything after it flows through handleMessage.
func (s *Session) run(ctx context.Context) {
	s.log.Info().Msg("connection opened")
	defer s.close(websocket.StatusNormalClosure, "session ended")

	if !s.authenticate(ctx) {
		return
	}

	for {
		typ, raw, err := s.conn.Read(ctx)
		if err != nil {
			s.log.Info().Msg("connection closed")
			return
		}
		if typ != websocket.MessageText {
			s.sendError(ctx, s.pinnedTrace(), protocol.NewError(protocol.CodeMalformed))
			continue
		}
		s.handleMessage(ctx, raw)
	}
}

// authenticate enforces the auth-first contract: the first frame must be
// auth_login or auth_request. Anything else is rejected with
// AUTH_REQUIRED and the connection closes.
func (s *Session) authenticate(ctx context.Context) bool {
	_, raw, err := s.conn.Read(ctx)
	if err != nil {
		return false
	}

	env, wErr := s.rt.validator.Validate(raw)
	if wErr != nil {
		s.authFailure(ctx, "", protocol.CodeAuthRequired, "authentication required")
		return false
	}

	switch env.Type {
	case protocol.EventAuthLogin:
		return s.loginWithCredentials(ctx, env)
	case protocol.EventAuthRequest:
		return s.loginWithToken(ctx, env)
	default:
		s.authFailure(ctx, env.TraceID, protocol.CodeAuthRequired, "authentication required")
		return false
	}
}

func (s *Session) loginWithCredentials(ctx context.Context, env protocol.Envelope) bool {
	var p struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if len(env.Payload) > 0 {
		_ = json.Unmarshal(env.Payload, &p)
	}
	if p.Username == "" || p.Password == "" {
		s.authFailure(ctx, env.TraceID, "", "invalid credentials")
		return false
	}

	res := s.rt.auth.VerifyCredentials(ctx, p.Username, p.Password)
	switch res.Status {
	case auth.StatusLocked:
		s.countAuthFailure()
		s.authFailure(ctx, env.TraceID, "", "account temporarily locked")
		return false
	case auth.StatusInvalid:
		s.countAuthFailure()
		// Never reveals whether the username or the password was wrong.
		s.authFailure(ctx, env.TraceID, "", "invalid credentials")
		return false
	}

	token, err := s.rt.auth.IssueToken(res.User)
	if err != nil {
		s.log.Error().Err(err).Msg("token issue failed")
		s.authFailure(ctx, env.TraceID, "", "authentication failed")
		return false
	}

	s.bind(res.User.UserID, res.User.Username, res.User.Role, env.TraceID)
	s.send(ctx, env.TraceID, protocol.EventAuthToken, map[string]any{
		"token": token,
		"user": map[string]string{
			"user_id":  res.User.UserID,
			"username": res.User.Username,
			"role":     res.User.Role,
		},
		"expires_in_minutes": s.rt.cfg.TokenExpiryMinutes,
	})
	s.log.Info().Str("username", res.User.Username).Str("role", res.User.Role).Msg("session authenticated")
	return true
}

func (s *Session) loginWithToken(ctx context.Context, env protocol.Envelope) bool {
	var p struct {
		Token string `json:"token"`
	}
	if len(env.Payload) > 0 {
		_ = json.Unmarshal(env.Payload, &p)
	}
	if p.Token == "" {
		s.countAuthFailure()
		s.authFailure(ctx, env.TraceID, protocol.CodeTokenMissing, "token missing")
		return false
	}

	claims, err := s.rt.auth.ValidateToken(p.Token)
	if err != nil {
		s.countAuthFailure()
		s.authFailure(ctx, env.TraceID, protocol.CodeInvalidToken, "invalid or expired token")
		return false
	}

	// A token outlives account deactivation; re-check the store.
	u, err := s.rt.store.GetUserByID(ctx, claims.UserID())
	if err != nil || !u.IsActive {
		s.countAuthFailure()
		s.authFailure(ctx, env.TraceID, protocol.CodeInvalidToken, "invalid or expired token")
		return false
	}

	s.bind(u.UserID, u.Username, u.Role, env.TraceID)
	s.send(ctx, env.TraceID, protocol.EventAuthSuccess, map[string]string{
		"user_id":  u.UserID,
		"username": u.Username,
		"role":     u.Role,
	})
	s.log.Info().Str("username", u.Username).Str("role", u.Role).Msg("session authenticated by token")
	return true
}

func (s *Session) bind(userID, username, role, traceID string) {
	s.mu.Lock()
	s.authed = true
	s.userID = userID
	s.username = username
	s.role = role
	s.traceID = traceID
	s.mu.Unlock()
}

func (s *Session) pinnedTrace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.traceID == "" {
		return "unknown"
	}
	return s.traceID
}

func (s *Session) boundRole() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// handleMessage runs one post-auth frame through validation, trace
// pinning, RBAC, idempotent persistence and dispatch, in that order.
// RBAC denial happens before any side effect.
func (s *Session) handleMessage(ctx context.Context, raw []byte) {
	env, wErr := s.rt.validator.Validate(raw)
	if wErr != nil {
		s.sendError(ctx, s.pinnedTrace(), wErr)
		return
	}
	if s.rt.metrics != nil {
		s.rt.metrics.MessagesTotal.WithLabelValues(store.DirectionInbound).Inc()
	}

	// The first trace_id seen on the session is pinned for its lifetime.
	s.mu.Lock()
	if s.traceID == "" {
		s.traceID = env.TraceID
	}
	pinned := s.traceID
	s.mu.Unlock()
	if env.TraceID != pinned {
		s.sendError(ctx, pinned, protocol.NewError(protocol.CodeUnauthorizedTrace))
		return
	}

	if !auth.Allowed(s.boundRole(), env.Type) {
		s.sendError(ctx, env.TraceID, protocol.NewError(protocol.CodePermissionDenied))
		return
	}

	rec := store.EventRecord{
		TraceID:   env.TraceID,
		Type:      env.Type,
		Timestamp: env.Timestamp.UTC().Format(protocol.WireTimeFormat),
		Direction: store.DirectionInbound,
		Payload:   env.Payload,
		Meta:      env.Meta,
	}
	inboundID, duplicate, err := s.rt.store.AppendEvent(ctx, rec)
	if err != nil {
		// Queued for retry; the client is told persistence is pending,
		// not lost, and processing continues.
		queued := s.rt.retry != nil && s.rt.retry.Enqueue(rec)
		werr := protocol.NewError(protocol.CodeStorageWriteFailed)
		if queued {
			werr.Detail = "write queued for retry"
		}
		s.sendError(ctx, env.TraceID, werr)
	}
	if duplicate && s.replay(ctx, env, inboundID) {
		return
	}

	switch env.Type {
	case protocol.EventSystemPing:
		s.handlePing(ctx, env)
	case protocol.EventFetchHistory, protocol.EventGetAgentStatus, protocol.EventGetDBStats:
		s.handleQuery(ctx, env)
	case protocol.EventEmergencyShutdown:
		s.handleShutdown(ctx, env)
	default:
		s.handleDecision(ctx, env)
	}
}

// replay answers a duplicate inbound message from its stored response
// instead of re-processing it. The response is correlated to the
// duplicate's own inbound row, so an earlier request is never answered
// with the response to a later request of the same type.
func (s *Session) replay(ctx context.Context, env protocol.Envelope, inboundID int64) bool {
	respType := responseType[env.Type]
	if respType == "" {
		return false
	}
	rec, err := s.rt.store.ResponseFor(ctx, env.TraceID, respType, inboundID)
	if err != nil {
		return false
	}
	out := protocol.Envelope{
		TraceID:   rec.TraceID,
		Type:      rec.Type,
		Timestamp: time.Now().UTC(),
		Payload:   rec.Payload,
		Meta:      rec.Meta,
	}
	s.log.Debug().Str("trace_id", env.TraceID).Str("type", env.Type).Msg("duplicate replayed from store")
	s.write(ctx, out)
	return true
}

func (s *Session) handlePing(ctx context.Context, env protocol.Envelope) {
	s.send(ctx, env.TraceID, protocol.EventSystemPong, map[string]any{
		"server_timestamp": time.Now().UTC().Format(protocol.WireTimeFormat),
		"latency_ms":       pingLatency(env.Timestamp),
		"agent_id":         s.agentFor(env),
	})
}

func (s *Session) handleQuery(ctx context.Context, env protocol.Envelope) {
	result, err := s.rt.registry.Execute(ctx, s.request(env))
	if err != nil {
		s.log.Warn().Err(err).Str("type", env.Type).Msg("query handler failed")
		s.sendError(ctx, env.TraceID, protocol.NewError(protocol.CodeExecutionFailed))
		return
	}
	s.send(ctx, env.TraceID, responseType[env.Type], result)
}

// handleShutdown closes every open session with a normal-closure status
// and signals the service loop. RBAC restricted it to admin already.
func (s *Session) handleShutdown(ctx context.Context, env protocol.Envelope) {
	if _, err := s.rt.registry.Execute(ctx, s.request(env)); err != nil {
		s.sendError(ctx, env.TraceID, protocol.NewError(protocol.CodeExecutionFailed))
		return
	}
	reason := "emergency shutdown"
	if len(env.Payload) > 0 {
		var p struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.Reason != "" {
			reason = p.Reason
		}
	}
	s.rt.TriggerShutdown(reason)
}

// handleDecision feeds a decision-class message through the pipeline.
func (s *Session) handleDecision(ctx context.Context, env protocol.Envelope) {
	sum := s.rt.pipeline.Run(ctx, pipeline.Decision{
		TraceID: env.TraceID,
		AgentID: s.agentFor(env),
		Action:  env.Type,
		Payload: env.Payload,
	})

	switch sum.Status {
	case pipeline.StageCompleted:
		payload := any(sum.Result)
		if env.Type == protocol.EventEchoPayload {
			// Echo answers with the byte-identical inbound payload.
			payload = env.Payload
		}
		s.send(ctx, env.TraceID, responseType[env.Type], payload)
	case pipeline.StageDeferred:
		s.send(ctx, env.TraceID, responseType[env.Type], map[string]any{
			"status": "deferred",
			"reason": sum.Metadata["reason"],
		})
	default:
		code := sum.ErrorCode
		if code == "" {
			code = protocol.CodeExecutionFailed
		}
		werr := protocol.NewError(code)
		if len(sum.Errors) > 0 {
			werr.Detail = sum.Errors[len(sum.Errors)-1]
		}
		s.sendError(ctx, env.TraceID, werr)
	}
}

// agentFor resolves the agent a message concerns: an explicit
// payload.agent_id wins, otherwise the session's own identity.
func (s *Session) agentFor(env protocol.Envelope) string {
	if len(env.Payload) > 0 {
		var p struct {
			AgentID string `json:"agent_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.AgentID != "" {
			return p.AgentID
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

func (s *Session) request(env protocol.Envelope) execution.Request {
	return execution.Request{
		TraceID: env.TraceID,
		AgentID: s.agentFor(env),
		Action:  env.Type,
		Payload: env.Payload,
	}
}

// send builds, persists (OUTBOUND, never deduped) and writes a response.
func (s *Session) send(ctx context.Context, traceID, eventType string, payload any) {
	out, err := protocol.New(traceID, eventType, payload)
	if err != nil {
		s.log.Error().Err(err).Str("type", eventType).Msg("response marshal failed")
		s.sendError(ctx, traceID, protocol.NewError(protocol.CodeExecutionFailed))
		return
	}
	s.persistOutbound(ctx, out)
	s.write(ctx, out)
}

// sendError writes an `error` event. Error responses are persisted like
// any other outbound traffic.
func (s *Session) sendError(ctx context.Context, traceID string, werr *protocol.WireError) {
	out := protocol.NewErrorEnvelope(traceID, werr)
	s.persistOutbound(ctx, out)
	s.write(ctx, out)
}

func (s *Session) persistOutbound(ctx context.Context, out protocol.Envelope) {
	rec := store.EventRecord{
		TraceID:   out.TraceID,
		Type:      out.Type,
		Timestamp: out.Timestamp.UTC().Format(protocol.WireTimeFormat),
		Direction: store.DirectionOutbound,
		Payload:   out.Payload,
		Meta:      out.Meta,
	}
	if _, _, err := s.rt.store.AppendEvent(ctx, rec); err != nil {
		if s.rt.retry != nil {
			s.rt.retry.Enqueue(rec)
		}
		s.log.Warn().Err(err).Str("type", out.Type).Msg("outbound persist queued for retry")
	}
}

func (s *Session) write(ctx context.Context, out protocol.Envelope) {
	b, err := out.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("envelope encode failed")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, b); err != nil {
		s.log.Debug().Err(err).Msg("write failed")
		return
	}
	if s.rt.metrics != nil {
		s.rt.metrics.MessagesTotal.WithLabelValues(store.DirectionOutbound).Inc()
	}
}

func (s *Session) countAuthFailure() {
	if s.rt.metrics != nil {
		s.rt.metrics.AuthFailuresTotal.Inc()
	}
}

// authFailure sends an auth_failure event and closes the connection with
// a policy-violation status.
func (s *Session) authFailure(ctx context.Context, traceID string, code protocol.ErrorCode, msg string) {
	payload := map[string]string{"error": msg}
	if code != "" {
		payload["code"] = string(code)
	}
	out, err := protocol.New(orUnknown(traceID), protocol.EventAuthFailure, payload)
	if err == nil {
		s.write(ctx, out)
	}
	s.close(websocket.StatusPolicyViolation, "authentication failed")
}

func orUnknown(traceID string) string {
	if traceID == "" {
		return "unknown"
	}
	return traceID
}
