// Package pipeline runs decisions through the staged state machine:
// received, validated, presence-checked, routed, executing, then one of
// completed, failed or deferred. Every transition is published on the
// event bus so observers attach without the pipeline knowing them.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/bus"
	"github.com/liminal-foundation/lre-core/internal/execution"
	"github.com/liminal-foundation/lre-core/internal/protocol"
	"github.com/liminal-foundation/lre-core/internal/routing"
)

// Decision is one request entering the pipeline. The envelope has
// already passed structural validation upstream.
type Decision struct {
	TraceID string
	AgentID string
	Action  string
	Payload json.RawMessage
}

// PresenceChecker answers whether the target agent is reachable.
type PresenceChecker interface {
	IsOnline(ctx context.Context, agentID string) (bool, error)
}

// Router resolves the action to a route.
type Router interface {
	Resolve(ctx context.Context, action string) (routing.Route, error)
}

// Executor runs the resolved action.
type Executor interface {
	Execute(ctx context.Context, req execution.Request) (any, error)
}

// Pipeline sequences one decision end to end. It is stateless between
// runs; each run owns its own Context.
type Pipeline struct {
	presence    PresenceChecker
	router      Router
	executor    Executor
	bus         *bus.Bus
	execTimeout time.Duration
	log         zerolog.Logger
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Presence    PresenceChecker
	Router      Router
	Executor    Executor
	Bus         *bus.Bus
	ExecTimeout time.Duration
	Log         zerolog.Logger
}

// New builds a pipeline.
func New(d Deps) *Pipeline {
	return &Pipeline{
		presence:    d.Presence,
		router:      d.Router,
		executor:    d.Executor,
		bus:         d.Bus,
		execTimeout: d.ExecTimeout,
		log:         d.Log.With().Str("component", "pipeline").Logger(),
	}
}

// Run executes one decision and returns its summary. Cancellation is
// cooperative: ctx is consulted between stages, and an in-flight
// execution stage finishes (or times out) before the run resolves.
func (p *Pipeline) Run(ctx context.Context, d Decision) Summary {
	dc := newContext(d)
	p.publish(dc)

	// received -> validated
	if wErr := validateDecision(d); wErr != nil {
		return p.fail(dc, wErr, wErr.Code, false)
	}
	dc.advance(StageValidated)
	p.publish(dc)

	if err := ctx.Err(); err != nil {
		return p.fail(dc, errors.Wrap(err, "cancelled"), protocol.CodeExecutionFailed, true)
	}

	// validated -> presence_checked; offline terminates in deferred with
	// no routing or execution call.
	online, err := p.presence.IsOnline(ctx, d.AgentID)
	if err != nil {
		return p.fail(dc, errors.Wrap(err, "presence check"), protocol.CodeExecutionFailed, true)
	}
	if !online {
		dc.markDeferred("agent_offline")
		p.publish(dc)
		p.log.Info().Str("trace_id", d.TraceID).Str("agent_id", d.AgentID).
			Msg("decision deferred, agent offline")
		return dc.Summary()
	}
	dc.advance(StagePresenceChecked)
	p.publish(dc)

	if err := ctx.Err(); err != nil {
		return p.fail(dc, errors.Wrap(err, "cancelled"), protocol.CodeExecutionFailed, true)
	}

	// presence_checked -> routed
	route, err := p.router.Resolve(ctx, d.Action)
	if err != nil {
		return p.fail(dc, errors.Wrap(err, "routing"), protocol.CodeExecutionFailed, false)
	}
	dc.AddMetadata("route", route.Target)
	dc.advance(StageRouted)
	p.publish(dc)

	if err := ctx.Err(); err != nil {
		return p.fail(dc, errors.Wrap(err, "cancelled"), protocol.CodeExecutionFailed, true)
	}

	// routed -> executing, bounded by the execution timeout. Timeouts
	// and execution faults are retryable.
	dc.advance(StageExecuting)
	p.publish(dc)

	execCtx := ctx
	if p.execTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, p.execTimeout)
		defer cancel()
	}
	result, err := p.executor.Execute(execCtx, execution.Request{
		TraceID: d.TraceID,
		AgentID: d.AgentID,
		Action:  d.Action,
		Target:  route.Target,
		Payload: d.Payload,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrap(err, "execution timeout")
		}
		return p.fail(dc, err, protocol.CodeExecutionFailed, true)
	}

	dc.complete(result)
	p.publish(dc)
	p.log.Debug().Str("trace_id", d.TraceID).Str("action", d.Action).
		Float64("latency_ms", dc.LatencyMS()).Msg("decision completed")
	return dc.Summary()
}

func (p *Pipeline) fail(dc *Context, err error, code protocol.ErrorCode, retryable bool) Summary {
	dc.markFailed(err, code, retryable)
	p.publish(dc)
	p.log.Warn().Str("trace_id", dc.traceID).Err(err).
		Str("code", string(code)).Msg("decision failed")
	return dc.Summary()
}

func (p *Pipeline) publish(dc *Context) {
	p.bus.Publish(Topic(dc.Stage()), dc.Summary())
}

func validateDecision(d Decision) *protocol.WireError {
	switch {
	case d.TraceID == "":
		return protocol.FieldError(protocol.CodeFieldMissing, "trace_id")
	case d.Action == "":
		return protocol.FieldError(protocol.CodeFieldMissing, "action")
	case d.AgentID == "":
		return protocol.FieldError(protocol.CodeFieldMissing, "agent_id")
	}
	return nil
}
