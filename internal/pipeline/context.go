package pipeline

import (
	"time"

	"github.com/liminal-foundation/lre-core/internal/protocol"
)

// Stage names the pipeline states. Terminal stages are Completed,
// Failed and Deferred.
type Stage string

const (
	StageReceived        Stage = "received"
	StageValidated       Stage = "validated"
	StagePresenceChecked Stage = "presence_checked"
	StageRouted          Stage = "routed"
	StageExecuting       Stage = "executing"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
	StageDeferred        Stage = "deferred"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageDeferred
}

// Topic returns the bus topic for a stage, e.g. "decision.completed".
func Topic(s Stage) string { return "decision." + string(s) }

// TopicAll matches every decision-stage topic.
const TopicAll = "decision.*"

// Summary is the immutable outcome of one pipeline run. It is published
// on the bus at every transition and returned to the caller at the end.
type Summary struct {
	TraceID   string             `json:"trace_id"`
	Status    Stage              `json:"status"`
	Result    any                `json:"result,omitempty"`
	LatencyMS float64            `json:"latency_ms"`
	Errors    []string           `json:"errors,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	ErrorCode protocol.ErrorCode `json:"error_code,omitempty"`
	Retryable bool               `json:"retryable,omitempty"`
}

// Context is the per-run state. Exactly one pipeline execution owns it;
// it is discarded when the run terminates.
type Context struct {
	traceID   string
	start     time.Time
	stage     Stage
	metadata  map[string]any
	errors    []string
	result    any
	errorCode protocol.ErrorCode
	retryable bool
}

func newContext(d Decision) *Context {
	c := &Context{
		traceID:  d.TraceID,
		start:    time.Now(),
		stage:    StageReceived,
		metadata: make(map[string]any),
	}
	c.metadata["agent_id"] = d.AgentID
	c.metadata["action"] = d.Action
	return c
}

// AddMetadata annotates the run; later stages and observers see the
// value through the summary.
func (c *Context) AddMetadata(key string, value any) {
	c.metadata[key] = value
}

// Stage returns the stage the run has reached.
func (c *Context) Stage() Stage { return c.stage }

// LatencyMS measures elapsed time since the run started.
func (c *Context) LatencyMS() float64 {
	return float64(time.Since(c.start)) / float64(time.Millisecond)
}

func (c *Context) advance(s Stage) {
	c.stage = s
}

func (c *Context) markFailed(err error, code protocol.ErrorCode, retryable bool) {
	c.stage = StageFailed
	c.errors = append(c.errors, err.Error())
	c.errorCode = code
	c.retryable = retryable
}

func (c *Context) markDeferred(reason string) {
	c.stage = StageDeferred
	c.metadata["reason"] = reason
}

func (c *Context) complete(result any) {
	c.stage = StageCompleted
	c.result = result
}

// Summary snapshots the run state. The metadata map is copied so bus
// observers never race with later mutation.
func (c *Context) Summary() Summary {
	md := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		md[k] = v
	}
	var errs []string
	if len(c.errors) > 0 {
		errs = append([]string(nil), c.errors...)
	}
	return Summary{
		TraceID:   c.traceID,
		Status:    c.stage,
		Result:    c.result,
		LatencyMS: c.LatencyMS(),
		Errors:    errs,
		Metadata:  md,
		ErrorCode: c.errorCode,
		Retryable: c.retryable,
	}
}
