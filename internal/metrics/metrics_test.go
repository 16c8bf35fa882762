package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/bus"
	"github.com/liminal-foundation/lre-core/internal/pipeline"
)

func TestAttach_CountsTerminalStagesOnly(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	b := bus.New(zerolog.Nop(), 16)
	m.Attach(b)

	b.Publish(pipeline.Topic(pipeline.StageReceived), pipeline.Summary{
		TraceID: "t1", Status: pipeline.StageReceived,
	})
	b.Publish(pipeline.Topic(pipeline.StageExecuting), pipeline.Summary{
		TraceID: "t1", Status: pipeline.StageExecuting,
	})
	b.Publish(pipeline.Topic(pipeline.StageCompleted), pipeline.Summary{
		TraceID: "t1", Status: pipeline.StageCompleted, LatencyMS: 12.5,
	})
	b.Publish(pipeline.Topic(pipeline.StageFailed), pipeline.Summary{
		TraceID: "t2", Status: pipeline.StageFailed, LatencyMS: 3.0,
	})
	b.Close()

	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("completed")); got != 1 {
		t.Fatalf("completed count = %f", got)
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed count = %f", got)
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("received")); got != 0 {
		t.Fatalf("intermediate stage counted: %f", got)
	}
	if got := testutil.CollectAndCount(m.DecisionLatency); got != 1 {
		t.Fatalf("latency histogram metric count = %d", got)
	}
}

func TestAttachAudit_SurvivesForeignPayloads(t *testing.T) {
	b := bus.New(zerolog.Nop(), 16)
	AttachAudit(b, zerolog.Nop())

	// Non-summary payloads on a matching topic must not panic the bus.
	b.Publish("decision.completed", "not a summary")
	b.Publish(pipeline.Topic(pipeline.StageCompleted), pipeline.Summary{
		TraceID: "t1", Status: pipeline.StageCompleted,
	})
	b.Close()
}
