package metrics

import (
	"github.com/rs/zerolog"

	"github.com/liminal-foundation/lre-core/internal/bus"
	"github.com/liminal-foundation/lre-core/internal/pipeline"
)

// AttachAudit writes a structured log line for every decision-stage
// transition. Durable persistence already happens in the store; this
// observer exists for the operator's log stream.
func AttachAudit(b *bus.Bus, log zerolog.Logger) *bus.Subscription {
	audit := log.With().Str("component", "audit").Logger()
	return b.Subscribe(pipeline.TopicAll, func(topic string, data any) {
		sum, ok := data.(pipeline.Summary)
		if !ok {
			return
		}
		evt := audit.Info()
		if sum.Status == pipeline.StageFailed {
			evt = audit.Warn()
		}
		evt.Str("topic", topic).
			Str("trace_id", sum.TraceID).
			Str("status", string(sum.Status)).
			Float64("latency_ms", sum.LatencyMS)
		if len(sum.Errors) > 0 {
			evt.Strs("errors", sum.Errors)
		}
		evt.Msg("decision stage")
	})
}
