// Package metrics exposes prometheus collectors for the runtime and an
// observer that derives decision metrics from bus traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liminal-foundation/lre-core/internal/bus"
	"github.com/liminal-foundation/lre-core/internal/pipeline"
)

// Metrics holds every collector the runtime reports to.
type Metrics struct {
	DecisionsTotal  *prometheus.CounterVec
	DecisionLatency prometheus.Histogram

	ConnectionsActive prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	AuthFailuresTotal prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lre_decisions_total",
			Help: "Decisions resolved, by terminal status.",
		}, []string{"status"}),
		DecisionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lre_decision_latency_seconds",
			Help:    "End-to-end decision pipeline latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lre_connections_active",
			Help: "Open websocket sessions.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lre_messages_total",
			Help: "Wire messages processed, by direction.",
		}, []string{"direction"}),
		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lre_auth_failures_total",
			Help: "Failed authentication attempts.",
		}),
	}
	reg.MustRegister(
		m.DecisionsTotal,
		m.DecisionLatency,
		m.ConnectionsActive,
		m.MessagesTotal,
		m.AuthFailuresTotal,
	)
	return m
}

// Attach subscribes the decision collectors to the bus. Only terminal
// stages count; intermediate transitions pass through untallied.
func (m *Metrics) Attach(b *bus.Bus) *bus.Subscription {
	return b.Subscribe(pipeline.TopicAll, func(_ string, data any) {
		sum, ok := data.(pipeline.Summary)
		if !ok || !sum.Status.Terminal() {
			return
		}
		m.DecisionsTotal.WithLabelValues(string(sum.Status)).Inc()
		m.DecisionLatency.Observe(sum.LatencyMS / 1000)
	})
}
