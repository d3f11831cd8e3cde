package webhooks

import "github.com/prometheus/client_golang/prometheus"

var (
	emitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybox",
		Subsystem: "webhook",
		Name:      "emit_total",
		Help:      "Events emitted by type.",
	}, []string{"event_type"})

	emitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybox",
		Subsystem: "webhook",
		Name:      "emit_errors_total",
		Help:      "Events that could not be dispatched, by type.",
	}, []string{"event_type"})

	deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybox",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Webhook deliveries by event type and result.",
	}, []string{"event_type", "result"})
)

func init() {
	prometheus.MustRegister(emitTotal, emitErrors, deliveriesTotal)
}
