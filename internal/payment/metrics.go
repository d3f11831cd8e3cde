package payment

import "github.com/prometheus/client_golang/prometheus"

var (
	paymentsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybox",
		Subsystem: "payments",
		Name:      "created_total",
		Help:      "Payment creations by result.",
	}, []string{"result"}) // "ok", "config_error", "duplicate", "error"

	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybox",
		Subsystem: "notifications",
		Name:      "received_total",
		Help:      "Gateway notifications by source and outcome.",
	}, []string{"source", "result"}) // "applied", "unchanged", "malformed", "lookup_error", "authenticity_error", "unrecognized", "error"

	consistencyMismatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybox",
		Subsystem: "notifications",
		Name:      "mismatches_total",
		Help:      "Notification fields disagreeing with the stored transaction.",
	}, []string{"field"})

	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paybox",
		Subsystem: "transactions",
		Name:      "transitions_total",
		Help:      "Applied transaction state changes by target state.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(paymentsCreated, notificationsTotal, consistencyMismatches, stateTransitions)
}
