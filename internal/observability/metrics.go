package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	adminEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consortiumd",
			Subsystem: "admin",
			Name:      "events_total",
			Help:      "Admin stream events by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	stateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consortiumd",
			Subsystem: "state",
			Name:      "changes_total",
			Help:      "Circuit state changes by classification.",
		},
		[]string{"class"},
	)
	publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consortiumd",
			Subsystem: "queue",
			Name:      "publishes_total",
			Help:      "Outbound envelope publishes by message type and outcome.",
		},
		[]string{"message_type", "outcome"},
	)
	reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consortiumd",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Stream reconnect attempts by stream name.",
		},
		[]string{"stream"},
	)
	deployments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consortiumd",
			Subsystem: "contract",
			Name:      "deployments_total",
			Help:      "Contract deployment attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(adminEvents, stateChanges, publishes, reconnects, deployments)
	})
}

func RecordAdminEvent(kind string, ok bool) {
	RegisterMetrics()
	adminEvents.WithLabelValues(kind, outcome(ok)).Inc()
}

func RecordStateChange(class string) {
	RegisterMetrics()
	stateChanges.WithLabelValues(class).Inc()
}

func RecordPublish(messageType string, ok bool) {
	RegisterMetrics()
	publishes.WithLabelValues(messageType, outcome(ok)).Inc()
}

func RecordReconnect(stream string) {
	RegisterMetrics()
	reconnects.WithLabelValues(stream).Inc()
}

func RecordDeployment(ok bool) {
	RegisterMetrics()
	deployments.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
