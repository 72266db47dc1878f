package transitions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "leadgarden",
		Subsystem: "transitions",
		Name:      "events_total",
		Help:      "Total lifecycle events processed by type",
	},
	[]string{"event"},
)

func recordTransition(event string) {
	transitionEvents.WithLabelValues(event).Inc()
}
