package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leadgarden"

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Number of queue entries by status",
		},
		[]string{"status"},
	)

	dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dispatches_total",
			Help:      "Total dispatch outcomes",
		},
		[]string{"channel", "status"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to dispatch one message",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	entriesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "fetched_total",
			Help:      "Total due entries fetched for processing",
		},
	)
)

// recordDispatch records a dispatch outcome metric.
func recordDispatch(channel, status string) {
	dispatches.WithLabelValues(channel, status).Inc()
}

// recordDispatchDuration records dispatch latency.
func recordDispatchDuration(channel string, duration time.Duration) {
	dispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// recordFetched records the number of entries pulled from the queue.
func recordFetched(count int) {
	entriesFetched.Add(float64(count))
}

// RecordQueueStats updates queue size gauges.
func RecordQueueStats(stats *Stats) {
	queueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	queueSize.WithLabelValues("processing").Set(float64(stats.Processing))
	queueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	queueSize.WithLabelValues("cancelled").Set(float64(stats.Cancelled))
	queueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
