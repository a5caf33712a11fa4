// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to various parts of the muacc client and
// reference daemon.
//
// When defining new operations or metrics, these are helpful values to
// track:
//  - things coming into or go out of the system: requests, fallbacks, round trips.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DaemonDialFailures counts failed attempts to establish a per-context
	// channel to the MAM daemon.
	DaemonDialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muacc_daemon_dial_failures_total",
		Help: "Number of failed dials to the MAM daemon socket.",
	})

	// DaemonRoundTripFailures counts request/response round trips that
	// failed after a channel was successfully dialed.
	DaemonRoundTripFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "muacc_daemon_roundtrip_failures_total",
		Help: "Number of failed request/response round trips with the MAM daemon.",
	})

	// DaemonRoundTripLatency tracks round-trip latency for a full
	// request-write/response-read exchange.
	DaemonRoundTripLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muacc_daemon_roundtrip_latency_seconds",
		Help:    "Latency of a full MAM daemon request/response round trip.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	// FallbackTotal counts operations that fell back to the native system
	// call, by operation name and reason.
	FallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muacc_fallback_total",
		Help: "Number of intercepted calls that fell back to the native syscall.",
	}, []string{"op", "reason"})

	// ContextBusyTotal counts TryLock failures, by operation.
	ContextBusyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "muacc_context_busy_total",
		Help: "Number of operations that found the context already locked.",
	}, []string{"op"})

	// SocketSetSize tracks the number of file descriptors tracked per
	// equivalence-class set at the moment of each Add/Remove.
	SocketSetSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "muacc_socketset_size",
		Help:    "Distribution of socket-set sizes observed on registry mutation.",
		Buckets: prometheus.LinearBuckets(1, 1, 10),
	})

	// SocketSetCount tracks the number of distinct equivalence-class sets
	// in the registry at the moment of each Add/Remove.
	SocketSetCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "muacc_socketset_count",
		Help: "Current number of distinct socket-set equivalence classes.",
	})
)

// init prints a log message to let the user know that the package has been
// loaded and the metrics registered, matching the teacher's own
// metrics.init convention.
func init() {
	log.Println("Prometheus metrics in muacc.metrics are registered.")
}
