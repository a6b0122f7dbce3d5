package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across every
// handler mounted on the REST surface.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "secrethub",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// SealStatus is 1 when the node is unsealed, 0 when sealed or uninitialized.
var SealStatus = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "secrethub",
		Subsystem: "seal",
		Name:      "unsealed",
		Help:      "1 if the vault is unsealed on this node, 0 otherwise.",
	},
)

// UnsealProgress tracks the size of the in-progress share set.
var UnsealProgress = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "secrethub",
		Subsystem: "seal",
		Name:      "unseal_progress",
		Help:      "Number of distinct valid shares collected toward the threshold.",
	},
)

// LockAcquireDuration tracks how long distributed lock acquisition took.
var LockAcquireDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "secrethub",
		Subsystem: "lock",
		Name:      "acquire_duration_seconds",
		Help:      "Distributed lock acquisition latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	},
	[]string{"name", "outcome"},
)

// IsLeader is 1 when this node currently holds cluster leadership.
var IsLeader = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "secrethub",
		Subsystem: "cluster",
		Name:      "is_leader",
		Help:      "1 if this node currently holds cluster leadership, 0 otherwise.",
	},
)

// AuditAppendTotal counts audit chain appends by outcome.
var AuditAppendTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "secrethub",
		Subsystem: "audit",
		Name:      "append_total",
		Help:      "Total number of audit log append attempts.",
	},
	[]string{"outcome"},
)

// PolicyEvaluationsTotal counts policy evaluations by verdict.
var PolicyEvaluationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "secrethub",
		Subsystem: "policy",
		Name:      "evaluations_total",
		Help:      "Total number of policy evaluations by verdict.",
	},
	[]string{"verdict"},
)

// SecretReadsTotal counts gated secret reads by outcome.
var SecretReadsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "secrethub",
		Subsystem: "secrets",
		Name:      "reads_total",
		Help:      "Total number of policy-gated secret reads.",
	},
	[]string{"outcome"},
)

// SecretReadDuration tracks read_for_entity response time end to end
// (policy evaluation plus decryption), per §4.8.
var SecretReadDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "secrethub",
		Subsystem: "secrets",
		Name:      "read_duration_seconds",
		Help:      "read_for_entity response time in seconds, by outcome.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"outcome"},
)

// coreMetrics returns the core's own collectors for registration.
func coreMetrics() []prometheus.Collector {
	return []prometheus.Collector{
		SealStatus,
		UnsealProgress,
		LockAcquireDuration,
		IsLeader,
		AuditAppendTotal,
		PolicyEvaluationsTotal,
		SecretReadsTotal,
		SecretReadDuration,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, the core's own
// subsystem collectors, and any additional collectors passed in.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range coreMetrics() {
		reg.MustRegister(c)
	}
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
