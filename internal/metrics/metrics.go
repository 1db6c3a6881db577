// Package metrics holds the Prometheus collectors for the tracker's
// health-probing and leader-election subsystems, adapted from the
// teacher's flat Metrics struct + promauto registration style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the core components observe through.
type Metrics struct {
	// HealthProber
	ProbeSuccessTotal     *prometheus.CounterVec
	ProbeFailureTotal     *prometheus.CounterVec
	ProbeRTT              *prometheus.HistogramVec
	GroupHTTPServerCount  *prometheus.GaugeVec

	// ElectionLoop
	LeaderIndex             prometheus.Gauge
	ElectionRoundsTotal     prometheus.Counter
	PropagationPhaseResult  *prometheus.CounterVec
	PingFailureStreak       prometheus.Gauge
	PingLatency             prometheus.Histogram
	LeaderDemotionsTotal    prometheus.Counter

	// StatusSampler
	SampleErrorsTotal *prometheus.CounterVec
}

// New registers every collector under the given namespace (e.g.
// "trackerd") with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ProbeSuccessTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_success_total",
			Help:      "Number of successful storage liveness probes, by group.",
		}, []string{"group"}),
		ProbeFailureTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failure_total",
			Help:      "Number of failed storage liveness probes, by group.",
		}, []string{"group"}),
		ProbeRTT: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_rtt_seconds",
			Help:      "Round-trip time of storage liveness probes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
		GroupHTTPServerCount: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "group_http_server_count",
			Help:      "Number of servers currently published as eligible for HTTP traffic, by group.",
		}, []string{"group"}),

		LeaderIndex: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leader_index",
			Help:      "Ordinal index of the current leader in the tracker table, or -1 if unknown.",
		}),
		ElectionRoundsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "election_rounds_total",
			Help:      "Number of leader-selection rounds attempted.",
		}),
		PropagationPhaseResult: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagation_phase_result_total",
			Help:      "Notify/commit propagation phase outcomes, by phase and result.",
		}, []string{"phase", "result"}),
		PingFailureStreak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ping_failure_streak",
			Help:      "Consecutive leader-ping failures observed by this tracker.",
		}),
		PingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ping_latency_seconds",
			Help:      "Round-trip time of PING_LEADER requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		LeaderDemotionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leader_demotions_total",
			Help:      "Number of times this tracker demoted its known leader after repeated ping failures.",
		}),

		SampleErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_sample_errors_total",
			Help:      "Errors encountered sampling a peer's running status, by peer.",
		}, []string{"peer"}),
	}
}
