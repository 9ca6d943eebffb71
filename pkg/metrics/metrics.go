package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology metrics
	BlocksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowmesh_blocks_total",
			Help: "Total number of committed blocks by scheduling state",
		},
		[]string{"state"},
	)

	FlowsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowmesh_flows_total",
			Help: "Total number of flat flows in the committed topology",
		},
	)

	NetIogressPairsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowmesh_net_iogress_pairs_total",
			Help: "Total number of network sink/source pairs inserted at process boundaries",
		},
	)

	TopologyCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowmesh_topology_commit_duration_seconds",
			Help:    "Time taken to commit a topology",
			Buckets: prometheus.DefBuckets,
		},
	)

	TopologyCommitsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmesh_topology_commits_failed_total",
			Help: "Total number of topology commits that failed activation",
		},
	)

	// Work-loop metrics
	WorkLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flowmesh_work_latency_seconds",
			Help:    "Time taken by a single block work() call",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_work_calls_total",
			Help: "Total number of work() calls by block and outcome",
		},
		[]string{"block_id", "outcome"},
	)

	// Buffer manager metrics
	ManagedBuffersInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowmesh_managed_buffers_in_flight",
			Help: "Number of ManagedBuffer slots currently checked out of their manager",
		},
		[]string{"manager"},
	)

	BufferConvertErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flowmesh_buffer_convert_errors_total",
			Help: "Total number of BufferChunk conversion failures",
		},
	)

	// Token manager / message back-pressure metrics
	TokensInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowmesh_tokens_in_flight",
			Help: "Number of un-acknowledged async messages per output port",
		},
		[]string{"port"},
	)

	MessagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmesh_messages_dropped_total",
			Help: "Total number of messages dropped by a full input queue",
		},
		[]string{"port"},
	)
)

func init() {
	prometheus.MustRegister(BlocksTotal)
	prometheus.MustRegister(FlowsTotal)
	prometheus.MustRegister(NetIogressPairsTotal)
	prometheus.MustRegister(TopologyCommitDuration)
	prometheus.MustRegister(TopologyCommitsFailed)
	prometheus.MustRegister(WorkLatency)
	prometheus.MustRegister(WorkCallsTotal)
	prometheus.MustRegister(ManagedBuffersInFlight)
	prometheus.MustRegister(BufferConvertErrorsTotal)
	prometheus.MustRegister(TokensInFlight)
	prometheus.MustRegister(MessagesDroppedTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
