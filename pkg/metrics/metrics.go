// Package metrics carries this service's self-instrumentation: gauges,
// counters, and histograms scraped by an operator's own Prometheus, not
// the excluded external statistics-publication feature (spec.md §1).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	ClustersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscheduler_clusters_total",
			Help: "Total number of clusters currently in the resource pool",
		},
	)

	VMsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudscheduler_vms_total",
			Help: "Total number of VMs tracked by the pool, by cluster and state",
		},
		[]string{"cluster", "state"},
	)

	ClusterVMSlotsFree = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudscheduler_cluster_vm_slots_free",
			Help: "Remaining free VM slots per cluster",
		},
		[]string{"cluster"},
	)

	ReconfigureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudscheduler_reconfigure_duration_seconds",
			Help:    "Time taken by ResourcePool.Reconfigure",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconfigureDrainedVMsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudscheduler_reconfigure_drained_vms_total",
			Help: "Total number of VMs destroyed by Reconfigure's drain phase",
		},
	)

	// Job pool metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cloudscheduler_jobs_total",
			Help: "Total number of jobs tracked by the job pool, by state",
		},
		[]string{"state"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudscheduler_jobpool_reconcile_duration_seconds",
			Help:    "Time taken by JobPool.Reconcile",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudscheduler_jobpool_reconcile_cycles_total",
			Help: "Total number of job pool reconcile cycles completed",
		},
	)

	// Scheduling loop metrics
	SchedulingPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudscheduler_scheduling_pass_duration_seconds",
			Help:    "Time taken by a single scheduling pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	SelectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudscheduler_selection_duration_seconds",
			Help:    "Time taken by a Selector.Select call, by strategy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	JobsDispatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudscheduler_jobs_dispatched_total",
			Help: "Total number of jobs successfully dispatched to a VM",
		},
	)

	JobsUnfitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cloudscheduler_jobs_unfit_total",
			Help: "Total number of scheduling attempts where no cluster fit the job",
		},
	)

	// Driver RPC metrics
	DriverRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cloudscheduler_driver_rpc_duration_seconds",
			Help:    "Time taken by a ClusterDriver RPC, by cloud_type and operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cloud_type", "operation"},
	)

	DriverRPCErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cloudscheduler_driver_rpc_errors_total",
			Help: "Total number of ClusterDriver RPC failures, by cloud_type, operation, and kind",
		},
		[]string{"cloud_type", "operation", "kind"},
	)

	// Leader election metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cloudscheduler_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	LeaderConfigPublishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cloudscheduler_leaderelect_config_publish_duration_seconds",
			Help:    "Time taken to replicate a cluster configuration change through raft",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(VMsTotal)
	prometheus.MustRegister(ClusterVMSlotsFree)
	prometheus.MustRegister(ReconfigureDuration)
	prometheus.MustRegister(ReconfigureDrainedVMsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(SchedulingPassDuration)
	prometheus.MustRegister(SelectionDuration)
	prometheus.MustRegister(JobsDispatchedTotal)
	prometheus.MustRegister(JobsUnfitTotal)
	prometheus.MustRegister(DriverRPCDuration)
	prometheus.MustRegister(DriverRPCErrorsTotal)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(LeaderConfigPublishDuration)
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
