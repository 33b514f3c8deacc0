/*
Package metrics provides Prometheus metrics collection and exposition for
the scheduler.

The metrics package defines and registers every self-instrumentation
metric using the Prometheus client library, giving observability into
pool capacity, job pool state, scheduling latency, and driver RPC health.
Metrics are exposed via an HTTP endpoint for scraping by an operator's own
Prometheus server; this is distinct from the excluded external
statistics-publication feature (spec.md §1's Non-goals), which would push
data to a third-party collector rather than merely expose it for scrape.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Categories              │          │
	│  │                                              │          │
	│  │  Pool: clusters, VMs by state, free slots   │          │
	│  │  Job pool: jobs by state, reconcile cycles  │          │
	│  │  Scheduling loop: pass duration, selection  │          │
	│  │  Driver RPC: duration, errors by kind       │          │
	│  │  Leader election: raft leader gauge         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Collector periodically scrapes the resource pool and job pool (every 15
seconds, matching the cadence warren's own manager collector used) into
the gauges declared in metrics.go. It is the only piece of this package
holding a pointer to live scheduler state; metrics.go itself only
declares and registers metric objects.

# Metric Registry

  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Thread-safe for concurrent updates from the scheduling loop, the
    reconfigure path, and the collector's own ticker goroutine

# Metrics Catalog

Pool metrics:

cloudscheduler_clusters_total:
  - Type: Gauge
  - Description: Total number of clusters currently in the resource pool

cloudscheduler_vms_total{cluster, state}:
  - Type: Gauge
  - Description: VMs tracked by the pool, by cluster and lifecycle state

cloudscheduler_cluster_vm_slots_free{cluster}:
  - Type: Gauge
  - Description: Remaining free VM slots per cluster

cloudscheduler_reconfigure_duration_seconds:
  - Type: Histogram
  - Description: Time taken by ResourcePool.Reconfigure

cloudscheduler_reconfigure_drained_vms_total:
  - Type: Counter
  - Description: VMs destroyed by Reconfigure's drain phase

Job pool metrics:

cloudscheduler_jobs_total{state}:
  - Type: Gauge
  - Description: Jobs tracked by the job pool, by state (Unscheduled/Scheduled)

cloudscheduler_jobpool_reconcile_duration_seconds:
  - Type: Histogram
  - Description: Time taken by JobPool.Reconcile

cloudscheduler_jobpool_reconcile_cycles_total:
  - Type: Counter
  - Description: Job pool reconcile cycles completed

Scheduling loop metrics:

cloudscheduler_scheduling_pass_duration_seconds:
  - Type: Histogram
  - Description: Time taken by a single scheduling pass

cloudscheduler_selection_duration_seconds{strategy}:
  - Type: Histogram
  - Description: Time taken by a Selector.Select call, by strategy name

cloudscheduler_jobs_dispatched_total:
  - Type: Counter
  - Description: Jobs successfully dispatched to a VM

cloudscheduler_jobs_unfit_total:
  - Type: Counter
  - Description: Scheduling attempts where no cluster fit the job

Driver RPC metrics:

cloudscheduler_driver_rpc_duration_seconds{cloud_type, operation}:
  - Type: Histogram
  - Description: Time taken by a ClusterDriver RPC

cloudscheduler_driver_rpc_errors_total{cloud_type, operation, kind}:
  - Type: Counter
  - Description: ClusterDriver RPC failures, by error kind
    (fatal/transient, matching spec.md §7)

Leader election metrics:

cloudscheduler_raft_is_leader:
  - Type: Gauge
  - Description: Whether this node is the Raft leader (1 = leader, 0 = follower)

# Health and Readiness

health.go carries the ambient component health checker (HealthChecker,
GetHealth, GetReadiness) used by the HTTP /health and /ready
endpoints. It also provides LivenessHandler, which pkg/api does not
mount. It is domain-agnostic: callers register whichever components
matter (leaderelect, persistence, api) by name.
*/
package metrics
