// Package schedloop is the scheduling loop: the component tying
// together job polling, machine polling, and placement dispatch into
// the three parallel threads of control described by spec.md §5.
// Grounded on warren's pkg/scheduler/scheduler.go — a ticker-driven
// run loop with a stop channel — generalized from one container-per-
// service reconciliation loop into three independently-ticking passes.
package schedloop

import (
	"context"
	"errors"
	"time"

	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/igable/cloud-scheduler/pkg/jobpool"
	"github.com/igable/cloud-scheduler/pkg/metrics"
	"github.com/igable/cloud-scheduler/pkg/persistence"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"github.com/igable/cloud-scheduler/pkg/recovery"
	"github.com/igable/cloud-scheduler/pkg/selection"
	"github.com/rs/zerolog"
)

// StatusSuccess is the only JobQuerySource status code that triggers
// job pool reconciliation; any other value causes the cycle to be
// logged and skipped, per spec.md §6.
const StatusSuccess = "SUCCESS"

// JobQuerySource produces job records from whatever external queue a
// deployment is wired to, plus a status code gating reconciliation.
type JobQuerySource interface {
	QueryJobs(ctx context.Context) (records []jobpool.Record, status string, err error)
}

// MachineQuerySource produces machine records used only by the
// change-detection helper pool.ChangedJobBindings.
type MachineQuerySource interface {
	QueryMachines(ctx context.Context) ([]pool.MachineRecord, error)
}

// Loop wires the resource pool, job pool, selector, and driver registry
// into three ticking passes: job-poll/reconcile, machine-poll/change-
// detection, and placement dispatch. Each scheduling pass persists a
// fresh snapshot when a Store is configured, fulfilling the save side of the persistence/recovery
// protocol (§4.7) without a fourth independent ticker.
type Loop struct {
	resourcePool *pool.ResourcePool
	jobPool      *jobpool.JobPool
	selector     *selection.Selector
	drivers      *driver.Registry

	jobSource     JobQuerySource
	machineSource MachineQuerySource
	persist       *persistence.Store

	jobPollInterval     time.Duration
	machinePollInterval time.Duration
	schedPollInterval   time.Duration

	logger zerolog.Logger
	stopCh chan struct{}

	previousMachines []pool.MachineRecord
}

// Options configures a Loop. JobSource, MachineSource, and Persist may
// be nil: a nil JobSource/MachineSource simply never ticks that pass; a
// nil Persist skips persisting after a scheduling pass.
type Options struct {
	JobSource     JobQuerySource
	MachineSource MachineQuerySource
	Persist       *persistence.Store

	JobPollInterval     time.Duration
	MachinePollInterval time.Duration
	SchedPollInterval   time.Duration
}

// New builds a Loop over rp/jp/selector/drivers configured by opts.
func New(rp *pool.ResourcePool, jp *jobpool.JobPool, selector *selection.Selector, drivers *driver.Registry, opts Options, logger zerolog.Logger) *Loop {
	return &Loop{
		resourcePool:        rp,
		jobPool:             jp,
		selector:            selector,
		drivers:             drivers,
		jobSource:           opts.JobSource,
		machineSource:       opts.MachineSource,
		persist:             opts.Persist,
		jobPollInterval:     opts.JobPollInterval,
		machinePollInterval: opts.MachinePollInterval,
		schedPollInterval:   opts.SchedPollInterval,
		logger:              logger,
		stopCh:              make(chan struct{}),
	}
}

// Start launches the loop's ticking passes in separate goroutines.
// Returns immediately; call Stop to halt them.
func (l *Loop) Start(ctx context.Context) {
	if l.jobSource != nil {
		go l.runTicker(ctx, l.jobPollInterval, l.jobPollPass)
	}
	if l.machineSource != nil {
		go l.runTicker(ctx, l.machinePollInterval, l.machinePollPass)
	}
	go l.runTicker(ctx, l.schedPollInterval, l.SchedulingPass)
}

// Stop halts every running pass.
func (l *Loop) Stop() {
	close(l.stopCh)
}

func (l *Loop) runTicker(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pass(ctx)
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (l *Loop) jobPollPass(ctx context.Context) {
	records, status, err := l.jobSource.QueryJobs(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("job query failed; skipping reconcile this cycle")
		return
	}
	if status != StatusSuccess {
		l.logger.Warn().Str("status", status).Msg("job query returned non-success status; skipping reconcile this cycle")
		return
	}

	timer := metrics.NewTimer()
	l.jobPool.Reconcile(records)
	timer.ObserveDuration(metrics.ReconcileDuration)
	metrics.ReconcileCyclesTotal.Inc()
}

func (l *Loop) machinePollPass(ctx context.Context) {
	records, err := l.machineSource.QueryMachines(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("machine query failed; skipping change detection this cycle")
		return
	}

	previous := l.previousMachines
	l.previousMachines = records

	for _, name := range pool.ChangedJobBindings(records, previous) {
		l.logger.Info().Str("machine", name).Msg("machine's job binding changed since last poll")
	}
}

// SchedulingPass runs one pass over every currently unscheduled job: for
// each, Select a candidate cluster, Reserve its capacity, call the
// cluster's driver to actually create the VM, then Commit the
// reservation on success or Release it on failure. Exported so a caller
// (or a test) can force a pass outside the ticker.
func (l *Loop) SchedulingPass(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingPassDuration)

	snap := l.jobPool.Snapshot()
	for _, job := range snap.Jobs() {
		l.dispatch(ctx, job)
	}

	if l.persist != nil {
		if err := l.persist.Save(recovery.Snapshot(l.resourcePool)); err != nil {
			l.logger.Error().Err(err).Msg("failed to persist snapshot after scheduling pass")
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, job *jobpool.Job) {
	req := pool.FitRequest{
		Network:  job.Network,
		CPUArch:  job.CPUArch,
		Memory:   job.Memory,
		CPUCores: job.CPUCores,
		Storage:  job.Storage,
	}

	selTimer := metrics.NewTimer()
	primary, _, err := l.selector.Select(l.resourcePool, req)
	selTimer.ObserveDurationVec(metrics.SelectionDuration, l.selector.Name())
	if err != nil {
		l.logger.Error().Err(err).Str("job_id", job.ID).Msg("selection failed")
		metrics.JobsUnfitTotal.Inc()
		return
	}
	if primary == nil {
		metrics.JobsUnfitTotal.Inc()
		return
	}

	d, ok := l.drivers.Lookup(primary.CloudType)
	if !ok {
		l.logger.Warn().Str("cluster", primary.Name).Str("cloud_type", primary.CloudType).
			Msg("no driver registered for selected cluster's cloud_type")
		metrics.JobsUnfitTotal.Inc()
		return
	}

	reserved, ok := l.resourcePool.Reserve(primary.Name, req)
	if !ok {
		// Lost the race against another dispatch in this same pass;
		// leave the job unscheduled for the next pass.
		metrics.JobsUnfitTotal.Inc()
		return
	}

	rpcTimer := metrics.NewTimer()
	vm, err := d.CreateVM(ctx, primary, driver.Requirements{
		VMType:        job.VMType,
		Network:       job.Network,
		CPUArch:       job.CPUArch,
		ImageName:     job.ImageName,
		ImageLocation: job.ImageLocation,
		Memory:        job.Memory,
		CPUCores:      job.CPUCores,
		Storage:       job.Storage,
	})
	rpcTimer.ObserveDurationVec(metrics.DriverRPCDuration, primary.CloudType, "create_vm")
	if err != nil {
		l.resourcePool.Release(reserved)
		metrics.DriverRPCErrorsTotal.WithLabelValues(primary.CloudType, "create_vm", errKind(err)).Inc()
		l.logger.Error().Err(err).Str("job_id", job.ID).Str("cluster", primary.Name).
			Msg("create_vm failed; job remains unscheduled")
		return
	}

	l.resourcePool.Commit(reserved, vm.ID, vm.State)
	if err := l.jobPool.Schedule(job.ID); err != nil {
		l.logger.Warn().Err(err).Str("job_id", job.ID).Msg("schedule failed after VM creation")
		return
	}
	metrics.JobsDispatchedTotal.Inc()
	snap.Drop(job)
}

func errKind(err error) string {
	switch {
	case errors.Is(err, errs.ErrDriverFatal):
		return "fatal"
	case errors.Is(err, errs.ErrDriverTransient):
		return "transient"
	default:
		return "unknown"
	}
}
