// Package recovery implements the recovery protocol of §4.7: on startup,
// after the resource pool's live cluster set has been built by
// Reconfigure, every VM persisted by the previous run is polled, and
// either re-attached to its cluster or destroyed.
package recovery

import (
	"context"

	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/persistence"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"github.com/igable/cloud-scheduler/pkg/retry"
	"github.com/rs/zerolog"
)

// Snapshot converts the resource pool's current cluster/VM state into the
// flat records persistence.Store.Save serializes.
func Snapshot(p *pool.ResourcePool) []persistence.ClusterRecord {
	clusters := p.Snapshot()
	out := make([]persistence.ClusterRecord, 0, len(clusters))
	for _, c := range clusters {
		vms := make([]persistence.VMRecord, 0, len(c.VMs))
		for _, vm := range c.VMs {
			vms = append(vms, persistence.VMRecord{
				ID:             vm.ID,
				VMType:         vm.VMType,
				Memory:         vm.Memory,
				CPUCores:       vm.CPUCores,
				Storage:        vm.Storage,
				MemoryBinIndex: vm.MemoryBinIndex,
				State:          string(vm.State),
			})
		}
		out = append(out, persistence.ClusterRecord{Name: c.Name, CloudType: c.CloudType, VMs: vms})
	}
	return out
}

// Run re-attaches every VM in records to p's current cluster set. p must
// already reflect the live configuration (Reconfigure must have run
// first) so cluster lookups below see the final set, not a pre-recovery
// one.
//
// For each persisted VM: poll_vm is invoked through the driver registered
// for the VM's original cloud_type. A VM whose driver no longer exists
// is dropped untracked without a destroy call; one found in Error state
// is destroyed and dropped. Otherwise, if
// the VM's cluster is still configured it is re-attached and checked
// out against current capacity (AdoptVM may still mark it Retiring if
// capacity shrank); if the cluster is gone, the VM is destroyed.
func Run(ctx context.Context, p *pool.ResourcePool, records []persistence.ClusterRecord, drivers *driver.Registry, logger zerolog.Logger) {
	for _, cr := range records {
		d, hasDriver := drivers.Lookup(cr.CloudType)

		for _, vr := range cr.VMs {
			vm := &pool.VM{
				ID:             vr.ID,
				VMType:         vr.VMType,
				ClusterName:    cr.Name,
				Memory:         vr.Memory,
				CPUCores:       vr.CPUCores,
				Storage:        vr.Storage,
				MemoryBinIndex: vr.MemoryBinIndex,
				State:          pool.VMState(vr.State),
			}

			if !hasDriver {
				logger.Warn().Str("cluster", cr.Name).Str("vm_id", vm.ID).
					Msg("no driver registered for persisted VM's cloud_type; discarding untracked")
				continue
			}

			state, err := d.PollVM(ctx, vm)
			if err != nil {
				logger.Warn().Err(err).Str("vm_id", vm.ID).
					Msg("poll_vm failed during recovery; treating as Error")
				state = pool.VMError
			}
			if state == pool.VMError {
				if err := retry.Destroy(ctx, vm.ID, logger, func(ctx context.Context) error {
					return d.DestroyVM(ctx, vm)
				}); err != nil {
					logger.Error().Err(err).Str("vm_id", vm.ID).Msg("destroy_vm failed for errored recovered VM")
				}
				continue
			}
			vm.State = state

			if _, ok := p.GetCluster(cr.Name); !ok {
				logger.Info().Str("cluster", cr.Name).Str("vm_id", vm.ID).
					Msg("recovered VM's cluster no longer configured; destroying")
				if err := retry.Destroy(ctx, vm.ID, logger, func(ctx context.Context) error {
					return d.DestroyVM(ctx, vm)
				}); err != nil {
					logger.Error().Err(err).Str("vm_id", vm.ID).Msg("destroy_vm failed dropping orphaned recovered VM")
				}
				continue
			}

			if !p.AdoptVM(cr.Name, vm) {
				logger.Warn().Str("cluster", cr.Name).Str("vm_id", vm.ID).
					Msg("recovered VM did not fit current cluster capacity; marked retiring")
			}
		}
	}
}
