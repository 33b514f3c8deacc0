// +build darwin

// Package localvm implements driver.ClusterDriver over Lima: each
// scheduled VM is its own Lima instance, keyed by the provider ID the
// driver hands back from CreateVM. Grounded on pkg/embedded/lima.go's
// LimaManager, which drove a single fixed instance named "warren" for
// the whole host; here every CreateVM call provisions a distinct named
// instance instead, since a cluster running this driver can host many
// concurrently scheduled VMs rather than one.
package localvm

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/igable/cloud-scheduler/pkg/pool"
	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"
	"github.com/rs/zerolog"
)

// Driver provisions VMs as individually named Lima instances on the
// local macOS host. cmd/cloud-scheduler registers it for clusters whose
// cloud_type is "Nimbus".
type Driver struct {
	namePrefix string
	logger     zerolog.Logger
}

// New builds a localvm Driver. namePrefix distinguishes this cluster's
// Lima instances from any other on the same host (e.g. "cs-alpha-").
func New(namePrefix string, logger zerolog.Logger) *Driver {
	return &Driver{namePrefix: namePrefix, logger: logger}
}

// CreateVM provisions a new Lima instance sized from req and waits for
// Lima to report it running before returning.
func (d *Driver) CreateVM(ctx context.Context, cluster *pool.Cluster, req driver.Requirements) (*pool.VM, error) {
	name := fmt.Sprintf("%s%s", d.namePrefix, uuid.NewString())

	cfg := d.buildConfig(req)
	configYAML, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal lima config: %v", errs.ErrDriverFatal, err)
	}

	if _, err := instance.Create(ctx, name, configYAML, false); err != nil {
		return nil, fmt.Errorf("%w: create lima instance %s: %v", errs.ErrDriverTransient, name, err)
	}

	inst, err := store.Inspect(name)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect created lima instance %s: %v", errs.ErrDriverTransient, name, err)
	}

	if err := instance.Start(ctx, inst, "", false); err != nil {
		return nil, fmt.Errorf("%w: start lima instance %s: %v", errs.ErrDriverTransient, name, err)
	}

	if err := d.waitForReady(ctx, name); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDriverTransient, err)
	}

	return &pool.VM{
		ID:          name,
		ClusterName: cluster.Name,
		VMType:      req.VMType,
		Memory:      req.Memory,
		CPUCores:    req.CPUCores,
		Storage:     req.Storage,
		State:       pool.VMRunning,
	}, nil
}

// DestroyVM stops and removes the Lima instance backing vm. Idempotent:
// an already-gone instance is treated as success.
func (d *Driver) DestroyVM(ctx context.Context, vm *pool.VM) error {
	inst, err := store.Inspect(vm.ID)
	if err != nil {
		return nil
	}

	if err := instance.StopGracefully(ctx, inst, false); err != nil {
		d.logger.Warn().Err(err).Str("vm", vm.ID).Msg("graceful stop failed, forcing")
		instance.StopForcibly(inst)
	}

	if err := instance.Delete(ctx, inst, false); err != nil {
		return fmt.Errorf("%w: delete lima instance %s: %v", errs.ErrDriverTransient, vm.ID, err)
	}
	return nil
}

// PollVM reports vm's current lifecycle state as observed by Lima's
// own instance store.
func (d *Driver) PollVM(ctx context.Context, vm *pool.VM) (pool.VMState, error) {
	inst, err := store.Inspect(vm.ID)
	if err != nil {
		return pool.VMDestroyed, nil
	}

	switch inst.Status {
	case store.StatusRunning:
		return pool.VMRunning, nil
	case store.StatusStopped:
		return pool.VMRetiring, nil
	default:
		return pool.VMStarting, nil
	}
}

func (d *Driver) buildConfig(req driver.Requirements) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}
	if req.CPUArch == "x86_64" {
		arch = limayaml.X8664
	}

	cpus := req.CPUCores
	if cpus <= 0 {
		cpus = 1
	}
	memory := fmt.Sprintf("%dMiB", req.Memory)
	disk := fmt.Sprintf("%dGiB", req.Storage)

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Images: []limayaml.Image{
			{File: limayaml.File{Location: req.ImageLocation, Arch: arch}},
		},
		Containerd: limayaml.Containerd{System: boolPtr(true)},
		Message:    fmt.Sprintf("cloud-scheduler VM %s", req.VMType),
	}
}

func boolPtr(b bool) *bool { return &b }

func (d *Driver) waitForReady(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for lima instance %s to be ready", name)
		case <-ticker.C:
			inst, err := store.Inspect(name)
			if err != nil {
				continue
			}
			if inst.Status == store.StatusRunning {
				return nil
			}
		}
	}
}
