// Package driver defines the ClusterDriver capability: the boundary
// between the scheduler's pool/selection/jobpool logic and whatever
// cloud-specific API actually boots a virtual machine. Concrete drivers
// (pkg/drivers/localvm, pkg/drivers/sandboxvm) implement this interface;
// the pool and scheduling loop packages depend only on it.
package driver

import (
	"context"
	"fmt"

	"github.com/igable/cloud-scheduler/pkg/pool"
)

// Requirements is the subset of a job's resource demands a driver needs
// to provision a VM. It mirrors pool.FitRequest but is kept distinct so
// drivers never gain the ability to reach into pool internals.
type Requirements struct {
	VMType        string
	Network       string
	CPUArch       string
	ImageName     string
	ImageLocation string
	Memory        int
	CPUCores      int
	Storage       int
}

// ClusterDriver is the per-cluster capability used by ResourcePool and
// the scheduling loop to actually create, destroy, and poll VMs. Every
// call may block on network I/O; callers must never hold the pool lock
// while invoking one (see pkg/pool's lock-compute-unlock-call-lock-commit
// pattern).
type ClusterDriver interface {
	// CreateVM requests a new VM on the named cluster matching req.
	// Returns the provider-assigned VM or an error wrapping
	// errs.ErrDriverFatal / errs.ErrDriverTransient.
	CreateVM(ctx context.Context, cluster *pool.Cluster, req Requirements) (*pool.VM, error)

	// DestroyVM tears down a previously created VM. Idempotent: destroying
	// an already-gone VM is not an error.
	DestroyVM(ctx context.Context, vm *pool.VM) error

	// PollVM reports the current lifecycle state of vm as observed by
	// the backend, independent of the pool's own bookkeeping.
	PollVM(ctx context.Context, vm *pool.VM) (pool.VMState, error)
}

// Registry maps a cluster's cloud_type tag to the driver implementation
// responsible for it. Construction of a cluster selects exactly one
// driver by this tag; unknown tags cause the cluster to be rejected
// during reconfiguration with a logged warning, never an abort.
type Registry struct {
	drivers map[string]ClusterDriver
}

// NewRegistry builds an empty driver registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]ClusterDriver)}
}

// Register associates cloudType with a driver implementation. A second
// call for the same tag overwrites the first.
func (r *Registry) Register(cloudType string, d ClusterDriver) {
	r.drivers[cloudType] = d
}

// Lookup returns the driver registered for cloudType, or false if none
// is registered.
func (r *Registry) Lookup(cloudType string) (ClusterDriver, bool) {
	d, ok := r.drivers[cloudType]
	return d, ok
}

// MustLookup is a convenience for call sites that have already validated
// cloudType is registered (e.g. immediately after Lookup succeeded).
func (r *Registry) MustLookup(cloudType string) ClusterDriver {
	d, ok := r.drivers[cloudType]
	if !ok {
		panic(fmt.Sprintf("driver: no driver registered for cloud_type %q", cloudType))
	}
	return d
}
