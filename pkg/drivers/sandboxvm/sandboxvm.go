// Package sandboxvm implements driver.ClusterDriver over containerd:
// each scheduled VM is a containerd container+task running a sandboxed
// image, treated as the cluster's unit of capacity. Grounded on
// pkg/runtime/containerd.go's ContainerdRuntime (the same client/oci
// option construction, the same namespace-per-call pattern, the same
// graceful-then-forced SIGTERM/SIGKILL stop sequence), narrowed from a
// general-purpose container runtime wrapper down to the three
// operations a ClusterDriver needs.
package sandboxvm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"
	"github.com/igable/cloud-scheduler/pkg/driver"
	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/igable/cloud-scheduler/pkg/pool"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

// storageRoot is the host directory under which each VM gets a
// per-instance bind-mounted data directory, sized informationally by
// req.Storage (containerd/overlayfs enforce no quota on it; the mount
// just gives the sandboxed workload a writable path that survives
// container restarts until DestroyVM cleans it up).
const storageRoot = "/var/lib/cloud-scheduler/sandboxvm-storage"

// DefaultNamespace is the containerd namespace sandboxvm operates in,
// kept separate from any other containerd consumer on the same host.
const DefaultNamespace = "cloud-scheduler"

// Driver provisions VMs as containerd-managed sandboxes.
// cmd/cloud-scheduler registers it for clusters whose cloud_type is
// "AmazonEC2".
type Driver struct {
	client    *containerd.Client
	namespace string
	logger    zerolog.Logger
}

// New connects to the containerd daemon at socketPath and returns a
// ready Driver. Callers should Close it during shutdown.
func New(socketPath string, logger zerolog.Logger) (*Driver, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd at %s: %w", socketPath, err)
	}
	return &Driver{client: client, namespace: DefaultNamespace, logger: logger}, nil
}

// Close releases the underlying containerd client connection.
func (d *Driver) Close() error {
	if d.client == nil {
		return nil
	}
	return d.client.Close()
}

// CreateVM pulls req's image, creates a container sized by req's
// resource limits, and starts its task.
func (d *Driver) CreateVM(ctx context.Context, cluster *pool.Cluster, req driver.Requirements) (*pool.VM, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	image, err := d.client.Pull(ctx, req.ImageLocation, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("%w: pull image %s: %v", errs.ErrDriverTransient, req.ImageLocation, err)
	}

	id := fmt.Sprintf("%s-%s", cluster.Name, uuid.NewString())

	opts := []oci.SpecOpts{oci.WithImageConfig(image)}
	if req.CPUCores > 0 {
		shares := uint64(req.CPUCores * 1024)
		quota := int64(req.CPUCores * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if req.Memory > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(req.Memory)*1024*1024))
	}
	if req.Storage > 0 {
		hostDir := filepath.Join(storageRoot, id)
		if err := os.MkdirAll(hostDir, 0700); err != nil {
			return nil, fmt.Errorf("%w: create storage dir for %s: %v", errs.ErrDriverTransient, id, err)
		}
		opts = append(opts, oci.WithMounts([]specs.Mount{
			{
				Destination: "/data",
				Type:        "bind",
				Source:      hostDir,
				Options:     []string{"rbind", "rw"},
			},
		}))
	}

	ctr, err := d.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create container %s: %v", errs.ErrDriverFatal, id, err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return nil, fmt.Errorf("%w: create task for %s: %v", errs.ErrDriverTransient, id, err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: start task for %s: %v", errs.ErrDriverTransient, id, err)
	}

	return &pool.VM{
		ID:          id,
		ClusterName: cluster.Name,
		VMType:      req.VMType,
		Memory:      req.Memory,
		CPUCores:    req.CPUCores,
		Storage:     req.Storage,
		State:       pool.VMRunning,
	}, nil
}

// DestroyVM stops vm's task (SIGTERM, then SIGKILL after a 10s grace
// period) and removes its container and snapshot. Idempotent.
func (d *Driver) DestroyVM(ctx context.Context, vm *pool.VM) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	ctr, err := d.client.LoadContainer(ctx, vm.ID)
	if err != nil {
		return nil
	}

	if err := d.stopTask(ctx, ctr); err != nil {
		d.logger.Warn().Err(err).Str("vm", vm.ID).Msg("failed to stop task before delete")
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("%w: delete container %s: %v", errs.ErrDriverTransient, vm.ID, err)
	}

	if err := os.RemoveAll(filepath.Join(storageRoot, vm.ID)); err != nil {
		d.logger.Warn().Err(err).Str("vm", vm.ID).Msg("failed to remove storage directory")
	}
	return nil
}

func (d *Driver) stopTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("kill SIGTERM: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("kill SIGKILL: %w", err)
		}
	}

	_, err = task.Delete(ctx)
	return err
}

// PollVM reports vm's state as observed by containerd's own task
// status, mapped onto the pool's lifecycle vocabulary.
func (d *Driver) PollVM(ctx context.Context, vm *pool.VM) (pool.VMState, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	ctr, err := d.client.LoadContainer(ctx, vm.ID)
	if err != nil {
		return pool.VMDestroyed, nil
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return pool.VMStarting, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return pool.VMError, fmt.Errorf("%w: task status for %s: %v", errs.ErrDriverTransient, vm.ID, err)
	}

	switch status.Status {
	case containerd.Running:
		return pool.VMRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return pool.VMRetiring, nil
		}
		return pool.VMError, nil
	case containerd.Paused:
		return pool.VMRunning, nil
	default:
		return pool.VMStarting, nil
	}
}
