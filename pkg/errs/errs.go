// Package errs defines the sentinel errors shared by the scheduler's
// internal packages. Callers distinguish failure kinds with errors.Is
// rather than type assertions, and wrap with fmt.Errorf("...: %w", err)
// at package boundaries so context survives without losing the sentinel.
package errs

import "errors"

var (
	// ErrNotFound indicates a lookup (cluster, VM, job, owner) found nothing.
	ErrNotFound = errors.New("not found")

	// ErrConfig indicates a cluster or scheduler configuration value is
	// invalid or internally inconsistent (e.g. an empty memory-bin list,
	// a duplicate cluster name, a reconfigure that would orphan live VMs
	// without a documented resolution).
	ErrConfig = errors.New("invalid configuration")

	// ErrDriverFatal indicates a ClusterDriver call failed in a way that
	// will not resolve on retry (auth rejected, image not found, cluster
	// permanently unreachable). Callers should stop attempting fulfillment
	// against that cluster/VM rather than retry.
	ErrDriverFatal = errors.New("cluster driver fatal error")

	// ErrDriverTransient indicates a ClusterDriver call failed in a way
	// that may succeed on retry (timeout, rate limit, momentary network
	// partition).
	ErrDriverTransient = errors.New("cluster driver transient error")

	// ErrNoFit indicates a selection strategy could find no cluster
	// satisfying a job's resource requirements.
	ErrNoFit = errors.New("no cluster fits requirements")

	// ErrUnknownStrategy indicates a Selector was asked for a selection
	// strategy name not present in the registry.
	ErrUnknownStrategy = errors.New("unknown selection strategy")

	// ErrAlreadyExists indicates a create-style operation collided with
	// an existing entry keyed by the same identity (cluster name, job id).
	ErrAlreadyExists = errors.New("already exists")

	// ErrDraining indicates an operation was rejected because the target
	// cluster is mid-drain and must first reach zero live VMs.
	ErrDraining = errors.New("cluster is draining")
)
