// Package retry implements the destroy_vm retry policy: a cluster
// driver's DestroyVM is retried with bounded exponential backoff on
// transient (timeout-class) failures, until it succeeds or three
// consecutive transient failures declare the VM dead. A declared-dead
// VM is treated as destroyed regardless of the driver's actual state,
// trading a possible leaked cloud resource for local progress. A fatal
// driver error retires the VM immediately without retrying.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/igable/cloud-scheduler/pkg/errs"
	"github.com/rs/zerolog"
)

// MaxConsecutiveTimeouts is the number of consecutive transient
// DestroyVM failures after which the VM is declared dead and dropped
// from tracking without further retries.
const MaxConsecutiveTimeouts = 3

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = backoff.DefaultInitialInterval
	b.MaxInterval = backoff.DefaultMaxInterval
	b.MaxElapsedTime = 0 // bounded by MaxConsecutiveTimeouts, not elapsed time
	return b
}

// Destroy calls destroyFn, retrying with bounded exponential backoff
// while it returns an error wrapping errs.ErrDriverTransient. destroyFn
// is typically a ClusterDriver.DestroyVM call bound to one VM via a
// closure, so this package stays free of any dependency on the pool or
// driver packages.
//
// Destroy returns nil once destroyFn succeeds or once
// MaxConsecutiveTimeouts consecutive transient failures have occurred
// (the VM is declared dead at that point). It returns the wrapped error
// immediately, without retrying, if destroyFn returns an error that
// does not wrap errs.ErrDriverTransient (including errs.ErrDriverFatal).
func Destroy(ctx context.Context, vmID string, logger zerolog.Logger, destroyFn func(context.Context) error) error {
	b := backoff.WithContext(newBackOff(), ctx)

	consecutiveTimeouts := 0
	for {
		err := destroyFn(ctx)
		if err == nil {
			return nil
		}

		if !errors.Is(err, errs.ErrDriverTransient) {
			logger.Error().Err(err).Str("vm_id", vmID).Msg("destroy_vm failed fatally; not retrying")
			return err
		}

		consecutiveTimeouts++
		if consecutiveTimeouts >= MaxConsecutiveTimeouts {
			logger.Warn().Str("vm_id", vmID).Int("consecutive_timeouts", consecutiveTimeouts).
				Msg("destroy_vm declared dead after repeated timeouts; dropping from tracking regardless of driver state")
			return nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			logger.Warn().Str("vm_id", vmID).Msg("destroy_vm retry context done; dropping from tracking")
			return nil
		}

		logger.Debug().Err(err).Str("vm_id", vmID).Int("attempt", consecutiveTimeouts).
			Dur("backoff", wait).Msg("destroy_vm timed out; retrying")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Warn().Str("vm_id", vmID).Msg("destroy_vm retry context canceled; dropping from tracking")
			return nil
		case <-t.C:
		}
	}
}
