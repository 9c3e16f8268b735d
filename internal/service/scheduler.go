package service

import (
	"context"
	"errors"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/domain"
)

// Run bootstraps and then reconciles every interval until ctx is cancelled.
// Cancellation is observed while sleeping and between retries; a cycle that
// has started issuing calls runs to completion first. Run returns nil on a
// clean shutdown.
func (r *Reconciler) Run(ctx context.Context) error {
	defer r.log.Infof("Shutdown. Bye!")

	if err := r.Bootstrap(ctx); err != nil {
		r.setPhase(domain.PhaseShuttingDown)
		return ignoreCancel(err)
	}
	if r.opts.OnReady != nil {
		r.opts.OnReady()
	}

	timer := time.NewTimer(r.opts.Interval)
	defer timer.Stop()

	for {
		r.log.Infof("Sleeping for %v...", r.opts.Interval)
		select {
		case <-ctx.Done():
			r.setPhase(domain.PhaseShuttingDown)
			return nil
		case <-timer.C:
		case <-r.trigger:
			r.log.Infof("Immediate cycle requested")
		}
		if ctx.Err() != nil {
			r.setPhase(domain.PhaseShuttingDown)
			return nil
		}

		if _, err := r.RunCycle(ctx); err != nil {
			r.setPhase(domain.PhaseShuttingDown)
			return ignoreCancel(err)
		}
		timer.Reset(r.opts.Interval)
	}
}

// Trigger asks the running loop to start a cycle now instead of waiting for
// the timer. It reports false when a request is already pending.
func (r *Reconciler) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
