package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/evanmccall/absync/internal/shared"
)

// interval picks the next sweep delay: the in-play cadence while playback is
// live (wider on metered connections), the idle cadence otherwise.
func (r *Reconciler) interval() time.Duration {
	if !r.playing.Load() {
		return r.sweepInterval
	}
	if r.network.Metered() {
		return r.playingMetered
	}
	return r.playingUnmetered
}

// Run drives the periodic sweep until the context ends. Each pass closes
// stale sessions, pushes the unsynced pool, and prunes old synced rows.
func (r *Reconciler) Run(ctx context.Context) error {
	timer := time.NewTimer(r.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		r.Sweep(ctx)
		timer.Reset(r.interval())
	}
}

// Sweep runs one maintenance pass. Errors are logged, never returned: a
// failed pass changes nothing the next pass cannot retry.
func (r *Reconciler) Sweep(ctx context.Context) {
	if closed, err := r.CloseStaleSessions(); err != nil {
		r.logger.Warn("stale session pass failed", "error", err)
	} else if closed > 0 {
		r.logger.Info("closed stale sessions", "count", closed)
	}

	pushed, err := r.SyncUnsynced(ctx)
	switch {
	case errors.Is(err, shared.ErrOffline):
		r.logger.Debug("sweep skipped push, offline")
	case err != nil:
		r.logger.Warn("sweep push failed", "error", err)
	case pushed > 0:
		r.logger.Info("pushed sessions", "count", pushed)
	}

	if pruned, err := r.Prune(); err != nil {
		r.logger.Warn("session prune failed", "error", err)
	} else if pruned > 0 {
		r.logger.Debug("pruned synced sessions", "count", pruned)
	}
}
