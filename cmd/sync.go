package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/evanmccall/absync/internal/shared"
	"github.com/urfave/cli/v3"
)

// SyncRun performs one maintenance sweep, optionally preceded by a bulk
// snapshot reconciliation.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	if cmd.Bool("reconcile") {
		applied, err := c.rec.Reconcile(ctx)
		if err != nil {
			return fmt.Errorf("reconcile failed: %w", err)
		}
		r.writePlain("✓ Snapshot reconciled, %d progress records updated\n", applied)
	}

	closed, err := c.rec.CloseStaleSessions()
	if err != nil {
		return err
	}

	pushed, err := c.rec.SyncUnsynced(ctx)
	if errors.Is(err, shared.ErrOffline) {
		r.writePlain("offline, %d sessions left in the pool\n", pushed)
		return nil
	}
	if err != nil {
		return err
	}

	pruned, err := c.rec.Prune()
	if err != nil {
		return err
	}

	r.writePlain("✓ Sweep complete: %d stale closed, %d pushed, %d pruned\n", closed, pushed, pruned)
	return nil
}

// SyncWatch runs the periodic sweep loop until the context is cancelled.
func (r *Runner) SyncWatch(ctx context.Context, cmd *cli.Command) error {
	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	r.logger.Info("sweep loop running", "interval", r.config.Sync.SweepInterval)
	if err := c.rec.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// SyncSessions lists the sessions owed to the server.
func (r *Runner) SyncSessions(ctx context.Context, cmd *cli.Command) error {
	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	owed, err := c.sessions.GetUnsyncedSessions()
	if err != nil {
		return err
	}
	if len(owed) == 0 {
		r.writePlain("nothing owed to the server\n")
		return nil
	}

	for _, s := range owed {
		state := "open"
		if !s.IsOpen() {
			state = "closed"
			if s.StaleClose {
				state = "stale-closed"
			}
		}
		path := "streaming"
		if s.IsLocal() {
			path = "local"
		}
		r.writePlain("%s  %-24s  %8.1fs listened  pos %8.1fs  %s/%s (%s)\n",
			s.ID, s.DisplayTitle, s.TimeListening, s.CurrentPosition, state, path, s.SyncState)
		if s.SyncFailureReason != "" {
			r.writePlain("    last failure: %s\n", s.SyncFailureReason)
		}
	}
	return nil
}
