package main

import (
	"context"
	"fmt"
	"time"

	"github.com/evanmccall/absync/internal/playback"
	"github.com/urfave/cli/v3"
)

// playTick is the progress cadence of the simulated player.
const playTick = 5 * time.Second

// Play simulates listening to an item: it opens a session through the
// coordinator, advances a silent transport in real time, and feeds progress
// ticks through the same path a host player would.
func (r *Runner) Play(ctx context.Context, cmd *cli.Command) error {
	itemID := cmd.String("id")
	listenFor := cmd.Duration("for")

	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	item, err := c.service.FetchItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to fetch item manifest: %w", err)
	}

	transport := playback.NewMemoryTransport()
	coordinator := playback.NewCoordinator(playback.CoordinatorOpts{
		Transport:  transport,
		Reconciler: c.rec,
		Downloads:  c.files,
		Progress:   c.progress,
		Storage:    c.storage,
		Service:    c.service,
		Network:    c.network,
		Clock:      r.clock,
		Logger:     r.logger,
		UserID:     r.config.Server.UserID,
	})

	session, err := coordinator.Play(ctx, item)
	if err != nil {
		return err
	}

	startPos, _ := transport.Position()
	r.writePlain("▶ %s at %.1fs (session %s)\n", item.Title, startPos, session.ID)

	// The sweep loop keeps sessions pushed while we listen.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go func() { _ = c.rec.Run(sweepCtx) }()

	deadline := time.Time{}
	if listenFor > 0 {
		deadline = time.Now().Add(listenFor)
	}

	ticker := time.NewTicker(playTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.writePlain("\nstopping\n")
			return coordinator.Stop(context.Background())
		case <-ticker.C:
		}

		pos, err := transport.Position()
		if err != nil {
			return err
		}
		pos += playTick.Seconds()
		if item.Duration > 0 && pos >= item.Duration {
			pos = item.Duration
		}
		if err := transport.Seek(pos); err != nil {
			return err
		}
		if err := coordinator.Tick(); err != nil {
			return err
		}
		r.writePlain("  %.1fs / %.1fs\n", pos, item.Duration)

		finished := item.Duration > 0 && pos >= item.Duration
		if finished || (!deadline.IsZero() && time.Now().After(deadline)) {
			if err := coordinator.Stop(ctx); err != nil {
				return err
			}
			r.writePlain("✓ Stopped at %.1fs\n", pos)
			return nil
		}
	}
}
