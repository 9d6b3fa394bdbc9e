package main

import (
	"context"
	"fmt"

	"github.com/evanmccall/absync/internal/downloads"
	"github.com/evanmccall/absync/internal/ui"
	"github.com/urfave/cli/v3"
)

// DownloadStart downloads an item's files into the hot tier.
func (r *Runner) DownloadStart(ctx context.Context, cmd *cli.Command) error {
	itemID := cmd.String("id")

	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	item, err := c.service.FetchItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("failed to fetch item manifest: %w", err)
	}

	r.logger.Info("starting download",
		"item", item.ID, "title", item.Title, "files", len(item.Files), "bytes", item.TotalSize())

	err = c.manager.StartDownload(ctx, item, r.config.Server.BaseURL, r.config.Server.Token, nil,
		downloads.StartOptions{ForceRedownload: cmd.Bool("force")})
	if err != nil {
		return err
	}

	if cmd.Bool("watch") {
		return ui.WatchDownloads(c.manager)
	}
	return r.waitForItem(ctx, c, item.ID)
}

// DownloadRestore reattaches to journaled downloads from a previous run.
func (r *Runner) DownloadRestore(ctx context.Context, cmd *cli.Command) error {
	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	restored, err := c.manager.RestoreExistingDownloads(ctx)
	if err != nil {
		return err
	}
	if len(restored) == 0 {
		r.writePlain("no downloads to restore\n")
		return nil
	}

	r.writePlain("restored %d download(s)\n", len(restored))
	return ui.WatchDownloads(c.manager)
}

// DownloadDelete removes an item's files and records from both tiers.
func (r *Runner) DownloadDelete(ctx context.Context, cmd *cli.Command) error {
	itemID := cmd.String("id")

	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	if err := c.manager.DeleteDownloadedItem(itemID); err != nil {
		return err
	}
	r.writePlain("✓ Deleted downloads for %s\n", itemID)
	return nil
}

// waitForItem blocks until the item's download settles, logging progress.
func (r *Runner) waitForItem(ctx context.Context, c *core, itemID string) error {
	done := make(chan downloads.Progress, 1)
	subID := c.manager.Subscribe(func(p downloads.Progress) {
		if p.LibraryItemID == itemID && p.Status.Terminal() {
			select {
			case done <- p:
			default:
			}
		}
	})
	defer c.manager.Unsubscribe(subID)

	// The terminal event may have fired before the subscription landed.
	if p, ok := c.manager.GetDownloadProgress(itemID); ok && p.Status.Terminal() {
		return reportOutcome(r, p)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p := <-done:
		return reportOutcome(r, p)
	}
}

func reportOutcome(r *Runner, p downloads.Progress) error {
	switch p.Status {
	case downloads.StatusCompleted:
		r.writePlain("✓ Downloaded %s: %d files\n", p.Title, p.DownloadedFiles)
		return nil
	case downloads.StatusCancelled:
		r.writePlain("download cancelled\n")
		return nil
	default:
		return fmt.Errorf("download failed: %s", p.Error)
	}
}
