package main

import (
	"context"

	"github.com/evanmccall/absync/internal/models"
	"github.com/urfave/cli/v3"
)

// Status summarizes sessions, sync debt, downloads, and tier placement.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	c, err := r.openCore()
	if err != nil {
		return err
	}
	defer c.close()

	open, err := c.sessions.GetAllActiveSessionsForUser(r.config.Server.UserID)
	if err != nil {
		return err
	}
	r.writePlain("Open sessions: %d\n", len(open))
	for _, s := range open {
		r.writePlain("  %s  %s  pos %.1fs  %.1fs listened\n",
			s.ID, s.DisplayTitle, s.CurrentPosition, s.TimeListening)
	}

	owed, err := c.sessions.GetUnsyncedSessions()
	if err != nil {
		return err
	}
	r.writePlain("Sessions owed to server: %d\n", len(owed))

	recs, err := c.files.ListDownloaded()
	if err != nil {
		return err
	}

	type itemSummary struct {
		title string
		hot   int
		cold  int
		bytes int64
	}
	items := make(map[string]*itemSummary)
	var order []string
	for _, rec := range recs {
		sum, ok := items[rec.LibraryItemID]
		if !ok {
			sum = &itemSummary{title: rec.Title}
			items[rec.LibraryItemID] = sum
			order = append(order, rec.LibraryItemID)
		}
		if rec.StorageLocation == models.StorageCold {
			sum.cold++
		} else {
			sum.hot++
		}
		sum.bytes += rec.Size
	}

	r.writePlain("Downloaded items: %d\n", len(items))
	for _, id := range order {
		sum := items[id]
		r.writePlain("  %s  %d hot / %d cold files, %d bytes\n", id, sum.hot, sum.cold, sum.bytes)
	}

	tasks := c.scheduler.Tasks()
	if len(tasks) > 0 {
		r.writePlain("Journaled transfer tasks: %d\n", len(tasks))
		for _, t := range tasks {
			r.writePlain("  %s  %s  %d/%d bytes  %s\n", t.ID, t.FileID, t.Bytes, t.TotalBytes, t.State)
		}
	}
	return nil
}
