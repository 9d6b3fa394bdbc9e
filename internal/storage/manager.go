package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/repositories"
	"github.com/evanmccall/absync/internal/shared"
)

// DefaultInactivity is how long an item's most recent access may age before
// the sweep demotes it to the cold tier.
const DefaultInactivity = 14 * 24 * time.Hour

// Manager owns tier placement for downloaded files. It never runs filesystem
// watchers: tier policy is evaluated lazily, on sweeps and at play time.
type Manager struct {
	downloads  *repositories.DownloadRepository
	progress   *repositories.ProgressRepository
	roots      Roots
	marker     BackupMarker
	clock      shared.Clock
	logger     *log.Logger
	inactivity time.Duration
}

// ManagerOpts configures a storage Manager. Downloads and Roots are required.
type ManagerOpts struct {
	Downloads  *repositories.DownloadRepository
	Progress   *repositories.ProgressRepository
	Roots      Roots
	Marker     BackupMarker
	Clock      shared.Clock
	Logger     *log.Logger
	Inactivity time.Duration
}

func NewManager(opts ManagerOpts) *Manager {
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Marker == nil {
		opts.Marker = SidecarMarker{}
	}
	if opts.Inactivity <= 0 {
		opts.Inactivity = DefaultInactivity
	}
	return &Manager{
		downloads:  opts.Downloads,
		progress:   opts.Progress,
		roots:      opts.Roots,
		marker:     opts.Marker,
		clock:      opts.Clock,
		logger:     opts.Logger.With("component", "storage"),
		inactivity: opts.Inactivity,
	}
}

// Roots returns the tier roots the manager resolves paths against.
func (m *Manager) Roots() Roots { return m.roots }

// ExcludeFromBackup flags a hot-tier file for backup exclusion. Best effort:
// failures are logged and swallowed.
func (m *Manager) ExcludeFromBackup(absPath string) {
	if err := m.marker.Exclude(absPath); err != nil {
		m.logger.Warn("backup exclusion failed", "path", absPath, "error", err)
	}
}

// EnsureItemInDocuments moves every cold-tier file of an item back to the hot
// tier before playback. Files are moved one at a time; a failed file keeps its
// record untouched and is reported, but does not stop the remaining files.
// Callers treat the returned error as advisory: playback can still proceed
// from whichever tier the files ended up in.
func (m *Manager) EnsureItemInDocuments(libraryItemID string) error {
	recs, err := m.downloads.ListByItem(libraryItemID)
	if err != nil {
		return err
	}

	var failed []error
	for _, rec := range recs {
		if !rec.IsDownloaded || rec.StorageLocation != models.StorageCold {
			continue
		}
		if err := m.moveFile(rec, models.StorageHot); err != nil {
			m.logger.Warn("promote to hot failed", "file", rec.FileID, "error", err)
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// MoveItemToCache demotes an item's hot-tier files to the cold tier.
func (m *Manager) MoveItemToCache(libraryItemID string) error {
	recs, err := m.downloads.ListByItem(libraryItemID)
	if err != nil {
		return err
	}

	var failed []error
	for _, rec := range recs {
		if !rec.IsDownloaded || rec.StorageLocation != models.StorageHot {
			continue
		}
		if err := m.moveFile(rec, models.StorageCold); err != nil {
			m.logger.Warn("demote to cold failed", "file", rec.FileID, "error", err)
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

// moveFile relocates one file between tiers, updating its record only after
// the bytes have landed. The on-disk move and the record update are
// all-or-nothing per file: a failed copy leaves the source in place.
func (m *Manager) moveFile(rec *models.DownloadRecord, to models.StorageLocation) error {
	src := m.roots.Abs(rec.StorageLocation, rec.DownloadPath)
	dst := m.roots.Abs(to, rec.DownloadPath)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create tier directory: %w", err)
	}

	if err := os.Rename(src, dst); err != nil {
		// Tier roots can sit on different filesystems; fall back to copying.
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to move %s: %w", rec.DownloadPath, err)
		}
		if err := os.Remove(src); err != nil {
			m.logger.Warn("source cleanup after copy failed", "path", src, "error", err)
		}
	}

	if err := m.downloads.SetStorageLocation(rec.FileID, to); err != nil {
		return err
	}

	if to == models.StorageHot {
		m.ExcludeFromBackup(dst)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// Sweep applies the tier policy to every downloaded item: finished items and
// items whose most recent access is older than the inactivity window move to
// the cold tier. Items that have never been accessed age from their download
// time instead. Returns the IDs of items demoted.
func (m *Manager) Sweep(ctx context.Context, userID string) ([]string, error) {
	itemIDs, err := m.downloads.DownloadedItemIDs()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	var moved []string
	for _, itemID := range itemIDs {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		demote, reason, err := m.shouldDemote(userID, itemID, now)
		if err != nil {
			m.logger.Warn("tier policy check failed", "item", itemID, "error", err)
			continue
		}
		if !demote {
			continue
		}

		m.logger.Info("moving item to cache", "item", itemID, "reason", reason)
		if err := m.MoveItemToCache(itemID); err != nil {
			m.logger.Warn("cache move incomplete", "item", itemID, "error", err)
			continue
		}
		moved = append(moved, itemID)
	}
	return moved, nil
}

func (m *Manager) shouldDemote(userID, itemID string, now time.Time) (bool, string, error) {
	recs, err := m.downloads.ListByItem(itemID)
	if err != nil {
		return false, "", err
	}

	anyHot := false
	var newest *time.Time
	for _, rec := range recs {
		if !rec.IsDownloaded {
			continue
		}
		if rec.StorageLocation == models.StorageHot {
			anyHot = true
		}
		at := rec.LastAccessedAt
		if at == nil {
			at = rec.DownloadedAt
		}
		if at != nil && (newest == nil || at.After(*newest)) {
			newest = at
		}
	}
	if !anyHot {
		return false, "", nil
	}

	if m.progress != nil && userID != "" {
		prog, err := m.progress.Get(userID, itemID)
		if err != nil {
			return false, "", err
		}
		if prog != nil && prog.IsFinished {
			return true, "finished", nil
		}
	}

	if newest != nil && now.Sub(*newest) > m.inactivity {
		return true, "inactive", nil
	}
	return false, "", nil
}

// EvictedFile reports one downloaded file whose bytes the OS reclaimed.
type EvictedFile struct {
	FileID        string
	LibraryItemID string
	Title         string
}

// DetectCleanedUpFiles verifies every downloaded row against the filesystem
// and clears the downloaded flag for files the OS evicted, returning what was
// cleared so callers can surface a re-download prompt. The record itself
// survives for tier bookkeeping.
func (m *Manager) DetectCleanedUpFiles() ([]EvictedFile, error) {
	recs, err := m.downloads.ListDownloaded()
	if err != nil {
		return nil, err
	}

	var evicted []EvictedFile
	for _, rec := range recs {
		if m.roots.Exists(rec.StorageLocation, rec.DownloadPath) {
			continue
		}
		m.logger.Info("downloaded file missing on disk",
			"file", rec.FileID, "item", rec.LibraryItemID, "tier", rec.StorageLocation)
		if err := m.downloads.ClearDownloaded(rec.FileID); err != nil {
			return evicted, err
		}
		evicted = append(evicted, EvictedFile{
			FileID:        rec.FileID,
			LibraryItemID: rec.LibraryItemID,
			Title:         rec.Title,
		})
	}
	return evicted, nil
}

// TouchItem refreshes the access time on all of an item's downloaded files.
// Callers gate this on sustained playback, never on opening an item.
func (m *Manager) TouchItem(libraryItemID string, at time.Time) error {
	recs, err := m.downloads.ListByItem(libraryItemID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !rec.IsDownloaded {
			continue
		}
		if err := m.downloads.Touch(rec.FileID, at); err != nil {
			return err
		}
	}
	return nil
}

// DeleteItemFiles removes an item's files from disk in both tiers and drops
// the records. Missing files are not an error.
func (m *Manager) DeleteItemFiles(libraryItemID string) error {
	recs, err := m.downloads.ListByItem(libraryItemID)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		path := m.roots.Abs(rec.StorageLocation, rec.DownloadPath)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	// Item files share a directory named after the item; clear out empty
	// directories in both tiers.
	for _, root := range []string{m.roots.Hot, m.roots.Cold} {
		dir := filepath.Join(root, libraryItemID)
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			m.logger.Debug("item directory not removed", "dir", dir, "error", err)
		}
	}

	_, err = m.downloads.DeleteByItem(libraryItemID)
	return err
}
