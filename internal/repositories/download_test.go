package repositories

import (
	"errors"
	"testing"
	"time"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/shared"
)

func newDownloadRepo(t *testing.T) (*DownloadRepository, *shared.FixedClock) {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	shared.ConfigureDatabase(db, 1, 1)
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	clock := &shared.FixedClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewDownloadRepository(db, clock), clock
}

func markFile(t *testing.T, repo *DownloadRepository, fileID, itemID string, size int64) {
	t.Helper()
	err := repo.MarkDownloaded(&models.DownloadRecord{
		FileID:        fileID,
		LibraryItemID: itemID,
		Title:         "file " + fileID,
		DownloadPath:  itemID + "/" + fileID + ".mp3",
		Size:          size,
	})
	if err != nil {
		t.Fatalf("failed to mark downloaded: %v", err)
	}
}

func TestMarkDownloaded(t *testing.T) {
	t.Run("new files land hot", func(t *testing.T) {
		repo, clock := newDownloadRepo(t)
		markFile(t, repo, "f1", "item-1", 1000)

		rec, err := repo.Get("f1")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if rec.StorageLocation != models.StorageHot {
			t.Errorf("StorageLocation = %v, want hot", rec.StorageLocation)
		}
		if !rec.IsDownloaded {
			t.Error("IsDownloaded should be true")
		}
		if rec.DownloadedAt == nil || !rec.DownloadedAt.Equal(clock.Current) {
			t.Errorf("DownloadedAt = %v, want %v", rec.DownloadedAt, clock.Current)
		}
	})

	t.Run("re-download clears cold bookkeeping", func(t *testing.T) {
		repo, _ := newDownloadRepo(t)
		markFile(t, repo, "f1", "item-1", 1000)
		if err := repo.SetStorageLocation("f1", models.StorageCold); err != nil {
			t.Fatalf("failed to move: %v", err)
		}

		markFile(t, repo, "f1", "item-1", 2000)
		rec, _ := repo.Get("f1")
		if rec.StorageLocation != models.StorageHot {
			t.Errorf("StorageLocation = %v, want hot after re-download", rec.StorageLocation)
		}
		if rec.MovedToCacheAt != nil {
			t.Error("MovedToCacheAt should be cleared on re-download")
		}
		if rec.Size != 2000 {
			t.Errorf("Size = %d, want 2000", rec.Size)
		}
	})

	t.Run("unknown file returns not found", func(t *testing.T) {
		repo, _ := newDownloadRepo(t)
		_, err := repo.Get("nope")
		if !errors.Is(err, shared.ErrDownloadNotFound) {
			t.Errorf("expected ErrDownloadNotFound, got %v", err)
		}
	})
}

func TestStorageLocation(t *testing.T) {
	repo, clock := newDownloadRepo(t)
	markFile(t, repo, "f1", "item-1", 1000)

	if err := repo.SetStorageLocation("f1", models.StorageCold); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	rec, _ := repo.Get("f1")
	if rec.MovedToCacheAt == nil || !rec.MovedToCacheAt.Equal(clock.Current) {
		t.Errorf("MovedToCacheAt = %v, want %v", rec.MovedToCacheAt, clock.Current)
	}

	if err := repo.SetStorageLocation("f1", models.StorageHot); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	rec, _ = repo.Get("f1")
	if rec.MovedToCacheAt != nil {
		t.Error("MovedToCacheAt should be cleared on promotion")
	}
}

func TestClearDownloaded(t *testing.T) {
	repo, _ := newDownloadRepo(t)
	markFile(t, repo, "f1", "item-1", 1000)

	if err := repo.ClearDownloaded("f1"); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}

	// the row survives for tier bookkeeping
	rec, err := repo.Get("f1")
	if err != nil {
		t.Fatalf("row should survive eviction: %v", err)
	}
	if rec.IsDownloaded {
		t.Error("IsDownloaded should be false after eviction")
	}

	downloaded, _ := repo.ListDownloaded()
	if len(downloaded) != 0 {
		t.Errorf("ListDownloaded = %d rows, want 0", len(downloaded))
	}
}

func TestLastAccessForItem(t *testing.T) {
	repo, clock := newDownloadRepo(t)
	markFile(t, repo, "f1", "item-1", 1000)
	markFile(t, repo, "f2", "item-1", 1000)

	last, err := repo.LastAccessForItem("item-1")
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if last != nil {
		t.Errorf("last access = %v, want nil before any touch", last)
	}

	first := clock.Current
	if err := repo.Touch("f1", first); err != nil {
		t.Fatalf("failed to touch: %v", err)
	}
	later := first.Add(time.Hour)
	if err := repo.Touch("f2", later); err != nil {
		t.Fatalf("failed to touch: %v", err)
	}

	last, err = repo.LastAccessForItem("item-1")
	if err != nil {
		t.Fatalf("failed to query: %v", err)
	}
	if last == nil || !last.Equal(later) {
		t.Errorf("last access = %v, want %v", last, later)
	}
}

func TestDownloadedItemIDs(t *testing.T) {
	repo, _ := newDownloadRepo(t)
	markFile(t, repo, "f1", "item-1", 1)
	markFile(t, repo, "f2", "item-1", 1)
	markFile(t, repo, "f3", "item-2", 1)
	if err := repo.ClearDownloaded("f3"); err != nil {
		t.Fatalf("failed to clear: %v", err)
	}

	ids, err := repo.DownloadedItemIDs()
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(ids) != 1 || ids[0] != "item-1" {
		t.Errorf("ids = %v, want [item-1]", ids)
	}
}

func TestDeleteByItem(t *testing.T) {
	repo, _ := newDownloadRepo(t)
	markFile(t, repo, "f1", "item-1", 1)
	markFile(t, repo, "f2", "item-1", 1)
	markFile(t, repo, "f3", "item-2", 1)

	n, err := repo.DeleteByItem("item-1")
	if err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d rows, want 2", n)
	}
	if _, err := repo.Get("f3"); err != nil {
		t.Errorf("other item's file should survive: %v", err)
	}
}
