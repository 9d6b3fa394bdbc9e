package repositories

import (
	"testing"
	"time"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/shared"
)

func newProgressRepo(t *testing.T) *ProgressRepository {
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
	return NewProgressRepository(db)
}

func TestProgressMirror(t *testing.T) {
	repo := newProgressRepo(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("get returns nil when absent", func(t *testing.T) {
		p, err := repo.Get("u1", "item-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p != nil {
			t.Errorf("expected nil, got %+v", p)
		}
	})

	t.Run("upsert replaces by user and item", func(t *testing.T) {
		err := repo.Upsert(&models.MediaProgress{
			ID: "p1", UserID: "u1", LibraryItemID: "item-1",
			Duration: 3600, Progress: 0.25, CurrentPosition: 900, LastUpdate: base,
		})
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		err = repo.Upsert(&models.MediaProgress{
			ID: "p1", UserID: "u1", LibraryItemID: "item-1",
			Duration: 3600, Progress: 0.5, CurrentPosition: 1800, IsFinished: false,
			LastUpdate: base.Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		got, err := repo.Get("u1", "item-1")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got.CurrentPosition != 1800 {
			t.Errorf("CurrentPosition = %v, want 1800", got.CurrentPosition)
		}

		all, err := repo.ListForUser("u1")
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("ListForUser = %d rows, want 1", len(all))
		}
	})

	t.Run("finished flag round-trips", func(t *testing.T) {
		fin := base.Add(2 * time.Hour)
		err := repo.Upsert(&models.MediaProgress{
			ID: "p2", UserID: "u1", LibraryItemID: "item-2",
			Progress: 1.0, IsFinished: true, LastUpdate: fin, FinishedAt: &fin,
		})
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		got, _ := repo.Get("u1", "item-2")
		if !got.IsFinished {
			t.Error("IsFinished should be true")
		}
		if got.FinishedAt == nil || !got.FinishedAt.Equal(fin) {
			t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, fin)
		}
	})
}
