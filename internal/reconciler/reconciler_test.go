package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/repositories"
	"github.com/evanmccall/absync/internal/services"
	"github.com/evanmccall/absync/internal/shared"
	tu "github.com/evanmccall/absync/internal/testing"
)

type recEnv struct {
	rec      *Reconciler
	sessions *repositories.SessionRepository
	progress *repositories.ProgressRepository
	service  *tu.FakeProgressService
	network  *services.StaticNetwork
	clock    *shared.FixedClock
}

func newRecEnv(t *testing.T) *recEnv {
	t.Helper()
	db := tu.NewTestDB(t)
	clock := &shared.FixedClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	sessions := repositories.NewSessionRepository(db, clock)
	progress := repositories.NewProgressRepository(db)
	service := &tu.FakeProgressService{Progress: make(map[string]*models.MediaProgress)}
	network := &services.StaticNetwork{IsOnline: true}

	rec, err := New(Opts{
		Sessions:  sessions,
		Progress:  progress,
		Service:   service,
		Network:   network,
		Clock:     clock,
		UserID:    "u1",
		RateLimit: 1000,
	})
	if err != nil {
		t.Fatalf("failed to create reconciler: %v", err)
	}
	return &recEnv{rec: rec, sessions: sessions, progress: progress, service: service, network: network, clock: clock}
}

func book(id string) *models.LibraryItem {
	return &models.LibraryItem{ID: id, LibraryID: "lib-1", MediaID: "media-" + id, Title: "Book " + id, Duration: 3600}
}

// listen advances the clock and credits the session through a progress tick.
func (env *recEnv) listen(t *testing.T, sessionID string, d time.Duration, position float64) string {
	t.Helper()
	env.clock.Advance(d)
	id, err := env.rec.UpdateProgress(sessionID, position, nil, nil, true)
	if err != nil {
		t.Fatalf("failed to update progress: %v", err)
	}
	return id
}

func TestStartSession(t *testing.T) {
	t.Run("seeds a new session from the fallback position", func(t *testing.T) {
		env := newRecEnv(t)
		s, err := env.rec.StartSession(book("item-1"), 120)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if s.CurrentPosition != 120 || s.StartTime != 120 {
			t.Errorf("position = %v/%v, want 120/120", s.StartTime, s.CurrentPosition)
		}
		if s.PlaybackRate != 1.0 || s.Volume != 1.0 {
			t.Errorf("rate/volume = %v/%v, want 1/1", s.PlaybackRate, s.Volume)
		}
	})

	t.Run("resumes a fresh open session", func(t *testing.T) {
		env := newRecEnv(t)
		first, _ := env.rec.StartSession(book("item-1"), 0)
		env.clock.Advance(5 * time.Minute)

		again, err := env.rec.StartSession(book("item-1"), 999)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("expected the open session to be resumed, got a new one")
		}
	})

	t.Run("resumes from the mirror when another device pushed newer progress", func(t *testing.T) {
		env := newRecEnv(t)
		first, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, first.ID, 6*time.Second, 150)

		env.clock.Advance(2 * time.Minute)
		err := env.progress.Upsert(&models.MediaProgress{
			ID: "p1", UserID: "u1", LibraryItemID: "item-1",
			CurrentPosition: 900, LastUpdate: env.clock.Current,
		})
		if err != nil {
			t.Fatalf("failed to seed mirror: %v", err)
		}

		env.clock.Advance(time.Minute)
		again, err := env.rec.StartSession(book("item-1"), 0)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if again.ID != first.ID {
			t.Fatal("fresh session should be resumed, not rolled over")
		}
		if again.CurrentPosition != 900 {
			t.Errorf("resume position = %v, want 900 (mirror is newer)", again.CurrentPosition)
		}
		got, _ := env.sessions.Get(first.ID)
		if got.CurrentPosition != 900 {
			t.Errorf("persisted position = %v, want 900", got.CurrentPosition)
		}
	})

	t.Run("own position wins when the mirror is older", func(t *testing.T) {
		env := newRecEnv(t)
		err := env.progress.Upsert(&models.MediaProgress{
			ID: "p1", UserID: "u1", LibraryItemID: "item-1",
			CurrentPosition: 900, LastUpdate: env.clock.Current.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to seed mirror: %v", err)
		}
		first, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, first.ID, 6*time.Second, 150)

		again, err := env.rec.StartSession(book("item-1"), 0)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if again.CurrentPosition != 150 {
			t.Errorf("resume position = %v, want 150 (session is newer)", again.CurrentPosition)
		}
	})

	t.Run("stale rollover seeds from the newer mirror", func(t *testing.T) {
		env := newRecEnv(t)
		first, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, first.ID, 6*time.Second, 150)

		env.clock.Advance(10 * time.Minute)
		err := env.progress.Upsert(&models.MediaProgress{
			ID: "p1", UserID: "u1", LibraryItemID: "item-1",
			CurrentPosition: 900, LastUpdate: env.clock.Current,
		})
		if err != nil {
			t.Fatalf("failed to seed mirror: %v", err)
		}

		env.clock.Advance(10 * time.Minute)
		next, err := env.rec.StartSession(book("item-1"), 0)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if next.ID == first.ID {
			t.Fatal("stale session should roll over to a new one")
		}
		if next.CurrentPosition != 900 {
			t.Errorf("rollover position = %v, want 900 (mirror is newer)", next.CurrentPosition)
		}
	})

	t.Run("stale session closes at its own position and time", func(t *testing.T) {
		env := newRecEnv(t)
		first, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, first.ID, 6*time.Second, 300)
		lastUpdate := env.clock.Current

		env.clock.Advance(20 * time.Minute)
		next, err := env.rec.StartSession(book("item-1"), 0)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if next.ID == first.ID {
			t.Fatal("stale session should roll over to a new one")
		}
		if next.CurrentPosition != 300 {
			t.Errorf("new session position = %v, want 300 (carried over)", next.CurrentPosition)
		}

		old, _ := env.sessions.Get(first.ID)
		if old.IsOpen() || !old.StaleClose {
			t.Errorf("old session should be stale-closed: %+v", old)
		}
		if !old.SessionEnd.Equal(lastUpdate) {
			t.Errorf("SessionEnd = %v, want the session's own last update %v", old.SessionEnd, lastUpdate)
		}
	})

	t.Run("closes sessions on other items", func(t *testing.T) {
		env := newRecEnv(t)
		other, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, other.ID, 6*time.Second, 50)

		if _, err := env.rec.StartSession(book("item-2"), 0); err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		got, _ := env.sessions.Get(other.ID)
		if got.IsOpen() {
			t.Error("other item's session should be closed")
		}
		if got.CurrentPosition != 50 {
			t.Errorf("closed session position = %v, want 50", got.CurrentPosition)
		}
	})

	t.Run("discards other-item sessions below minimum listening", func(t *testing.T) {
		env := newRecEnv(t)
		short, _ := env.rec.StartSession(book("item-1"), 0)

		if _, err := env.rec.StartSession(book("item-2"), 0); err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if _, err := env.sessions.Get(short.ID); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("sub-minimum session should be deleted, got %v", err)
		}
	})
}

func TestUpdateProgressCredit(t *testing.T) {
	t.Run("caps one tick's credit", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)

		env.listen(t, s.ID, 30*time.Second, 30)
		got, _ := env.sessions.Get(s.ID)
		if got.TimeListening != 10 {
			t.Errorf("TimeListening = %v, want 10 (capped)", got.TimeListening)
		}
	})

	t.Run("accumulates normal ticks", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)

		for i := 0; i < 4; i++ {
			env.listen(t, s.ID, 5*time.Second, float64(i*5))
		}
		got, _ := env.sessions.Get(s.ID)
		if got.TimeListening != 20 {
			t.Errorf("TimeListening = %v, want 20", got.TimeListening)
		}
	})

	t.Run("sub-second ticks move the position without credit", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)

		env.listen(t, s.ID, 500*time.Millisecond, 42)
		got, _ := env.sessions.Get(s.ID)
		if got.TimeListening != 0 {
			t.Errorf("TimeListening = %v, want 0", got.TimeListening)
		}
		if got.CurrentPosition != 42 {
			t.Errorf("CurrentPosition = %v, want 42", got.CurrentPosition)
		}
	})

	t.Run("paused updates move the position without credit", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 6)

		// A scrubber drag while paused: plenty of wall time, no listening.
		env.clock.Advance(10 * time.Second)
		if _, err := env.rec.UpdateProgress(s.ID, 300, nil, nil, false); err != nil {
			t.Fatalf("failed to update: %v", err)
		}
		got, _ := env.sessions.Get(s.ID)
		if got.TimeListening != 6 {
			t.Errorf("TimeListening = %v, want 6 (paused time is not credit)", got.TimeListening)
		}
		if got.CurrentPosition != 300 {
			t.Errorf("CurrentPosition = %v, want 300", got.CurrentPosition)
		}
	})

	t.Run("stale session rolls over and keeps reporting", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 100)

		env.clock.Advance(20 * time.Minute)
		newID, err := env.rec.UpdateProgress(s.ID, 500, nil, nil, true)
		if err != nil {
			t.Fatalf("failed to update: %v", err)
		}
		if newID == s.ID {
			t.Fatal("stale session should roll over")
		}

		old, _ := env.sessions.Get(s.ID)
		if old.IsOpen() || !old.StaleClose {
			t.Errorf("old session should be stale-closed: %+v", old)
		}
		fresh, _ := env.sessions.Get(newID)
		if fresh.CurrentPosition != 500 {
			t.Errorf("fresh position = %v, want 500", fresh.CurrentPosition)
		}
		if fresh.TimeListening != 0 {
			t.Errorf("fresh TimeListening = %v, want 0 (gap is not credit)", fresh.TimeListening)
		}
	})

	t.Run("closed sessions error", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		if err := env.sessions.EndSession(s.ID, env.clock.Current); err != nil {
			t.Fatalf("failed to end: %v", err)
		}

		_, err := env.rec.UpdateProgress(s.ID, 10, nil, nil, true)
		if !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestCloseSession(t *testing.T) {
	t.Run("discards sessions below the minimum", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)

		if err := env.rec.CloseSession(context.Background(), s.ID); err != nil {
			t.Fatalf("failed to close: %v", err)
		}
		if _, err := env.sessions.Get(s.ID); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("short session should be deleted, got %v", err)
		}
		if env.service.UpsertCount() != 0 {
			t.Error("short sessions should never be pushed")
		}
	})

	t.Run("closes and pushes the cumulative total", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)

		if err := env.rec.CloseSession(context.Background(), s.ID); err != nil {
			t.Fatalf("failed to close: %v", err)
		}

		got, _ := env.sessions.Get(s.ID)
		if got.IsOpen() {
			t.Error("session should be closed")
		}
		if got.SyncState != models.SyncStateSynced {
			t.Errorf("SyncState = %v, want synced", got.SyncState)
		}
		if env.service.UpsertCount() != 1 {
			t.Fatalf("upserts = %d, want 1", env.service.UpsertCount())
		}
		if env.service.Upserts[0].TimeListening != 6 {
			t.Errorf("pushed TimeListening = %v, want 6", env.service.Upserts[0].TimeListening)
		}
	})

	t.Run("close succeeds offline, push deferred", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)
		env.network.IsOnline = false

		if err := env.rec.CloseSession(context.Background(), s.ID); err != nil {
			t.Fatalf("close should not fail offline: %v", err)
		}
		got, _ := env.sessions.Get(s.ID)
		if got.IsOpen() {
			t.Error("session should be closed")
		}
		if got.SyncState == models.SyncStateSynced {
			t.Error("push should be owed, not synced")
		}
	})
}

func TestSyncUnsynced(t *testing.T) {
	t.Run("local sessions push totals and never reset", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)

		pushed, err := env.rec.SyncUnsynced(context.Background())
		if err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if pushed != 1 {
			t.Errorf("pushed = %d, want 1", pushed)
		}
		got, _ := env.sessions.Get(s.ID)
		if got.TimeListening != 6 {
			t.Errorf("TimeListening = %v, want 6 (local totals are cumulative)", got.TimeListening)
		}
		if got.SyncState != models.SyncStateSynced {
			t.Errorf("SyncState = %v, want synced", got.SyncState)
		}
		// The server adopted the client's ID, so the session stays local.
		if !got.IsLocal() {
			t.Error("session should remain on the local path")
		}
		if env.service.UpsertCount() != 1 {
			t.Fatalf("upserts = %d, want 1", env.service.UpsertCount())
		}
		if env.service.Upserts[0].LibraryID != "lib-1" {
			t.Errorf("pushed LibraryID = %q, want lib-1", env.service.Upserts[0].LibraryID)
		}
	})

	t.Run("streaming sessions push increments and reset", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)
		if err := env.rec.AdoptServerSession(s.ID, "srv-9"); err != nil {
			t.Fatalf("failed to adopt: %v", err)
		}

		if _, err := env.rec.SyncUnsynced(context.Background()); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if len(env.service.Syncs) != 1 || env.service.Syncs[0] != "srv-9" {
			t.Errorf("syncs = %v, want [srv-9]", env.service.Syncs)
		}
		got, _ := env.sessions.Get(s.ID)
		if got.TimeListening != 0 {
			t.Errorf("TimeListening = %v, want 0 after a streaming push", got.TimeListening)
		}
		if got.SyncState != models.SyncStateSynced {
			t.Errorf("SyncState = %v, want synced", got.SyncState)
		}
	})

	t.Run("streaming 404 falls back to the local path once", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)
		if err := env.rec.AdoptServerSession(s.ID, "srv-gone"); err != nil {
			t.Fatalf("failed to adopt: %v", err)
		}
		env.service.SyncErr = shared.ErrServerSessionGone

		if _, err := env.rec.SyncUnsynced(context.Background()); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		if env.service.UpsertCount() != 1 {
			t.Fatalf("upserts = %d, want 1 (retry through the upsert)", env.service.UpsertCount())
		}
		got, _ := env.sessions.Get(s.ID)
		if got.SyncState != models.SyncStateSynced {
			t.Errorf("SyncState = %v, want synced", got.SyncState)
		}
		if !got.IsLocal() {
			t.Error("healed session should be back on the local path")
		}
	})

	t.Run("upsert 404 abandons the session instead of poisoning the pool", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)
		env.service.UpsertErr = shared.ErrServerSessionGone

		if _, err := env.rec.SyncUnsynced(context.Background()); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		got, _ := env.sessions.Get(s.ID)
		if got.SyncState != models.SyncStateSynced {
			t.Errorf("SyncState = %v, want synced (abandoned)", got.SyncState)
		}

		owed, _ := env.sessions.GetUnsyncedSessions()
		if len(owed) != 0 {
			t.Errorf("owed = %d sessions, want 0", len(owed))
		}
	})

	t.Run("offline returns immediately", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)
		env.network.IsOnline = false

		_, err := env.rec.SyncUnsynced(context.Background())
		if !errors.Is(err, shared.ErrOffline) {
			t.Errorf("expected ErrOffline, got %v", err)
		}
	})

	t.Run("a failed push is recorded and the walk continues", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)
		env.service.UpsertErr = errors.New("boom")

		pushed, err := env.rec.SyncUnsynced(context.Background())
		if err != nil {
			t.Fatalf("sweep should swallow per-session failures: %v", err)
		}
		if pushed != 0 {
			t.Errorf("pushed = %d, want 0", pushed)
		}
		got, _ := env.sessions.Get(s.ID)
		if got.SyncState != models.SyncStateFailed || got.SyncFailureReason != "boom" {
			t.Errorf("failure not recorded: %+v", got)
		}
	})

	t.Run("successful pushes refresh the progress mirror", func(t *testing.T) {
		env := newRecEnv(t)
		s, _ := env.rec.StartSession(book("item-1"), 0)
		env.listen(t, s.ID, 6*time.Second, 60)
		env.service.Progress["item-1"] = &models.MediaProgress{
			ID: "p1", LibraryItemID: "item-1", CurrentPosition: 61, LastUpdate: env.clock.Current,
		}

		if _, err := env.rec.SyncUnsynced(context.Background()); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		mirror, err := env.progress.Get("u1", "item-1")
		if err != nil {
			t.Fatalf("failed to read mirror: %v", err)
		}
		if mirror == nil || mirror.CurrentPosition != 61 {
			t.Errorf("mirror = %+v, want position 61", mirror)
		}
	})
}

func TestCloseStaleSessions(t *testing.T) {
	env := newRecEnv(t)

	mk := func(item string, listening float64) *models.ListeningSession {
		s := &models.ListeningSession{UserID: "u1", LibraryItemID: item, Duration: 3600}
		if _, err := env.sessions.StartSession(s); err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		if listening > 0 {
			err := env.sessions.UpdateProgress(s.ID, repositories.ProgressMutation{Position: 10, ListeningDelta: listening})
			if err != nil {
				t.Fatalf("failed to update: %v", err)
			}
		}
		return s
	}

	withCredit := mk("item-1", 30)
	noCredit := mk("item-2", 0)
	env.clock.Advance(20 * time.Minute)
	fresh := mk("item-3", 30)

	closed, err := env.rec.CloseStaleSessions()
	if err != nil {
		t.Fatalf("failed to close stale sessions: %v", err)
	}
	if closed != 1 {
		t.Errorf("closed = %d, want 1", closed)
	}

	got, _ := env.sessions.Get(withCredit.ID)
	if got.IsOpen() || !got.StaleClose {
		t.Errorf("stale session should be stale-closed: %+v", got)
	}
	if _, err := env.sessions.Get(noCredit.ID); !errors.Is(err, shared.ErrSessionNotFound) {
		t.Errorf("sub-minimum stale session should be deleted, got %v", err)
	}
	got, _ = env.sessions.Get(fresh.ID)
	if !got.IsOpen() {
		t.Error("fresh session should stay open")
	}
}

func TestReconcile(t *testing.T) {
	env := newRecEnv(t)
	base := env.clock.Current

	// A session abandoned mid-listen; reconciliation must catch it.
	stale, _ := env.rec.StartSession(book("item-3"), 0)
	env.listen(t, stale.ID, 6*time.Second, 77)
	env.clock.Advance(20 * time.Minute)

	// Local mirror is newer for item-1, older for item-2.
	err := env.progress.Upsert(&models.MediaProgress{
		ID: "p1", UserID: "u1", LibraryItemID: "item-1",
		CurrentPosition: 500, LastUpdate: base,
	})
	if err != nil {
		t.Fatalf("failed to seed mirror: %v", err)
	}

	env.service.Snapshot = &services.UserSnapshot{
		ID: "u1",
		MediaProgress: []services.ProgressEntry{
			{ID: "p1", LibraryItemID: "item-1", CurrentTime: 100, LastUpdate: base.Add(-time.Hour).UnixMilli()},
			{ID: "p2", LibraryItemID: "item-2", CurrentTime: 200, LastUpdate: base.Add(time.Hour).UnixMilli()},
		},
	}

	applied, err := env.rec.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (most recent wins)", applied)
	}

	kept, _ := env.progress.Get("u1", "item-1")
	if kept.CurrentPosition != 500 {
		t.Errorf("newer local mirror overwritten: position = %v", kept.CurrentPosition)
	}
	merged, _ := env.progress.Get("u1", "item-2")
	if merged == nil || merged.CurrentPosition != 200 {
		t.Errorf("server entry not merged: %+v", merged)
	}

	got, _ := env.sessions.Get(stale.ID)
	if got.IsOpen() || !got.StaleClose {
		t.Errorf("stale session should be closed by a reconcile pass: %+v", got)
	}
	if got.SyncState != models.SyncStateSynced {
		t.Errorf("closed session should have been swept: SyncState = %v", got.SyncState)
	}
}

func TestPrune(t *testing.T) {
	env := newRecEnv(t)
	s, _ := env.rec.StartSession(book("item-1"), 0)
	env.listen(t, s.ID, 6*time.Second, 60)
	if err := env.rec.CloseSession(context.Background(), s.ID); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	env.clock.Advance(6 * 24 * time.Hour)
	if n, _ := env.rec.Prune(); n != 0 {
		t.Errorf("pruned = %d, want 0 inside the retention window", n)
	}

	env.clock.Advance(2 * 24 * time.Hour)
	n, err := env.rec.Prune()
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
}

func TestSweepInterval(t *testing.T) {
	env := newRecEnv(t)

	if got := env.rec.interval(); got != DefaultSweepInterval {
		t.Errorf("idle interval = %v, want %v", got, DefaultSweepInterval)
	}

	env.rec.SetPlaying(true)
	if got := env.rec.interval(); got != DefaultPlayingUnmetered {
		t.Errorf("playing interval = %v, want %v", got, DefaultPlayingUnmetered)
	}

	env.network.IsMetered = true
	if got := env.rec.interval(); got != DefaultPlayingMetered {
		t.Errorf("metered interval = %v, want %v", got, DefaultPlayingMetered)
	}

	env.rec.SetPlaying(false)
	if got := env.rec.interval(); got != DefaultSweepInterval {
		t.Errorf("idle interval = %v, want %v", got, DefaultSweepInterval)
	}
}
