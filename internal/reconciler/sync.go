package reconciler

import (
	"context"
	"errors"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/services"
	"github.com/evanmccall/absync/internal/shared"
)

// CloseSession ends a session and attempts an immediate push. A failed push
// is logged and deferred to the sweep; the close itself never fails on
// network state. Sessions below the minimum listening time are discarded.
func (r *Reconciler) CloseSession(ctx context.Context, sessionID string) error {
	s, err := r.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	if s.IsOpen() {
		if s.TimeListening < minSessionSeconds {
			return r.sessions.Delete(s.ID)
		}
		if err := r.sessions.EndSession(s.ID, r.clock.Now()); err != nil {
			return err
		}
		s, err = r.sessions.Get(s.ID)
		if err != nil {
			return err
		}
	}

	if err := r.syncOne(ctx, s); err != nil {
		r.logger.Warn("close push deferred to sweep", "session", s.ID, "error", err)
	}
	return nil
}

// SyncSession pushes one session to the server by ID.
func (r *Reconciler) SyncSession(ctx context.Context, sessionID string) error {
	s, err := r.sessions.Get(sessionID)
	if err != nil {
		return err
	}
	return r.syncOne(ctx, s)
}

// SyncUnsynced pushes every session owed to the server, oldest first,
// rate-limited. Going offline mid-sweep stops the walk; everything not yet
// pushed stays in the pool for the next sweep. Returns how many were pushed.
func (r *Reconciler) SyncUnsynced(ctx context.Context) (int, error) {
	if !r.network.Online() {
		return 0, shared.ErrOffline
	}

	owed, err := r.sessions.GetUnsyncedSessions()
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, s := range owed {
		if err := r.limiter.Wait(ctx); err != nil {
			return pushed, err
		}
		if err := r.syncOne(ctx, s); err != nil {
			if errors.Is(err, shared.ErrOffline) {
				return pushed, err
			}
			r.logger.Warn("session push failed", "session", s.ID, "error", err)
			continue
		}
		pushed++
	}
	return pushed, nil
}

// syncOne routes a session through the sync path its server identity selects:
// the idempotent self-identified upsert for local sessions, the
// sync/close endpoints for server-issued streaming sessions.
func (r *Reconciler) syncOne(ctx context.Context, s *models.ListeningSession) error {
	if s.SyncState == models.SyncStateSynced {
		return nil
	}
	if s.UserID == "" || s.LibraryItemID == "" {
		r.logger.Warn("abandoning session with no owner", "session", s.ID)
		return r.sessions.MarkSynced(s.ID)
	}
	// Ended sessions below the minimum have nothing worth delivering; they
	// sit out the network and age into the prune window.
	if !s.IsOpen() && s.TimeListening < minSessionSeconds {
		return r.sessions.MarkSynced(s.ID)
	}
	if !r.network.Online() {
		return shared.ErrOffline
	}
	if s.IsLocal() {
		return r.pushLocal(ctx, s)
	}
	return r.pushStreaming(ctx, s)
}

// pushLocal delivers a session's cumulative totals. The upsert is idempotent
// on the client session ID, so re-pushing after a lost response is safe, and
// the listening counter is never reset: the server always receives the total.
func (r *Reconciler) pushLocal(ctx context.Context, s *models.ListeningSession) error {
	req := &services.SessionUpsert{
		SessionID:     s.ID,
		UserID:        s.UserID,
		LibraryID:     s.LibraryID,
		LibraryItemID: s.LibraryItemID,
		DisplayTitle:  s.DisplayTitle,
		StartTime:     s.StartTime,
		CurrentTime:   s.CurrentPosition,
		TimeListening: s.TimeListening,
		Duration:      s.Duration,
		StartedAt:     s.SessionStart.UnixMilli(),
		UpdatedAt:     s.UpdatedAt.UnixMilli(),
	}

	serverID, err := r.service.UpsertLocalSession(ctx, req)
	if err != nil {
		return r.recordFailure(s, err)
	}

	if serverID != s.ServerSessionID {
		if err := r.sessions.UpdateServerSessionID(s.ID, serverID); err != nil {
			return err
		}
	}
	if err := r.sessions.MarkSynced(s.ID); err != nil {
		return err
	}

	r.refreshMirror(ctx, s.LibraryItemID)
	return nil
}

// pushStreaming delivers a streaming session's increment. A 404 means the
// server dropped the session (restart, cleanup); the server identity is
// cleared and the push retries once through the local upsert path, which
// re-creates the record under the client's own ID.
func (r *Reconciler) pushStreaming(ctx context.Context, s *models.ListeningSession) error {
	req := &services.SessionSync{
		CurrentTime:   s.CurrentPosition,
		TimeListening: s.TimeListening,
		Duration:      s.Duration,
	}

	var err error
	if s.IsOpen() {
		err = r.service.SyncSession(ctx, s.ServerSessionID, req)
	} else {
		err = r.service.CloseSession(ctx, s.ServerSessionID, req)
	}

	if errors.Is(err, shared.ErrServerSessionGone) {
		if uerr := r.sessions.UpdateServerSessionID(s.ID, ""); uerr != nil {
			return uerr
		}
		s.ServerSessionID = ""
		return r.pushLocal(ctx, s)
	}
	if err != nil {
		return r.recordFailure(s, err)
	}

	if err := r.sessions.MarkSynced(s.ID); err != nil {
		return err
	}
	// Streaming pushes are increments; the delivered time must not be
	// counted again on the next push.
	if err := r.sessions.ResetListeningTime(s.ID); err != nil {
		return err
	}

	r.refreshMirror(ctx, s.LibraryItemID)
	return nil
}

// recordFailure translates a push error into session state. Offline is
// transient and leaves the row untouched; a 404 out of the upsert path means
// the record has nowhere to land and is abandoned as synced so it cannot
// poison every future sweep; anything else is recorded and retried.
func (r *Reconciler) recordFailure(s *models.ListeningSession, err error) error {
	if errors.Is(err, shared.ErrOffline) {
		return err
	}
	if errors.Is(err, shared.ErrServerSessionGone) {
		r.logger.Warn("abandoning session push", "session", s.ID, "error", err)
		return r.sessions.MarkSynced(s.ID)
	}
	if rerr := r.sessions.RecordSyncFailure(s.ID, err.Error()); rerr != nil {
		return rerr
	}
	return err
}

// refreshMirror pulls the server's progress record for an item into the local
// mirror after a successful push. Best effort: the push already succeeded.
func (r *Reconciler) refreshMirror(ctx context.Context, libraryItemID string) {
	prog, err := r.service.FetchProgress(ctx, libraryItemID)
	if err != nil {
		r.logger.Debug("mirror refresh failed", "item", libraryItemID, "error", err)
		return
	}
	if prog.UserID == "" {
		prog.UserID = r.userID
	}
	if err := r.progress.Upsert(prog); err != nil {
		r.logger.Warn("mirror upsert failed", "item", libraryItemID, "error", err)
	}
}

// Reconcile runs the foreground reconciliation pass: close sessions the
// staleness policy caught up with, pull the bulk snapshot, merge it into the
// mirror most-recent-wins, then push everything owed. Returns how many mirror
// rows the snapshot updated.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	if _, err := r.CloseStaleSessions(); err != nil {
		return 0, err
	}

	snap, err := r.service.FetchSnapshot(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range snap.MediaProgress {
		server := snap.MediaProgress[i].ToModel()
		if server.UserID == "" {
			server.UserID = r.userID
		}

		local, err := r.progress.Get(server.UserID, server.LibraryItemID)
		if err != nil {
			return applied, err
		}
		if local != nil && !server.LastUpdate.After(local.LastUpdate) {
			continue
		}
		if err := r.progress.Upsert(server); err != nil {
			return applied, err
		}
		applied++
	}

	r.logger.Info("snapshot reconciled", "entries", len(snap.MediaProgress), "applied", applied)

	if _, err := r.SyncUnsynced(ctx); err != nil && !errors.Is(err, shared.ErrOffline) {
		return applied, err
	}
	return applied, nil
}
