package repositories

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/shared"
)

// SessionRepository persists listening sessions.
//
// A partial unique index on (user_id, library_item_id) WHERE session_end IS NULL
// enforces the single-open-session invariant at the storage layer; callers that
// race an insert get [shared.ErrSessionOpen] rather than a second open row.
type SessionRepository struct {
	db    *sql.DB
	clock shared.Clock
}

// NewSessionRepository creates a new SessionRepository with the given database connection and clock.
func NewSessionRepository(db *sql.DB, clock shared.Clock) *SessionRepository {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &SessionRepository{db: db, clock: clock}
}

// ProgressMutation carries the per-update mutable fields of a session.
// Nil pointer fields are left unchanged.
type ProgressMutation struct {
	Position       float64
	Rate           *float64
	Volume         *float64
	ListeningDelta float64 // wall-seconds to add to time_listening
}

// StartSession inserts a new open session and returns its ID.
// The ID is generated when empty; SessionStart and UpdatedAt default to now.
func (r *SessionRepository) StartSession(s *models.ListeningSession) (string, error) {
	if s.UserID == "" {
		return "", fmt.Errorf("%w: session has no user", shared.ErrMissingUser)
	}
	if s.LibraryItemID == "" {
		return "", fmt.Errorf("%w: session has no library item", shared.ErrInvalidInput)
	}

	if s.ID == "" {
		s.ID = shared.GenerateID()
	}
	now := r.clock.Now()
	if s.SessionStart.IsZero() {
		s.SessionStart = now
	}
	s.UpdatedAt = now
	if s.SyncState == "" {
		s.SyncState = models.SyncStateUnsynced
	}
	if s.PlaybackRate == 0 {
		s.PlaybackRate = 1.0
	}

	query := `
		INSERT INTO sessions (
			id, user_id, library_id, library_item_id, media_id, display_title,
			start_time, current_position, duration, playback_rate, volume,
			time_listening, server_session_id, session_start, session_end,
			stale_close, sync_state, sync_failure_reason, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		s.ID,
		s.UserID,
		s.LibraryID,
		s.LibraryItemID,
		s.MediaID,
		s.DisplayTitle,
		s.StartTime,
		s.CurrentPosition,
		s.Duration,
		s.PlaybackRate,
		s.Volume,
		s.TimeListening,
		nullString(s.ServerSessionID),
		s.SessionStart,
		nullTime(s.SessionEnd),
		s.StaleClose,
		string(s.SyncState),
		nullString(s.SyncFailureReason),
		s.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", fmt.Errorf("%w: user %s item %s", shared.ErrSessionOpen, s.UserID, s.LibraryItemID)
		}
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	return s.ID, nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(id string) (*models.ListeningSession, error) {
	query := sessionSelect + ` WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetActiveSession returns the open session for a user+item, or
// [shared.ErrSessionNotFound] when none is open.
func (r *SessionRepository) GetActiveSession(userID, libraryItemID string) (*models.ListeningSession, error) {
	query := sessionSelect + ` WHERE user_id = ? AND library_item_id = ? AND session_end IS NULL`
	return r.scanOne(r.db.QueryRow(query, userID, libraryItemID))
}

// GetAllActiveSessionsForUser returns every open session owned by the user.
func (r *SessionRepository) GetAllActiveSessionsForUser(userID string) ([]*models.ListeningSession, error) {
	query := sessionSelect + ` WHERE user_id = ? AND session_end IS NULL ORDER BY updated_at DESC`
	return r.scanMany(r.db.Query(query, userID))
}

// GetUnsyncedSessions returns sessions still owed to the server, oldest first.
func (r *SessionRepository) GetUnsyncedSessions() ([]*models.ListeningSession, error) {
	query := sessionSelect + ` WHERE sync_state != ? ORDER BY updated_at ASC`
	return r.scanMany(r.db.Query(query, string(models.SyncStateSynced)))
}

// UpdateProgress applies a progress mutation to an open session and refreshes
// updated_at. Closed sessions are not mutated.
func (r *SessionRepository) UpdateProgress(id string, m ProgressMutation) error {
	now := r.clock.Now()

	query := `
		UPDATE sessions
		SET current_position = ?,
			playback_rate = COALESCE(?, playback_rate),
			volume = COALESCE(?, volume),
			time_listening = time_listening + ?,
			sync_state = ?,
			updated_at = ?
		WHERE id = ? AND session_end IS NULL
	`

	result, err := r.db.Exec(query, m.Position, m.Rate, m.Volume, m.ListeningDelta,
		string(models.SyncStateUnsynced), now, id)
	if err != nil {
		return fmt.Errorf("failed to update session progress: %w", err)
	}
	return oneRowAffected(result, shared.ErrSessionNotFound, id)
}

// EndSession closes a session at the supplied end time. The session keeps its
// own last position; nothing here ever rewrites current_position.
func (r *SessionRepository) EndSession(id string, endTime time.Time) error {
	return r.endSession(id, endTime, false)
}

// EndStaleSession closes a session like EndSession but tags the row as closed
// by the staleness policy, for sync bookkeeping.
func (r *SessionRepository) EndStaleSession(id string, endTime time.Time) error {
	return r.endSession(id, endTime, true)
}

func (r *SessionRepository) endSession(id string, endTime time.Time, stale bool) error {
	query := `
		UPDATE sessions
		SET session_end = ?, stale_close = ?, sync_state = ?, updated_at = ?
		WHERE id = ? AND session_end IS NULL
	`

	result, err := r.db.Exec(query, endTime, stale, string(models.SyncStateUnsynced), r.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return oneRowAffected(result, shared.ErrSessionNotFound, id)
}

// RecordSyncFailure marks a session sync-failed with the given reason.
// The row stays in the unsynced pool for the next sweep.
func (r *SessionRepository) RecordSyncFailure(id, reason string) error {
	query := `UPDATE sessions SET sync_state = ?, sync_failure_reason = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, string(models.SyncStateFailed), reason, r.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	return oneRowAffected(result, shared.ErrSessionNotFound, id)
}

// MarkSynced marks a session synced and clears any failure reason.
func (r *SessionRepository) MarkSynced(id string) error {
	query := `UPDATE sessions SET sync_state = ?, sync_failure_reason = NULL, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, string(models.SyncStateSynced), r.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark session synced: %w", err)
	}
	return oneRowAffected(result, shared.ErrSessionNotFound, id)
}

// UpdateServerSessionID stores the server-issued session ID. An empty value
// clears it, which routes the next sync through the local upsert path again.
func (r *SessionRepository) UpdateServerSessionID(id, serverSessionID string) error {
	query := `UPDATE sessions SET server_session_id = ?, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, nullString(serverSessionID), r.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update server session id: %w", err)
	}
	return oneRowAffected(result, shared.ErrSessionNotFound, id)
}

// ResetListeningTime zeroes time_listening. Only streaming sessions reset
// after a successful push; local sessions keep the cumulative total so the
// server receives a total, not increments.
func (r *SessionRepository) ResetListeningTime(id string) error {
	query := `UPDATE sessions SET time_listening = 0, updated_at = ? WHERE id = ?`
	result, err := r.db.Exec(query, r.clock.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to reset listening time: %w", err)
	}
	return oneRowAffected(result, shared.ErrSessionNotFound, id)
}

// Delete hard-deletes a session row. Reserved for sessions that will never be
// pushed: sub-minimum-duration discards and pruning of already-synced rows.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return oneRowAffected(result, shared.ErrSessionNotFound, id)
}

// DeleteSynced prunes synced, ended sessions whose last update is older than
// cutoff. Returns the number of rows removed.
func (r *SessionRepository) DeleteSynced(cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE sync_state = ? AND session_end IS NOT NULL AND updated_at < ?`
	result, err := r.db.Exec(query, string(models.SyncStateSynced), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return result.RowsAffected()
}

const sessionSelect = `
	SELECT id, user_id, library_id, library_item_id, media_id, display_title,
		start_time, current_position, duration, playback_rate, volume,
		time_listening, server_session_id, session_start, session_end,
		stale_close, sync_state, sync_failure_reason, updated_at
	FROM sessions`

// scanOne scans a single [sql.Row] into a [models.ListeningSession]
func (r *SessionRepository) scanOne(row *sql.Row) (*models.ListeningSession, error) {
	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, shared.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return s, nil
}

// scanMany scans all rows from a query into sessions.
func (r *SessionRepository) scanMany(rows *sql.Rows, err error) ([]*models.ListeningSession, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.ListeningSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sessions, nil
}

func scanSession(scan func(...any) error) (*models.ListeningSession, error) {
	var (
		s                 models.ListeningSession
		serverSessionID   sql.NullString
		sessionEnd        sql.NullTime
		syncState         string
		syncFailureReason sql.NullString
	)

	err := scan(
		&s.ID, &s.UserID, &s.LibraryID, &s.LibraryItemID, &s.MediaID, &s.DisplayTitle,
		&s.StartTime, &s.CurrentPosition, &s.Duration, &s.PlaybackRate, &s.Volume,
		&s.TimeListening, &serverSessionID, &s.SessionStart, &sessionEnd,
		&s.StaleClose, &syncState, &syncFailureReason, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.ServerSessionID = serverSessionID.String
	s.SyncState = models.SyncState(syncState)
	s.SyncFailureReason = syncFailureReason.String
	if sessionEnd.Valid {
		t := sessionEnd.Time
		s.SessionEnd = &t
	}

	return &s, nil
}
