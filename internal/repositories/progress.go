package repositories

import (
	"database/sql"
	"fmt"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/shared"
)

// ProgressRepository holds the local mirror of server media progress.
// Rows are only ever written from server responses (fetch or sync), never
// authored locally.
type ProgressRepository struct {
	db *sql.DB
}

// NewProgressRepository creates a new ProgressRepository with the given database connection.
func NewProgressRepository(db *sql.DB) *ProgressRepository {
	return &ProgressRepository{db: db}
}

// Upsert replaces the mirrored progress for (user, item) with the server copy.
func (r *ProgressRepository) Upsert(p *models.MediaProgress) error {
	if p.UserID == "" || p.LibraryItemID == "" {
		return fmt.Errorf("%w: progress needs user and item IDs", shared.ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = shared.GenerateID()
	}

	query := `
		INSERT INTO media_progress (
			id, user_id, library_item_id, episode_id, duration, progress,
			current_position, is_finished, last_update, started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, library_item_id) DO UPDATE SET
			episode_id = excluded.episode_id,
			duration = excluded.duration,
			progress = excluded.progress,
			current_position = excluded.current_position,
			is_finished = excluded.is_finished,
			last_update = excluded.last_update,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`

	_, err := r.db.Exec(query,
		p.ID,
		p.UserID,
		p.LibraryItemID,
		nullString(p.EpisodeID),
		p.Duration,
		p.Progress,
		p.CurrentPosition,
		p.IsFinished,
		p.LastUpdate,
		nullTime(p.StartedAt),
		nullTime(p.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert media progress: %w", err)
	}

	return nil
}

// Get returns the mirrored progress for (user, item), or nil when the server
// has never reported any.
func (r *ProgressRepository) Get(userID, libraryItemID string) (*models.MediaProgress, error) {
	query := progressSelect + ` WHERE user_id = ? AND library_item_id = ?`
	p, err := scanProgress(r.db.QueryRow(query, userID, libraryItemID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan media progress: %w", err)
	}
	return p, nil
}

// ListForUser returns all mirrored progress rows for a user.
func (r *ProgressRepository) ListForUser(userID string) ([]*models.MediaProgress, error) {
	query := progressSelect + ` WHERE user_id = ? ORDER BY last_update DESC`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media progress: %w", err)
	}
	defer rows.Close()

	var list []*models.MediaProgress
	for rows.Next() {
		p, err := scanProgress(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media progress: %w", err)
		}
		list = append(list, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return list, nil
}

const progressSelect = `
	SELECT id, user_id, library_item_id, episode_id, duration, progress,
		current_position, is_finished, last_update, started_at, finished_at
	FROM media_progress`

func scanProgress(scan func(...any) error) (*models.MediaProgress, error) {
	var (
		p          models.MediaProgress
		episodeID  sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)

	err := scan(
		&p.ID, &p.UserID, &p.LibraryItemID, &episodeID, &p.Duration, &p.Progress,
		&p.CurrentPosition, &p.IsFinished, &p.LastUpdate, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	p.EpisodeID = episodeID.String
	if startedAt.Valid {
		t := startedAt.Time
		p.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		p.FinishedAt = &t
	}

	return &p, nil
}
