package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/shared"
)

// DownloadRepository persists per-file download records.
//
// The download manager is the sole writer of is_downloaded/download_path at
// creation; the storage lifecycle manager is the sole writer of
// storage_location/moved_to_cache_at.
type DownloadRepository struct {
	db    *sql.DB
	clock shared.Clock
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection and clock.
func NewDownloadRepository(db *sql.DB, clock shared.Clock) *DownloadRepository {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &DownloadRepository{db: db, clock: clock}
}

// MarkDownloaded records a completed download, creating the row if needed.
// New downloads land in the hot tier.
func (r *DownloadRepository) MarkDownloaded(rec *models.DownloadRecord) error {
	if rec.FileID == "" || rec.LibraryItemID == "" {
		return fmt.Errorf("%w: download record needs file and item IDs", shared.ErrInvalidInput)
	}

	now := r.clock.Now()
	if rec.StorageLocation == "" {
		rec.StorageLocation = models.StorageHot
	}
	if rec.DownloadedAt == nil {
		rec.DownloadedAt = &now
	}
	rec.IsDownloaded = true
	rec.UpdatedAt = now

	query := `
		INSERT INTO downloads (
			file_id, library_item_id, title, is_downloaded, download_path,
			storage_location, size, downloaded_at, last_accessed_at,
			moved_to_cache_at, updated_at
		)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			is_downloaded = 1,
			download_path = excluded.download_path,
			storage_location = excluded.storage_location,
			size = excluded.size,
			downloaded_at = excluded.downloaded_at,
			moved_to_cache_at = NULL,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		rec.FileID,
		rec.LibraryItemID,
		rec.Title,
		rec.DownloadPath,
		string(rec.StorageLocation),
		rec.Size,
		nullTime(rec.DownloadedAt),
		nullTime(rec.LastAccessedAt),
		nullTime(rec.MovedToCacheAt),
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert download record: %w", err)
	}

	return nil
}

// Get retrieves a download record by file ID.
func (r *DownloadRepository) Get(fileID string) (*models.DownloadRecord, error) {
	query := downloadSelect + ` WHERE file_id = ?`
	rec, err := scanDownload(r.db.QueryRow(query, fileID).Scan)
	if err == sql.ErrNoRows {
		return nil, shared.ErrDownloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan download record: %w", err)
	}
	return rec, nil
}

// ListByItem returns all download records for a library item, ordered by file ID.
func (r *DownloadRepository) ListByItem(libraryItemID string) ([]*models.DownloadRecord, error) {
	query := downloadSelect + ` WHERE library_item_id = ? ORDER BY file_id ASC`
	return r.scanMany(r.db.Query(query, libraryItemID))
}

// ListDownloaded returns every record currently flagged as downloaded.
func (r *DownloadRepository) ListDownloaded() ([]*models.DownloadRecord, error) {
	query := downloadSelect + ` WHERE is_downloaded = 1 ORDER BY library_item_id, file_id`
	return r.scanMany(r.db.Query(query))
}

// ClearDownloaded clears the downloaded flag after a confirmed eviction.
// The row survives so tier bookkeeping and re-download paths keep their state.
func (r *DownloadRepository) ClearDownloaded(fileID string) error {
	query := `UPDATE downloads SET is_downloaded = 0, updated_at = ? WHERE file_id = ?`
	result, err := r.db.Exec(query, r.clock.Now(), fileID)
	if err != nil {
		return fmt.Errorf("failed to clear downloaded flag: %w", err)
	}
	return oneRowAffected(result, shared.ErrDownloadNotFound, fileID)
}

// SetStorageLocation records a tier move for one file.
// Moving to cold stamps moved_to_cache_at; moving to hot clears it.
func (r *DownloadRepository) SetStorageLocation(fileID string, loc models.StorageLocation) error {
	now := r.clock.Now()

	var movedAt any
	if loc == models.StorageCold {
		movedAt = now
	}

	query := `UPDATE downloads SET storage_location = ?, moved_to_cache_at = ?, updated_at = ? WHERE file_id = ?`
	result, err := r.db.Exec(query, string(loc), movedAt, now, fileID)
	if err != nil {
		return fmt.Errorf("failed to set storage location: %w", err)
	}
	return oneRowAffected(result, shared.ErrDownloadNotFound, fileID)
}

// Touch refreshes last_accessed_at. Callers gate this on sustained playback so
// accidental taps do not reset tier-inactivity clocks.
func (r *DownloadRepository) Touch(fileID string, at time.Time) error {
	query := `UPDATE downloads SET last_accessed_at = ?, updated_at = ? WHERE file_id = ?`
	result, err := r.db.Exec(query, at, r.clock.Now(), fileID)
	if err != nil {
		return fmt.Errorf("failed to touch download record: %w", err)
	}
	return oneRowAffected(result, shared.ErrDownloadNotFound, fileID)
}

// Delete removes a single file's record on explicit removal.
func (r *DownloadRepository) Delete(fileID string) error {
	result, err := r.db.Exec(`DELETE FROM downloads WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete download record: %w", err)
	}
	return oneRowAffected(result, shared.ErrDownloadNotFound, fileID)
}

// DeleteByItem removes all records for a library item. Returns the number of
// rows removed.
func (r *DownloadRepository) DeleteByItem(libraryItemID string) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM downloads WHERE library_item_id = ?`, libraryItemID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete download records: %w", err)
	}
	return result.RowsAffected()
}

// LastAccessForItem returns the most recent last_accessed_at across an item's
// files, or nil when no file has been accessed.
func (r *DownloadRepository) LastAccessForItem(libraryItemID string) (*time.Time, error) {
	// MAX() would strip the column's TIMESTAMP declaration and the driver
	// would hand back a raw string; select the column itself instead.
	query := `
		SELECT last_accessed_at FROM downloads
		WHERE library_item_id = ? AND is_downloaded = 1 AND last_accessed_at IS NOT NULL
		ORDER BY last_accessed_at DESC
		LIMIT 1`

	var last time.Time
	err := r.db.QueryRow(query, libraryItemID).Scan(&last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last access: %w", err)
	}
	return &last, nil
}

// DownloadedItemIDs returns the distinct library items with at least one
// downloaded file.
func (r *DownloadRepository) DownloadedItemIDs() ([]string, error) {
	rows, err := r.db.Query(`SELECT DISTINCT library_item_id FROM downloads WHERE is_downloaded = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloaded items: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan item id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ids, nil
}

const downloadSelect = `
	SELECT file_id, library_item_id, title, is_downloaded, download_path,
		storage_location, size, downloaded_at, last_accessed_at,
		moved_to_cache_at, updated_at
	FROM downloads`

func (r *DownloadRepository) scanMany(rows *sql.Rows, err error) ([]*models.DownloadRecord, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query download records: %w", err)
	}
	defer rows.Close()

	var records []*models.DownloadRecord
	for rows.Next() {
		rec, err := scanDownload(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

func scanDownload(scan func(...any) error) (*models.DownloadRecord, error) {
	var (
		rec             models.DownloadRecord
		storageLocation string
		downloadedAt    sql.NullTime
		lastAccessedAt  sql.NullTime
		movedToCacheAt  sql.NullTime
	)

	err := scan(
		&rec.FileID, &rec.LibraryItemID, &rec.Title, &rec.IsDownloaded, &rec.DownloadPath,
		&storageLocation, &rec.Size, &downloadedAt, &lastAccessedAt,
		&movedToCacheAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.StorageLocation = models.StorageLocation(storageLocation)
	if downloadedAt.Valid {
		t := downloadedAt.Time
		rec.DownloadedAt = &t
	}
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		rec.LastAccessedAt = &t
	}
	if movedToCacheAt.Valid {
		t := movedToCacheAt.Time
		rec.MovedToCacheAt = &t
	}

	return &rec, nil
}
