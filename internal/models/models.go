package models

import (
	"time"
)

// SyncState describes whether a session has been pushed to the server.
type SyncState string

const (
	SyncStateUnsynced SyncState = "unsynced"
	SyncStateSynced   SyncState = "synced"
	SyncStateFailed   SyncState = "sync-failed"
)

// StorageLocation names the tier a downloaded file lives in.
type StorageLocation string

const (
	// StorageHot is the durable tier: survives OS storage pressure and is
	// excluded from device backups on a best-effort basis.
	StorageHot StorageLocation = "hot"
	// StorageCold is the OS-reclaimable cache tier.
	StorageCold StorageLocation = "cold"
)

// ListeningSession is one continuous local record of listening progress for
// one item. At most one row per (UserID, LibraryItemID) has SessionEnd == nil.
type ListeningSession struct {
	ID            string
	UserID        string
	LibraryID     string
	LibraryItemID string
	MediaID       string
	DisplayTitle  string

	StartTime       float64 // position when the session opened, seconds
	CurrentPosition float64 // latest playback position, seconds
	Duration        float64 // media duration, seconds
	PlaybackRate    float64
	Volume          float64
	TimeListening   float64 // cumulative wall-seconds actually playing

	ServerSessionID string // empty until the server issues one
	SessionStart    time.Time
	SessionEnd      *time.Time
	StaleClose      bool // closed by the staleness policy, not the user

	SyncState         SyncState
	SyncFailureReason string
	UpdatedAt         time.Time
}

// IsOpen reports whether the session has not been ended.
func (s *ListeningSession) IsOpen() bool { return s.SessionEnd == nil }

// IsStale reports whether the session's last update is older than timeout.
func (s *ListeningSession) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.UpdatedAt) > timeout
}

// ElapsedListening returns the session's wall-clock length so far.
func (s *ListeningSession) ElapsedListening() time.Duration {
	return time.Duration(s.TimeListening * float64(time.Second))
}

// IsLocal reports whether the session follows the local/downloaded sync path:
// either the server has not issued an ID yet, or the server adopted the
// client-supplied ID (self-identified upsert).
func (s *ListeningSession) IsLocal() bool {
	return s.ServerSessionID == "" || s.ServerSessionID == s.ID
}

// DownloadRecord tracks one downloaded file and its storage tier.
// IsDownloaded implies on-disk existence; violations are transient and are
// cleared by the next verification pass.
type DownloadRecord struct {
	FileID          string
	LibraryItemID   string
	Title           string
	IsDownloaded    bool
	DownloadPath    string // relative to the tier root named by StorageLocation
	StorageLocation StorageLocation
	Size            int64
	DownloadedAt    *time.Time
	LastAccessedAt  *time.Time
	MovedToCacheAt  *time.Time
	UpdatedAt       time.Time
}

// MediaProgress mirrors the server's per-user progress record for one item.
type MediaProgress struct {
	ID              string
	UserID          string
	LibraryItemID   string
	EpisodeID       string
	Duration        float64
	Progress        float64 // 0..1
	CurrentPosition float64
	IsFinished      bool
	LastUpdate      time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// AudioFile is one playable file within a library item.
type AudioFile struct {
	ID      string
	Index   int
	RelPath string // path relative to the item directory
	Size    int64
}

// LibraryItem is the catalog metadata the sync core needs about one item.
type LibraryItem struct {
	ID        string
	LibraryID string
	MediaID   string
	Title     string
	Author    string
	Duration  float64
	Files     []AudioFile
	CoverPath string // remote path of the cover image, empty if none
}

// TotalSize sums the known sizes of the item's audio files. Cover art is not
// part of the total; it is fetched separately and excluded from progress math.
func (li *LibraryItem) TotalSize() int64 {
	var total int64
	for _, f := range li.Files {
		total += f.Size
	}
	return total
}

// FileByID returns the audio file with the given ID, or nil.
func (li *LibraryItem) FileByID(id string) *AudioFile {
	for i := range li.Files {
		if li.Files[i].ID == id {
			return &li.Files[i]
		}
	}
	return nil
}
