// package services defines clients for the remote progress service consumed by the sync core
package services

import (
	"context"

	"github.com/evanmccall/absync/internal/models"
)

// ProgressService is the remote per-user progress record API.
//
// All calls are fallible; callers never retry directly — failed pushes stay in
// the unsynced pool and are retried by the reconciler's periodic sweep.
type ProgressService interface {
	// UpsertLocalSession creates or updates a session keyed by the
	// client-supplied session ID. Idempotent; returns the server session ID.
	UpsertLocalSession(ctx context.Context, req *SessionUpsert) (string, error)

	// SyncSession pushes a keep-alive progress update for a streaming session.
	SyncSession(ctx context.Context, serverSessionID string, req *SessionSync) error

	// CloseSession closes a streaming session on the server.
	CloseSession(ctx context.Context, serverSessionID string, req *SessionSync) error

	// FetchProgress retrieves the server's progress record for one item.
	FetchProgress(ctx context.Context, libraryItemID string) (*models.MediaProgress, error)

	// FetchSnapshot retrieves the bulk progress snapshot used by foreground
	// reconciliation.
	FetchSnapshot(ctx context.Context) (*UserSnapshot, error)

	// RequestPlaySession asks the server for a streaming play session with
	// token-bearing track URLs.
	RequestPlaySession(ctx context.Context, libraryItemID string) (*PlaySession, error)
}

// NetworkMonitor reports connectivity state. The reconciler uses it to pick
// the in-play sync cadence and to skip pushes while offline.
type NetworkMonitor interface {
	// Online reports whether the device currently has connectivity.
	Online() bool
	// Metered reports whether the active connection is metered.
	Metered() bool
}

// StaticNetwork is a NetworkMonitor with fixed answers, driven by config.
type StaticNetwork struct {
	IsOnline  bool
	IsMetered bool
}

func (n StaticNetwork) Online() bool  { return n.IsOnline }
func (n StaticNetwork) Metered() bool { return n.IsMetered }

// SessionUpsert is the payload for the idempotent local-session upsert.
type SessionUpsert struct {
	SessionID     string  `json:"sessionId"`
	UserID        string  `json:"userId"`
	LibraryID     string  `json:"libraryId"`
	LibraryItemID string  `json:"libraryItemId"`
	DisplayTitle  string  `json:"displayTitle,omitempty"`
	StartTime     float64 `json:"startTime"`
	CurrentTime   float64 `json:"currentTime"`
	TimeListening float64 `json:"timeListening"`
	Duration      float64 `json:"duration"`
	StartedAt     int64   `json:"startedAt"` // unix millis
	UpdatedAt     int64   `json:"updatedAt"` // unix millis
}

// SessionSync is the payload for streaming keep-alive and close calls.
type SessionSync struct {
	CurrentTime   float64 `json:"currentTime"`
	TimeListening float64 `json:"timeListening"`
	Duration      float64 `json:"duration"`
}

// UserSnapshot is the bulk progress snapshot from GET /api/me.
type UserSnapshot struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	MediaProgress []ProgressEntry `json:"mediaProgress"`
}

// ProgressEntry is one item's progress within a snapshot or fetch response.
type ProgressEntry struct {
	ID            string  `json:"id"`
	UserID        string  `json:"userId"`
	LibraryItemID string  `json:"libraryItemId"`
	EpisodeID     string  `json:"episodeId,omitempty"`
	Duration      float64 `json:"duration"`
	Progress      float64 `json:"progress"`
	CurrentTime   float64 `json:"currentTime"`
	IsFinished    bool    `json:"isFinished"`
	LastUpdate    int64   `json:"lastUpdate"` // unix millis
	StartedAt     int64   `json:"startedAt"`
	FinishedAt    int64   `json:"finishedAt"`
}

// PlaySession is the server's response to a streaming play request.
type PlaySession struct {
	ID            string       `json:"id"`
	LibraryItemID string       `json:"libraryItemId"`
	AudioTracks   []AudioTrack `json:"audioTracks"`
}

// AudioTrack is one streamable track with a token-bearing URL.
type AudioTrack struct {
	Index       int     `json:"index"`
	ContentURL  string  `json:"contentUrl"`
	Duration    float64 `json:"duration"`
	StartOffset float64 `json:"startOffset"`
}
