package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Transient network errors: retried by the periodic sweep, never surfaced
	// synchronously to playback paths.
	ErrOffline    = fmt.Errorf("no network connectivity")
	ErrAPIRequest = fmt.Errorf("API request failed")
	ErrTimeout    = fmt.Errorf("operation timed out")

	// Server-state mismatch: the server no longer knows a session ID it issued.
	// Cleared and retried once as a fresh session.
	ErrServerSessionGone = fmt.Errorf("server session not found")

	// Local inconsistency: the store says downloaded, the disk disagrees.
	ErrFileMissing = fmt.Errorf("downloaded file missing on disk")

	// Policy short-circuits: deliberate no-ops, distinguishable from failures.
	ErrSessionTooShort = fmt.Errorf("session below minimum duration")
	ErrFileExists      = fmt.Errorf("file already downloaded")

	// Fatal/configuration errors: abort and surface to the caller.
	ErrMissingUser  = fmt.Errorf("missing user")
	ErrItemNotFound = fmt.Errorf("library item not found")

	// Store errors
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrDownloadNotFound = fmt.Errorf("download record not found")
	ErrSessionOpen      = fmt.Errorf("session already open for item")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
