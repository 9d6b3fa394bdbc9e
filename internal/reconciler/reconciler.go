package reconciler

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/repositories"
	"github.com/evanmccall/absync/internal/services"
	"github.com/evanmccall/absync/internal/shared"
)

const (
	// DefaultPauseTimeout is how long a session may sit untouched before the
	// staleness policy closes it.
	DefaultPauseTimeout = 15 * time.Minute
	// DefaultSweepInterval is the idle cadence of the background sweep.
	DefaultSweepInterval = 2 * time.Minute
	// DefaultPlayingUnmetered and DefaultPlayingMetered are the in-play sync
	// cadences per connection class.
	DefaultPlayingUnmetered = 15 * time.Second
	DefaultPlayingMetered   = 60 * time.Second
	// DefaultPruneAfter is how long synced, closed sessions are kept.
	DefaultPruneAfter = 7 * 24 * time.Hour

	// minSessionSeconds is the listening time below which a closed session is
	// discarded instead of pushed.
	minSessionSeconds = 5.0
	// maxListeningStep caps the wall-clock credit of one progress update, so
	// a gap (suspend, crash, pause the transport missed) cannot inflate the
	// listening total.
	maxListeningStep = 10.0
	// minListeningStep filters sub-second update jitter out of the total.
	minListeningStep = 1.0
)

// Reconciler drives session lifecycle and sync for one user.
type Reconciler struct {
	sessions *repositories.SessionRepository
	progress *repositories.ProgressRepository
	service  services.ProgressService
	network  services.NetworkMonitor
	clock    shared.Clock
	logger   *log.Logger
	limiter  *rate.Limiter

	userID           string
	pauseTimeout     time.Duration
	sweepInterval    time.Duration
	playingUnmetered time.Duration
	playingMetered   time.Duration
	pruneAfter       time.Duration

	playing atomic.Bool
}

// Opts configures a Reconciler. Sessions, Progress, Service, Network, and
// UserID are required; zero durations fall back to the defaults above.
type Opts struct {
	Sessions *repositories.SessionRepository
	Progress *repositories.ProgressRepository
	Service  services.ProgressService
	Network  services.NetworkMonitor
	Clock    shared.Clock
	Logger   *log.Logger

	UserID           string
	PauseTimeout     time.Duration
	SweepInterval    time.Duration
	PlayingUnmetered time.Duration
	PlayingMetered   time.Duration
	PruneAfter       time.Duration
	RateLimit        float64 // pushes per second during a sweep
}

func New(opts Opts) (*Reconciler, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("%w: reconciler needs a user", shared.ErrMissingUser)
	}
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.PauseTimeout <= 0 {
		opts.PauseTimeout = DefaultPauseTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.PlayingUnmetered <= 0 {
		opts.PlayingUnmetered = DefaultPlayingUnmetered
	}
	if opts.PlayingMetered <= 0 {
		opts.PlayingMetered = DefaultPlayingMetered
	}
	if opts.PruneAfter <= 0 {
		opts.PruneAfter = DefaultPruneAfter
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	return &Reconciler{
		sessions:         opts.Sessions,
		progress:         opts.Progress,
		service:          opts.Service,
		network:          opts.Network,
		clock:            opts.Clock,
		logger:           shared.WithLogger(opts.Logger, "component", "reconciler"),
		limiter:          rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		userID:           opts.UserID,
		pauseTimeout:     opts.PauseTimeout,
		sweepInterval:    opts.SweepInterval,
		playingUnmetered: opts.PlayingUnmetered,
		playingMetered:   opts.PlayingMetered,
		pruneAfter:       opts.PruneAfter,
	}, nil
}

// SetPlaying tells the sweep loop whether playback is live, which switches
// the sync cadence between the in-play and idle intervals.
func (r *Reconciler) SetPlaying(playing bool) {
	r.playing.Store(playing)
}

// StartSession opens (or resumes) the listening session for an item.
//
// A fresh open session for the same item is resumed as-is. A stale one is
// closed at its own position and a new session opens from that position. Open
// sessions on other items are closed first; only one item plays at a time.
// fallbackPosition seeds the start position when no session state exists,
// typically the mirrored server progress.
func (r *Reconciler) StartSession(item *models.LibraryItem, fallbackPosition float64) (*models.ListeningSession, error) {
	now := r.clock.Now()

	open, err := r.sessions.GetAllActiveSessionsForUser(r.userID)
	if err != nil {
		return nil, err
	}
	for _, s := range open {
		if s.LibraryItemID == item.ID {
			continue
		}
		if err := r.closeOpen(s, now); err != nil {
			return nil, err
		}
	}

	active, err := r.sessions.GetActiveSession(r.userID, item.ID)
	switch {
	case err == nil:
		carry, perr := r.resumeFrom(active)
		if perr != nil {
			return nil, perr
		}
		if !active.IsStale(now, r.pauseTimeout) {
			if carry != active.CurrentPosition {
				err := r.sessions.UpdateProgress(active.ID, repositories.ProgressMutation{Position: carry})
				if err != nil {
					return nil, err
				}
				active.CurrentPosition = carry
				active.UpdatedAt = now
			}
			return active, nil
		}
		// Listening stopped a while ago; the record closes where and when it
		// actually stopped, and a new one picks up from the newer source.
		if err := r.sessions.EndStaleSession(active.ID, active.UpdatedAt); err != nil {
			return nil, err
		}
		fallbackPosition = carry
	case errors.Is(err, shared.ErrSessionNotFound):
	default:
		return nil, err
	}

	s := &models.ListeningSession{
		UserID:          r.userID,
		LibraryID:       item.LibraryID,
		LibraryItemID:   item.ID,
		MediaID:         item.MediaID,
		DisplayTitle:    item.Title,
		StartTime:       fallbackPosition,
		CurrentPosition: fallbackPosition,
		Duration:        item.Duration,
		PlaybackRate:    1.0,
		Volume:          1.0,
	}
	if _, err := r.sessions.StartSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

// resumeFrom picks the position a session carries forward: its own, unless
// another device pushed newer progress to the server since the session was
// last touched. The more-recently-updated source wins.
func (r *Reconciler) resumeFrom(s *models.ListeningSession) (float64, error) {
	prog, err := r.progress.Get(s.UserID, s.LibraryItemID)
	if err != nil {
		return 0, err
	}
	if prog != nil && !prog.IsFinished && prog.LastUpdate.After(s.UpdatedAt) {
		return prog.CurrentPosition, nil
	}
	return s.CurrentPosition, nil
}

// UpdateProgress applies one playback progress tick to a session and returns
// the ID of the session now carrying the progress, which differs from the
// input when the staleness policy rolled the session over.
//
// While playing, listening time is credited from wall time since the last
// update, capped at maxListeningStep; sub-second ticks update the position
// without credit. Paused updates (a scrubber drag, a rate change) record the
// position and never earn credit.
func (r *Reconciler) UpdateProgress(sessionID string, position float64, playbackRate, volume *float64, playing bool) (string, error) {
	s, err := r.sessions.Get(sessionID)
	if err != nil {
		return "", err
	}
	if !s.IsOpen() {
		return "", fmt.Errorf("%w: session %s already closed", shared.ErrSessionNotFound, sessionID)
	}

	now := r.clock.Now()
	if s.IsStale(now, r.pauseTimeout) {
		if err := r.sessions.EndStaleSession(s.ID, s.UpdatedAt); err != nil {
			return "", err
		}
		fresh := &models.ListeningSession{
			UserID:          s.UserID,
			LibraryID:       s.LibraryID,
			LibraryItemID:   s.LibraryItemID,
			MediaID:         s.MediaID,
			DisplayTitle:    s.DisplayTitle,
			StartTime:       s.CurrentPosition,
			CurrentPosition: s.CurrentPosition,
			Duration:        s.Duration,
			PlaybackRate:    s.PlaybackRate,
			Volume:          s.Volume,
		}
		if _, err := r.sessions.StartSession(fresh); err != nil {
			return "", err
		}
		s = fresh
	}

	wall := now.Sub(s.UpdatedAt).Seconds()
	listening := wall
	if listening > maxListeningStep {
		listening = maxListeningStep
	}
	if wall < minListeningStep || !playing {
		listening = 0
	}

	err = r.sessions.UpdateProgress(s.ID, repositories.ProgressMutation{
		Position:       position,
		Rate:           playbackRate,
		Volume:         volume,
		ListeningDelta: listening,
	})
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// ActiveSession returns the open session for an item, or
// [shared.ErrSessionNotFound].
func (r *Reconciler) ActiveSession(libraryItemID string) (*models.ListeningSession, error) {
	return r.sessions.GetActiveSession(r.userID, libraryItemID)
}

// AdoptServerSession records a server-issued session ID, switching the
// session onto the streaming sync path.
func (r *Reconciler) AdoptServerSession(sessionID, serverSessionID string) error {
	return r.sessions.UpdateServerSessionID(sessionID, serverSessionID)
}

// closeOpen ends one open session at now, or at its own last-update time when
// it went stale first. Sessions below the minimum listening time are dropped;
// they carry no signal worth pushing.
func (r *Reconciler) closeOpen(s *models.ListeningSession, now time.Time) error {
	if s.TimeListening < minSessionSeconds {
		return r.sessions.Delete(s.ID)
	}
	if s.IsStale(now, r.pauseTimeout) {
		return r.sessions.EndStaleSession(s.ID, s.UpdatedAt)
	}
	return r.sessions.EndSession(s.ID, now)
}

// CloseStaleSessions applies the pause-timeout policy to every open session,
// returning how many it closed. Discarded sub-minimum sessions do not count.
func (r *Reconciler) CloseStaleSessions() (int, error) {
	open, err := r.sessions.GetAllActiveSessionsForUser(r.userID)
	if err != nil {
		return 0, err
	}

	now := r.clock.Now()
	closed := 0
	for _, s := range open {
		if !s.IsStale(now, r.pauseTimeout) {
			continue
		}
		if s.TimeListening < minSessionSeconds {
			if err := r.sessions.Delete(s.ID); err != nil {
				return closed, err
			}
			continue
		}
		if err := r.sessions.EndStaleSession(s.ID, s.UpdatedAt); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// Prune removes synced, closed sessions older than the retention window.
func (r *Reconciler) Prune() (int64, error) {
	return r.sessions.DeleteSynced(r.clock.Now().Add(-r.pruneAfter))
}
