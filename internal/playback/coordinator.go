package playback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/reconciler"
	"github.com/evanmccall/absync/internal/repositories"
	"github.com/evanmccall/absync/internal/services"
	"github.com/evanmccall/absync/internal/shared"
	"github.com/evanmccall/absync/internal/storage"
)

// touchAfter is how long continuous playback must run before the item's
// access time refreshes. Opening an item and closing it again must not reset
// the tier-inactivity clock.
const touchAfter = 2 * time.Minute

// Coordinator sits between the host transport and the sync core: it decides
// the playback source (local files or a streaming session), the start
// position, and feeds progress ticks into the session machinery.
type Coordinator struct {
	transport  Transport
	reconciler *reconciler.Reconciler
	downloads  *repositories.DownloadRepository
	progress   *repositories.ProgressRepository
	storage    *storage.Manager
	service    services.ProgressService
	network    services.NetworkMonitor
	clock      shared.Clock
	logger     *log.Logger
	userID     string

	mu      sync.Mutex
	current *nowPlaying
}

type nowPlaying struct {
	item      *models.LibraryItem
	sessionID string
	streaming bool
	playStart time.Time
	touched   bool
}

// CoordinatorOpts configures a Coordinator. Transport, Reconciler, Downloads,
// Progress, Storage, Service, Network, and UserID are required.
type CoordinatorOpts struct {
	Transport  Transport
	Reconciler *reconciler.Reconciler
	Downloads  *repositories.DownloadRepository
	Progress   *repositories.ProgressRepository
	Storage    *storage.Manager
	Service    services.ProgressService
	Network    services.NetworkMonitor
	Clock      shared.Clock
	Logger     *log.Logger
	UserID     string
}

func NewCoordinator(opts CoordinatorOpts) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &Coordinator{
		transport:  opts.Transport,
		reconciler: opts.Reconciler,
		downloads:  opts.Downloads,
		progress:   opts.Progress,
		storage:    opts.Storage,
		service:    opts.Service,
		network:    opts.Network,
		clock:      opts.Clock,
		logger:     shared.WithLogger(opts.Logger, "component", "playback"),
		userID:     opts.UserID,
	}
}

// rewindFor maps the gap since listening stopped to how far playback steps
// back, so the listener recovers context proportional to how much they have
// forgotten.
func rewindFor(gap time.Duration) float64 {
	switch {
	case gap <= 10*time.Second:
		return 0
	case gap <= 2*time.Minute:
		return 3
	case gap <= 10*time.Minute:
		return 10
	case gap <= 30*time.Minute:
		return 20
	default:
		return 30
	}
}

// Play starts or resumes playback of an item.
//
// The start position resolves in order: the open session's position, the
// mirrored server progress, zero (finished items also restart at zero). The
// rewind step is applied on top, sized by how long ago listening stopped.
// Items with every file downloaded play locally, promoted back to the hot
// tier first; anything else streams, which requires connectivity.
func (c *Coordinator) Play(ctx context.Context, item *models.LibraryItem) (*models.ListeningSession, error) {
	local, err := c.itemIsLocal(item)
	if err != nil {
		return nil, err
	}
	if !local && !c.network.Online() {
		return nil, fmt.Errorf("%w: item %s is not downloaded", shared.ErrOffline, item.ID)
	}

	fallback, lastActive, err := c.resumePoint(item)
	if err != nil {
		return nil, err
	}

	session, err := c.reconciler.StartSession(item, fallback)
	if err != nil {
		return nil, err
	}

	var gap time.Duration
	if !lastActive.IsZero() {
		gap = c.clock.Now().Sub(lastActive)
	}
	startAt := session.CurrentPosition - rewindFor(gap)
	if startAt < 0 {
		startAt = 0
	}

	var tracks []Track
	if local {
		// A failed promotion is advisory; the files still play from wherever
		// they are.
		if err := c.storage.EnsureItemInDocuments(item.ID); err != nil {
			c.logger.Warn("hot tier promotion incomplete", "item", item.ID, "error", err)
		}
		tracks, err = c.localTracks(item)
	} else {
		tracks, err = c.streamTracks(ctx, item, session)
	}
	if err != nil {
		return nil, err
	}

	if err := c.transport.Queue(tracks, startAt); err != nil {
		return nil, err
	}
	if session.PlaybackRate > 0 {
		if err := c.transport.SetRate(session.PlaybackRate); err != nil {
			c.logger.Warn("rate restore failed", "error", err)
		}
	}
	if err := c.transport.Play(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.current = &nowPlaying{
		item:      item,
		sessionID: session.ID,
		streaming: !local,
		playStart: c.clock.Now(),
	}
	c.mu.Unlock()
	c.reconciler.SetPlaying(true)

	c.logger.Info("playback started",
		"item", item.ID, "session", session.ID, "local", local, "position", startAt)
	return session, nil
}

// resumePoint returns the fallback start position for a new session and the
// time listening last happened, for rewind sizing. With both an open session
// and mirrored server progress, the more-recently-updated source wins, so
// progress made on another device is not rolled back by a stale local session.
func (c *Coordinator) resumePoint(item *models.LibraryItem) (float64, time.Time, error) {
	var last time.Time

	active, err := c.activeSessionInfo(item.ID)
	if err != nil {
		return 0, last, err
	}

	prog, err := c.progress.Get(c.userID, item.ID)
	if err != nil {
		return 0, last, err
	}
	if prog != nil && prog.IsFinished {
		prog = nil
	}

	switch {
	case active != nil && prog != nil && prog.LastUpdate.After(active.UpdatedAt):
		return prog.CurrentPosition, prog.LastUpdate, nil
	case active != nil:
		return active.CurrentPosition, active.UpdatedAt, nil
	case prog != nil:
		return prog.CurrentPosition, prog.LastUpdate, nil
	}
	return 0, last, nil
}

// activeSessionInfo fetches the open session for an item, nil when none.
func (c *Coordinator) activeSessionInfo(itemID string) (*models.ListeningSession, error) {
	s, err := c.reconciler.ActiveSession(itemID)
	if errors.Is(err, shared.ErrSessionNotFound) {
		return nil, nil
	}
	return s, err
}

// itemIsLocal reports whether every audio file of the item is downloaded and
// present on disk. A row whose file the OS evicted is healed on the spot and
// demotes the item to streaming.
func (c *Coordinator) itemIsLocal(item *models.LibraryItem) (bool, error) {
	if len(item.Files) == 0 {
		return false, nil
	}

	roots := c.storage.Roots()
	for _, f := range item.Files {
		rec, err := c.downloads.Get(f.ID)
		if errors.Is(err, shared.ErrDownloadNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if !rec.IsDownloaded {
			return false, nil
		}
		if !roots.Exists(rec.StorageLocation, rec.DownloadPath) {
			c.logger.Warn("downloaded file missing, streaming instead",
				"item", item.ID, "file", f.ID)
			if err := c.downloads.ClearDownloaded(f.ID); err != nil {
				return false, err
			}
			return false, nil
		}
	}
	return true, nil
}

// localTracks builds the queue from downloaded files, in file order.
func (c *Coordinator) localTracks(item *models.LibraryItem) ([]Track, error) {
	files := make([]models.AudioFile, len(item.Files))
	copy(files, item.Files)
	sort.Slice(files, func(i, j int) bool { return files[i].Index < files[j].Index })

	roots := c.storage.Roots()
	tracks := make([]Track, 0, len(files))
	for _, f := range files {
		rec, err := c.downloads.Get(f.ID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, Track{
			Index: f.Index,
			URL:   roots.Abs(rec.StorageLocation, rec.DownloadPath),
		})
	}
	return tracks, nil
}

// streamTracks requests a server play session and adopts its ID, which routes
// the session's sync through the streaming endpoints.
func (c *Coordinator) streamTracks(ctx context.Context, item *models.LibraryItem, session *models.ListeningSession) ([]Track, error) {
	ps, err := c.service.RequestPlaySession(ctx, item.ID)
	if err != nil {
		return nil, err
	}

	if err := c.reconciler.AdoptServerSession(session.ID, ps.ID); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(ps.AudioTracks))
	for _, at := range ps.AudioTracks {
		tracks = append(tracks, Track{
			Index:       at.Index,
			URL:         at.ContentURL,
			Duration:    at.Duration,
			StartOffset: at.StartOffset,
		})
	}
	return tracks, nil
}

// Tick polls the transport position and records it against the session.
// Hosts call this on their progress cadence while the transport is playing.
func (c *Coordinator) Tick() error {
	c.mu.Lock()
	np := c.current
	c.mu.Unlock()
	if np == nil {
		return fmt.Errorf("%w: nothing playing", shared.ErrSessionNotFound)
	}
	if c.transport.State() != StatePlaying {
		return nil
	}

	pos, err := c.transport.Position()
	if err != nil {
		return err
	}

	sessionID, err := c.reconciler.UpdateProgress(np.sessionID, pos, nil, nil, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	np.sessionID = sessionID
	touch := !np.touched && c.clock.Now().Sub(np.playStart) >= touchAfter
	if touch {
		np.touched = true
	}
	itemID := np.item.ID
	c.mu.Unlock()

	if touch {
		if err := c.storage.TouchItem(itemID, c.clock.Now()); err != nil {
			c.logger.Warn("access refresh failed", "item", itemID, "error", err)
		}
	}
	return nil
}

// Seek moves playback and records the new position immediately. A seek while
// paused moves the position without earning listening credit.
func (c *Coordinator) Seek(position float64) error {
	c.mu.Lock()
	np := c.current
	c.mu.Unlock()
	if np == nil {
		return fmt.Errorf("%w: nothing playing", shared.ErrSessionNotFound)
	}

	if err := c.transport.Seek(position); err != nil {
		return err
	}
	playing := c.transport.State() == StatePlaying
	sessionID, err := c.reconciler.UpdateProgress(np.sessionID, position, nil, nil, playing)
	if err != nil {
		return err
	}
	c.mu.Lock()
	np.sessionID = sessionID
	c.mu.Unlock()
	return nil
}

// SetRate changes playback speed and records it on the session.
func (c *Coordinator) SetRate(rate float64) error {
	c.mu.Lock()
	np := c.current
	c.mu.Unlock()
	if np == nil {
		return fmt.Errorf("%w: nothing playing", shared.ErrSessionNotFound)
	}

	if err := c.transport.SetRate(rate); err != nil {
		return err
	}
	pos, err := c.transport.Position()
	if err != nil {
		return err
	}
	playing := c.transport.State() == StatePlaying
	sessionID, err := c.reconciler.UpdateProgress(np.sessionID, pos, &rate, nil, playing)
	if err != nil {
		return err
	}
	c.mu.Lock()
	np.sessionID = sessionID
	c.mu.Unlock()
	return nil
}

// Pause suspends playback and pushes the session state while the network is
// likely still around. Continuity toward the access-time refresh resets.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.mu.Lock()
	np := c.current
	c.mu.Unlock()
	if np == nil {
		return fmt.Errorf("%w: nothing playing", shared.ErrSessionNotFound)
	}

	if err := c.transport.Pause(); err != nil {
		return err
	}
	c.reconciler.SetPlaying(false)

	if err := c.reconciler.SyncSession(ctx, np.sessionID); err != nil {
		c.logger.Debug("pause push deferred", "session", np.sessionID, "error", err)
	}
	return nil
}

// Resume continues paused playback.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	np := c.current
	c.mu.Unlock()
	if np == nil {
		return fmt.Errorf("%w: nothing playing", shared.ErrSessionNotFound)
	}

	if err := c.transport.Play(); err != nil {
		return err
	}
	c.mu.Lock()
	np.playStart = c.clock.Now()
	np.touched = false
	c.mu.Unlock()
	c.reconciler.SetPlaying(true)
	return nil
}

// Stop ends playback, closes the session, and pushes it.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	np := c.current
	c.current = nil
	c.mu.Unlock()
	if np == nil {
		return nil
	}

	if err := c.transport.Pause(); err != nil {
		c.logger.Warn("transport pause failed", "error", err)
	}
	c.reconciler.SetPlaying(false)

	return c.reconciler.CloseSession(ctx, np.sessionID)
}

// Current returns the item and session now playing.
func (c *Coordinator) Current() (itemID, sessionID string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", "", false
	}
	return c.current.item.ID, c.current.sessionID, true
}
