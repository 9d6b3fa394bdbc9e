package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/repositories"
	"github.com/evanmccall/absync/internal/shared"
	"github.com/evanmccall/absync/internal/storage"
)

// defaultDebounce bounds how often progress callbacks fire per item. The
// first update and every terminal update bypass it.
const defaultDebounce = 500 * time.Millisecond

// Status is the aggregate state of one item's download.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Progress is one aggregate snapshot of an item's download. Byte totals cover
// audio files only; cover art is fetched separately and never counted.
type Progress struct {
	LibraryItemID   string
	Title           string
	Status          Status
	TotalFiles      int
	DownloadedFiles int
	TotalBytes      int64
	DownloadedBytes int64
	Ratio           float64 // 0..1, never decreases while the download is live
	BytesPerSecond  float64
	Error           string
}

// ProgressFunc receives aggregate progress snapshots.
type ProgressFunc func(Progress)

// StartOptions tunes one StartDownload call.
type StartOptions struct {
	// ForceRedownload re-fetches files already recorded as downloaded and
	// overwrites pre-existing destination files instead of failing fast.
	ForceRedownload bool
}

// fileTask tracks one audio file's transfer within an item download.
type fileTask struct {
	taskID  string
	fileID  string
	relPath string // relative to the hot tier root
	size    int64
	bytes   int64
	state   TaskState
}

type itemDownload struct {
	itemID string
	title  string
	status Status
	errMsg string

	// Files already downloaded before this run and not re-tasked. They count
	// toward totals exactly once; a re-tasked file appears only in tasks.
	storedFiles int
	storedBytes int64

	tasks map[string]*fileTask // keyed by file ID

	speed      *SpeedTracker
	onProgress ProgressFunc
	lastEmit   time.Time
	emitted    bool
	maxBytes   int64 // high-water mark, keeps the displayed ratio monotonic
}

func (d *itemDownload) snapshot() Progress {
	p := Progress{
		LibraryItemID:   d.itemID,
		Title:           d.title,
		Status:          d.status,
		TotalFiles:      d.storedFiles + len(d.tasks),
		DownloadedFiles: d.storedFiles,
		TotalBytes:      d.storedBytes,
		DownloadedBytes: d.storedBytes,
		BytesPerSecond:  d.speed.BytesPerSecond(),
		Error:           d.errMsg,
	}
	for _, ft := range d.tasks {
		p.TotalBytes += ft.size
		p.DownloadedBytes += ft.bytes
		if ft.state == TaskDone {
			p.DownloadedFiles++
		}
	}
	if p.DownloadedBytes < d.maxBytes {
		p.DownloadedBytes = d.maxBytes
	}
	d.maxBytes = p.DownloadedBytes
	if p.TotalBytes > 0 {
		p.Ratio = float64(p.DownloadedBytes) / float64(p.TotalBytes)
		if p.Ratio > 1 {
			p.Ratio = 1
		}
	}
	return p
}

// allSettled reports whether no task can make further progress on its own.
func (d *itemDownload) allSettled() bool {
	for _, ft := range d.tasks {
		if ft.state == TaskPending || ft.state == TaskRunning {
			return false
		}
	}
	return true
}

func (d *itemDownload) allDone() bool {
	for _, ft := range d.tasks {
		if ft.state != TaskDone {
			return false
		}
	}
	return true
}

// Manager aggregates per-file scheduler tasks into per-item downloads and
// keeps the download store consistent with what is on disk.
type Manager struct {
	scheduler Scheduler
	repo      *repositories.DownloadRepository
	storage   *storage.Manager
	client    *http.Client
	logger    *log.Logger
	clock     shared.Clock
	debounce  time.Duration

	mu          sync.Mutex
	items       map[string]*itemDownload
	subscribers map[string]ProgressFunc

	loopDone chan struct{}
}

// ManagerOpts configures a download Manager. Scheduler, Repo, and Storage are
// required.
type ManagerOpts struct {
	Scheduler  Scheduler
	Repo       *repositories.DownloadRepository
	Storage    *storage.Manager
	HTTPClient *http.Client // cover art fetches; defaults to http.DefaultClient
	Logger     *log.Logger
	Clock      shared.Clock
	Debounce   time.Duration
}

// NewManager creates a Manager and starts consuming the scheduler's events.
func NewManager(opts ManagerOpts) *Manager {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock{}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	m := &Manager{
		scheduler:   opts.Scheduler,
		repo:        opts.Repo,
		storage:     opts.Storage,
		client:      opts.HTTPClient,
		logger:      shared.WithLogger(opts.Logger, "component", "downloads"),
		clock:       opts.Clock,
		debounce:    opts.Debounce,
		items:       make(map[string]*itemDownload),
		subscribers: make(map[string]ProgressFunc),
		loopDone:    make(chan struct{}),
	}
	go m.loop()
	return m
}

// Close shuts down the scheduler and waits for the event loop to drain.
func (m *Manager) Close() error {
	err := m.scheduler.Close()
	<-m.loopDone
	return err
}

// Subscribe registers a callback receiving progress for every item download.
// Returns a handle for Unsubscribe.
func (m *Manager) Subscribe(fn ProgressFunc) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := shared.GenerateID()
	m.subscribers[id] = fn
	return id
}

func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

// IsDownloadActive reports whether the item has a live (non-terminal) download.
func (m *Manager) IsDownloadActive(itemID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[itemID]
	return ok && !d.status.Terminal()
}

// GetDownloadProgress returns the latest aggregate snapshot for an item.
func (m *Manager) GetDownloadProgress(itemID string) (Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.items[itemID]
	if !ok {
		return Progress{}, false
	}
	return d.snapshot(), true
}

// StartDownload fetches an item's cover art and enqueues every audio file not
// already downloaded. Files recorded as downloaded are folded into the totals
// without re-fetching unless ForceRedownload is set. A destination file that
// exists on disk without a downloaded record fails fast unless forced.
func (m *Manager) StartDownload(ctx context.Context, item *models.LibraryItem, serverURL, token string, onProgress ProgressFunc, opts StartOptions) error {
	if len(item.Files) == 0 {
		return fmt.Errorf("%w: item %s has no audio files", shared.ErrInvalidInput, item.ID)
	}

	d := &itemDownload{
		itemID:     item.ID,
		title:      item.Title,
		status:     StatusDownloading,
		tasks:      make(map[string]*fileTask),
		speed:      NewSpeedTracker(m.clock),
		onProgress: onProgress,
	}

	roots := m.storage.Roots()
	var pending []models.AudioFile
	for _, f := range item.Files {
		rel := filepath.Join(item.ID, f.RelPath)

		rec, err := m.repo.Get(f.ID)
		if err != nil && !errors.Is(err, shared.ErrDownloadNotFound) {
			return err
		}
		if rec != nil && rec.IsDownloaded && !opts.ForceRedownload {
			d.storedFiles++
			d.storedBytes += rec.Size
			continue
		}

		dest := roots.Abs(models.StorageHot, rel)
		if !opts.ForceRedownload {
			if fi, statErr := os.Stat(dest); statErr == nil && !fi.IsDir() {
				return fmt.Errorf("%w: %s", shared.ErrFileExists, dest)
			}
		}

		d.tasks[f.ID] = &fileTask{fileID: f.ID, relPath: rel, size: f.Size}
		pending = append(pending, f)
	}

	m.mu.Lock()
	if existing, ok := m.items[item.ID]; ok && !existing.status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: download already active for %s", shared.ErrInvalidInput, item.ID)
	}
	m.items[item.ID] = d
	m.mu.Unlock()

	// Cover art comes down before any audio bytes so the UI has something to
	// show immediately. Failure is logged, never fatal, and the bytes are
	// outside the progress totals.
	if item.CoverPath != "" {
		if err := m.fetchCover(ctx, item, serverURL, token); err != nil {
			m.logger.Warn("cover art fetch failed", "item", item.ID, "error", err)
		}
	}

	if len(pending) == 0 {
		m.mu.Lock()
		d.status = StatusCompleted
		m.emitLocked(item.ID, true)
		m.mu.Unlock()
		return nil
	}

	for _, f := range pending {
		ft := d.tasks[f.ID]
		taskID, err := m.scheduler.Enqueue(ctx, TaskSpec{
			ItemID:     item.ID,
			FileID:     f.ID,
			URL:        fileURL(serverURL, item.ID, f.ID, token),
			DestPath:   roots.Abs(models.StorageHot, ft.relPath),
			TotalBytes: f.Size,
		})
		if err != nil {
			m.Cancel(item.ID)
			return fmt.Errorf("failed to enqueue %s: %w", f.ID, err)
		}
		m.mu.Lock()
		ft.taskID = taskID
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.emitLocked(item.ID, true)
	m.mu.Unlock()
	return nil
}

// Pause suspends an item's live tasks, keeping partial bytes on disk.
func (m *Manager) Pause(itemID string) error {
	m.mu.Lock()
	d, ok := m.items[itemID]
	if !ok || d.status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: no active download for %s", shared.ErrDownloadNotFound, itemID)
	}
	ids := liveTaskIDs(d)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.scheduler.Pause(id); err != nil {
			return err
		}
	}
	return nil
}

// Resume restarts an item's paused tasks from their partial bytes.
func (m *Manager) Resume(itemID string) error {
	m.mu.Lock()
	d, ok := m.items[itemID]
	if !ok || d.status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: no active download for %s", shared.ErrDownloadNotFound, itemID)
	}
	var ids []string
	for _, ft := range d.tasks {
		if ft.state == TaskPaused && ft.taskID != "" {
			ids = append(ids, ft.taskID)
		}
	}
	d.status = StatusDownloading
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.scheduler.Resume(id); err != nil {
			return err
		}
	}
	return nil
}

// Cancel stops an item's download and drops its in-memory tracking. Partial
// files are left behind for the transfer backend's cleanup; completed files
// keep their records.
func (m *Manager) Cancel(itemID string) error {
	m.mu.Lock()
	d, ok := m.items[itemID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: no download for %s", shared.ErrDownloadNotFound, itemID)
	}
	var ids []string
	for _, ft := range d.tasks {
		if !ft.state.Terminal() && ft.taskID != "" {
			ids = append(ids, ft.taskID)
		}
	}
	d.status = StatusCancelled
	m.emitLocked(itemID, true)
	delete(m.items, itemID)
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.scheduler.Cancel(id); err != nil {
			m.logger.Warn("task cancel failed", "task", id, "error", err)
		}
	}
	return nil
}

// DeleteDownloadedItem cancels any live download and removes the item's files
// and records from both tiers.
func (m *Manager) DeleteDownloadedItem(itemID string) error {
	m.mu.Lock()
	_, active := m.items[itemID]
	m.mu.Unlock()
	if active {
		if err := m.Cancel(itemID); err != nil {
			return err
		}
	}
	return m.storage.DeleteItemFiles(itemID)
}

// RestoreExistingDownloads reattaches to tasks that survived a restart. Done
// tasks have their store rows verified (a crash between rename and store
// write is healed here), paused tasks contribute their partial bytes to the
// aggregate and are resumed. Returns the restored item IDs.
func (m *Manager) RestoreExistingDownloads(ctx context.Context) ([]string, error) {
	byItem := make(map[string][]Task)
	for _, t := range m.scheduler.Tasks() {
		byItem[t.ItemID] = append(byItem[t.ItemID], t)
	}

	roots := m.storage.Roots()
	var restored []string
	for itemID, tasks := range byItem {
		d := &itemDownload{
			itemID: itemID,
			title:  itemID,
			status: StatusDownloading,
			tasks:  make(map[string]*fileTask),
			speed:  NewSpeedTracker(m.clock),
		}

		var resume []string
		for _, t := range tasks {
			rel, err := filepath.Rel(roots.Hot, t.DestPath)
			if err != nil {
				rel = filepath.Join(itemID, filepath.Base(t.DestPath))
			}
			ft := &fileTask{
				taskID:  t.ID,
				fileID:  t.FileID,
				relPath: rel,
				size:    t.TotalBytes,
				bytes:   t.Bytes,
				state:   t.State,
			}
			d.tasks[t.FileID] = ft

			switch t.State {
			case TaskDone:
				if err := m.ensureStored(itemID, ft); err != nil {
					m.logger.Warn("store heal failed", "file", t.FileID, "error", err)
				}
			case TaskPaused:
				resume = append(resume, t.ID)
			}
		}

		// Files finished in earlier runs whose tasks are gone still count.
		recs, err := m.repo.ListByItem(itemID)
		if err != nil {
			return restored, err
		}
		for _, rec := range recs {
			if !rec.IsDownloaded {
				continue
			}
			if _, tasked := d.tasks[rec.FileID]; tasked {
				continue
			}
			d.storedFiles++
			d.storedBytes += rec.Size
			if d.title == itemID && rec.Title != "" {
				d.title = rec.Title
			}
		}

		m.mu.Lock()
		m.items[itemID] = d
		m.emitLocked(itemID, true)
		m.mu.Unlock()

		for _, id := range resume {
			if err := m.scheduler.Resume(id); err != nil {
				m.logger.Warn("task resume failed", "task", id, "error", err)
			}
		}
		restored = append(restored, itemID)
	}
	return restored, nil
}

func (m *Manager) loop() {
	for ev := range m.scheduler.Events() {
		m.handleEvent(ev)
	}
	close(m.loopDone)
}

func (m *Manager) handleEvent(ev TaskEvent) {
	m.mu.Lock()

	d, ok := m.items[ev.ItemID]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("event for untracked item", "item", ev.ItemID, "file", ev.FileID)
		return
	}
	ft, ok := d.tasks[ev.FileID]
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("event for untracked file", "item", ev.ItemID, "file", ev.FileID)
		return
	}

	wasDone := ft.state == TaskDone
	ft.state = ev.State
	if ev.Bytes > ft.bytes {
		ft.bytes = ev.Bytes
	}
	if ft.size == 0 && ev.TotalBytes > 0 {
		ft.size = ev.TotalBytes
	}

	var cascade []string
	if ev.State == TaskDone && !wasDone {
		// The store row lands before the file counts as downloaded anywhere.
		ft.bytes = ev.Bytes
		if ft.size == 0 {
			ft.size = ev.Bytes
		}
		if err := m.ensureStored(d.itemID, ft); err != nil {
			m.logger.Error("failed to record download", "file", ft.fileID, "error", err)
		}
	}

	prev := d.status
	switch {
	case d.status.Terminal():
		// Stragglers from a failure cascade; state already settled.
	case ev.State == TaskFailed:
		d.status = StatusFailed
		if ev.Err != nil {
			d.errMsg = ev.Err.Error()
		}
		for _, other := range d.tasks {
			if !other.state.Terminal() && other.taskID != "" && other.fileID != ft.fileID {
				cascade = append(cascade, other.taskID)
			}
		}
	case d.allDone():
		d.status = StatusCompleted
	case d.allSettled():
		d.status = StatusPaused
	default:
		d.status = StatusDownloading
	}

	var total int64 = d.storedBytes
	for _, t := range d.tasks {
		total += t.bytes
	}
	d.speed.Sample(total)

	m.emitLocked(ev.ItemID, d.status != prev || d.status.Terminal())
	m.mu.Unlock()

	for _, id := range cascade {
		if err := m.scheduler.Cancel(id); err != nil {
			m.logger.Warn("cascade cancel failed", "task", id, "error", err)
		}
	}
}

// emitLocked snapshots the item and fans the snapshot out to callbacks.
// Callers hold m.mu; callbacks run after it is released via a goroutine-free
// handoff below. Progress updates are debounced; forced updates (first,
// status changes, terminal) always go out.
func (m *Manager) emitLocked(itemID string, force bool) {
	d, ok := m.items[itemID]
	if !ok {
		return
	}

	now := m.clock.Now()
	if !force && d.emitted && now.Sub(d.lastEmit) < m.debounce {
		return
	}
	d.emitted = true
	d.lastEmit = now

	p := d.snapshot()
	fns := make([]ProgressFunc, 0, len(m.subscribers)+1)
	if d.onProgress != nil {
		fns = append(fns, d.onProgress)
	}
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}

	// Callbacks must not run under m.mu: they may call back into the manager.
	m.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
	m.mu.Lock()
}

// ensureStored upserts the download row for a finished file and flags it for
// backup exclusion.
func (m *Manager) ensureStored(itemID string, ft *fileTask) error {
	rec, err := m.repo.Get(ft.fileID)
	if err != nil && !errors.Is(err, shared.ErrDownloadNotFound) {
		return err
	}
	if rec != nil && rec.IsDownloaded {
		return nil
	}

	size := ft.size
	if size == 0 {
		size = ft.bytes
	}
	newRec := &models.DownloadRecord{
		FileID:          ft.fileID,
		LibraryItemID:   itemID,
		Title:           filepath.Base(ft.relPath),
		IsDownloaded:    true,
		DownloadPath:    ft.relPath,
		StorageLocation: models.StorageHot,
		Size:            size,
	}
	if err := m.repo.MarkDownloaded(newRec); err != nil {
		return err
	}

	m.storage.ExcludeFromBackup(m.storage.Roots().Abs(models.StorageHot, ft.relPath))
	return nil
}

// fetchCover downloads the item's cover image into the item's hot directory.
func (m *Manager) fetchCover(ctx context.Context, item *models.LibraryItem, serverURL, token string) error {
	url := strings.TrimRight(serverURL, "/") + item.CoverPath
	if token != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "token=" + token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: cover status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	dest := m.storage.Roots().Abs(models.StorageHot, filepath.Join(item.ID, "cover.jpg"))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

func liveTaskIDs(d *itemDownload) []string {
	var ids []string
	for _, ft := range d.tasks {
		if (ft.state == TaskPending || ft.state == TaskRunning) && ft.taskID != "" {
			ids = append(ids, ft.taskID)
		}
	}
	return ids
}

func fileURL(serverURL, itemID, fileID, token string) string {
	url := fmt.Sprintf("%s/api/items/%s/file/%s", strings.TrimRight(serverURL, "/"), itemID, fileID)
	if token != "" {
		url += "?token=" + token
	}
	return url
}
