package downloads

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/evanmccall/absync/internal/shared"
)

const (
	journalVersion = 1
	partSuffix     = ".part"
	copyBufSize    = 32 * 1024
	// progressEvery bounds how often a running task reports byte counts.
	progressEvery = 250 * time.Millisecond
)

// journalFile is the on-disk form of the scheduler's task list. It is what
// lets transfers survive process restarts: byte counts are not journaled,
// they are recovered from the .part files themselves.
type journalFile struct {
	Version int    `json:"version"`
	Tasks   []Task `json:"tasks"`
}

type schedTask struct {
	Task
	cancel context.CancelFunc
}

// HTTPScheduler transfers files over ranged HTTP requests, bounded by a
// concurrency limit, journaling task specs so they survive restarts.
type HTTPScheduler struct {
	client      *http.Client
	journalPath string
	logger      *log.Logger
	sem         chan struct{}
	events      chan TaskEvent
	done        chan struct{}

	mu     sync.Mutex
	tasks  map[string]*schedTask
	closed bool
	wg     sync.WaitGroup
}

// NewHTTPScheduler creates a scheduler persisting its task list at
// journalPath. Tasks journaled as running by a dead process come back paused,
// with byte counts recovered from their partial files.
func NewHTTPScheduler(journalPath string, concurrency int, client *http.Client, logger *log.Logger) (*HTTPScheduler, error) {
	if concurrency <= 0 {
		concurrency = 3
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	s := &HTTPScheduler{
		client:      client,
		journalPath: journalPath,
		logger:      shared.WithLogger(logger, "component", "scheduler"),
		sem:         make(chan struct{}, concurrency),
		events:      make(chan TaskEvent, 256),
		done:        make(chan struct{}),
		tasks:       make(map[string]*schedTask),
	}

	if err := s.loadJournal(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *HTTPScheduler) loadJournal() error {
	data, err := os.ReadFile(s.journalPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read task journal: %w", err)
	}

	var jf journalFile
	if err := json.Unmarshal(data, &jf); err != nil {
		return fmt.Errorf("failed to parse task journal: %w", err)
	}

	for _, t := range jf.Tasks {
		switch t.State {
		case TaskRunning, TaskPending:
			// The transfer died with the process; it can resume from its
			// partial bytes once reattached.
			t.State = TaskPaused
		case TaskCancelled:
			continue
		}
		t.Bytes = partSize(t.DestPath)
		if t.State == TaskDone {
			if fi, err := os.Stat(t.DestPath); err == nil {
				t.Bytes = fi.Size()
			}
		}
		task := t
		s.tasks[task.ID] = &schedTask{Task: task}
	}

	return nil
}

// persistJournal writes the task list atomically. Callers hold s.mu.
func (s *HTTPScheduler) persistJournal() {
	if s.journalPath == "" {
		return
	}

	jf := journalFile{Version: journalVersion}
	for _, t := range s.tasks {
		jf.Tasks = append(jf.Tasks, t.Task)
	}

	data, err := json.MarshalIndent(jf, "", "  ")
	if err != nil {
		s.logger.Error("failed to marshal task journal", "error", err)
		return
	}

	tmp := s.journalPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		s.logger.Error("failed to write task journal", "error", err)
		return
	}
	if err := os.Rename(tmp, s.journalPath); err != nil {
		s.logger.Error("failed to replace task journal", "error", err)
	}
}

func partSize(destPath string) int64 {
	fi, err := os.Stat(destPath + partSuffix)
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Enqueue registers a transfer and starts it.
func (s *HTTPScheduler) Enqueue(ctx context.Context, spec TaskSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", fmt.Errorf("scheduler closed")
	}

	id := shared.GenerateID()
	st := &schedTask{Task: Task{ID: id, TaskSpec: spec, State: TaskPending}}
	s.tasks[id] = st
	s.persistJournal()

	s.startLocked(st)
	return id, nil
}

// startLocked launches the transfer goroutine for a pending task. Callers hold s.mu.
func (s *HTTPScheduler) startLocked(st *schedTask) {
	runCtx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx, st.ID)
}

// Pause stops a task's transfer, keeping its partial bytes.
func (s *HTTPScheduler) Pause(taskID string) error {
	s.mu.Lock()

	st, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown task: %s", taskID)
	}
	if st.State != TaskPending && st.State != TaskRunning {
		s.mu.Unlock()
		return nil
	}

	st.State = TaskPaused
	running := st.cancel != nil
	if running {
		st.cancel()
		st.cancel = nil
	}
	ev := TaskEvent{TaskID: st.ID, ItemID: st.ItemID, FileID: st.FileID,
		Bytes: st.Bytes, TotalBytes: st.TotalBytes, State: TaskPaused}
	s.persistJournal()
	s.mu.Unlock()

	// A running transfer reports its own pause when its context unwinds; a
	// task that never started has nobody else to report for it.
	if !running {
		s.emit(ev)
	}
	return nil
}

// Resume restarts a paused task from its partial bytes.
func (s *HTTPScheduler) Resume(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("unknown task: %s", taskID)
	}
	if st.State != TaskPaused {
		return nil
	}

	st.State = TaskPending
	s.persistJournal()
	s.startLocked(st)
	return nil
}

// Cancel stops a task and drops it from the journal. Partial bytes stay on
// disk for the platform to reclaim.
func (s *HTTPScheduler) Cancel(taskID string) error {
	s.mu.Lock()

	st, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown task: %s", taskID)
	}

	st.State = TaskCancelled
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	delete(s.tasks, taskID)
	ev := TaskEvent{TaskID: st.ID, ItemID: st.ItemID, FileID: st.FileID,
		Bytes: st.Bytes, TotalBytes: st.TotalBytes, State: TaskCancelled}
	s.persistJournal()
	s.mu.Unlock()

	// The task is already out of the map, so the transfer goroutine cannot
	// report for it; always emit here.
	s.emit(ev)
	return nil
}

// Tasks returns a snapshot of the surviving task list.
func (s *HTTPScheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, st := range s.tasks {
		tasks = append(tasks, st.Task)
	}
	return tasks
}

// Events returns the event stream.
func (s *HTTPScheduler) Events() <-chan TaskEvent {
	return s.events
}

// Close stops all transfers and closes the event stream.
func (s *HTTPScheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	for _, st := range s.tasks {
		if st.cancel != nil {
			st.cancel()
			st.cancel = nil
		}
	}
	s.persistJournal()
	s.mu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

func (s *HTTPScheduler) emit(ev TaskEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// run performs one task's transfer until completion, pause, cancellation, or error.
func (s *HTTPScheduler) run(ctx context.Context, taskID string) {
	defer s.wg.Done()

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		s.finishInterrupted(taskID)
		return
	}

	s.mu.Lock()
	st, ok := s.tasks[taskID]
	if !ok || st.State == TaskCancelled {
		s.mu.Unlock()
		return
	}
	st.State = TaskRunning
	spec := st.TaskSpec
	s.mu.Unlock()

	s.emit(TaskEvent{TaskID: taskID, ItemID: spec.ItemID, FileID: spec.FileID,
		Bytes: partSize(spec.DestPath), TotalBytes: spec.TotalBytes, State: TaskRunning})

	err := s.transfer(ctx, taskID, spec)

	if ctx.Err() != nil {
		s.finishInterrupted(taskID)
		return
	}

	s.mu.Lock()
	st, ok = s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if err != nil {
		st.State = TaskFailed
		st.Error = err.Error()
	} else {
		st.State = TaskDone
		st.cancel = nil
	}
	ev := TaskEvent{TaskID: taskID, ItemID: spec.ItemID, FileID: spec.FileID,
		Bytes: st.Bytes, TotalBytes: spec.TotalBytes, State: st.State, Err: err}
	s.persistJournal()
	s.mu.Unlock()

	s.emit(ev)
}

// finishInterrupted reports the pause that Pause recorded before cancelling
// the transfer context. Cancelled tasks are gone from the map (Cancel emits
// for them), and Close suppresses reporting entirely.
func (s *HTTPScheduler) finishInterrupted(taskID string) {
	s.mu.Lock()
	st, ok := s.tasks[taskID]
	var ev TaskEvent
	if ok {
		st.cancel = nil
		ev = TaskEvent{TaskID: taskID, ItemID: st.ItemID, FileID: st.FileID,
			Bytes: st.Bytes, TotalBytes: st.TotalBytes, State: st.State}
	}
	closed := s.closed
	s.mu.Unlock()

	if ok && !closed && ev.State == TaskPaused {
		s.emit(ev)
	}
}

// transfer downloads the task's URL into DestPath+".part", resuming from the
// partial file, and renames it into place on success.
func (s *HTTPScheduler) transfer(ctx context.Context, taskID string, spec TaskSpec) error {
	if err := os.MkdirAll(filepath.Dir(spec.DestPath), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	part := spec.DestPath + partSuffix
	offset := partSize(spec.DestPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Appending to the partial file.
	case http.StatusOK:
		// Server ignored the range; start over.
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		offset = 0
	default:
		return fmt.Errorf("%w: download status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	f, err := os.OpenFile(part, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}

	written := offset
	lastReport := time.Now()
	buf := make([]byte, copyBufSize)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return fmt.Errorf("failed to write partial file: %w", werr)
			}
			written += int64(n)

			s.mu.Lock()
			if st, ok := s.tasks[taskID]; ok {
				st.Bytes = written
			}
			s.mu.Unlock()

			if time.Since(lastReport) >= progressEvery {
				lastReport = time.Now()
				s.emit(TaskEvent{TaskID: taskID, ItemID: spec.ItemID, FileID: spec.FileID,
					Bytes: written, TotalBytes: spec.TotalBytes, State: TaskRunning})
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("download interrupted: %w", readErr)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close partial file: %w", err)
	}

	if err := os.Rename(part, spec.DestPath); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	return nil
}
