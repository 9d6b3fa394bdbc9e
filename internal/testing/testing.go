// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/evanmccall/absync/internal/downloads"
	"github.com/evanmccall/absync/internal/models"
	"github.com/evanmccall/absync/internal/services"
	"github.com/evanmccall/absync/internal/shared"
	"github.com/evanmccall/absync/internal/storage"
)

// NewTestDB opens an in-memory database with the schema applied.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	shared.ConfigureDatabase(db, 1, 1)
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// TempRoots creates hot and cold tier roots under the test's temp directory.
func TempRoots(t *testing.T) storage.Roots {
	t.Helper()
	base := t.TempDir()
	roots := storage.Roots{Hot: base + "/hot", Cold: base + "/cold"}
	if err := roots.EnsureDirs(); err != nil {
		t.Fatalf("Failed to create tier roots: %v", err)
	}
	return roots
}

// FWriter is an io.Writer that always fails.
type FWriter struct{}

func (FWriter) Write([]byte) (int, error) {
	return 0, fmt.Errorf("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FakeProgressService is a test double for [services.ProgressService],
// recording calls and returning configured state.
type FakeProgressService struct {
	mu sync.Mutex

	UpsertErr   error
	SyncErr     error
	CloseErr    error
	FetchErr    error
	SnapshotErr error
	PlayErr     error

	// ServerID is returned by UpsertLocalSession; the request's own session
	// ID when empty, matching a server that adopts client IDs.
	ServerID string
	Progress map[string]*models.MediaProgress
	Snapshot *services.UserSnapshot
	Play     *services.PlaySession

	Upserts []*services.SessionUpsert
	Syncs   []string
	Closes  []string
}

func (f *FakeProgressService) UpsertLocalSession(_ context.Context, req *services.SessionUpsert) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpsertErr != nil {
		return "", f.UpsertErr
	}
	f.Upserts = append(f.Upserts, req)
	if f.ServerID != "" {
		return f.ServerID, nil
	}
	return req.SessionID, nil
}

func (f *FakeProgressService) SyncSession(_ context.Context, serverSessionID string, _ *services.SessionSync) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SyncErr != nil {
		return f.SyncErr
	}
	f.Syncs = append(f.Syncs, serverSessionID)
	return nil
}

func (f *FakeProgressService) CloseSession(_ context.Context, serverSessionID string, _ *services.SessionSync) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CloseErr != nil {
		return f.CloseErr
	}
	f.Closes = append(f.Closes, serverSessionID)
	return nil
}

func (f *FakeProgressService) FetchProgress(_ context.Context, libraryItemID string) (*models.MediaProgress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}
	p, ok := f.Progress[libraryItemID]
	if !ok {
		return nil, fmt.Errorf("%w: no progress for %s", shared.ErrServerSessionGone, libraryItemID)
	}
	cp := *p
	return &cp, nil
}

func (f *FakeProgressService) FetchSnapshot(context.Context) (*services.UserSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SnapshotErr != nil {
		return nil, f.SnapshotErr
	}
	if f.Snapshot == nil {
		return &services.UserSnapshot{}, nil
	}
	return f.Snapshot, nil
}

func (f *FakeProgressService) RequestPlaySession(_ context.Context, libraryItemID string) (*services.PlaySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlayErr != nil {
		return nil, f.PlayErr
	}
	if f.Play != nil {
		return f.Play, nil
	}
	return &services.PlaySession{
		ID:            "play-" + libraryItemID,
		LibraryItemID: libraryItemID,
		AudioTracks: []services.AudioTrack{
			{Index: 0, ContentURL: "https://example.test/stream/" + libraryItemID},
		},
	}, nil
}

// UpsertCount returns how many local upserts the fake has seen.
func (f *FakeProgressService) UpsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Upserts)
}

// FakeScheduler is a test double for [downloads.Scheduler]. Tasks never run;
// tests drive the event stream with Emit.
type FakeScheduler struct {
	mu     sync.Mutex
	nextID int
	tasks  map[string]downloads.Task
	events chan downloads.TaskEvent
	closed bool

	EnqueueErr error
	Paused     []string
	Resumed    []string
	Cancelled  []string
}

func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{
		tasks:  make(map[string]downloads.Task),
		events: make(chan downloads.TaskEvent, 64),
	}
}

func (f *FakeScheduler) Enqueue(_ context.Context, spec downloads.TaskSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EnqueueErr != nil {
		return "", f.EnqueueErr
	}
	f.nextID++
	id := fmt.Sprintf("task-%d", f.nextID)
	f.tasks[id] = downloads.Task{ID: id, TaskSpec: spec, State: downloads.TaskPending}
	return id, nil
}

func (f *FakeScheduler) Pause(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Paused = append(f.Paused, taskID)
	return nil
}

func (f *FakeScheduler) Resume(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resumed = append(f.Resumed, taskID)
	return nil
}

func (f *FakeScheduler) Cancel(taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, taskID)
	delete(f.tasks, taskID)
	return nil
}

func (f *FakeScheduler) Tasks() []downloads.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := make([]downloads.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		tasks = append(tasks, t)
	}
	return tasks
}

// Seed installs a task directly, for restore tests.
func (f *FakeScheduler) Seed(t downloads.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t
}

// TaskID returns the ID assigned to the task for a file, or "".
func (f *FakeScheduler) TaskID(fileID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.tasks {
		if t.FileID == fileID {
			return id
		}
	}
	return ""
}

// CancelledTasks returns the IDs passed to Cancel so far.
func (f *FakeScheduler) CancelledTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Cancelled...)
}

// ResumedTasks returns the IDs passed to Resume so far.
func (f *FakeScheduler) ResumedTasks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Resumed...)
}

// Emit pushes an event to the consumer, as a running transfer would.
func (f *FakeScheduler) Emit(ev downloads.TaskEvent) {
	f.events <- ev
}

func (f *FakeScheduler) Events() <-chan downloads.TaskEvent { return f.events }

func (f *FakeScheduler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}
