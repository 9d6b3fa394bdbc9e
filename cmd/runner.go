package main

import (
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/evanmccall/absync/internal/downloads"
	"github.com/evanmccall/absync/internal/reconciler"
	"github.com/evanmccall/absync/internal/repositories"
	"github.com/evanmccall/absync/internal/services"
	"github.com/evanmccall/absync/internal/shared"
	"github.com/evanmccall/absync/internal/storage"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	clock      shared.Clock
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Clock      shared.Clock
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Clock == nil {
		opts.Clock = shared.SystemClock{}
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		clock:      opts.Clock,
	}
}

// core is the assembled sync stack behind every command that touches state.
type core struct {
	db        *sql.DB
	sessions  *repositories.SessionRepository
	files     *repositories.DownloadRepository
	progress  *repositories.ProgressRepository
	service   *services.ProgressClient
	network   services.NetworkMonitor
	storage   *storage.Manager
	scheduler *downloads.HTTPScheduler
	manager   *downloads.Manager
	rec       *reconciler.Reconciler
}

func (c *core) close() {
	if c.manager != nil {
		if err := c.manager.Close(); err != nil {
			// the journal is already persisted; nothing to recover
			_ = err
		}
	}
	if c.db != nil {
		c.db.Close()
	}
}

// openCore wires the repositories, services, and managers from config.
// Callers own the returned core and must close it.
func (r *Runner) openCore() (*core, error) {
	cfg := r.config
	if cfg.Server.BaseURL == "" || cfg.Server.Token == "" {
		return nil, fmt.Errorf("%w: server base_url and token are required, run setup first", shared.ErrMissingConfig)
	}
	if cfg.Server.UserID == "" {
		return nil, fmt.Errorf("%w: server user_id is required", shared.ErrMissingUser)
	}

	db, err := shared.NewDatabase(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	service, err := services.NewProgressClient(cfg.Server.BaseURL, cfg.Server.Token, r.httpClient)
	if err != nil {
		db.Close()
		return nil, err
	}

	network := services.StaticNetwork{IsOnline: true, IsMetered: cfg.Server.Metered}

	roots := storage.Roots{Hot: cfg.Storage.HotRoot, Cold: cfg.Storage.ColdRoot}
	if err := roots.EnsureDirs(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create storage roots: %w", err)
	}

	c := &core{
		db:       db,
		sessions: repositories.NewSessionRepository(db, r.clock),
		files:    repositories.NewDownloadRepository(db, r.clock),
		progress: repositories.NewProgressRepository(db),
		service:  service,
		network:  network,
	}

	c.storage = storage.NewManager(storage.ManagerOpts{
		Downloads:  c.files,
		Progress:   c.progress,
		Roots:      roots,
		Clock:      r.clock,
		Logger:     r.logger,
		Inactivity: time.Duration(cfg.Storage.InactivityDays) * 24 * time.Hour,
	})

	journal := cfg.Downloads.JournalPath
	if journal == "" {
		journal = filepath.Join(filepath.Dir(cfg.Database.Path), "downloads.json")
	}
	c.scheduler, err = downloads.NewHTTPScheduler(journal, cfg.Downloads.Concurrency, r.httpClient, r.logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	c.manager = downloads.NewManager(downloads.ManagerOpts{
		Scheduler:  c.scheduler,
		Repo:       c.files,
		Storage:    c.storage,
		HTTPClient: r.httpClient,
		Logger:     r.logger,
		Clock:      r.clock,
	})

	c.rec, err = reconciler.New(reconciler.Opts{
		Sessions:         c.sessions,
		Progress:         c.progress,
		Service:          service,
		Network:          network,
		Clock:            r.clock,
		Logger:           r.logger,
		UserID:           cfg.Server.UserID,
		PauseTimeout:     time.Duration(cfg.Sync.PauseTimeout) * time.Second,
		SweepInterval:    time.Duration(cfg.Sync.SweepInterval) * time.Second,
		PlayingUnmetered: time.Duration(cfg.Sync.PlayingUnmetered) * time.Second,
		PlayingMetered:   time.Duration(cfg.Sync.PlayingMetered) * time.Second,
		RateLimit:        cfg.Sync.RateLimit,
	})
	if err != nil {
		c.close()
		return nil, err
	}

	return c, nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
