package main

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/evanmccall/absync/internal/shared"
	tu "github.com/evanmccall/absync/internal/testing"
)

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			clock := &shared.FixedClock{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Clock:      clock,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.clock != clock {
				t.Error("expected clock to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config: nil,
			})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Logger: nil,
			})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Output: nil,
			})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				HTTPClient: nil,
			})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})

		t.Run("with nil clock uses system clock", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Clock: nil,
			})

			if _, ok := runner.clock.(shared.SystemClock); !ok {
				t.Errorf("expected system clock, got %T", runner.clock)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("hello %s", "world")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("writes plain text without formatting", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlain("simple text")

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "simple text" {
				t.Errorf("expected 'simple text', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: tu.FWriter{}})

			err := runner.writePlain("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("writePlainln", func(t *testing.T) {
		t.Run("wraps the line in newlines", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			err := runner.writePlainln("synced %d sessions", 3)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if result != "\nsynced 3 sessions\n" {
				t.Errorf("expected wrapped line, got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: tu.FWriter{}})

			err := runner.writePlainln("test")

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		if len(commands) == 0 {
			t.Error("expected at least one command to be registered")
		}

		for i, cmd := range commands {
			if cmd == nil {
				t.Errorf("command at index %d is nil", i)
			}
		}
	})

	t.Run("openCore", func(t *testing.T) {
		t.Run("rejects missing server config", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Server.BaseURL = ""
			config.Server.Token = ""
			runner := NewRunner(RunnerOpts{Config: config})

			_, err := runner.openCore()

			if !errors.Is(err, shared.ErrMissingConfig) {
				t.Errorf("expected missing config error, got %v", err)
			}
		})

		t.Run("rejects missing user", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Server.BaseURL = "http://localhost:13378"
			config.Server.Token = "tok"
			config.Server.UserID = ""
			runner := NewRunner(RunnerOpts{Config: config})

			_, err := runner.openCore()

			if !errors.Is(err, shared.ErrMissingUser) {
				t.Errorf("expected missing user error, got %v", err)
			}
		})

		t.Run("wires the stack from config", func(t *testing.T) {
			base := t.TempDir()
			config := shared.DefaultConfig()
			config.Server.BaseURL = "http://localhost:13378"
			config.Server.Token = "tok"
			config.Server.UserID = "u1"
			config.Database.Path = filepath.Join(base, "absync.db")
			config.Storage.HotRoot = filepath.Join(base, "hot")
			config.Storage.ColdRoot = filepath.Join(base, "cold")
			config.Downloads.JournalPath = filepath.Join(base, "downloads.json")
			runner := NewRunner(RunnerOpts{Config: config})

			c, err := runner.openCore()
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			defer c.close()

			if c.sessions == nil || c.files == nil || c.progress == nil {
				t.Error("expected repositories to be wired")
			}
			if c.service == nil || c.storage == nil || c.manager == nil || c.rec == nil {
				t.Error("expected services and managers to be wired")
			}
			if _, err := os.Stat(config.Storage.HotRoot); err != nil {
				t.Errorf("expected hot root to be created: %v", err)
			}
		})
	})
}
