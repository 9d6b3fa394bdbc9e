// package shared defines shared helpers
package shared

import (
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// Clock provides the current time to components that evaluate timeouts lazily.
// Injecting a Clock keeps staleness and tier-inactivity policies testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the actual system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock returns a settable time, for tests.
type FixedClock struct {
	Current time.Time
}

// Now returns the fixed time.
func (f *FixedClock) Now() time.Time { return f.Current }

// Advance moves the fixed clock forward by d.
func (f *FixedClock) Advance(d time.Duration) { f.Current = f.Current.Add(d) }
