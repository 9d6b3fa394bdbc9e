package downloads

import (
	"time"

	"github.com/evanmccall/absync/internal/shared"
)

// defaultSmoothing weights recent samples at 30%: responsive enough to show
// throughput changes, stable enough not to flicker in a progress UI.
const defaultSmoothing = 0.3

// SpeedTracker estimates transfer throughput with an exponential moving
// average over byte-count samples. Not safe for concurrent use; the manager
// serializes all updates through its event loop.
type SpeedTracker struct {
	alpha     float64
	ema       float64 // bytes per second
	lastBytes int64
	lastAt    time.Time
	clock     shared.Clock
}

// NewSpeedTracker creates a tracker with the default smoothing factor.
func NewSpeedTracker(clock shared.Clock) *SpeedTracker {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &SpeedTracker{alpha: defaultSmoothing, clock: clock}
}

// Sample feeds the current cumulative byte count into the average.
func (t *SpeedTracker) Sample(totalBytes int64) {
	now := t.clock.Now()

	if t.lastAt.IsZero() {
		t.lastAt = now
		t.lastBytes = totalBytes
		return
	}

	elapsed := now.Sub(t.lastAt).Seconds()
	if elapsed <= 0 {
		return
	}

	delta := totalBytes - t.lastBytes
	if delta < 0 {
		// Counter reset (restore after restart); restart the average.
		t.lastAt = now
		t.lastBytes = totalBytes
		t.ema = 0
		return
	}

	instant := float64(delta) / elapsed
	if t.ema == 0 {
		t.ema = instant
	} else {
		t.ema = t.alpha*instant + (1-t.alpha)*t.ema
	}

	t.lastAt = now
	t.lastBytes = totalBytes
}

// BytesPerSecond returns the smoothed throughput estimate.
func (t *SpeedTracker) BytesPerSecond() float64 {
	return t.ema
}
