package downloads

import (
	"testing"
	"time"

	"github.com/evanmccall/absync/internal/shared"
)

func TestSpeedTracker(t *testing.T) {
	t.Run("first sample only primes", func(t *testing.T) {
		clock := &shared.FixedClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		tr := NewSpeedTracker(clock)

		tr.Sample(1000)
		if tr.BytesPerSecond() != 0 {
			t.Errorf("BytesPerSecond = %v, want 0 after priming", tr.BytesPerSecond())
		}
	})

	t.Run("steady transfer converges on the rate", func(t *testing.T) {
		clock := &shared.FixedClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		tr := NewSpeedTracker(clock)

		tr.Sample(0)
		for i := int64(1); i <= 5; i++ {
			clock.Advance(time.Second)
			tr.Sample(i * 1000)
		}
		if got := tr.BytesPerSecond(); got != 1000 {
			t.Errorf("BytesPerSecond = %v, want 1000", got)
		}
	})

	t.Run("smoothing damps a burst", func(t *testing.T) {
		clock := &shared.FixedClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		tr := NewSpeedTracker(clock)

		tr.Sample(0)
		clock.Advance(time.Second)
		tr.Sample(1000)
		clock.Advance(time.Second)
		tr.Sample(3000) // instant 2000 B/s

		want := 0.3*2000 + 0.7*1000
		if got := tr.BytesPerSecond(); got != want {
			t.Errorf("BytesPerSecond = %v, want %v", got, want)
		}
	})

	t.Run("counter reset restarts the average", func(t *testing.T) {
		clock := &shared.FixedClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		tr := NewSpeedTracker(clock)

		tr.Sample(0)
		clock.Advance(time.Second)
		tr.Sample(5000)
		clock.Advance(time.Second)
		tr.Sample(100) // restore after restart

		if tr.BytesPerSecond() != 0 {
			t.Errorf("BytesPerSecond = %v, want 0 after reset", tr.BytesPerSecond())
		}

		clock.Advance(time.Second)
		tr.Sample(600)
		if got := tr.BytesPerSecond(); got != 500 {
			t.Errorf("BytesPerSecond = %v, want 500 after recovery", got)
		}
	})

	t.Run("zero elapsed is ignored", func(t *testing.T) {
		clock := &shared.FixedClock{Current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		tr := NewSpeedTracker(clock)

		tr.Sample(0)
		clock.Advance(time.Second)
		tr.Sample(1000)
		tr.Sample(9999) // same instant

		if got := tr.BytesPerSecond(); got != 1000 {
			t.Errorf("BytesPerSecond = %v, want 1000", got)
		}
	})
}
