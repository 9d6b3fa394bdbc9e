// Package playback coordinates the audio transport with sessions, storage
// tiers, and the sync engine. The transport itself (actual audio output) is
// supplied by the host application; this package decides what to queue, where
// to start, and what to record.
package playback

import (
	"fmt"
	"sync"

	"github.com/evanmccall/absync/internal/shared"
)

// TransportState is the coarse state of the audio transport.
type TransportState int

const (
	StateIdle TransportState = iota
	StatePlaying
	StatePaused
)

func (s TransportState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Track is one queued audio source: a local file path for downloaded items,
// a token-bearing stream URL for streamed ones.
type Track struct {
	Index       int
	URL         string
	Duration    float64
	StartOffset float64 // seconds from the start of the whole item
}

// Transport is the host-supplied audio backend.
type Transport interface {
	// Queue replaces the track list and seeks to startAt, in whole-item seconds.
	Queue(tracks []Track, startAt float64) error
	Play() error
	Pause() error
	// Seek moves to a whole-item position in seconds.
	Seek(position float64) error
	SetRate(rate float64) error
	// Position reports the current whole-item position in seconds.
	Position() (float64, error)
	State() TransportState
	// Reinitialize tears down and rebuilds the backend after an
	// unrecoverable player error, keeping the queue.
	Reinitialize() error
}

// MemoryTransport is a transport with no audio output: position only moves
// via Seek. It backs tests and the CLI, where the coordinator's bookkeeping
// is the point and sound is not.
type MemoryTransport struct {
	mu       sync.Mutex
	tracks   []Track
	position float64
	rate     float64
	state    TransportState
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{rate: 1.0}
}

func (t *MemoryTransport) Queue(tracks []Track, startAt float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(tracks) == 0 {
		return fmt.Errorf("%w: empty track list", shared.ErrInvalidInput)
	}
	t.tracks = tracks
	t.position = startAt
	t.state = StatePaused
	return nil
}

func (t *MemoryTransport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tracks) == 0 {
		return fmt.Errorf("%w: nothing queued", shared.ErrInvalidInput)
	}
	t.state = StatePlaying
	return nil
}

func (t *MemoryTransport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StatePlaying {
		t.state = StatePaused
	}
	return nil
}

func (t *MemoryTransport) Seek(position float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if position < 0 {
		position = 0
	}
	t.position = position
	return nil
}

func (t *MemoryTransport) SetRate(rate float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rate <= 0 {
		return fmt.Errorf("%w: rate must be positive", shared.ErrInvalidArgument)
	}
	t.rate = rate
	return nil
}

func (t *MemoryTransport) Position() (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position, nil
}

func (t *MemoryTransport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *MemoryTransport) Reinitialize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateIdle
	return nil
}
