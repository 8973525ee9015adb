// Package playback schedules received PCM chunks for gapless playout on an
// output audio device.
//
// The [Output] interface is a playback device with a monotonic sample clock;
// a hardware-backed implementation using miniaudio lives in this package
// ([NewMalgoOutput]), and playback/mock provides an in-memory one for tests.
//
// The [Scheduler] keeps the single piece of state that makes streamed speech
// sound continuous: the clock time through which audio has already been
// scheduled. Chunks arrive faster than real time, so each one is placed
// immediately after the previous one rather than at "now".
package playback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avelops/voxnote/pkg/pcm"
)

// DefaultOutputRate is the playout sample rate in Hz. The remote model
// synthesises speech at this rate; playing at anything else shifts pitch and
// speed, so it is a hard contract rather than a negotiated value.
const DefaultOutputRate = 24000

// ErrTornDown is returned by [Scheduler.Enqueue] after [Scheduler.Teardown].
var ErrTornDown = errors.New("playback: scheduler torn down")

// Output is a playback device with a monotonic clock.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Schedule queues pcm (little-endian int16 mono) to start playing at
	// the given clock time. The returned Source represents the chunk until
	// it finishes or is stopped.
	Schedule(pcm []byte, at time.Duration) (Source, error)

	// Close releases the output device. Scheduled audio is discarded.
	Close() error
}

// Source is one scheduled chunk of audio.
type Source interface {
	// Stop silences the source immediately. Idempotent.
	Stop()

	// Done is closed when the source has finished playing or was stopped.
	Done() <-chan struct{}
}

// Scheduler places incoming chunks back to back on an [Output]'s clock.
//
// Enqueue schedules each chunk at max(scheduledUntil, clock now) and advances
// scheduledUntil by exactly the chunk's duration, which yields gapless,
// non-overlapping, in-order playout. Interrupt stops everything in flight and
// resets scheduledUntil to now, so the next chunk starts immediately instead
// of at the stale future time.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out  Output
	rate int

	mu             sync.Mutex
	scheduledUntil time.Duration
	active         map[Source]struct{}
	torn           bool

	scheduled   atomic.Uint64
	interrupted atomic.Uint64
}

// NewScheduler creates a Scheduler playing out through out at sampleRate Hz.
func NewScheduler(out Output, sampleRate int) *Scheduler {
	return &Scheduler{
		out:    out,
		rate:   sampleRate,
		active: make(map[Source]struct{}),
	}
}

// Enqueue schedules one PCM chunk for playout. Empty chunks are ignored.
func (s *Scheduler) Enqueue(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return ErrTornDown
	}
	start := s.scheduledUntil
	if now := s.out.Now(); now > start {
		start = now
	}
	src, err := s.out.Schedule(chunk, start)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("playback: schedule chunk: %w", err)
	}
	s.scheduledUntil = start + pcm.Duration(len(chunk), s.rate)
	s.active[src] = struct{}{}
	s.mu.Unlock()

	s.scheduled.Add(1)

	// Natural completion removes the source from the active set. Done is
	// also closed on Stop, so this never leaks past teardown.
	go func() {
		<-src.Done()
		s.mu.Lock()
		delete(s.active, src)
		s.mu.Unlock()
	}()
	return nil
}

// Interrupt stops every in-flight source and resets the schedule to the
// clock's current position. Called when the remote model is cut off
// mid-utterance; the stale audio must stop now, not play out.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	sources := make([]Source, 0, len(s.active))
	for src := range s.active {
		sources = append(sources, src)
	}
	clear(s.active)
	s.scheduledUntil = s.out.Now()
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	s.interrupted.Add(1)
}

// Teardown stops all in-flight audio and releases the output device.
// Idempotent; Enqueue fails with [ErrTornDown] afterwards.
func (s *Scheduler) Teardown() error {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return nil
	}
	s.torn = true
	sources := make([]Source, 0, len(s.active))
	for src := range s.active {
		sources = append(sources, src)
	}
	clear(s.active)
	s.mu.Unlock()

	for _, src := range sources {
		src.Stop()
	}
	if err := s.out.Close(); err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}

// Scheduled returns the number of chunks handed to the output.
func (s *Scheduler) Scheduled() uint64 { return s.scheduled.Load() }

// Interrupts returns the number of times playout was interrupted.
func (s *Scheduler) Interrupts() uint64 { return s.interrupted.Load() }

// ActiveCount returns the number of sources scheduled but not yet finished.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
