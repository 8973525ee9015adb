// Package mock provides in-memory mock implementations of the
// [playback.Output] and [playback.Source] interfaces for use in unit tests.
//
// The Output's clock is manual: tests move it with [Output.SetNow]. Every
// Schedule call is recorded with its chunk and requested start time, and the
// handed-out Sources can be finished or inspected individually.
package mock

import (
	"sync"
	"time"

	"github.com/avelops/voxnote/pkg/playback"
)

// ScheduleCall records the arguments of a single Schedule invocation.
type ScheduleCall struct {
	// PCM is the chunk passed to Schedule.
	PCM []byte

	// At is the requested start time on the output clock.
	At time.Duration
}

// Output is a mock implementation of [playback.Output].
type Output struct {
	mu sync.Mutex

	// ScheduleError is returned by Schedule. When set, no source is created.
	ScheduleError error

	// ScheduleCalls records all Schedule invocations.
	ScheduleCalls []ScheduleCall

	// Sources holds every source handed out, in schedule order.
	Sources []*Source

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now time.Duration
}

// SetNow moves the output clock to d.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Now implements [playback.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [playback.Output].
func (o *Output) Schedule(pcm []byte, at time.Duration) (playback.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ScheduleCalls = append(o.ScheduleCalls, ScheduleCall{PCM: pcm, At: at})
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	src := &Source{done: make(chan struct{})}
	o.Sources = append(o.Sources, src)
	return src, nil
}

// ScheduleCount returns the number of Schedule calls recorded so far.
func (o *Output) ScheduleCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ScheduleCalls)
}

// Source returns the i'th source handed out.
func (o *Output) Source(i int) *Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Sources[i]
}

// Close implements [playback.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return nil
}

// Source is a mock implementation of [playback.Source].
type Source struct {
	mu sync.Mutex

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	finished bool
	done     chan struct{}
}

// Stop implements [playback.Source].
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	s.finishLocked()
}

// Done implements [playback.Source].
func (s *Source) Done() <-chan struct{} { return s.done }

// Finish simulates the source completing playout naturally.
func (s *Source) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
}

// Stopped reports whether Stop was called at least once.
func (s *Source) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop > 0
}

func (s *Source) finishLocked() {
	if !s.finished {
		s.finished = true
		close(s.done)
	}
}
