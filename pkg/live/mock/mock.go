// Package mock provides in-memory mock implementations of the [live.Dialer]
// and [live.Session] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values.
//
// Typical usage:
//
//	sess := mock.NewSession()
//	dialer := &mock.Dialer{DialResult: sess}
//	// ... open a controller against dialer ...
//	sess.Emit(live.Event{Type: live.EventOpened})
package mock

import (
	"context"
	"sync"

	"github.com/avelops/voxnote/pkg/live"
)

// ─── Session ──────────────────────────────────────────────────────────────────

// Session is a mock implementation of [live.Session]. Create it with
// [NewSession]; drive inbound events with [Session.Emit] and end the stream
// with [Session.CloseEvents].
type Session struct {
	mu sync.Mutex

	// StateResult is returned by [Session.State].
	StateResult live.State

	// SendAudioError is returned by [Session.SendAudio].
	SendAudioError error

	// CloseError is returned by the first [Session.Close] call.
	CloseError error

	// SentFrames records every frame passed to SendAudio.
	SentFrames [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int

	events       chan live.Event
	eventsClosed bool
}

// NewSession returns a Session with a buffered event channel ready for Emit.
func NewSession() *Session {
	return &Session{
		StateResult: live.StateConnecting,
		events:      make(chan live.Event, 64),
	}
}

// SendAudio implements [live.Session]. Records the frame.
func (s *Session) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.SentFrames = append(s.SentFrames, cp)
	return s.SendAudioError
}

// Events implements [live.Session].
func (s *Session) Events() <-chan live.Event { return s.events }

// State implements [live.Session]. Returns StateResult.
func (s *Session) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StateResult
}

// Close implements [live.Session]. The event channel is closed on the first
// call so that consumers observe session termination; subsequent calls are
// no-ops returning nil, matching the idempotency contract.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if s.CallCountClose > 1 {
		return nil
	}
	s.StateResult = live.StateClosed
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
	return s.CloseError
}

// Emit delivers ev to the session's event channel. Use this in tests to
// simulate inbound traffic. Emitting EventOpened also flips the reported
// state to Active, mirroring the real transport.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	if s.eventsClosed {
		s.mu.Unlock()
		return
	}
	if ev.Type == live.EventOpened {
		s.StateResult = live.StateActive
	}
	s.mu.Unlock()
	s.events <- ev
}

// CloseEvents closes the event channel without counting as a Close call,
// simulating a remote termination after a terminal event was emitted.
func (s *Session) CloseEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}

// SentFrameCount returns the number of frames recorded by SendAudio.
func (s *Session) SentFrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentFrames)
}

// ─── Dialer ───────────────────────────────────────────────────────────────────

// DialCall records the arguments of a single [Dialer.Dial] invocation.
type DialCall struct {
	// Config is the session configuration passed to Dial.
	Config live.Config
}

// Dialer is a mock implementation of [live.Dialer].
type Dialer struct {
	mu sync.Mutex

	// DialResult is the [live.Session] returned by Dial.
	DialResult live.Session

	// DialError is the error returned by Dial.
	DialError error

	// DialCalls records all Dial invocations.
	DialCalls []DialCall
}

// Dial implements [live.Dialer]. Records the call and returns DialResult /
// DialError.
func (d *Dialer) Dial(_ context.Context, cfg live.Config) (live.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DialCalls = append(d.DialCalls, DialCall{Config: cfg})
	if d.DialError != nil {
		return nil, d.DialError
	}
	return d.DialResult, nil
}
