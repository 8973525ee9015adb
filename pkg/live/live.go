// Package live defines the contract for real-time duplex voice transports.
//
// A transport carries microphone audio to a remote voice model and returns a
// multiplexed stream of synthesised audio, incremental transcripts, and
// lifecycle signals. The central abstraction is [Session]: a bidirectional
// handle whose inbound side is a single ordered event channel.
//
// Implementations of [Dialer] and [Session] live in provider-specific
// subpackages (e.g., live/gemini). All implementations must be safe for
// concurrent use.
package live

import (
	"context"
	"errors"
)

// Speaker identifies which side of the conversation a transcript fragment
// belongs to.
type Speaker string

const (
	// SpeakerUser is speech recognised from the local microphone.
	SpeakerUser Speaker = "user"

	// SpeakerModel is the text form of the model's synthesised reply.
	SpeakerModel Speaker = "model"
)

// State is the lifecycle state of a [Session].
//
// Sessions move Idle → Connecting → Active → Closed, with Error reachable
// from Connecting or Active. Closed and Error are terminal.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosed
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// EventType classifies inbound events emitted by a [Session].
type EventType int

const (
	// EventOpened signals that the remote end acknowledged the session.
	// Outbound audio is accepted only after this event.
	EventOpened EventType = iota

	// EventAudioChunk carries a chunk of synthesised PCM audio.
	EventAudioChunk

	// EventPartialTranscript carries an incremental transcript fragment.
	EventPartialTranscript

	// EventTurnComplete marks the end of one utterance turn. All transcript
	// fragments for the turn have been delivered before this event.
	EventTurnComplete

	// EventInterrupted signals barge-in: the model's audio still in flight
	// is stale and playback must be flushed immediately.
	EventInterrupted

	// EventClosed signals that the session ended. Err carries the
	// classification when the remote end closed the stream; it is nil for a
	// locally requested close.
	EventClosed

	// EventError signals an unrecoverable transport error. The session is
	// terminal after this event.
	EventError
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventOpened:
		return "OPENED"
	case EventAudioChunk:
		return "AUDIO_CHUNK"
	case EventPartialTranscript:
		return "PARTIAL_TRANSCRIPT"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventClosed:
		return "CLOSED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound message from the remote voice model. Only the fields
// relevant to Type are populated.
type Event struct {
	Type EventType

	// Audio is the decoded PCM payload for EventAudioChunk.
	Audio []byte

	// SampleRate is the sample rate of Audio in Hz.
	SampleRate int

	// Speaker identifies the transcript side for EventPartialTranscript.
	Speaker Speaker

	// TextDelta is the transcript fragment for EventPartialTranscript.
	TextDelta string

	// Err carries the error for EventError, or the close classification for
	// EventClosed (nil when the close was locally requested).
	Err error
}

// Config is the session configuration supplied at dial time.
type Config struct {
	// Voice selects the prebuilt synthesised voice (e.g., "Kore").
	Voice string

	// SystemInstruction is the grounding prompt for the session, assembled
	// by the caller from its active source material.
	SystemInstruction string

	// InputSampleRate is the sample rate of outbound capture audio in Hz.
	InputSampleRate int

	// OutputSampleRate is the sample rate the model synthesises at in Hz.
	// This is a hard contract with the playback pipeline, not negotiated.
	OutputSampleRate int
}

// Sentinel errors shared by all transport implementations.
var (
	// ErrClosed is returned by [Session.SendAudio] once the session has
	// reached a terminal state.
	ErrClosed = errors.New("live: session closed")

	// ErrHandshakeRejected classifies a remote close that happened within
	// the handshake guard window of the dial. The transport exposes no
	// structured close reason, so an immediate close is taken to mean the
	// credential was rejected. A legitimately fast failure for another
	// reason (e.g., quota) is misclassified — known limitation.
	ErrHandshakeRejected = errors.New("live: handshake rejected")

	// ErrRemoteClosed classifies a remote close outside the guard window.
	ErrRemoteClosed = errors.New("live: remote closed the stream")
)

// Session is an open duplex voice session.
//
// Inbound traffic is delivered on the [Session.Events] channel in strict
// arrival order by a single receive goroutine; the channel is closed when the
// session terminates for any reason. Callers must drain Events promptly.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers one PCM frame to the remote model. Frames sent
	// before the session is active or after it has begun closing are
	// silently dropped — stale capture audio is worthless once the link is
	// down, so nothing is queued. Individual network-level send failures
	// are swallowed (best-effort); ErrClosed is returned only once the
	// session is terminal so the capture side can stop forwarding.
	SendAudio(frame []byte) error

	// Events returns the ordered inbound event channel.
	Events() <-chan Event

	// State returns the current lifecycle state.
	State() State

	// Close tears down outbound sending immediately and releases the
	// connection. Idempotent and safe to call from any state, including
	// concurrently with in-flight inbound events.
	Close() error
}

// Dialer opens sessions against a remote voice model.
//
// A failed dial is fatal to that session attempt and is never retried
// internally; retry is a caller decision expressed as a new Dial call.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}
