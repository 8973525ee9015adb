// Package transcript accumulates streaming partial transcripts into
// committed speaker turns.
//
// The remote model streams transcription as small text deltas for both the
// user's speech and its own. The [Aggregator] appends each delta to a
// per-speaker pending accumulator and commits the accumulated text as one
// [Turn] when the model signals the turn is complete. Commits are exact;
// only the optional change notification is debounced, since commits can
// arrive in rapid bursts and a display layer does not need one callback per
// commit.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/avelops/voxnote/pkg/live"
)

// DefaultDebounce is the read-model notification interval.
const DefaultDebounce = 150 * time.Millisecond

// Turn is one committed speaker turn.
type Turn struct {
	Speaker live.Speaker
	Text    string
}

// Aggregator builds the conversation transcript from partial-transcript
// events. All methods are safe for concurrent use.
type Aggregator struct {
	mu           sync.Mutex
	pendingUser  strings.Builder
	pendingModel strings.Builder
	committed    []Turn

	notify   func(f func())
	listener func()
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDebounceInterval overrides the notification debounce interval.
func WithDebounceInterval(d time.Duration) Option {
	return func(a *Aggregator) {
		a.notify = debounce.New(d)
	}
}

// WithListener registers f to run after commits. Calls are debounced: a
// burst of commits coalesces into a single invocation, which runs on a timer
// goroutine. The listener should call [Aggregator.Snapshot] to observe the
// exact state.
func WithListener(f func()) Option {
	return func(a *Aggregator) {
		a.listener = f
	}
}

// New creates an empty Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{notify: debounce.New(DefaultDebounce)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnPartial appends textDelta to the speaker's pending accumulator.
// The delta is kept verbatim; no normalisation, no truncation.
func (a *Aggregator) OnPartial(speaker live.Speaker, textDelta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch speaker {
	case live.SpeakerUser:
		a.pendingUser.WriteString(textDelta)
	case live.SpeakerModel:
		a.pendingModel.WriteString(textDelta)
	}
}

// OnTurnComplete commits the pending accumulators and resets them.
//
// For each speaker, the accumulated text is trimmed and appended to the
// committed history only when non-empty, so a turn-complete with nothing
// accumulated commits nothing. The accumulators are reset either way, which
// makes a second consecutive turn-complete a no-op.
func (a *Aggregator) OnTurnComplete() {
	a.mu.Lock()
	committed := false
	if text := strings.TrimSpace(a.pendingUser.String()); text != "" {
		a.committed = append(a.committed, Turn{Speaker: live.SpeakerUser, Text: text})
		committed = true
	}
	if text := strings.TrimSpace(a.pendingModel.String()); text != "" {
		a.committed = append(a.committed, Turn{Speaker: live.SpeakerModel, Text: text})
		committed = true
	}
	a.pendingUser.Reset()
	a.pendingModel.Reset()
	listener := a.listener
	a.mu.Unlock()

	if committed && listener != nil {
		a.notify(listener)
	}
}

// OnInterrupted handles a playback interruption. Interruption is an audio
// concept only: text already received stays pending, since the model may
// continue the turn or the user may simply have spoken over stale audio.
func (a *Aggregator) OnInterrupted() {}

// Snapshot returns a copy of the committed turns.
func (a *Aggregator) Snapshot() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Turn(nil), a.committed...)
}

// FlushForSave returns the committed turns plus any still-pending accumulator
// text as best-effort trailing entries. Used when the user saves
// mid-conversation, so a spoken-but-not-yet-finalised turn is not silently
// lost. The aggregator state is not modified.
func (a *Aggregator) FlushForSave() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	turns := append([]Turn(nil), a.committed...)
	if text := strings.TrimSpace(a.pendingUser.String()); text != "" {
		turns = append(turns, Turn{Speaker: live.SpeakerUser, Text: text})
	}
	if text := strings.TrimSpace(a.pendingModel.String()); text != "" {
		turns = append(turns, Turn{Speaker: live.SpeakerModel, Text: text})
	}
	return turns
}

// Format renders turns as plain text, one "SPEAKER: text" line per turn.
func Format(turns []Turn) string {
	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		label := "USER"
		if turn.Speaker == live.SpeakerModel {
			label = "MODEL"
		}
		fmt.Fprintf(&b, "%s: %s", label, turn.Text)
	}
	return b.String()
}
