package transcript_test

import (
	"sync"
	"testing"
	"time"

	"github.com/avelops/voxnote/internal/transcript"
	"github.com/avelops/voxnote/pkg/live"
)

func TestAggregator_CommitPerSpeaker(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.OnPartial(live.SpeakerUser, "what is ")
	a.OnPartial(live.SpeakerUser, "a monad")
	a.OnPartial(live.SpeakerModel, "A monad is ")
	a.OnPartial(live.SpeakerModel, "a monoid in the category of endofunctors.")
	a.OnTurnComplete()

	got := a.Snapshot()
	want := []transcript.Turn{
		{Speaker: live.SpeakerUser, Text: "what is a monad"},
		{Speaker: live.SpeakerModel, Text: "A monad is a monoid in the category of endofunctors."},
	}
	if len(got) != len(want) {
		t.Fatalf("committed turns = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAggregator_WhitespaceOnlyTurnNotCommitted(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.OnPartial(live.SpeakerUser, "  \n ")
	a.OnPartial(live.SpeakerModel, "  hello  ")
	a.OnTurnComplete()

	got := a.Snapshot()
	if len(got) != 1 {
		t.Fatalf("committed turns = %d, want 1", len(got))
	}
	if got[0].Speaker != live.SpeakerModel || got[0].Text != "hello" {
		t.Errorf("turn = %+v, want trimmed model turn", got[0])
	}
}

func TestAggregator_NoDoubleCommit(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.OnPartial(live.SpeakerModel, "first answer")
	a.OnTurnComplete()

	// A second turn-complete with no new partials must commit nothing.
	a.OnTurnComplete()

	if got := a.Snapshot(); len(got) != 1 {
		t.Errorf("committed turns = %d, want 1", len(got))
	}
}

func TestAggregator_InterruptionRetainsPendingText(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.OnPartial(live.SpeakerModel, "I was saying")
	a.OnInterrupted()
	a.OnPartial(live.SpeakerModel, " something")
	a.OnTurnComplete()

	got := a.Snapshot()
	if len(got) != 1 || got[0].Text != "I was saying something" {
		t.Errorf("turns = %+v, want the interrupted turn intact", got)
	}
}

func TestAggregator_FlushForSaveIncludesPending(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.OnPartial(live.SpeakerUser, "earlier question")
	a.OnTurnComplete()
	a.OnPartial(live.SpeakerUser, "unfinished ")
	a.OnPartial(live.SpeakerModel, "half an answer")

	got := a.FlushForSave()
	want := []transcript.Turn{
		{Speaker: live.SpeakerUser, Text: "earlier question"},
		{Speaker: live.SpeakerUser, Text: "unfinished"},
		{Speaker: live.SpeakerModel, Text: "half an answer"},
	}
	if len(got) != len(want) {
		t.Fatalf("flushed turns = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Flushing is a read: the pending text must still commit normally.
	a.OnTurnComplete()
	if got := a.Snapshot(); len(got) != 3 {
		t.Errorf("committed turns after flush+complete = %d, want 3", len(got))
	}
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	a := transcript.New()
	a.OnPartial(live.SpeakerUser, "hi")
	a.OnTurnComplete()

	snap := a.Snapshot()
	snap[0].Text = "mutated"
	if got := a.Snapshot()[0].Text; got != "hi" {
		t.Errorf("internal state changed through snapshot: %q", got)
	}
}

func TestAggregator_ListenerDebounced(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	a := transcript.New(
		transcript.WithDebounceInterval(30*time.Millisecond),
		transcript.WithListener(func() {
			mu.Lock()
			calls++
			mu.Unlock()
		}),
	)

	// A burst of commits coalesces into one notification.
	for range 5 {
		a.OnPartial(live.SpeakerModel, "chunk")
		a.OnTurnComplete()
	}

	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	got := calls
	mu.Unlock()
	if got != 1 {
		t.Errorf("listener calls = %d, want 1", got)
	}
	if turns := a.Snapshot(); len(turns) != 5 {
		t.Errorf("committed turns = %d, want 5 (commits are never debounced)", len(turns))
	}
}

func TestAggregator_EmptyTurnDoesNotNotify(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		calls int
	)
	a := transcript.New(
		transcript.WithDebounceInterval(10*time.Millisecond),
		transcript.WithListener(func() {
			mu.Lock()
			calls++
			mu.Unlock()
		}),
	)

	a.OnTurnComplete()
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("listener calls = %d, want 0 for an empty turn", calls)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	turns := []transcript.Turn{
		{Speaker: live.SpeakerUser, Text: "hello"},
		{Speaker: live.SpeakerModel, Text: "hi there"},
	}
	want := "USER: hello\nMODEL: hi there"
	if got := transcript.Format(turns); got != want {
		t.Errorf("Format = %q, want %q", got, want)
	}
	if got := transcript.Format(nil); got != "" {
		t.Errorf("Format(nil) = %q, want empty", got)
	}
}
