// Package controller orchestrates one live voice session end to end.
//
// The [Controller] wires the capture pipeline into the transport and fans
// inbound transport events out to playback and the transcript aggregator. It
// owns the session lifecycle (idle, connecting, active, closed or error),
// the mute toggle, manual transcript saving, and the classification of
// failures into actionable errors ([Classify], [UserMessage]).
//
// A Controller runs one session: Open once, Close once. Starting a new
// conversation means building a new Controller.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avelops/voxnote/internal/credential"
	"github.com/avelops/voxnote/internal/observe"
	"github.com/avelops/voxnote/internal/transcript"
	"github.com/avelops/voxnote/pkg/capture"
	"github.com/avelops/voxnote/pkg/live"
	"github.com/avelops/voxnote/pkg/playback"
	"github.com/avelops/voxnote/pkg/store"
)

// DefaultVoice is the prebuilt voice used when none is configured.
const DefaultVoice = "Kore"

var (
	// ErrAlreadyOpen is returned by [Controller.Open] when the controller
	// has already run (or is running) its session.
	ErrAlreadyOpen = errors.New("controller: session already open")

	// ErrEmptyTranscript is returned by [Controller.SaveTranscript] when
	// there is nothing to save.
	ErrEmptyTranscript = errors.New("controller: transcript is empty")
)

// Compile-time assertion that the controller can act as the capture sink.
var _ capture.Sink = (*Controller)(nil)

// Config carries the collaborators a [Controller] orchestrates.
type Config struct {
	// NewDialer builds the transport dialer once the credential has been
	// resolved.
	NewDialer func(apiKey string) live.Dialer

	// Credential resolves the API key before any dial is attempted.
	Credential credential.Source

	// Capture is the microphone pipeline. The controller starts it before
	// dialing so device failures surface without touching the network.
	Capture *capture.Pipeline

	// Playback schedules inbound audio chunks.
	Playback *playback.Scheduler

	// Transcript aggregates partial transcripts into committed turns.
	Transcript *transcript.Aggregator

	// Sources persists saved transcripts.
	Sources store.SourceStore

	// Voice selects the synthesised voice. Defaults to [DefaultVoice].
	Voice string

	// InputSampleRate and OutputSampleRate default to 16000 and 24000 Hz.
	InputSampleRate  int
	OutputSampleRate int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Controller drives one live voice session. All exported methods are safe
// for concurrent use.
type Controller struct {
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	state    live.State
	session  live.Session
	lastErr  error
	opened   bool
	closed   bool
	saved    bool
	openedAt time.Time

	wg sync.WaitGroup
}

// New creates a Controller in the idle state.
func New(cfg Config) *Controller {
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.InputSampleRate == 0 {
		cfg.InputSampleRate = 16000
	}
	if cfg.OutputSampleRate == 0 {
		cfg.OutputSampleRate = playback.DefaultOutputRate
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Controller{
		cfg: cfg,
		log: log,
		now: time.Now,
	}
}

// Open starts the session: it resolves the credential, acquires the
// microphone, dials the transport with a system instruction built from
// groundingContext, and begins forwarding events.
//
// The credential check is a precondition: with no usable key, Open fails
// before the microphone or the network is touched, and the error classifies
// as [KindMissingCredential] rather than a transport failure.
func (c *Controller) Open(ctx context.Context, groundingContext string) error {
	ctx, span := observe.StartSpan(ctx, "controller.Open")
	defer span.End()

	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.state = live.StateConnecting
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.state = live.StateError
		c.lastErr = err
		c.mu.Unlock()
		span.RecordError(err)
		c.cfg.Metrics.RecordSessionError(ctx, Classify(err).String())
		return err
	}

	key, err := c.cfg.Credential.ClientCredential()
	if err != nil {
		return fail(fmt.Errorf("controller: resolve credential: %w", err))
	}

	if err := c.cfg.Capture.Start(c); err != nil {
		return fail(fmt.Errorf("controller: start capture: %w", err))
	}

	sess, err := c.cfg.NewDialer(key).Dial(ctx, live.Config{
		Voice:             c.cfg.Voice,
		SystemInstruction: buildSystemInstruction(groundingContext),
		InputSampleRate:   c.cfg.InputSampleRate,
		OutputSampleRate:  c.cfg.OutputSampleRate,
	})
	if err != nil {
		c.cfg.Capture.Stop()
		return fail(fmt.Errorf("controller: dial: %w", err))
	}

	c.mu.Lock()
	if c.closed {
		// Close raced with Open; tear the fresh session down immediately.
		c.mu.Unlock()
		_ = sess.Close()
		c.cfg.Capture.Stop()
		return ErrAlreadyOpen
	}
	c.session = sess
	c.openedAt = c.now()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.eventLoop(sess)

	c.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	c.log.Info("session opened", "voice", c.cfg.Voice)
	return nil
}

// SendAudio implements [capture.Sink]. Frames are forwarded only while the
// session is active; anything captured earlier or later is dropped, never
// queued.
func (c *Controller) SendAudio(frame []byte) error {
	c.mu.Lock()
	sess := c.session
	active := c.state == live.StateActive
	c.mu.Unlock()

	if !active || sess == nil {
		return nil
	}
	return sess.SendAudio(frame)
}

// ToggleMute flips the mute gate and returns the new state. Takes effect on
// the next captured frame.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	muted := !c.cfg.Capture.Muted()
	c.cfg.Capture.SetMuted(muted)
	return muted
}

// Muted reports the current mute state.
func (c *Controller) Muted() bool { return c.cfg.Capture.Muted() }

// State returns the session lifecycle state.
func (c *Controller) State() live.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error that moved the session into a terminal state,
// or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Saved reports whether a transcript save has succeeded this session.
func (c *Controller) Saved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

// SaveTranscript flushes the transcript, including any still-pending turn
// text, and persists it as a plain-text source. Callable mid-session or
// after close; fails with [ErrEmptyTranscript] when nothing was said.
func (c *Controller) SaveTranscript(ctx context.Context) (store.Source, error) {
	ctx, span := observe.StartSpan(ctx, "controller.SaveTranscript")
	defer span.End()

	turns := c.cfg.Transcript.FlushForSave()
	if len(turns) == 0 {
		return store.Source{}, ErrEmptyTranscript
	}

	title := fmt.Sprintf("Live_Transcript_%s.txt", c.now().Format("15-04-05"))
	src, err := c.cfg.Sources.Put(ctx, store.Source{
		Title:    title,
		MIMEType: "text/plain",
		Content:  []byte(transcript.Format(turns)),
	})
	if err != nil {
		return store.Source{}, fmt.Errorf("controller: save transcript: %w", err)
	}

	c.mu.Lock()
	c.saved = true
	c.mu.Unlock()

	c.cfg.Metrics.TranscriptSaves.Add(ctx, 1)
	c.log.Info("transcript saved", "title", title, "turns", len(turns))
	return src, nil
}

// Close tears the session down: transport first, then capture and playback.
// Capture and playback are released even when the transport close fails.
// Idempotent; the second call returns nil without side effects.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.session
	c.session = nil
	openedAt := c.openedAt
	c.mu.Unlock()

	var errs []error
	if sess != nil {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("controller: close transport: %w", err))
		}
	}
	c.cfg.Capture.Stop()
	if err := c.cfg.Playback.Teardown(); err != nil {
		errs = append(errs, err)
	}

	c.wg.Wait()

	c.mu.Lock()
	if c.state != live.StateError {
		c.state = live.StateClosed
	}
	c.mu.Unlock()

	if sess != nil {
		ctx := context.Background()
		c.cfg.Metrics.ActiveSessions.Add(ctx, -1)
		c.cfg.Metrics.SessionDuration.Record(ctx, c.now().Sub(openedAt).Seconds())
		c.cfg.Metrics.FramesSent.Add(ctx, int64(c.cfg.Capture.Forwarded()))
		c.cfg.Metrics.FramesDropped.Add(ctx, int64(c.cfg.Capture.Dropped()))
	}

	c.log.Info("session closed")
	return errors.Join(errs...)
}

// eventLoop fans one session's inbound events out to playback and the
// transcript aggregator. It is the only goroutine touching those
// collaborators for inbound traffic, which preserves arrival order.
func (c *Controller) eventLoop(sess live.Session) {
	defer c.wg.Done()
	ctx := context.Background()

	// Per-turn speaker tracking for the commit counter.
	var sawUser, sawModel bool

	for ev := range sess.Events() {
		switch ev.Type {
		case live.EventOpened:
			c.mu.Lock()
			c.state = live.StateActive
			c.mu.Unlock()
			c.log.Info("session active")

		case live.EventAudioChunk:
			if err := c.cfg.Playback.Enqueue(ev.Audio); err != nil {
				c.log.Warn("enqueue playback chunk", "error", err)
			} else {
				c.cfg.Metrics.ChunksScheduled.Add(ctx, 1)
			}

		case live.EventPartialTranscript:
			c.cfg.Transcript.OnPartial(ev.Speaker, ev.TextDelta)
			switch ev.Speaker {
			case live.SpeakerUser:
				sawUser = true
			case live.SpeakerModel:
				sawModel = true
			}

		case live.EventTurnComplete:
			c.cfg.Transcript.OnTurnComplete()
			if sawUser {
				c.cfg.Metrics.RecordTurnCommit(ctx, string(live.SpeakerUser))
			}
			if sawModel {
				c.cfg.Metrics.RecordTurnCommit(ctx, string(live.SpeakerModel))
			}
			sawUser, sawModel = false, false

		case live.EventInterrupted:
			c.cfg.Playback.Interrupt()
			c.cfg.Transcript.OnInterrupted()
			c.cfg.Metrics.Interruptions.Add(ctx, 1)
			c.log.Debug("playback interrupted")

		case live.EventClosed:
			c.mu.Lock()
			c.state = live.StateClosed
			c.lastErr = ev.Err
			c.mu.Unlock()
			if ev.Err != nil {
				c.cfg.Metrics.RecordSessionError(ctx, Classify(ev.Err).String())
				c.log.Warn("remote closed session", "error", ev.Err)
			}

		case live.EventError:
			c.mu.Lock()
			c.state = live.StateError
			c.lastErr = ev.Err
			c.mu.Unlock()
			c.cfg.Metrics.RecordSessionError(ctx, Classify(ev.Err).String())
			c.log.Error("session error", "error", ev.Err)
		}
	}

	// The transport is gone; release the microphone even if the caller
	// never calls Close.
	c.cfg.Capture.Stop()
}

// buildSystemInstruction wraps the grounding context with the assistant
// persona the model speaks as.
func buildSystemInstruction(groundingContext string) string {
	const persona = "You are a voice assistant for the user's personal document collection. " +
		"Answer from the provided sources when they are relevant. " +
		"Be direct, technical but human."
	if strings.TrimSpace(groundingContext) == "" {
		return persona
	}
	return persona + "\n\nContext:\n" + groundingContext
}
