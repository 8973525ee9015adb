// Package gemini implements the live.Dialer interface for Google's Gemini
// Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Outbound audio is transmitted as base64-encoded PCM chunks;
// inbound server content is decoded into ordered [live.Event] values.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/avelops/voxnote/pkg/live"
	"github.com/avelops/voxnote/pkg/pcm"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Dialer = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	// DefaultGuardWindow is how long after Dial a remote close is classified
	// as a handshake rejection rather than a generic disconnect. The
	// transport exposes no structured close reason; timing is the only
	// available signal.
	DefaultGuardWindow = 2 * time.Second

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	eventBuf = 64
)

// Voices lists the prebuilt voice names accepted by the Gemini Live API.
var Voices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithGuardWindow overrides the handshake-rejection guard window. Used in
// tests to keep suite execution fast.
func WithGuardWindow(d time.Duration) Option {
	return func(p *Provider) { p.guardWindow = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Dialer for Google's Gemini Live API.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	guardWindow time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:      apiKey,
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		guardWindow: DefaultGuardWindow,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Dial establishes a new Gemini Live session with the given configuration.
// The session is Connecting until the server acknowledges setup; outbound
// audio is accepted only after the [live.EventOpened] event.
func (p *Provider) Dial(ctx context.Context, cfg live.Config) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:        conn,
		cfg:         cfg,
		guardWindow: p.guardWindow,
		dialedAt:    time.Now(),
		state:       live.StateConnecting,
		events:      make(chan live.Event, eventBuf),
		done:        make(chan struct{}),
		ctx:         sessCtx,
		cancel:      sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *transcriptionCfg  `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptionCfg  `json:"outputAudioTranscription,omitempty"`
}

// transcriptionCfg is an empty object: presence alone enables transcript
// reporting for the corresponding direction.
type transcriptionCfg struct{}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn        *websocket.Conn
	cfg         live.Config
	guardWindow time.Duration
	dialedAt    time.Time

	events chan live.Event

	mu     sync.Mutex
	state  live.State
	closed bool

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message. Transcript
// reporting is enabled for both directions unconditionally — the aggregator
// depends on it.
func (s *session) sendSetup(model string, cfg live.Config) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
			InputAudioTranscription:  &transcriptionCfg{},
			OutputAudioTranscription: &transcriptionCfg{},
		},
	}

	if cfg.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// emit delivers ev on the events channel in arrival order. It blocks until
// the consumer accepts the event or the session context is cancelled —
// ordering must not be traded for drops here, because TurnComplete has to
// observe every PartialTranscript that preceded it.
func (s *session) emit(ev live.Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them. It owns
// the events channel: it closes it when it exits, after emitting the terminal
// event for the session.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			s.handleReadError(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// handleReadError classifies the terminal read error and emits the matching
// terminal event. A locally requested close produces no event — the caller
// initiated it and the channel close is the signal.
func (s *session) handleReadError(err error) {
	if s.ctx.Err() != nil {
		return // local close
	}

	s.mu.Lock()
	wasConnecting := s.state == live.StateConnecting
	s.mu.Unlock()

	if status := websocket.CloseStatus(err); status != -1 || isStreamEnd(err) {
		// Remote closed the stream. Within the guard window this is most
		// likely a credential rejection during the handshake.
		s.setState(live.StateClosed)
		elapsed := time.Since(s.dialedAt)
		if elapsed < s.guardWindow {
			slog.Warn("live session closed during handshake guard window",
				"elapsed", elapsed, "connecting", wasConnecting)
			s.emit(live.Event{Type: live.EventClosed, Err: live.ErrHandshakeRejected})
		} else {
			s.emit(live.Event{Type: live.EventClosed, Err: live.ErrRemoteClosed})
		}
		return
	}

	s.setState(live.StateError)
	s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("gemini: read: %w", err)})
}

// handleServerMessage dispatches one decoded server frame. It returns false
// when the session has become terminal and the receive loop should exit.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		errMsg := msg.Error.Message
		if errMsg == "" {
			errMsg = "unknown error"
		}
		s.setState(live.StateError)
		s.emit(live.Event{Type: live.EventError, Err: fmt.Errorf("gemini: server error: %s", errMsg)})
		return false
	}

	if msg.SetupComplete != nil {
		s.mu.Lock()
		if s.state == live.StateConnecting {
			s.state = live.StateActive
		}
		s.mu.Unlock()
		s.emit(live.Event{Type: live.EventOpened})
	}

	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) {
	if sc.Interrupted {
		s.emit(live.Event{Type: live.EventInterrupted})
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			audio, err := pcm.DecodeBase64(p.InlineData.Data)
			if err != nil || len(audio) == 0 {
				continue
			}
			s.emit(live.Event{
				Type:       live.EventAudioChunk,
				Audio:      audio,
				SampleRate: rateFromMIME(p.InlineData.MIMEType, s.cfg.OutputSampleRate),
			})
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.emit(live.Event{
			Type:      live.EventPartialTranscript,
			Speaker:   live.SpeakerUser,
			TextDelta: sc.InputTranscription.Text,
		})
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.emit(live.Event{
			Type:      live.EventPartialTranscript,
			Speaker:   live.SpeakerModel,
			TextDelta: sc.OutputTranscription.Text,
		})
	}

	// TurnComplete is emitted last so it observes every fragment above.
	if sc.TurnComplete {
		s.emit(live.Event{Type: live.EventTurnComplete})
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setState(st live.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// ── Session methods ───────────────────────────────────────────────────────────

// SendAudio delivers one raw PCM frame (s16le mono at the configured input
// rate) to the model. Frames sent while the session is not yet active are
// dropped, never queued. Network-level failures on individual frames are
// swallowed — a single lost frame must not abort the session.
func (s *session) SendAudio(frame []byte) error {
	s.mu.Lock()
	st := s.state
	closed := s.closed
	s.mu.Unlock()

	if closed || st == live.StateClosed || st == live.StateError {
		return live.ErrClosed
	}
	if st != live.StateActive {
		return nil // dropped: remote has not acknowledged open yet
	}

	rate := s.cfg.InputSampleRate
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{
					MIMEType: fmt.Sprintf("audio/pcm;rate=%d", rate),
					Data:     pcm.EncodeBase64(frame),
				},
			},
		},
	}
	if err := s.writeJSON(msg); err != nil {
		slog.Debug("live gemini: dropped outbound frame", "err", err)
	}
	return nil
}

// Events returns the ordered inbound event channel.
func (s *session) Events() <-chan live.Event { return s.events }

// State returns the current lifecycle state.
func (s *session) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close terminates the session and releases the connection. Idempotent —
// closing an already-closed session is a no-op.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.state != live.StateError {
		s.state = live.StateClosed
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		s.cancel()    // unblocks receiveLoop and keepaliveLoop
		close(s.done) // signals keepaliveLoop via done channel
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// rateFromMIME extracts the sample rate from a "audio/pcm;rate=24000" style
// MIME type, falling back to def when absent or malformed.
func rateFromMIME(mime string, def int) int {
	const marker = "rate="
	i := strings.Index(mime, marker)
	if i < 0 {
		return def
	}
	rate, err := strconv.Atoi(strings.TrimRight(mime[i+len(marker):], ";"))
	if err != nil || rate <= 0 {
		return def
	}
	return rate
}

// isStreamEnd reports whether err indicates an orderly end of the inbound
// stream rather than a transport fault.
func isStreamEnd(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "EOF") || strings.Contains(msg, "connection reset")
}
