package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/avelops/voxnote/pkg/live"
	"github.com/avelops/voxnote/pkg/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLiveServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// sendSetupComplete sends the server-side setupComplete ack.
func sendSetupComplete(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// testConfig is the session config used throughout the suite.
func testConfig() live.Config {
	return live.Config{
		Voice:             "Kore",
		SystemInstruction: "You are a grounded audio assistant.",
		InputSampleRate:   16000,
		OutputSampleRate:  24000,
	}
}

// nextEvent waits for one event with a timeout.
func nextEvent(t *testing.T, sess live.Session) live.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return live.Event{}
}

// ── Setup message ─────────────────────────────────────────────────────────────

func TestDial_SendsSetup(t *testing.T) {
	t.Parallel()

	setupCh := make(chan map[string]any, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		setupCh <- setup
		sendSetupComplete(t, conn)
		// Hold the connection open until the client disconnects.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	p := gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)), gemini.WithModel("test-live-model"))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	raw := <-setupCh
	setup, ok := raw["setup"].(map[string]any)
	if !ok {
		t.Fatalf("first message is not a setup message: %v", raw)
	}
	if got := setup["model"]; got != "models/test-live-model" {
		t.Errorf("setup model = %v, want models/test-live-model", got)
	}
	if _, ok := setup["inputAudioTranscription"]; !ok {
		t.Error("setup missing inputAudioTranscription")
	}
	if _, ok := setup["outputAudioTranscription"]; !ok {
		t.Error("setup missing outputAudioTranscription")
	}
	gen, _ := setup["generationConfig"].(map[string]any)
	if gen == nil {
		t.Fatal("setup missing generationConfig")
	}
	mods, _ := gen["responseModalities"].([]any)
	if len(mods) != 1 || mods[0] != "AUDIO" {
		t.Errorf("responseModalities = %v, want [AUDIO]", mods)
	}
	speech, _ := gen["speechConfig"].(map[string]any)
	if speech == nil {
		t.Fatal("setup missing speechConfig for configured voice")
	}
	si, _ := setup["systemInstruction"].(map[string]any)
	if si == nil {
		t.Fatal("setup missing systemInstruction")
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

func TestSession_OpenedOnSetupComplete(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if st := sess.State(); st != live.StateConnecting {
		t.Errorf("state before ack = %v, want connecting", st)
	}

	ev := nextEvent(t, sess)
	if ev.Type != live.EventOpened {
		t.Fatalf("first event = %v, want OPENED", ev.Type)
	}
	if st := sess.State(); st != live.StateActive {
		t.Errorf("state after ack = %v, want active", st)
	}
}

func TestSession_InboundEvents_InOrder(t *testing.T) {
	t.Parallel()

	audio := []byte{1, 2, 3, 4, 5, 6}
	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"modelTurn": map[string]any{
				"parts": []any{map[string]any{"inlineData": map[string]any{
					"mimeType": "audio/pcm;rate=24000",
					"data":     base64.StdEncoding.EncodeToString(audio),
				}}},
			},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"inputTranscription": map[string]any{"text": "hello "},
		}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{
			"outputTranscription": map[string]any{"text": "hi there"},
			"turnComplete":        true,
		}})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if ev := nextEvent(t, sess); ev.Type != live.EventOpened {
		t.Fatalf("event 1 = %v, want OPENED", ev.Type)
	}

	ev := nextEvent(t, sess)
	if ev.Type != live.EventAudioChunk {
		t.Fatalf("event 2 = %v, want AUDIO_CHUNK", ev.Type)
	}
	if string(ev.Audio) != string(audio) {
		t.Errorf("audio payload = %v, want %v", ev.Audio, audio)
	}
	if ev.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", ev.SampleRate)
	}

	ev = nextEvent(t, sess)
	if ev.Type != live.EventPartialTranscript || ev.Speaker != live.SpeakerUser || ev.TextDelta != "hello " {
		t.Fatalf("event 3 = %+v, want user partial 'hello '", ev)
	}

	// The output fragment must arrive before the turn-complete marker from
	// the same server frame.
	ev = nextEvent(t, sess)
	if ev.Type != live.EventPartialTranscript || ev.Speaker != live.SpeakerModel || ev.TextDelta != "hi there" {
		t.Fatalf("event 4 = %+v, want model partial 'hi there'", ev)
	}
	if ev = nextEvent(t, sess); ev.Type != live.EventTurnComplete {
		t.Fatalf("event 5 = %v, want TURN_COMPLETE", ev.Type)
	}
}

func TestSession_Interrupted(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": true}})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if ev := nextEvent(t, sess); ev.Type != live.EventOpened {
		t.Fatalf("event 1 = %v, want OPENED", ev.Type)
	}
	if ev := nextEvent(t, sess); ev.Type != live.EventInterrupted {
		t.Fatalf("event 2 = %v, want INTERRUPTED", ev.Type)
	}
}

// ── Handshake rejection heuristic ─────────────────────────────────────────────

func TestSession_RemoteCloseWithinGuardWindow_ClassifiedAsRejection(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		// Close immediately, the way the endpoint behaves on a 403.
		conn.Close(websocket.StatusPolicyViolation, "forbidden")
	})

	p := gemini.New("bad-key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess)
	if ev.Type != live.EventClosed {
		t.Fatalf("event = %v, want CLOSED", ev.Type)
	}
	if !errors.Is(ev.Err, live.ErrHandshakeRejected) {
		t.Errorf("close classification = %v, want ErrHandshakeRejected", ev.Err)
	}
}

func TestSession_RemoteCloseAfterGuardWindow_GenericDisconnect(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		time.Sleep(150 * time.Millisecond)
		conn.Close(websocket.StatusNormalClosure, "bye")
	})

	// Shrink the guard window so the 150 ms close lands outside it.
	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)), gemini.WithGuardWindow(50*time.Millisecond))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if ev := nextEvent(t, sess); ev.Type != live.EventOpened {
		t.Fatalf("event 1 = %v, want OPENED", ev.Type)
	}

	ev := nextEvent(t, sess)
	if ev.Type != live.EventClosed {
		t.Fatalf("event 2 = %v, want CLOSED", ev.Type)
	}
	if errors.Is(ev.Err, live.ErrHandshakeRejected) {
		t.Error("late close misclassified as handshake rejection")
	}
	if !errors.Is(ev.Err, live.ErrRemoteClosed) {
		t.Errorf("close classification = %v, want ErrRemoteClosed", ev.Err)
	}
}

// ── Send gating ───────────────────────────────────────────────────────────────

func TestSendAudio_DroppedBeforeOpen(t *testing.T) {
	t.Parallel()

	gotFrame := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)

		// Any frame arriving before we ack setup is a gating violation.
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if _, _, err := conn.Read(ctx); err == nil {
			gotFrame <- struct{}{}
		}
		cancel()
		close(release)

		sendSetupComplete(t, conn)
		ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel2()
		conn.Read(ctx2)
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Errorf("SendAudio before open returned %v, want nil (silent drop)", err)
	}

	<-release
	select {
	case <-gotFrame:
		t.Fatal("frame reached the server before setupComplete")
	default:
	}
}

func TestSendAudio_ForwardedWhenActive(t *testing.T) {
	t.Parallel()

	frameCh := make(chan map[string]any, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)

		var msg map[string]any
		readJSON(t, conn, &msg)
		frameCh <- msg
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if ev := nextEvent(t, sess); ev.Type != live.EventOpened {
		t.Fatalf("event = %v, want OPENED", ev.Type)
	}

	frame := []byte{0x10, 0x20, 0x30, 0x40}
	if err := sess.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-frameCh:
		ri, _ := msg["realtimeInput"].(map[string]any)
		if ri == nil {
			t.Fatalf("message is not realtimeInput: %v", msg)
		}
		chunks, _ := ri["mediaChunks"].([]any)
		if len(chunks) != 1 {
			t.Fatalf("mediaChunks length = %d, want 1", len(chunks))
		}
		chunk, _ := chunks[0].(map[string]any)
		if mime := chunk["mimeType"]; mime != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %v, want audio/pcm;rate=16000", mime)
		}
		data, err := base64.StdEncoding.DecodeString(chunk["data"].(string))
		if err != nil || string(data) != string(frame) {
			t.Errorf("frame payload = %v (%v), want %v", data, err, frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for forwarded frame")
	}
}

func TestSendAudio_ErrClosedAfterClose(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	sess.Close()

	if err := sess.SendAudio([]byte{1, 2}); !errors.Is(err, live.ErrClosed) {
		t.Errorf("SendAudio after close = %v, want ErrClosed", err)
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		var setup map[string]any
		readJSON(t, conn, &setup)
		sendSetupComplete(t, conn)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		conn.Read(ctx)
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Dial(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if st := sess.State(); st != live.StateClosed {
		t.Errorf("state after close = %v, want closed", st)
	}

	// The event channel must drain and close without a terminal event for a
	// locally requested close.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-sess.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed after local Close")
		}
	}
}
