// Package capture turns a live microphone device into a stream of fixed-size
// PCM frames delivered to a registered sink.
//
// The two abstractions are [Context] (a handle on the host audio subsystem
// that can open capture devices) and [Device] (one open microphone stream
// delivering buffers on a fixed cadence). A hardware-backed Context using
// miniaudio lives in this package ([NewMalgoContext]); capture/mock provides
// an in-memory implementation for tests.
//
// The [Pipeline] owns the device lifecycle: it acquires the microphone on
// Start, gates frames on mute state, and guarantees the device is released on
// every exit path.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Typed device-acquisition failures. The session controller maps each to a
// distinct user-facing message, so they must stay distinguishable.
var (
	// ErrPermissionDenied means the host refused microphone access for this
	// process.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable means no usable capture device exists or the
	// device is busy.
	ErrDeviceUnavailable = errors.New("capture: capture device unavailable")

	// ErrInsecureContext means the execution environment does not permit
	// audio capture at all (no audio subsystem is exposed to the process).
	ErrInsecureContext = errors.New("capture: audio capture not permitted in this environment")
)

// ErrAlreadyStarted is returned by [Pipeline.Start] when the pipeline already
// owns an open device.
var ErrAlreadyStarted = errors.New("capture: pipeline already started")

// DataCallback receives one captured buffer of little-endian int16 PCM.
// The data slice is only valid for the duration of the call.
type DataCallback func(data []byte, frameCount uint32)

// StreamConfig describes the capture format requested from the device.
type StreamConfig struct {
	SampleRate int
	Channels   int
}

// Context is a handle on the host audio subsystem.
//
// Implementations must return the typed errors above from NewCapture so the
// controller can classify acquisition failures.
type Context interface {
	// NewCapture opens a capture device delivering buffers to cb.
	// The device is created stopped; call [Device.Start] to begin capture.
	NewCapture(cfg StreamConfig, cb DataCallback) (Device, error)

	// Close releases the audio subsystem handle.
	Close() error
}

// Device is one open microphone stream.
type Device interface {
	Start() error
	Stop()
	Close()
}

// Sink receives captured frames. [live.Session] satisfies this contract.
type Sink interface {
	SendAudio(frame []byte) error
}

// Pipeline acquires a microphone via a [Context] and forwards captured PCM
// frames to a [Sink], honouring mute state.
//
// Muted frames are captured but dropped, never buffered — the capture cadence
// is preserved while the content is discarded. Per-frame sink failures are
// swallowed: a single lost frame must not stall or abort capture.
//
// All exported methods are safe for concurrent use, including concurrently
// with in-flight device callbacks.
type Pipeline struct {
	devctx Context
	rate   int

	mu      sync.Mutex
	dev     Device
	sink    Sink
	muted   bool
	started bool
	stopped bool

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Pipeline that will capture mono PCM at sampleRate Hz from
// devctx. The device is not acquired until [Pipeline.Start].
func New(devctx Context, sampleRate int) *Pipeline {
	return &Pipeline{devctx: devctx, rate: sampleRate}
}

// Start acquires the microphone and begins forwarding frames to sink.
// It fails fast with one of the typed acquisition errors when the device
// cannot be opened; on any failure no device handle is leaked.
func (p *Pipeline) Start(sink Sink) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.sink = sink
	p.mu.Unlock()

	dev, err := p.devctx.NewCapture(StreamConfig{SampleRate: p.rate, Channels: 1}, p.onData)
	if err != nil {
		p.mu.Lock()
		p.started = false
		p.sink = nil
		p.mu.Unlock()
		return fmt.Errorf("capture: open device: %w", err)
	}

	if err := dev.Start(); err != nil {
		dev.Close()
		p.mu.Lock()
		p.started = false
		p.sink = nil
		p.mu.Unlock()
		return fmt.Errorf("capture: start device: %w", err)
	}

	p.mu.Lock()
	if p.stopped {
		// Stop raced with Start; release immediately.
		p.mu.Unlock()
		dev.Stop()
		dev.Close()
		return nil
	}
	p.dev = dev
	p.mu.Unlock()
	return nil
}

// SetMuted flips the mute gate. It takes effect on the next captured frame;
// frames already delivered are unaffected.
func (p *Pipeline) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
}

// Muted reports the current mute state.
func (p *Pipeline) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Stop releases the microphone. It is idempotent and safe to call whether or
// not Start succeeded; a capture callback racing with Stop detects the
// torn-down state and no-ops.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	dev := p.dev
	p.dev = nil
	p.sink = nil
	p.mu.Unlock()

	if dev != nil {
		dev.Stop()
		dev.Close()
	}
}

// Forwarded returns the number of frames delivered to the sink.
func (p *Pipeline) Forwarded() uint64 { return p.forwarded.Load() }

// Dropped returns the number of frames discarded by the mute gate.
func (p *Pipeline) Dropped() uint64 { return p.dropped.Load() }

// onData is the device callback. It runs on the audio thread: no blocking,
// no allocation beyond the frame copy.
func (p *Pipeline) onData(data []byte, _ uint32) {
	p.mu.Lock()
	if p.stopped || p.sink == nil {
		p.mu.Unlock()
		return
	}
	if p.muted {
		p.mu.Unlock()
		p.dropped.Add(1)
		return
	}
	sink := p.sink
	p.mu.Unlock()

	// The device owns the callback buffer; copy before handing off.
	frame := make([]byte, len(data))
	copy(frame, data)

	// Best-effort: individual send failures are swallowed, the cadence of
	// capture is higher-frequency than is useful to report per-frame.
	_ = sink.SendAudio(frame)
	p.forwarded.Add(1)
}
