package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
)

// Compile-time assertion that the miniaudio output satisfies [Output].
var _ Output = (*MalgoOutput)(nil)

// MalgoOutput is an [Output] backed by miniaudio via gen2brain/malgo.
//
// The clock is the device's own sample position: the fill callback advances a
// sample counter as it renders, so Now reflects audio actually played rather
// than wall time. Scheduled chunks are kept as segments on that sample
// timeline and mixed into the fill buffer when their window comes up;
// everything else renders silence.
type MalgoOutput struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	rate   int

	mu       sync.Mutex
	played   int64 // samples rendered since device start
	segments []*segment
	closed   bool
}

type segment struct {
	start int64 // first sample on the device timeline
	data  []byte

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func (seg *segment) Stop() {
	seg.mu.Lock()
	defer seg.mu.Unlock()
	seg.finishLocked()
}

func (seg *segment) Done() <-chan struct{} { return seg.done }

func (seg *segment) finishLocked() {
	if !seg.stopped {
		seg.stopped = true
		close(seg.done)
	}
}

// NewMalgoOutput opens the default playback device at sampleRate Hz mono and
// starts it. The device renders silence until chunks are scheduled.
func NewMalgoOutput(sampleRate int) (*MalgoOutput, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("playback: init audio context: %w", err)
	}

	o := &MalgoOutput{ctx: ctx, rate: sampleRate}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{Data: o.fill}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Free()
		return nil, fmt.Errorf("playback: open output device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("playback: start output device: %w", err)
	}
	o.device = device
	return o, nil
}

// Now implements [Output].
func (o *MalgoOutput) Now() time.Duration {
	o.mu.Lock()
	played := o.played
	o.mu.Unlock()
	return time.Duration(played) * time.Second / time.Duration(o.rate)
}

// Schedule implements [Output].
func (o *MalgoOutput) Schedule(pcm []byte, at time.Duration) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, fmt.Errorf("playback: output closed")
	}
	seg := &segment{
		start: int64(at) * int64(o.rate) / int64(time.Second),
		data:  pcm,
		done:  make(chan struct{}),
	}
	o.segments = append(o.segments, seg)
	return seg, nil
}

// Close implements [Output]. Idempotent.
func (o *MalgoOutput) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	segments := o.segments
	o.segments = nil
	o.mu.Unlock()

	for _, seg := range segments {
		seg.Stop()
	}
	o.device.Uninit()
	if err := o.ctx.Uninit(); err != nil {
		o.ctx.Free()
		return fmt.Errorf("playback: uninit context: %w", err)
	}
	o.ctx.Free()
	return nil
}

// fill is the device callback. It runs on the audio thread: it renders
// frameCount samples starting at the current playhead, copying from whichever
// segments overlap that window and leaving silence elsewhere.
func (o *MalgoOutput) fill(out, _ []byte, frameCount uint32) {
	for i := range out {
		out[i] = 0
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	head := o.played
	end := head + int64(frameCount)
	o.played = end

	kept := o.segments[:0]
	for _, seg := range o.segments {
		seg.mu.Lock()
		if seg.stopped {
			seg.mu.Unlock()
			continue
		}
		segSamples := int64(len(seg.data) / 2)
		segEnd := seg.start + segSamples

		// Copy the overlap between [head, end) and [seg.start, segEnd).
		from := max(head, seg.start)
		to := min(end, segEnd)
		if from < to {
			copy(out[(from-head)*2:(to-head)*2], seg.data[(from-seg.start)*2:(to-seg.start)*2])
		}

		if segEnd <= end {
			// Fully rendered.
			seg.finishLocked()
			seg.mu.Unlock()
			continue
		}
		seg.mu.Unlock()
		kept = append(kept, seg)
	}
	o.segments = kept
}
