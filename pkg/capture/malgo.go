package capture

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// Compile-time assertion that the miniaudio context satisfies [Context].
var _ Context = (*MalgoContext)(nil)

// MalgoContext is a [Context] backed by miniaudio via gen2brain/malgo.
// It talks to the default capture device of whatever backend miniaudio
// selects for the platform (WASAPI, CoreAudio, ALSA/PulseAudio, ...).
type MalgoContext struct {
	ctx *malgo.AllocatedContext
}

// NewMalgoContext initialises the host audio subsystem. A failure here means
// the process has no audio backend at all, which is reported as
// [ErrInsecureContext] — the environment does not permit capture.
func NewMalgoContext() (*MalgoContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsecureContext, err)
	}
	return &MalgoContext{ctx: ctx}, nil
}

// NewCapture implements [Context]. Acquisition failures are classified into
// the package's typed errors by inspecting the miniaudio failure text — the
// library does not expose structured error causes.
func (m *MalgoContext) NewCapture(cfg StreamConfig, cb DataCallback) (Device, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			cb(data, frameCount)
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	return &malgoDevice{device: dev}, nil
}

// Close implements [Context].
func (m *MalgoContext) Close() error {
	if err := m.ctx.Uninit(); err != nil {
		m.ctx.Free()
		return fmt.Errorf("capture: uninit context: %w", err)
	}
	m.ctx.Free()
	return nil
}

type malgoDevice struct {
	device *malgo.Device
}

func (d *malgoDevice) Start() error {
	if err := d.device.Start(); err != nil {
		return classifyDeviceError(err)
	}
	return nil
}

func (d *malgoDevice) Stop() {
	_ = d.device.Stop()
}

func (d *malgoDevice) Close() {
	d.device.Uninit()
}

// classifyDeviceError maps a miniaudio failure onto the package's typed
// errors. Heuristic by necessity: miniaudio reports failures as strings.
func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "permission"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "device unavailable") || strings.Contains(msg, "busy"):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
}
