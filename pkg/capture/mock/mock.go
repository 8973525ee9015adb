// Package mock provides in-memory mock implementations of the
// [capture.Context] and [capture.Device] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. The Context records every
// NewCapture call; the Device exposes [Device.Push] so tests can drive the
// data callback as if the hardware delivered a buffer.
package mock

import (
	"sync"

	"github.com/avelops/voxnote/pkg/capture"
)

// ─── Context ──────────────────────────────────────────────────────────────────

// NewCaptureCall records the arguments of a single NewCapture invocation.
type NewCaptureCall struct {
	// Config is the stream configuration passed to NewCapture.
	Config capture.StreamConfig
}

// Context is a mock implementation of [capture.Context].
type Context struct {
	mu sync.Mutex

	// NewCaptureError is returned by NewCapture. When set, no device is
	// created.
	NewCaptureError error

	// NewCaptureCalls records all NewCapture invocations.
	NewCaptureCalls []NewCaptureCall

	// Devices holds every device handed out, in creation order.
	Devices []*Device

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture implements [capture.Context].
func (c *Context) NewCapture(cfg capture.StreamConfig, cb capture.DataCallback) (capture.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NewCaptureCalls = append(c.NewCaptureCalls, NewCaptureCall{Config: cfg})
	if c.NewCaptureError != nil {
		return nil, c.NewCaptureError
	}
	dev := &Device{cb: cb}
	c.Devices = append(c.Devices, dev)
	return dev, nil
}

// Close implements [capture.Context].
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	return nil
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [capture.Device].
type Device struct {
	mu sync.Mutex

	// StartError is returned by Start.
	StartError error

	// CallCountStart, CallCountStop, CallCountClose record method calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int

	cb      capture.DataCallback
	started bool
}

// Start implements [capture.Device].
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartError != nil {
		return d.StartError
	}
	d.started = true
	return nil
}

// Stop implements [capture.Device].
func (d *Device) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStop++
	d.started = false
}

// Close implements [capture.Device].
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
}

// Started reports whether the device is currently started.
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// Push invokes the registered data callback with data, simulating one
// hardware buffer delivery. Safe to call regardless of started state — the
// pipeline, not the device, is responsible for gating.
func (d *Device) Push(data []byte) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(data, uint32(len(data)/2))
	}
}
