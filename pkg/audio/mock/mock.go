// Package mock provides in-memory mock implementations of the [audio.Devices],
// [audio.CaptureDevice] and [audio.OutputDevice] interfaces for use in unit
// tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	devs := &mock.Devices{}
//	in, _ := devs.OpenInput(ctx)
//	// ... later, simulate the microphone:
//	devs.LastInput().Emit(audio.AudioFrame{Samples: block, SampleRate: 48000})
package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/genogram/pkg/audio"
)

// ErrNotStarted is returned by [Capture.Emit] before Start has been called.
var ErrNotStarted = errors.New("mock: capture not started")

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.CaptureDevice]. Frames are
// injected with [Capture.Emit].
type Capture struct {
	mu sync.Mutex

	// Rate is returned by SampleRate. Defaults to 48000 if zero.
	Rate int

	// StartError is returned by Start.
	StartError error

	// CloseError is returned by Close.
	CloseError error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	onFrame func(audio.AudioFrame)
	closed  bool
}

// Start implements [audio.CaptureDevice]. Stores onFrame for later Emit calls.
func (c *Capture) Start(onFrame func(audio.AudioFrame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	if c.StartError != nil {
		return c.StartError
	}
	c.onFrame = onFrame
	return nil
}

// SampleRate implements [audio.CaptureDevice].
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Rate == 0 {
		return 48000
	}
	return c.Rate
}

// Close implements [audio.CaptureDevice]. After Close, Emit is a no-op.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	c.closed = true
	return c.CloseError
}

// Closed reports whether Close has been called.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Started reports whether Start has succeeded.
func (c *Capture) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onFrame != nil
}

// Emit delivers frame to the registered callback, as the device thread would.
// It is a no-op once the device is closed.
func (c *Capture) Emit(frame audio.AudioFrame) error {
	c.mu.Lock()
	cb, closed := c.onFrame, c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	if cb == nil {
		return ErrNotStarted
	}
	if frame.SampleRate == 0 {
		frame.SampleRate = c.SampleRate()
	}
	cb(frame)
	return nil
}

// ─── Output ───────────────────────────────────────────────────────────────────

// PlayAtCall records the arguments of a single [Output.PlayAt] invocation.
type PlayAtCall struct {
	// Buffer is the buffer passed to PlayAt.
	Buffer *audio.Buffer
	// At is the scheduled start time.
	At time.Duration
}

// Output is a mock implementation of [audio.OutputDevice] with a manually
// driven clock.
type Output struct {
	mu sync.Mutex

	// Rate is the rate the output was opened with.
	Rate int

	// CloseError is returned by Close.
	CloseError error

	// PlayAtCalls records all PlayAt invocations.
	PlayAtCalls []PlayAtCall

	// CallCountStopAll records how many times StopAll was called.
	CallCountStopAll int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	now time.Duration
}

// Now implements [audio.Clock].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// SetNow moves the clock to d.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the clock forward by d.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

// PlayAt implements [audio.Player]. Records the call.
func (o *Output) PlayAt(buf *audio.Buffer, at time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.PlayAtCalls = append(o.PlayAtCalls, PlayAtCall{Buffer: buf, At: at})
}

// StopAll implements [audio.Stopper].
func (o *Output) StopAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountStopAll++
}

// Close implements [audio.OutputDevice].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	return o.CloseError
}

// Calls returns a snapshot of PlayAtCalls.
func (o *Output) Calls() []PlayAtCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PlayAtCall(nil), o.PlayAtCalls...)
}

// Stops returns CallCountStopAll.
func (o *Output) Stops() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountStopAll
}

// Closes returns CallCountClose.
func (o *Output) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountClose
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Devices is a mock implementation of [audio.Devices]. Every successful open
// creates a fresh device so that reconnect tests can tell sessions apart.
type Devices struct {
	mu sync.Mutex

	// InputRate is the SampleRate of created capture devices.
	InputRate int

	// OpenInputError is returned by OpenInput.
	OpenInputError error

	// OpenOutputError is returned by OpenOutput.
	OpenOutputError error

	// Inputs records every capture device handed out, in order.
	Inputs []*Capture

	// Outputs records every output device handed out, in order.
	Outputs []*Output
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context) (audio.CaptureDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenInputError != nil {
		return nil, d.OpenInputError
	}
	c := &Capture{Rate: d.InputRate}
	d.Inputs = append(d.Inputs, c)
	return c, nil
}

// OpenOutput implements [audio.Devices].
func (d *Devices) OpenOutput(_ context.Context, sampleRate int) (audio.OutputDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenOutputError != nil {
		return nil, d.OpenOutputError
	}
	o := &Output{Rate: sampleRate}
	d.Outputs = append(d.Outputs, o)
	return o, nil
}

// LastInput returns the most recently opened capture device, or nil.
func (d *Devices) LastInput() *Capture {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Inputs) == 0 {
		return nil
	}
	return d.Inputs[len(d.Inputs)-1]
}

// LastOutput returns the most recently opened output device, or nil.
func (d *Devices) LastOutput() *Output {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Outputs) == 0 {
		return nil
	}
	return d.Outputs[len(d.Outputs)-1]
}

var (
	_ audio.Devices       = (*Devices)(nil)
	_ audio.CaptureDevice = (*Capture)(nil)
	_ audio.OutputDevice  = (*Output)(nil)
)
