// Package audio defines the audio primitives of the live voice pipeline:
// sample-rate conversion, the PCM16 wire codec, gapless output scheduling and
// the device abstractions the pipeline runs on.
//
// The two device abstractions are:
//
//   - [CaptureDevice] delivers microphone blocks to a callback.
//   - [OutputDevice] plays [Buffer] values at absolute times on its own clock.
//
// A [Devices] value opens both. Concrete implementations live in adapter
// packages (audio/portaudio for real hardware, audio/mock for tests). The
// interfaces are kept narrow so the session controller stays decoupled from the
// host audio stack.
package audio

import (
	"context"
	"time"
)

// Clock reports the current playback time of an output device. The value is
// monotonic and starts at zero when the device opens.
type Clock interface {
	Now() time.Duration
}

// Player schedules a buffer to start playing at an absolute time on the
// device's [Clock]. PlayAt must not block on playback.
type Player interface {
	PlayAt(buf *Buffer, at time.Duration)
}

// Stopper is implemented by players that can discard buffers that are queued
// or currently playing.
type Stopper interface {
	StopAll()
}

// CaptureDevice represents an open microphone.
//
// Implementations must be safe for concurrent use. Close may be called more
// than once; subsequent calls are no-ops and return nil.
type CaptureDevice interface {
	// Start begins delivering frames to onFrame. The callback runs on the
	// device's real-time thread and must not block. Start may only be called
	// once per device.
	Start(onFrame func(AudioFrame)) error

	// SampleRate is the native rate of the frames delivered to onFrame.
	SampleRate() int

	// Close stops capture and releases the device.
	Close() error
}

// OutputDevice represents an open speaker. Buffers handed to PlayAt are
// rendered on the device's own clock.
type OutputDevice interface {
	Clock
	Player
	Stopper

	// Close stops playback and releases the device. It is idempotent.
	Close() error
}

// Devices opens capture and output devices. The supplied ctx governs the open
// attempt only.
//
// Implementations must be safe for concurrent use.
type Devices interface {
	// OpenInput acquires the default microphone. Returns an error when
	// permission is denied or no device is present.
	OpenInput(ctx context.Context) (CaptureDevice, error)

	// OpenOutput acquires the default speaker, rendering at sampleRate.
	OpenOutput(ctx context.Context, sampleRate int) (OutputDevice, error)
}
