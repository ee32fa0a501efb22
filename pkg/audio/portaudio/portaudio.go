// Package portaudio implements [audio.Devices] on top of the host's default
// PortAudio input and output devices.
//
// Requires the PortAudio C library (pkg-config portaudio-2.0) at build time.
// Every opened device holds its own PortAudio reference, so devices may be
// opened and closed independently.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/genogram/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Devices       = (*Devices)(nil)
	_ audio.CaptureDevice = (*capture)(nil)
	_ audio.OutputDevice  = (*output)(nil)
)

// Option is a functional option for [Devices].
type Option func(*Devices)

// WithBlockSize sets the capture block size in frames. Default: 4096.
func WithBlockSize(frames int) Option {
	return func(d *Devices) {
		if frames > 0 {
			d.blockSize = frames
		}
	}
}

// WithInputRate requests a capture rate. Zero uses the device's default rate.
func WithInputRate(rate int) Option {
	return func(d *Devices) {
		d.inputRate = rate
	}
}

// Devices opens default PortAudio devices.
type Devices struct {
	blockSize int
	inputRate int
}

// New returns a Devices configured by opts.
func New(opts ...Option) *Devices {
	d := &Devices{blockSize: 4096}
	for _, o := range opts {
		o(d)
	}
	return d
}

// OpenInput implements [audio.Devices].
func (d *Devices) OpenInput(_ context.Context) (audio.CaptureDevice, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	rate := d.inputRate
	if rate <= 0 {
		info, err := pa.DefaultInputDevice()
		if err != nil {
			_ = pa.Terminate()
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		rate = int(info.DefaultSampleRate)
	}
	return &capture{rate: rate, blockSize: d.blockSize}, nil
}

// OpenOutput implements [audio.Devices]. The returned device renders a
// [audio.Timeline] from the PortAudio callback thread.
func (d *Devices) OpenOutput(_ context.Context, sampleRate int) (audio.OutputDevice, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	o := &output{Timeline: audio.NewTimeline(sampleRate)}
	stream, err := pa.OpenDefaultStream(0, 1, float64(o.SampleRate()), 0, o.Render)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start output stream: %w", err)
	}
	o.stream = stream
	return o, nil
}

// ─── Capture ──────────────────────────────────────────────────────────────────

type capture struct {
	rate      int
	blockSize int

	mu      sync.Mutex
	stream  *pa.Stream
	started bool
	once    sync.Once
}

func (c *capture) SampleRate() int { return c.rate }

func (c *capture) Start(onFrame func(audio.AudioFrame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("portaudio: capture already started")
	}

	rate := c.rate
	stream, err := pa.OpenDefaultStream(1, 0, float64(rate), c.blockSize, func(in []float32) {
		// PortAudio reuses in across callbacks.
		samples := make([]float32, len(in))
		copy(samples, in)
		onFrame(audio.AudioFrame{Samples: samples, SampleRate: rate})
	})
	if err != nil {
		return fmt.Errorf("portaudio: open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("portaudio: start input stream: %w", err)
	}
	c.stream = stream
	c.started = true
	return nil
}

func (c *capture) Close() error {
	var err error
	c.once.Do(func() {
		c.mu.Lock()
		stream := c.stream
		c.stream = nil
		c.mu.Unlock()
		if stream != nil {
			err = closeStream(stream)
		}
		if termErr := pa.Terminate(); termErr != nil && err == nil {
			err = termErr
		}
	})
	return err
}

// ─── Output ───────────────────────────────────────────────────────────────────

type output struct {
	*audio.Timeline

	stream *pa.Stream
	once   sync.Once
}

func (o *output) Close() error {
	var err error
	o.once.Do(func() {
		o.StopAll()
		err = closeStream(o.stream)
		if termErr := pa.Terminate(); termErr != nil && err == nil {
			err = termErr
		}
	})
	return err
}

func closeStream(s *pa.Stream) error {
	stopErr := s.Stop()
	closeErr := s.Close()
	if stopErr != nil {
		slog.Debug("portaudio: stop stream", "err", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio: close stream: %w", closeErr)
	}
	return nil
}
