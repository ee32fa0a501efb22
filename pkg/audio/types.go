package audio

import "time"

const (
	// InputSampleRate is the rate the live API expects for microphone audio.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesised audio sent by the live API.
	OutputSampleRate = 24000
)

// AudioFrame is a single block of captured microphone audio. Frames are
// produced by a [CaptureDevice] at a fixed block size, consumed exactly once by
// the capture pipeline and then discarded.
type AudioFrame struct {
	// Samples holds mono floating-point samples in [-1.0, 1.0].
	Samples []float32

	// SampleRate is the rate in Hz the frame was captured at.
	SampleRate int
}

// EncodedChunk is the unit of audio exchanged with the live transport in both
// directions: little-endian PCM16 bytes plus a MIME-style tag.
type EncodedChunk struct {
	// MIMEType describes encoding and rate, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data holds raw PCM16LE bytes (not base64).
	Data []byte
}

// Buffer is a decoded, playable block of mono audio.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of b.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}
