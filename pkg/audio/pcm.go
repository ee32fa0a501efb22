package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrOddLength is returned when a PCM16 payload does not hold a whole number
// of samples.
var ErrOddLength = errors.New("audio: odd byte count in PCM16 payload")

// FloatToInt16 converts float samples to 16-bit integers. Samples are clamped
// to [-1, 1]; negative values scale by 0x8000 and positive values by 0x7FFF so
// that both ends of the int16 range are reachable. Fractions are truncated
// toward zero. NaN encodes as silence.
func FloatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if math.IsNaN(float64(s)) {
			continue
		}
		v := max(-1, min(1, float64(s)))
		if v < 0 {
			out[i] = int16(v * 0x8000)
		} else {
			out[i] = int16(v * 0x7FFF)
		}
	}
	return out
}

// Int16ToFloat converts 16-bit integer samples to floats in [-1, 1).
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// EncodePCM16 serialises samples as little-endian PCM16 bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodePCM16 parses little-endian PCM16 bytes into samples.
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddLength, len(data))
	}
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out, nil
}

// DecodeAudioData interprets data as mono PCM16LE and wraps it as a playable
// buffer tagged with sampleRate.
func DecodeAudioData(data []byte, sampleRate int) (*Buffer, error) {
	pcm, err := DecodePCM16(data)
	if err != nil {
		return nil, err
	}
	return &Buffer{Samples: Int16ToFloat(pcm), SampleRate: sampleRate}, nil
}

// EncodeFrame runs a captured frame through the PCM codec and tags the result
// with the frame's sample rate.
func EncodeFrame(frame AudioFrame) EncodedChunk {
	return EncodedChunk{
		MIMEType: MIMEType(frame.SampleRate),
		Data:     EncodePCM16(FloatToInt16(frame.Samples)),
	}
}

// BytesToTransport encodes raw bytes for embedding in a JSON message.
func BytesToTransport(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// TransportToBytes reverses [BytesToTransport].
func TransportToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("audio: decode transport payload: %w", err)
	}
	return b, nil
}

// MIMEType returns the wire tag for PCM16 audio at rate, e.g.
// "audio/pcm;rate=16000".
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseMIMERate extracts the rate parameter from a PCM MIME tag. It returns
// fallback when the tag carries no parseable rate.
func ParseMIMERate(mimeType string, fallback int) int {
	for param := range strings.SplitSeq(mimeType, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(k, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}
