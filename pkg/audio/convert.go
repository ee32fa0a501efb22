package audio

import (
	"log/slog"
	"math"
	"sync"
)

// Resample converts samples from inputRate to outputRate using linear
// interpolation. If the rates are equal the input slice itself is returned.
//
// The output holds round(len(samples) / (inputRate/outputRate)) samples. Each
// output sample interpolates between the source sample at the integer part of
// its position and the one after it; the last source sample has no successor
// and is copied as-is. Resample allocates only the output slice and never
// blocks, so it is safe to call from a real-time capture callback.
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 {
		return samples
	}

	ratio := float64(inputRate) / float64(outputRate)
	n := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, n)
	last := len(samples) - 1

	for i := range n {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx > last {
			idx = last
		}
		if idx+1 <= last {
			out[i] = float32(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		} else {
			out[i] = samples[idx]
		}
	}
	return out
}

// Converter resamples capture frames to a fixed target rate. It logs once on
// the first rate mismatch so a misconfigured device shows up in the logs
// without flooding them. Create one per capture stream.
type Converter struct {
	Target int

	warnedMismatch sync.Once
}

// Convert returns frame resampled to the converter's target rate. Frames that
// already match are returned unchanged.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	if frame.SampleRate == c.Target || frame.SampleRate <= 0 {
		return frame
	}
	c.warnedMismatch.Do(func() {
		slog.Debug("audio converter: resampling capture frames",
			"from", frame.SampleRate,
			"to", c.Target,
		)
	})
	return AudioFrame{
		Samples:    Resample(frame.Samples, frame.SampleRate, c.Target),
		SampleRate: c.Target,
	}
}
