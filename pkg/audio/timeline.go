package audio

import (
	"container/heap"
	"sync"
	"time"
)

// Timeline is a sample-accurate playback surface for output devices that pull
// audio in fixed blocks. Buffers are placed at absolute start times with
// [Timeline.PlayAt]; [Timeline.Render] mixes whatever is due into the next
// output block and advances the clock by the number of samples written.
//
// Timeline implements [Clock], [Player] and [Stopper]. All methods are safe for
// concurrent use: Render is normally called from a real-time audio thread while
// PlayAt is called from the session's event goroutine.
type Timeline struct {
	rate int

	mu      sync.Mutex
	pos     int64 // samples rendered so far
	seq     uint64
	pending entryHeap
	active  []entry
}

// NewTimeline returns a Timeline rendering at sampleRate.
func NewTimeline(sampleRate int) *Timeline {
	if sampleRate <= 0 {
		sampleRate = OutputSampleRate
	}
	return &Timeline{rate: sampleRate}
}

// SampleRate returns the render rate.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the playback time, derived from the number of samples rendered.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samplesToDuration(t.pos)
}

// PlayAt places buf on the timeline starting at at. Buffers at a different
// rate are resampled to the render rate. A start time already in the past is
// moved to the current position.
func (t *Timeline) PlayAt(buf *Buffer, at time.Duration) {
	if buf == nil || len(buf.Samples) == 0 {
		return
	}
	samples := Resample(buf.Samples, buf.SampleRate, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()

	start := max(t.durationToSamples(at), t.pos)
	heap.Push(&t.pending, entry{samples: samples, start: start, seq: t.seq})
	t.seq++
}

// StopAll drops every pending and playing buffer. The clock keeps running.
func (t *Timeline) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = t.pending[:0]
	t.active = t.active[:0]
}

// Pending reports the number of buffers that are queued or still playing.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) + len(t.active)
}

// Render fills out with the mix of all buffers overlapping the next len(out)
// samples, writing silence where nothing is scheduled, and advances the clock.
// Overlapping buffers are summed and clipped to [-1, 1].
func (t *Timeline) Render(out []float32) {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	end := t.pos + int64(len(out))
	for len(t.pending) > 0 && t.pending[0].start < end {
		t.active = append(t.active, heap.Pop(&t.pending).(entry))
	}

	kept := t.active[:0]
	for _, e := range t.active {
		from := max(e.start, t.pos)
		to := min(e.start+int64(len(e.samples)), end)
		for p := from; p < to; p++ {
			out[p-t.pos] += e.samples[p-e.start]
		}
		if e.start+int64(len(e.samples)) > end {
			kept = append(kept, e)
		}
	}
	clear(t.active[len(kept):])
	t.active = kept

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	t.pos = end
}

func (t *Timeline) samplesToDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(t.rate)
}

func (t *Timeline) durationToSamples(d time.Duration) int64 {
	return int64(d) * int64(t.rate) / int64(time.Second)
}

// ── Scheduling heap ──────────────────────────────────────────────────────────

// entry is a buffer placed on the timeline. The seq field provides FIFO
// ordering between buffers with the same start sample.
type entry struct {
	samples []float32
	start   int64
	seq     uint64
}

// entryHeap implements [container/heap.Interface] as a min-heap ordered by
// start sample, with FIFO tie-breaking on seq.
type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
