package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumPoint returns the value of the int64 sum data point of name whose
// attribute key equals value. An empty key matches the first point.
func sumPoint(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"genogram.chat.duration", m.ChatDuration},
		{"genogram.analysis.duration", m.AnalysisDuration},
		{"genogram.live.connect.duration", m.LiveConnectDuration},
		{"genogram.http.request.duration", m.HTTPRequestDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestProviderRequests(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "gemini", "chat", "ok")
	m.RecordProviderRequest(ctx, "gemini", "chat", "ok")
	m.RecordProviderRequest(ctx, "gemini", "chat", "error")
	m.RecordProviderError(ctx, "gemini", "chat")

	rm := collect(t, reader)
	if got := sumPoint(t, rm, "genogram.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumPoint(t, rm, "genogram.provider.errors", "kind", "chat"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestUtterancesByRole(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordUtterance(ctx, "user")
	m.RecordUtterance(ctx, "model")
	m.RecordUtterance(ctx, "model")

	rm := collect(t, reader)
	if got := sumPoint(t, rm, "genogram.utterances", "role", "model"); got != 2 {
		t.Errorf("model utterances = %d, want 2", got)
	}
	if got := sumPoint(t, rm, "genogram.utterances", "role", "user"); got != 1 {
		t.Errorf("user utterances = %d, want 1", got)
	}
}

func TestRecordAnalysis(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordAnalysis(context.Background(), "insight", 1.5)

	rm := collect(t, reader)
	met := findMetric(rm, "genogram.analysis.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 1.5 {
		t.Errorf("unexpected data points: %+v", hist.DataPoints)
	}
}

func TestLiveCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.LiveFramesSent.Add(ctx, 3)
	m.LiveFramesDropped.Add(ctx, 1)
	m.LiveAudioChunks.Add(ctx, 4)
	m.LiveDecodeErrors.Add(ctx, 1)
	m.LiveInterruptions.Add(ctx, 2)
	m.ActiveLiveSessions.Add(ctx, 1)
	m.ActiveLiveSessions.Add(ctx, 1)
	m.ActiveLiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	counters := []struct {
		name string
		want int64
	}{
		{"genogram.live.frames_sent", 3},
		{"genogram.live.frames_dropped", 1},
		{"genogram.live.audio_chunks", 4},
		{"genogram.live.decode_errors", 1},
		{"genogram.live.interruptions", 2},
		{"genogram.live.active_sessions", 1},
	}
	for _, tc := range counters {
		t.Run(tc.name, func(t *testing.T) {
			if got := sumPoint(t, rm, tc.name, "", ""); got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
