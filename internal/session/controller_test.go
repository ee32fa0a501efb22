package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/genogram/internal/conversation"
	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/pkg/audio"
	audiomock "github.com/MrWong99/genogram/pkg/audio/mock"
	"github.com/MrWong99/genogram/pkg/provider/live"
	livemock "github.com/MrWong99/genogram/pkg/provider/live/mock"
)

const eventTimeout = 2 * time.Second

// ── helpers ─────────────────────────────────────────────────────────────────

type fixture struct {
	ctrl    *Controller
	devices *audiomock.Devices
	prov    *livemock.Provider
	reader  *sdkmetric.ManualReader
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &fixture{devices: &audiomock.Devices{}, prov: &livemock.Provider{}, reader: reader}
	if cfg.Provider == nil {
		cfg.Provider = f.prov
	}
	cfg.Devices = f.devices
	cfg.Metrics = metrics
	f.ctrl, err = NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(f.ctrl.Disconnect)
	return f
}

// open connects and delivers the remote open event.
func (f *fixture) open(t *testing.T) *livemock.Stream {
	t.Helper()
	if err := f.ctrl.Connect(context.Background(), live.SessionConfig{Voice: "Fenrir", Language: "es"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	stream := f.prov.LastStream()
	stream.Emit(live.Event{Type: live.EventOpen})
	expectEvent(t, f.ctrl, EventOpen)
	return stream
}

func nextEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for controller event")
		return Event{}
	}
}

func expectEvent(t *testing.T, c *Controller, want EventType) Event {
	t.Helper()
	ev := nextEvent(t, c)
	if ev.Type != want {
		t.Fatalf("event = %s (err %v), want %s", ev.Type, ev.Err, want)
	}
	return ev
}

func expectNoEvent(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(eventTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// barrier pushes a marker turn through the event path and waits for it, so
// every event emitted before it has been handled.
func barrier(t *testing.T, c *Controller, s *livemock.Stream) {
	t.Helper()
	s.Emit(live.Event{Type: live.EventInputTranscript, Text: "__barrier__"})
	s.Emit(live.Event{Type: live.EventTurnComplete})
	ev := expectEvent(t, c, EventUtterance)
	if ev.Utterance.Text != "__barrier__" {
		t.Fatalf("barrier utterance = %q", ev.Utterance.Text)
	}
}

func counter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func silence(n int) audio.AudioFrame {
	return audio.AudioFrame{Samples: make([]float32, n), SampleRate: 48000}
}

// ── tests ───────────────────────────────────────────────────────────────────

func TestNewController_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	if _, err := NewController(Config{Devices: &audiomock.Devices{}}); err == nil {
		t.Error("expected error without provider")
	}
	if _, err := NewController(Config{Provider: &livemock.Provider{}}); err == nil {
		t.Error("expected error without devices")
	}
}

func TestController_EndToEndTurn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if got := f.ctrl.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}
	stream := f.open(t)
	if got := f.ctrl.State(); got != StateOpen {
		t.Fatalf("state after open = %s, want open", got)
	}

	in := f.devices.LastInput()
	for range 3 {
		if err := in.Emit(silence(4096)); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	waitFor(t, "3 sent frames", func() bool { return len(stream.Sent()) == 3 })
	for i, chunk := range stream.Sent() {
		if chunk.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("chunk %d MIME = %q", i, chunk.MIMEType)
		}
		// 4096 samples at 48 kHz resample to 1365 samples at 16 kHz.
		if len(chunk.Data) != 1365*2 {
			t.Errorf("chunk %d = %d bytes, want %d", i, len(chunk.Data), 1365*2)
		}
	}

	stream.Emit(live.Event{Type: live.EventInputTranscript, Text: "Me llamo "})
	stream.Emit(live.Event{Type: live.EventInputTranscript, Text: "Ana"})
	stream.Emit(live.Event{Type: live.EventOutputTranscript, Text: "Hola Ana"})
	stream.Emit(live.Event{Type: live.EventTurnComplete})

	user := expectEvent(t, f.ctrl, EventUtterance).Utterance
	model := expectEvent(t, f.ctrl, EventUtterance).Utterance
	if user.Role != conversation.RoleUser || user.Text != "Me llamo Ana" {
		t.Errorf("first utterance = %+v, want user %q", user, "Me llamo Ana")
	}
	if model.Role != conversation.RoleModel || model.Text != "Hola Ana" {
		t.Errorf("second utterance = %+v, want model %q", model, "Hola Ana")
	}
	if user.Seq >= model.Seq {
		t.Errorf("seq user=%d model=%d, want user first", user.Seq, model.Seq)
	}
	expectNoEvent(t, f.ctrl)

	stats, err := f.ctrl.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.FramesSent != 3 || stats.Utterances != 2 {
		t.Errorf("stats = %+v, want 3 frames and 2 utterances", stats)
	}
	if got := counter(t, f.reader, "genogram.utterances"); got != 2 {
		t.Errorf("utterances metric = %d, want 2", got)
	}
	if got := counter(t, f.reader, "genogram.live.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestController_ConnectForwardsSessionConfig(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.open(t)

	calls := f.prov.Calls()
	if len(calls) != 1 {
		t.Fatalf("Connect calls = %d, want 1", len(calls))
	}
	if calls[0].Config.Voice != "Fenrir" || calls[0].Config.Language != "es" {
		t.Errorf("session config = %+v", calls[0].Config)
	}
	if out := f.devices.LastOutput(); out.Rate != audio.OutputSampleRate {
		t.Errorf("output opened at %d Hz, want %d", out.Rate, audio.OutputSampleRate)
	}
}

func TestController_NoCaptureBeforeOpen(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if err := f.ctrl.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := f.ctrl.State(); got != StateConnecting {
		t.Fatalf("state = %s, want connecting", got)
	}
	if f.devices.LastInput().Started() {
		t.Error("capture started before the remote open event")
	}
	if _, err := f.ctrl.Stats(); err != nil {
		t.Errorf("Stats while connecting: %v", err)
	}
}

func TestController_SecondConnectIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.open(t)

	if err := f.ctrl.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := len(f.prov.Calls()); got != 1 {
		t.Errorf("provider Connect calls = %d, want 1", got)
	}
	if got := len(f.devices.Inputs); got != 1 {
		t.Errorf("microphones opened = %d, want 1", got)
	}
	expectNoEvent(t, f.ctrl)
}

func TestController_SetupFailure(t *testing.T) {
	t.Parallel()

	errDenied := errors.New("permission denied")
	tests := []struct {
		name        string
		setup       func(*fixture)
		wantInputs  int
		wantOutputs int
	}{
		{
			name:  "microphone denied",
			setup: func(f *fixture) { f.devices.OpenInputError = errDenied },
		},
		{
			name:       "speaker unavailable",
			setup:      func(f *fixture) { f.devices.OpenOutputError = errDenied },
			wantInputs: 1,
		},
		{
			name:        "stream rejected",
			setup:       func(f *fixture) { f.prov.ConnectError = errDenied },
			wantInputs:  1,
			wantOutputs: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, Config{})
			tt.setup(f)

			err := f.ctrl.Connect(context.Background(), live.SessionConfig{})
			if !errors.Is(err, errDenied) {
				t.Fatalf("Connect error = %v, want %v", err, errDenied)
			}
			ev := expectEvent(t, f.ctrl, EventError)
			if !errors.Is(ev.Err, errDenied) {
				t.Errorf("event error = %v, want %v", ev.Err, errDenied)
			}
			expectNoEvent(t, f.ctrl)
			if got := f.ctrl.State(); got != StateErrored {
				t.Errorf("state = %s, want errored", got)
			}

			if len(f.devices.Inputs) != tt.wantInputs || len(f.devices.Outputs) != tt.wantOutputs {
				t.Fatalf("opened %d inputs, %d outputs; want %d, %d",
					len(f.devices.Inputs), len(f.devices.Outputs), tt.wantInputs, tt.wantOutputs)
			}
			for _, in := range f.devices.Inputs {
				if !in.Closed() {
					t.Error("microphone not released")
				}
			}
			for _, out := range f.devices.Outputs {
				if out.Closes() != 1 {
					t.Errorf("speaker closed %d times, want 1", out.Closes())
				}
			}
		})
	}
}

func TestController_DisconnectIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	stream := f.open(t)

	f.ctrl.Disconnect()
	f.ctrl.Disconnect()

	expectEvent(t, f.ctrl, EventClose)
	expectNoEvent(t, f.ctrl)

	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	in, out := f.devices.LastInput(), f.devices.LastOutput()
	if in.CallCountClose != 1 {
		t.Errorf("microphone closed %d times, want 1", in.CallCountClose)
	}
	if out.Closes() != 1 {
		t.Errorf("speaker closed %d times, want 1", out.Closes())
	}
	if stream.Closes() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.Closes())
	}
	if _, err := f.ctrl.Stats(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Stats after disconnect = %v, want ErrNotOpen", err)
	}
	waitFor(t, "active sessions back to 0", func() bool {
		return counter(t, f.reader, "genogram.live.active_sessions") == 0
	})
}

func TestController_DisconnectWhenIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	f.ctrl.Disconnect()
	if got := f.ctrl.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	expectNoEvent(t, f.ctrl)
}

func TestController_RemoteClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	stream := f.open(t)

	stream.Emit(live.Event{Type: live.EventClosed, Text: "session expired"})

	ev := expectEvent(t, f.ctrl, EventClose)
	if ev.Reason != "session expired" {
		t.Errorf("close reason = %q", ev.Reason)
	}
	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if !f.devices.LastInput().Closed() || f.devices.LastOutput().Closes() != 1 {
		t.Error("devices not released after remote close")
	}

	f.ctrl.Disconnect()
	expectNoEvent(t, f.ctrl)
}

func TestController_TransportError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	stream := f.open(t)

	errDrop := errors.New("connection reset")
	stream.Emit(live.Event{Type: live.EventError, Err: errDrop})

	ev := expectEvent(t, f.ctrl, EventError)
	if !errors.Is(ev.Err, errDrop) {
		t.Errorf("event error = %v, want %v", ev.Err, errDrop)
	}
	if got := f.ctrl.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
	if stream.Closes() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.Closes())
	}
	expectNoEvent(t, f.ctrl)
}

func TestController_ReconnectStartsFresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	first := f.open(t)

	first.Emit(live.Event{Type: live.EventInputTranscript, Text: "sin terminar"})
	f.ctrl.Disconnect()
	expectEvent(t, f.ctrl, EventClose)

	second := f.open(t)
	if second == first {
		t.Fatal("reconnect reused the stream")
	}
	if len(f.devices.Inputs) != 2 || len(f.devices.Outputs) != 2 {
		t.Fatalf("devices opened = %d/%d, want 2/2", len(f.devices.Inputs), len(f.devices.Outputs))
	}

	second.Emit(live.Event{Type: live.EventOutputTranscript, Text: "Hola de nuevo"})
	second.Emit(live.Event{Type: live.EventTurnComplete})
	ev := expectEvent(t, f.ctrl, EventUtterance)
	if ev.Utterance.Role != conversation.RoleModel || ev.Utterance.Text != "Hola de nuevo" {
		t.Errorf("utterance = %+v, want only the new model turn", ev.Utterance)
	}
	if ev.Utterance.Seq != 1 {
		t.Errorf("seq = %d, want 1 in a fresh session", ev.Utterance.Seq)
	}
	expectNoEvent(t, f.ctrl)
}

func TestController_InterruptionFlushesPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	stream := f.open(t)

	stream.Emit(live.Event{Type: live.EventInputTranscript, Text: "Espera"})
	stream.Emit(live.Event{Type: live.EventOutputTranscript, Text: "Te voy a contar"})
	stream.Emit(live.Event{Type: live.EventInterrupted})
	stream.Emit(live.Event{Type: live.EventOutputTranscript, Text: "Dime"})
	stream.Emit(live.Event{Type: live.EventTurnComplete})

	user := expectEvent(t, f.ctrl, EventUtterance).Utterance
	model := expectEvent(t, f.ctrl, EventUtterance).Utterance
	if user.Text != "Espera" || model.Text != "Dime" {
		t.Errorf("utterances = %q, %q; want %q, %q", user.Text, model.Text, "Espera", "Dime")
	}
	if got := f.devices.LastOutput().Stops(); got != 1 {
		t.Errorf("StopAll calls = %d, want 1", got)
	}
	if got := counter(t, f.reader, "genogram.live.interruptions"); got != 1 {
		t.Errorf("interruptions metric = %d, want 1", got)
	}
}

func TestController_SchedulesInboundAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	stream := f.open(t)

	// 2 samples each at 24 kHz.
	chunk := audio.EncodedChunk{MIMEType: "audio/pcm;rate=24000", Data: []byte{0, 0, 0xff, 0x7f}}
	stream.Emit(live.Event{Type: live.EventAudio, Audio: chunk})
	stream.Emit(live.Event{Type: live.EventAudio, Audio: audio.EncodedChunk{Data: []byte{1, 2, 3}}})
	stream.Emit(live.Event{Type: live.EventAudio, Audio: chunk})
	barrier(t, f.ctrl, stream)

	calls := f.devices.LastOutput().Calls()
	if len(calls) != 2 {
		t.Fatalf("PlayAt calls = %d, want 2", len(calls))
	}
	if calls[0].At != 0 {
		t.Errorf("first chunk at %v, want 0", calls[0].At)
	}
	if want := calls[0].Buffer.Duration(); calls[1].At != want {
		t.Errorf("second chunk at %v, want %v", calls[1].At, want)
	}
	if calls[0].Buffer.SampleRate != 24000 {
		t.Errorf("buffer rate = %d, want 24000", calls[0].Buffer.SampleRate)
	}
	if got := counter(t, f.reader, "genogram.live.decode_errors"); got != 1 {
		t.Errorf("decode errors = %d, want 1", got)
	}
	if got := f.ctrl.State(); got != StateOpen {
		t.Errorf("state after bad chunk = %s, want open", got)
	}
}

// blockingStream holds every Send until release is closed.
type blockingStream struct {
	*livemock.Stream
	release chan struct{}
}

func (s *blockingStream) Send(ctx context.Context, chunk audio.EncodedChunk) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.Stream.Send(ctx, chunk)
}

type providerFunc func(context.Context, live.SessionConfig) (live.Stream, error)

func (f providerFunc) Connect(ctx context.Context, cfg live.SessionConfig) (live.Stream, error) {
	return f(ctx, cfg)
}

func TestController_DropsFramesWhenQueueFull(t *testing.T) {
	t.Parallel()

	bs := &blockingStream{Stream: livemock.NewStream(8), release: make(chan struct{})}
	prov := providerFunc(func(context.Context, live.SessionConfig) (live.Stream, error) { return bs, nil })
	f := newFixture(t, Config{Provider: prov, QueueDepth: 1})

	if err := f.ctrl.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	bs.Emit(live.Event{Type: live.EventOpen})
	expectEvent(t, f.ctrl, EventOpen)

	in := f.devices.LastInput()
	for range 5 {
		if err := in.Emit(silence(480)); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	// At most one frame is in flight and one queued.
	stats, err := f.ctrl.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.FramesDropped < 3 {
		t.Errorf("dropped = %d, want at least 3", stats.FramesDropped)
	}
	if got := counter(t, f.reader, "genogram.live.frames_dropped"); got != stats.FramesDropped {
		t.Errorf("frames_dropped metric = %d, want %d", got, stats.FramesDropped)
	}

	close(bs.release)
	waitFor(t, "queued frames sent", func() bool { return len(bs.Sent()) == int(5-stats.FramesDropped) })

	f.ctrl.Disconnect()
	expectEvent(t, f.ctrl, EventClose)
	if err := in.Emit(silence(480)); err != nil {
		t.Fatalf("Emit after disconnect: %v", err)
	}
	if got := len(bs.Sent()); got != int(5-stats.FramesDropped) {
		t.Errorf("frames sent after disconnect: %d total", got)
	}
}

func TestController_CaptureStartFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if err := f.ctrl.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	errBusy := errors.New("device busy")
	f.devices.LastInput().StartError = errBusy
	f.prov.LastStream().Emit(live.Event{Type: live.EventOpen})

	ev := expectEvent(t, f.ctrl, EventError)
	if !errors.Is(ev.Err, errBusy) {
		t.Errorf("event error = %v, want %v", ev.Err, errBusy)
	}
	expectNoEvent(t, f.ctrl)
	if got := f.ctrl.State(); got != StateErrored {
		t.Errorf("state = %s, want errored", got)
	}
}

// ── concurrency ─────────────────────────────────────────────────────────────

// hookHistogram runs fn on the first Record call.
type hookHistogram struct {
	metric.Float64Histogram
	once sync.Once
	fn   func()
}

func (h *hookHistogram) Record(ctx context.Context, v float64, opts ...metric.RecordOption) {
	h.once.Do(h.fn)
	h.Float64Histogram.Record(ctx, v, opts...)
}

// gatedProvider hands out mock streams but holds every Connect until gate is
// closed, ignoring ctx the way a slow dial would.
type gatedProvider struct {
	gate chan struct{}

	mu      sync.Mutex
	streams []*livemock.Stream
}

func (p *gatedProvider) Connect(context.Context, live.SessionConfig) (live.Stream, error) {
	s := livemock.NewStream(8)
	p.mu.Lock()
	p.streams = append(p.streams, s)
	p.mu.Unlock()
	<-p.gate
	return s, nil
}

func (p *gatedProvider) dialed() []*livemock.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*livemock.Stream(nil), p.streams...)
}

func connectAsync(c *Controller) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Connect(context.Background(), live.SessionConfig{}) }()
	return done
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for Connect to return")
		return nil
	}
}

func TestController_DisconnectBeforeCaptureStarts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.ctrl.metrics.LiveConnectDuration = &hookHistogram{
		Float64Histogram: f.ctrl.metrics.LiveConnectDuration,
		fn:               f.ctrl.Disconnect,
	}

	if err := f.ctrl.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	stream := f.prov.LastStream()
	stream.Emit(live.Event{Type: live.EventOpen})

	expectEvent(t, f.ctrl, EventClose)
	expectNoEvent(t, f.ctrl)

	in := f.devices.LastInput()
	if in.Started() {
		t.Error("microphone started after the session was torn down")
	}
	if in.CallCountClose != 1 || f.devices.LastOutput().Closes() != 1 || stream.Closes() != 1 {
		t.Errorf("closes mic/speaker/stream = %d/%d/%d, want 1/1/1",
			in.CallCountClose, f.devices.LastOutput().Closes(), stream.Closes())
	}
	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
}

func TestController_DisconnectWhileConnecting(t *testing.T) {
	t.Parallel()
	prov := providerFunc(func(ctx context.Context, _ live.SessionConfig) (live.Stream, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, Config{Provider: prov})

	result := connectAsync(f.ctrl)
	waitFor(t, "connecting", func() bool { return f.ctrl.State() == StateConnecting })
	waitFor(t, "speaker opened", func() bool { return f.devices.LastOutput() != nil })
	f.ctrl.Disconnect()

	if err := waitErr(t, result); err != nil {
		t.Fatalf("abandoned Connect = %v, want nil", err)
	}
	expectEvent(t, f.ctrl, EventClose)
	expectNoEvent(t, f.ctrl)

	if got := f.ctrl.State(); got != StateClosed {
		t.Errorf("state = %s, want closed", got)
	}
	if !f.devices.LastInput().Closed() || f.devices.LastOutput().Closes() != 1 {
		t.Error("devices of the abandoned attempt not released")
	}
}

func TestController_ReconnectDuringAbandonedConnect(t *testing.T) {
	t.Parallel()
	prov := &gatedProvider{gate: make(chan struct{})}
	f := newFixture(t, Config{Provider: prov})

	first := connectAsync(f.ctrl)
	waitFor(t, "first dial", func() bool { return len(prov.dialed()) == 1 })
	f.ctrl.Disconnect()

	second := connectAsync(f.ctrl)
	waitFor(t, "second attempt connecting", func() bool { return f.ctrl.State() == StateConnecting })
	time.Sleep(20 * time.Millisecond)
	if got := len(prov.dialed()); got != 1 {
		t.Fatalf("dialed %d streams while the first attempt still held the devices", got)
	}

	close(prov.gate)
	if err := waitErr(t, first); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := waitErr(t, second); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	expectEvent(t, f.ctrl, EventClose)

	streams := prov.dialed()
	if len(streams) != 2 {
		t.Fatalf("dialed %d streams, want 2", len(streams))
	}
	if streams[0].Closes() != 1 || !f.devices.Inputs[0].Closed() || f.devices.Outputs[0].Closes() != 1 {
		t.Error("abandoned attempt left resources open")
	}

	streams[1].Emit(live.Event{Type: live.EventOpen})
	expectEvent(t, f.ctrl, EventOpen)
	if !f.devices.Inputs[1].Started() {
		t.Error("microphone of the live session not started")
	}

	f.ctrl.Disconnect()
	expectEvent(t, f.ctrl, EventClose)
	expectNoEvent(t, f.ctrl)
	for i, s := range streams {
		if s.Closes() != 1 {
			t.Errorf("stream %d closed %d times, want 1", i, s.Closes())
		}
	}
	for i, in := range f.devices.Inputs {
		if !in.Closed() {
			t.Errorf("microphone %d left open", i)
		}
	}
}

func TestController_DetachedDoesNotBlockTeardown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{EventBuffer: 1})
	stream := f.open(t)

	stream.Emit(live.Event{Type: live.EventInputTranscript, Text: "hola"})
	stream.Emit(live.Event{Type: live.EventTurnComplete})
	waitFor(t, "buffered utterance", func() bool { return len(f.ctrl.events) == 1 })
	f.ctrl.Detach()

	done := make(chan struct{})
	go func() {
		f.ctrl.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(eventTimeout):
		t.Fatal("Disconnect blocked on a full event channel after Detach")
	}

	if ev := expectEvent(t, f.ctrl, EventUtterance); ev.Utterance.Text != "hola" {
		t.Errorf("buffered utterance = %q", ev.Utterance.Text)
	}
	if !f.devices.LastInput().Closed() || stream.Closes() != 1 {
		t.Error("session not torn down")
	}
}

func TestController_InboundAudioPlaysAtOutputRate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	stream := f.open(t)

	chunk := audio.EncodedChunk{MIMEType: "audio/pcm;rate=16000", Data: []byte{0, 0, 0xff, 0x7f}}
	stream.Emit(live.Event{Type: live.EventAudio, Audio: chunk})
	barrier(t, f.ctrl, stream)

	calls := f.devices.LastOutput().Calls()
	if len(calls) != 1 {
		t.Fatalf("PlayAt calls = %d, want 1", len(calls))
	}
	if got := calls[0].Buffer.SampleRate; got != audio.OutputSampleRate {
		t.Errorf("buffer rate = %d, want %d", got, audio.OutputSampleRate)
	}
}
