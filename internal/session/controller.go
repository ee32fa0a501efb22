// Package session implements the live voice session: the controller that owns
// the microphone, the speaker and the remote stream, the capture pipeline that
// feeds the stream, and the aggregator that turns transcript fragments into
// utterances.
//
// A [Controller] runs at most one session at a time. Its lifecycle is
//
//	Idle → Connecting → Open → Closed
//
// with Errored reachable from Connecting and Open. Closed and Errored sessions
// can be replaced by calling [Controller.Connect] again. Consumers observe the
// session through the channel returned by [Controller.Events].
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/pkg/audio"
	"github.com/MrWong99/genogram/pkg/provider/live"
)

// ErrNotOpen is returned by operations that need an open session.
var ErrNotOpen = errors.New("session: not open")

// Defaults applied by [NewController] when the corresponding [Config] field is
// zero.
const (
	DefaultQueueDepth  = 32
	DefaultEventBuffer = 64
)

// State is the connection state of the controller.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateErrored
)

// String returns the lower-case name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// active reports whether a session occupies the controller.
func (s State) active() bool { return s == StateConnecting || s == StateOpen }

// EventType classifies controller events.
type EventType int

const (
	// EventOpen is emitted when the remote side accepted the session and
	// capture has started.
	EventOpen EventType = iota

	// EventUtterance carries one committed utterance.
	EventUtterance

	// EventClose is emitted once when a session ends without error.
	EventClose

	// EventError is emitted once when a session fails to start or ends with
	// an error.
	EventError
)

// String returns the lower-case name of t.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventUtterance:
		return "utterance"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by the controller on its event channel.
type Event struct {
	Type EventType

	// Utterance is set for EventUtterance.
	Utterance Utterance

	// Reason is the remote close reason for EventClose, if any.
	Reason string

	// Err is set for EventError.
	Err error
}

// Stats are the counters of the current session.
type Stats struct {
	State         State
	StartedAt     time.Time
	FramesSent    int64
	FramesDropped int64
	AudioChunks   int64
	Utterances    int64
}

// Config configures a [Controller].
type Config struct {
	// Provider opens remote live sessions. Required.
	Provider live.Provider

	// Devices opens the microphone and the speaker. Required.
	Devices audio.Devices

	// Metrics receives session metrics. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// QueueDepth bounds the hand-off queue between the capture callback and
	// the sender. Frames arriving while it is full are dropped.
	QueueDepth int

	// EventBuffer is the capacity of the event channel.
	EventBuffer int
}

// Controller manages the live voice session.
//
// All methods are safe for concurrent use. The channel returned by Events must
// be drained by the caller until [Controller.Detach]; before that the
// controller blocks on a full channel.
type Controller struct {
	provider   live.Provider
	devices    audio.Devices
	metrics    *observe.Metrics
	queueDepth int
	events     chan Event

	detached   chan struct{}
	detachOnce sync.Once

	mu    sync.Mutex
	state State
	sess  *liveSession

	// pending is the Connect call still setting up, nil otherwise. last is the
	// most recent one, kept until it has installed or released its resources.
	pending *connectAttempt
	last    *connectAttempt
}

// connectAttempt identifies one Connect call.
type connectAttempt struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates an idle controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, errors.New("session: provider is required")
	}
	if cfg.Devices == nil {
		return nil, errors.New("session: devices are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return &Controller{
		provider:   cfg.Provider,
		devices:    cfg.Devices,
		metrics:    cfg.Metrics,
		queueDepth: cfg.QueueDepth,
		events:     make(chan Event, cfg.EventBuffer),
		detached:   make(chan struct{}),
	}, nil
}

// Events returns the channel of session events. It is shared by all sessions
// of the controller and never closed.
func (c *Controller) Events() <-chan Event { return c.events }

// Detach tells the controller that Events is no longer read. Later events go
// into the buffer while it has room and are dropped after that.
func (c *Controller) Detach() {
	c.detachOnce.Do(func() { close(c.detached) })
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a session is connecting or open.
func (c *Controller) Active() bool { return c.State().active() }

// Stats returns the counters of the current session, or [ErrNotOpen] when no
// session is connecting or open.
func (c *Controller) Stats() (Stats, error) {
	c.mu.Lock()
	s, state := c.sess, c.state
	var started time.Time
	if s != nil {
		started = s.startedAt
	}
	c.mu.Unlock()
	if s == nil || !state.active() {
		return Stats{State: state}, ErrNotOpen
	}
	return Stats{
		State:         state,
		StartedAt:     started,
		FramesSent:    s.framesSent.Load(),
		FramesDropped: s.framesDropped.Load(),
		AudioChunks:   s.audioChunks.Load(),
		Utterances:    s.utterances.Load(),
	}, nil
}

// Connect starts a new session configured by cfg. It returns nil without
// doing anything when a session is already connecting or open.
//
// Connect acquires the microphone and the speaker and opens the remote
// stream. On any failure everything acquired so far is released, the state
// becomes [StateErrored], a single [EventError] is emitted and the error is
// returned. Capture starts once the remote side reports the session open.
//
// A Disconnect during setup abandons the attempt: Connect releases whatever it
// acquired, emits [EventClose] and returns nil. A Connect that follows waits
// for the abandoned attempt to let go of the devices first.
//
// ctx governs the setup only. The session itself lives until Disconnect or
// until the remote side ends it.
func (c *Controller) Connect(ctx context.Context, cfg live.SessionConfig) error {
	c.mu.Lock()
	if c.state.active() {
		c.mu.Unlock()
		return nil
	}
	setupCtx, cancel := context.WithCancel(ctx)
	a := &connectAttempt{cancel: cancel, done: make(chan struct{})}
	prev := c.last
	c.pending, c.last = a, a
	c.state = StateConnecting
	c.sess = nil
	c.mu.Unlock()
	defer close(a.done)
	defer cancel()

	var (
		s   *liveSession
		err error
	)
	if prev != nil {
		select {
		case <-prev.done:
		case <-setupCtx.Done():
			err = setupCtx.Err()
		}
	}
	if err == nil {
		s, err = c.open(setupCtx, cfg)
	}

	c.mu.Lock()
	current := c.pending == a
	if current {
		c.pending = nil
		if err != nil {
			c.state = StateErrored
		} else {
			c.sess = s
		}
	}
	c.mu.Unlock()

	if !current {
		if s != nil {
			s.teardown()
		}
		slog.Info("live session abandoned during setup")
		c.emit(Event{Type: EventClose})
		return nil
	}
	if err != nil {
		slog.Warn("live session setup failed", "err", err)
		c.emit(Event{Type: EventError, Err: err})
		return fmt.Errorf("session: connect: %w", err)
	}

	c.metrics.ActiveLiveSessions.Add(s.ctx, 1)
	go c.run(s)
	return nil
}

// Disconnect ends the current session, or abandons the one being set up. It
// is safe to call from any state and any number of times; only the first call
// for a session releases resources and emits [EventClose].
func (c *Controller) Disconnect() {
	c.mu.Lock()
	if a := c.pending; a != nil {
		c.pending = nil
		c.state = StateClosed
		c.mu.Unlock()
		a.cancel()
		return
	}
	s := c.sess
	c.mu.Unlock()
	if s != nil {
		c.finish(s, StateClosed, "", nil)
	}
}

// open acquires the devices and the stream for a new session.
func (c *Controller) open(ctx context.Context, cfg live.SessionConfig) (*liveSession, error) {
	input, err := c.devices.OpenInput(ctx)
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	output, err := c.devices.OpenOutput(ctx, audio.OutputSampleRate)
	if err != nil {
		closeQuietly("microphone", input.Close)
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	dialed := time.Now()
	stream, err := c.provider.Connect(ctx, cfg)
	if err != nil {
		closeQuietly("microphone", input.Close)
		closeQuietly("speaker", output.Close)
		return nil, fmt.Errorf("open stream: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &liveSession{
		ctx:       sessCtx,
		cancel:    cancel,
		input:     input,
		output:    output,
		stream:    stream,
		scheduler: audio.NewScheduler(output, output),
		converter: &audio.Converter{Target: audio.InputSampleRate},
		frames:    make(chan audio.EncodedChunk, c.queueDepth),
		metrics:   c.metrics,
		dialed:    dialed,
	}, nil
}

// run is the session's single event goroutine. It owns the aggregator and the
// scheduler.
func (c *Controller) run(s *liveSession) {
	for ev := range s.stream.Events() {
		if s.ctx.Err() != nil {
			continue
		}
		switch ev.Type {
		case live.EventOpen:
			c.handleOpen(s)
		case live.EventAudio:
			s.play(ev.Audio)
		case live.EventInputTranscript:
			s.agg.AddInput(ev.Text)
		case live.EventOutputTranscript:
			s.agg.AddOutput(ev.Text)
		case live.EventTurnComplete:
			for _, u := range s.agg.Commit() {
				s.utterances.Add(1)
				c.metrics.RecordUtterance(s.ctx, string(u.Role))
				c.emit(Event{Type: EventUtterance, Utterance: u})
			}
		case live.EventInterrupted:
			s.scheduler.Flush()
			s.agg.Interrupt()
			c.metrics.LiveInterruptions.Add(s.ctx, 1)
		case live.EventError:
			c.finish(s, StateErrored, "", ev.Err)
			return
		case live.EventClosed:
			c.finish(s, StateClosed, ev.Text, nil)
			return
		}
	}
	if err := s.stream.Err(); err != nil {
		c.finish(s, StateErrored, "", err)
		return
	}
	c.finish(s, StateClosed, "", nil)
}

// handleOpen starts capture once the remote side accepted the session. It
// holds the session's lifecycle lock so a concurrent finish either happens
// entirely before the capture starts or entirely after EventOpen.
func (c *Controller) handleOpen(s *liveSession) {
	c.metrics.LiveConnectDuration.Record(s.ctx, time.Since(s.dialed).Seconds())

	s.lifeMu.Lock()
	c.mu.Lock()
	current := !s.ended && c.sess == s && c.state == StateConnecting
	c.mu.Unlock()
	if !current {
		s.lifeMu.Unlock()
		return
	}

	s.agg.Reset()
	s.wg.Go(s.send)
	if err := s.input.Start(s.capture); err != nil {
		s.lifeMu.Unlock()
		c.finish(s, StateErrored, "", fmt.Errorf("start capture: %w", err))
		return
	}

	c.mu.Lock()
	c.state = StateOpen
	s.startedAt = time.Now()
	c.mu.Unlock()

	slog.Info("live session open")
	c.emit(Event{Type: EventOpen})
	s.lifeMu.Unlock()
}

// finish ends s exactly once: it releases every resource, moves the
// controller to state and emits the matching terminal event.
func (c *Controller) finish(s *liveSession, state State, reason string, err error) {
	s.endOnce.Do(func() {
		s.lifeMu.Lock()
		defer s.lifeMu.Unlock()
		s.ended = true

		c.mu.Lock()
		if c.sess == s {
			c.state = state
		}
		c.mu.Unlock()

		s.teardown()
		c.metrics.ActiveLiveSessions.Add(s.ctx, -1)

		if state == StateErrored {
			if err == nil {
				err = errors.New("session: stream failed")
			}
			slog.Warn("live session failed", "err", err)
			c.emit(Event{Type: EventError, Err: err})
			return
		}
		slog.Info("live session closed", "reason", reason)
		c.emit(Event{Type: EventClose, Reason: reason})
	})
}

// emit delivers ev. Once the controller is detached, an event that does not
// fit into the buffer is dropped.
func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case c.events <- ev:
	case <-c.detached:
		slog.Warn("live session: event dropped, no consumer", "event", ev.Type.String())
	}
}

// ── liveSession ─────────────────────────────────────────────────────────────

// liveSession holds everything one connection owns. A reconnect builds a new
// one from scratch.
type liveSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	input     audio.CaptureDevice
	output    audio.OutputDevice
	stream    live.Stream
	scheduler *audio.Scheduler
	converter *audio.Converter
	agg       Aggregator
	frames    chan audio.EncodedChunk
	metrics   *observe.Metrics

	dialed    time.Time
	startedAt time.Time // guarded by Controller.mu

	// lifeMu orders capture start against finish.
	lifeMu sync.Mutex
	ended  bool

	framesSent    atomic.Int64
	framesDropped atomic.Int64
	audioChunks   atomic.Int64
	utterances    atomic.Int64

	wg           sync.WaitGroup
	endOnce      sync.Once
	closeOnce    sync.Once
	rateMismatch sync.Once
}

// capture runs on the device's real-time thread. It never blocks: a frame
// that does not fit into the queue is dropped.
func (s *liveSession) capture(frame audio.AudioFrame) {
	if s.ctx.Err() != nil {
		return
	}
	chunk := audio.EncodeFrame(s.converter.Convert(frame))
	select {
	case s.frames <- chunk:
	default:
		s.framesDropped.Add(1)
		s.metrics.LiveFramesDropped.Add(s.ctx, 1)
	}
}

// send drains the capture queue into the stream until the session ends.
func (s *liveSession) send() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case chunk := <-s.frames:
			if err := s.stream.Send(s.ctx, chunk); err != nil {
				if s.ctx.Err() != nil || errors.Is(err, live.ErrClosed) {
					return
				}
				slog.Debug("live session: send failed", "err", err)
				continue
			}
			s.framesSent.Add(1)
			s.metrics.LiveFramesSent.Add(s.ctx, 1)
		}
	}
}

// play decodes one inbound chunk at the fixed output rate and queues it for
// gapless playback. A chunk that fails to decode is skipped.
func (s *liveSession) play(chunk audio.EncodedChunk) {
	if rate := audio.ParseMIMERate(chunk.MIMEType, audio.OutputSampleRate); rate != audio.OutputSampleRate {
		s.rateMismatch.Do(func() {
			slog.Warn("live session: inbound audio not at the output rate, playing as-is",
				"tagged_rate", rate, "output_rate", audio.OutputSampleRate)
		})
	}
	buf, err := audio.DecodeAudioData(chunk.Data, audio.OutputSampleRate)
	if err != nil {
		slog.Warn("live session: dropping undecodable audio chunk", "err", err, "bytes", len(chunk.Data))
		s.metrics.LiveDecodeErrors.Add(s.ctx, 1)
		return
	}
	s.scheduler.Enqueue(buf)
	s.audioChunks.Add(1)
	s.metrics.LiveAudioChunks.Add(s.ctx, 1)
}

// teardown cancels pending sends and closes the microphone, the speaker and
// the stream, each exactly once.
func (s *liveSession) teardown() {
	s.closeOnce.Do(func() {
		s.cancel()
		closeQuietly("microphone", s.input.Close)
		closeQuietly("speaker", s.output.Close)
		closeQuietly("stream", s.stream.Close)
		s.wg.Wait()
	})
}

func closeQuietly(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		slog.Warn("live session: close failed", "resource", what, "err", err)
	}
}
