// Package openai implements the live.Provider interface for OpenAI's Realtime
// API.
//
// The Realtime API speaks PCM16 at 24 kHz in both directions, so outbound
// chunks recorded at other rates are resampled before they are sent. Server
// voice activity detection drives turn taking: speech_started maps to
// [live.EventInterrupted] and response.done to [live.EventTurnComplete].
//
// The transcript of the user's speech is produced asynchronously and often
// lands after response.done. While a committed input buffer still awaits its
// transcript, the turn boundary is held back until the transcript or its
// failure arrives, so the user's words close the same turn as the reply.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/genogram/pkg/audio"
	"github.com/MrWong99/genogram/pkg/provider/live"
)

var _ live.Provider = (*Provider)(nil)
var _ live.Stream = (*session)(nil)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultVoice              = "alloy"
	defaultTranscriptionModel = "whisper-1"

	// wireRate is the only PCM16 rate the Realtime API accepts.
	wireRate = 24000

	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Realtime model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithVoice sets the voice used when the session config does not name one.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithTranscriptionModel sets the model that transcribes the user's speech.
func WithTranscriptionModel(model string) Option {
	return func(p *Provider) { p.transcriptionModel = model }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey             string
	model              string
	baseURL            string
	voice              string
	transcriptionModel string
}

// New creates a new Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:             apiKey,
		model:              defaultModel,
		baseURL:            defaultBaseURL,
		voice:              defaultVoice,
		transcriptionModel: defaultTranscriptionModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Realtime endpoint and sends session.update. The server
// acknowledges with session.updated, surfaced as [live.EventOpen].
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Stream, error) {
	model := p.model
	if cfg.Model != "" {
		model = cfg.Model
	}
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, url.QueryEscape(model))

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan live.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,

		transcribe: !cfg.DisableTranscription,
	}

	params := sessionParams{
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if params.Voice == "" {
		params.Voice = p.voice
	}
	if !cfg.DisableTranscription {
		params.InputAudioTranscription = &inputTranscription{
			Model:    p.transcriptionModel,
			Language: cfg.Language,
		}
	}
	if err := sess.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params}); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("openai: session update: %w", err)
	}

	go sess.receiveLoop()
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice                   string              `json:"voice,omitempty"`
	Instructions            string              `json:"instructions,omitempty"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription *inputTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection      `json:"turn_detection,omitempty"`
}

type inputTranscription struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16 at 24 kHz
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta, response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event

	mu     sync.Mutex
	errVal error
	closed bool
	opened bool

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by receiveLoop.
	transcribe    bool
	awaitingInput int
	turnHeld      bool
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				var ce websocket.CloseError
				reason := ""
				if errors.As(err, &ce) {
					reason = ce.Reason
				}
				s.emit(live.Event{Type: live.EventClosed, Text: reason})
				return
			}
			err = fmt.Errorf("openai: read: %w", err)
			s.setErr(err)
			s.emit(live.Event{Type: live.EventError, Err: err})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Warn("openai realtime: skipping malformed event", "err", err)
			continue
		}
		if !s.handleServerEvent(&evt) {
			return
		}
	}
}

// handleServerEvent dispatches one event. It returns false when the session
// must stop reading.
func (s *session) handleServerEvent(evt *serverEvent) bool {
	switch evt.Type {
	case "session.updated":
		s.mu.Lock()
		first := !s.opened
		s.opened = true
		s.mu.Unlock()
		if first {
			return s.emit(live.Event{Type: live.EventOpen})
		}

	case "response.audio.delta":
		data, err := audio.TransportToBytes(evt.Delta)
		if err != nil {
			slog.Warn("openai realtime: dropping undecodable audio delta", "err", err)
			return true
		}
		if len(data) == 0 {
			return true
		}
		chunk := audio.EncodedChunk{MIMEType: audio.MIMEType(wireRate), Data: data}
		return s.emit(live.Event{Type: live.EventAudio, Audio: chunk})

	case "response.audio_transcript.delta":
		if evt.Delta != "" {
			return s.emit(live.Event{Type: live.EventOutputTranscript, Text: evt.Delta})
		}

	case "input_audio_buffer.committed":
		if s.transcribe {
			s.awaitingInput++
		}

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript != "" && !s.emit(live.Event{Type: live.EventInputTranscript, Text: evt.Transcript}) {
			return false
		}
		return s.inputResolved()

	case "conversation.item.input_audio_transcription.failed":
		slog.Warn("openai realtime: input transcription failed")
		return s.inputResolved()

	case "input_audio_buffer.speech_started":
		// A barge-in discards the model's partial turn, so a finished reply
		// that is still held is committed first.
		if s.turnHeld && !s.releaseTurn() {
			return false
		}
		return s.emit(live.Event{Type: live.EventInterrupted})

	case "response.done":
		if s.awaitingInput > 0 {
			s.turnHeld = true
			return true
		}
		return s.emit(live.Event{Type: live.EventTurnComplete})

	case "error":
		// Realtime error events describe a rejected client event; the
		// session itself stays usable.
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		slog.Warn("openai realtime: server error event", "message", msg)
	}
	return true
}

// inputResolved accounts for one finished input transcription and releases a
// held turn once none is outstanding.
func (s *session) inputResolved() bool {
	if s.awaitingInput > 0 {
		s.awaitingInput--
	}
	if s.awaitingInput == 0 && s.turnHeld {
		return s.releaseTurn()
	}
	return true
}

func (s *session) releaseTurn() bool {
	s.turnHeld = false
	return s.emit(live.Event{Type: live.EventTurnComplete})
}

// emit delivers ev unless the session has been closed locally.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// ── Stream methods ─────────────────────────────────────────────────────────────

// Send resamples chunk to 24 kHz when needed and appends it to the input
// buffer. Chunks without a rate tag are taken as 16 kHz.
func (s *session) Send(ctx context.Context, chunk audio.EncodedChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return live.ErrClosed
	}
	s.mu.Unlock()

	data, err := toWireRate(chunk)
	if err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	msg := appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: audio.BytesToTransport(data),
	}
	if err := s.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("openai: send audio: %w", err)
	}
	return nil
}

func toWireRate(chunk audio.EncodedChunk) ([]byte, error) {
	rate := audio.ParseMIMERate(chunk.MIMEType, audio.InputSampleRate)
	if rate == wireRate {
		return chunk.Data, nil
	}
	pcm, err := audio.DecodePCM16(chunk.Data)
	if err != nil {
		return nil, err
	}
	resampled := audio.Resample(audio.Int16ToFloat(pcm), rate, wireRate)
	return audio.EncodePCM16(audio.FloatToInt16(resampled)), nil
}

// Events returns the channel on which remote events arrive.
func (s *session) Events() <-chan live.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
