// Package mock provides in-memory mock implementations of [live.Provider] and
// [live.Stream] for use in unit tests.
//
// Tests push remote events with [Stream.Emit] and inspect the audio the code
// under test sent with [Stream.Sent]. All mocks are safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/genogram/pkg/audio"
	"github.com/MrWong99/genogram/pkg/provider/live"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [live.Stream].
type Stream struct {
	mu sync.Mutex

	// SendError is returned by every Send call when non-nil.
	SendError error

	// SentChunks records every chunk passed to Send, in order.
	SentChunks []audio.EncodedChunk

	// CallCountClose records how many times Close was called.
	CallCountClose int

	events   chan live.Event
	sentCh   chan struct{}
	closed   bool
	finished bool
	errVal   error
}

// NewStream returns a Stream whose event channel holds up to buffer events.
func NewStream(buffer int) *Stream {
	return &Stream{
		events: make(chan live.Event, buffer),
		sentCh: make(chan struct{}, 1),
	}
}

// Send implements [live.Stream]. Records the chunk.
func (s *Stream) Send(ctx context.Context, chunk audio.EncodedChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrClosed
	}
	if s.SendError != nil {
		return s.SendError
	}
	s.SentChunks = append(s.SentChunks, chunk)
	select {
	case s.sentCh <- struct{}{}:
	default:
	}
	return nil
}

// Events implements [live.Stream].
func (s *Stream) Events() <-chan live.Event { return s.events }

// Err implements [live.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements [live.Stream]. Closes the event channel on first call.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	s.finishLocked()
	return nil
}

// Emit pushes ev to the event channel as the remote side would. EventClosed
// and EventError end the stream. Emit is a no-op after the stream ended.
func (s *Stream) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.events <- ev
	switch ev.Type {
	case live.EventError:
		s.errVal = ev.Err
		s.finishLocked()
	case live.EventClosed:
		s.finishLocked()
	}
}

func (s *Stream) finishLocked() {
	if !s.finished {
		s.finished = true
		close(s.events)
	}
}

// Sent returns a snapshot of SentChunks.
func (s *Stream) Sent() []audio.EncodedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.EncodedChunk(nil), s.SentChunks...)
}

// SentSignal returns a channel that receives a value after each Send that
// found it empty. Tests use it to wait for outbound traffic.
func (s *Stream) SentSignal() <-chan struct{} { return s.sentCh }

// Closes returns CallCountClose.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── Provider ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Provider.Connect] invocation.
type ConnectCall struct {
	// Config is the session configuration passed to Connect.
	Config live.SessionConfig
}

// Provider is a mock implementation of [live.Provider]. Each successful
// Connect returns a fresh [Stream].
type Provider struct {
	mu sync.Mutex

	// ConnectError is the error returned by Connect.
	ConnectError error

	// EventBuffer is the event capacity of created streams. Defaults to 64.
	EventBuffer int

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Streams records every stream handed out, in order.
	Streams []*Stream
}

// Connect implements [live.Provider].
func (p *Provider) Connect(_ context.Context, cfg live.SessionConfig) (live.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Config: cfg})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	n := p.EventBuffer
	if n <= 0 {
		n = 64
	}
	s := NewStream(n)
	p.Streams = append(p.Streams, s)
	return s, nil
}

// LastStream returns the most recently created stream, or nil.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Calls returns a snapshot of ConnectCalls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Stream   = (*Stream)(nil)
)
