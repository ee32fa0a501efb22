// Package live defines the Provider interface for real-time voice backends.
//
// A live provider wraps a bidirectional session with a remote model that
// accepts a continuous stream of microphone audio and answers with synthesised
// speech plus transcripts of both sides of the conversation. The central
// abstraction is [Stream]: outbound audio goes in through Send, everything the
// remote side reports comes out of a single ordered [Event] channel.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/genogram/pkg/audio"
)

// ErrClosed is returned by [Stream.Send] after the stream has been closed.
var ErrClosed = errors.New("live: stream closed")

// EventType classifies the events emitted by a [Stream].
type EventType int

const (
	// EventOpen is emitted once the remote side has accepted the session
	// configuration. Audio sent before this event may be discarded remotely.
	EventOpen EventType = iota

	// EventAudio carries one chunk of synthesised output audio.
	EventAudio

	// EventInputTranscript carries a fragment of the transcript of the user's
	// speech. Fragments are cumulative within a turn.
	EventInputTranscript

	// EventOutputTranscript carries a fragment of the transcript of the
	// model's speech.
	EventOutputTranscript

	// EventTurnComplete marks the end of a model turn.
	EventTurnComplete

	// EventInterrupted reports that the user barged in and the model stopped
	// generating. Audio already delivered for the turn should be discarded.
	EventInterrupted

	// EventError reports a transport or remote failure. It is always the last
	// event before the channel closes.
	EventError

	// EventClosed reports that the remote side closed the session. It is
	// always the last event before the channel closes.
	EventClosed
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "OPEN"
	case EventAudio:
		return "AUDIO"
	case EventInputTranscript:
		return "INPUT_TRANSCRIPT"
	case EventOutputTranscript:
		return "OUTPUT_TRANSCRIPT"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventError:
		return "ERROR"
	case EventClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Event is a single message from the remote side of a [Stream]. Only the
// fields relevant to Type are set.
type Event struct {
	Type EventType

	// Audio is set for EventAudio.
	Audio audio.EncodedChunk

	// Text is set for EventInputTranscript and EventOutputTranscript, and
	// holds the close reason for EventClosed.
	Text string

	// Err is set for EventError.
	Err error
}

// SessionConfig is the configuration for a new live session. It is fixed for
// the lifetime of the session.
type SessionConfig struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Instructions is the system-level prompt for the session.
	Instructions string

	// Voice is the name of a prebuilt voice, e.g. "Fenrir".
	Voice string

	// Language is the conversation language code ("es", "en").
	Language string

	// DisableTranscription turns off input and output transcripts. Both are
	// requested by default.
	DisableTranscription bool
}

// Stream represents an open live session.
//
// Callers must call Close when the stream is no longer needed. Close is
// idempotent. After a local Close the Events channel closes without a final
// EventClosed or EventError.
type Stream interface {
	// Send delivers one encoded microphone chunk to the remote model. It
	// returns [ErrClosed] after Close and ctx.Err() when ctx is done.
	Send(ctx context.Context, chunk audio.EncodedChunk) error

	// Events returns the channel of remote events, in arrival order. The
	// channel is closed when the session ends.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// cleanly or is still running.
	Err() error

	// Close terminates the session and releases all resources.
	Close() error
}

// Provider is the abstraction over any live voice backend.
type Provider interface {
	// Connect opens a new session. The returned Stream can accept audio
	// immediately; the remote side signals readiness with EventOpen.
	//
	// Returns an error if the session cannot be established (network
	// failure, authentication failure, ctx cancelled).
	Connect(ctx context.Context, cfg SessionConfig) (Stream, error)
}
