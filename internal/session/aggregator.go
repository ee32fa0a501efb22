package session

import (
	"strings"

	"github.com/MrWong99/genogram/internal/conversation"
)

// Utterance is one committed turn of a live conversation. Utterances are
// immutable once emitted.
type Utterance struct {
	// Seq orders utterances within a session, starting at 1.
	Seq int

	// Role is the speaker.
	Role conversation.Role

	// Text is the full transcript of the turn.
	Text string
}

// Aggregator accumulates the two transcript streams of a live session and
// turns them into utterances at each turn boundary.
//
// Aggregator is not safe for concurrent use. The controller owns it from the
// session's single event goroutine.
type Aggregator struct {
	input  strings.Builder
	output strings.Builder
	seq    int
}

// AddInput appends a fragment of the user's transcript.
func (a *Aggregator) AddInput(fragment string) { a.input.WriteString(fragment) }

// AddOutput appends a fragment of the model's transcript.
func (a *Aggregator) AddOutput(fragment string) { a.output.WriteString(fragment) }

// Commit closes the current turn. It returns between zero and two utterances,
// the user's first, skipping buffers that hold only whitespace. Both buffers
// are cleared.
func (a *Aggregator) Commit() []Utterance {
	var out []Utterance
	if text := strings.TrimSpace(a.input.String()); text != "" {
		a.seq++
		out = append(out, Utterance{Seq: a.seq, Role: conversation.RoleUser, Text: text})
	}
	if text := strings.TrimSpace(a.output.String()); text != "" {
		a.seq++
		out = append(out, Utterance{Seq: a.seq, Role: conversation.RoleModel, Text: text})
	}
	a.Reset()
	return out
}

// Interrupt discards the model's partial transcript. The user's transcript is
// kept so the turn that caused the barge-in is not lost.
func (a *Aggregator) Interrupt() { a.output.Reset() }

// Reset clears both buffers. The sequence counter is kept.
func (a *Aggregator) Reset() {
	a.input.Reset()
	a.output.Reset()
}

// Pending reports the current, uncommitted input and output text.
func (a *Aggregator) Pending() (input, output string) {
	return a.input.String(), a.output.String()
}
