// Package conversation holds the interview transcript shared by text chat,
// the live voice session, and the systemic analysis, together with the
// localized prompts and notices that drive them.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/genogram/pkg/provider/llm"
)

// Role identifies the author of a [Message].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Message is one entry of the conversation log.
type Message struct {
	ID   string    `json:"id"`
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// greetingID marks the seeded greeting so it can be swapped on a language change.
const greetingID = "init-1"

// Log is the ordered, append-only conversation history.
//
// A new Log is seeded with the initial greeting in its language. Listeners
// registered with [Log.OnAppend] run after every append, outside the lock,
// with the appended message and the new length.
//
// All methods are safe for concurrent use.
type Log struct {
	mu        sync.Mutex
	lang      Language
	messages  []Message
	listeners []func(Message, int)
	now       func() time.Time
}

// Option configures a [Log].
type Option func(*Log)

// WithClock overrides the timestamp source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// NewLog returns a log seeded with the greeting for lang.
func NewLog(lang Language, opts ...Option) *Log {
	l := &Log{lang: lang, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	l.messages = []Message{{
		ID:   greetingID,
		Role: RoleModel,
		Text: InitialGreeting(lang),
		At:   l.now(),
	}}
	return l
}

// Language returns the active language.
func (l *Log) Language() Language {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lang
}

// SetLanguage switches the active language. While the greeting is the only
// message it is replaced with the greeting of the new language. It reports
// whether the language changed.
func (l *Log) SetLanguage(lang Language) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lang == l.lang {
		return false
	}
	l.lang = lang
	if len(l.messages) == 1 && l.messages[0].ID == greetingID {
		l.messages[0].Text = InitialGreeting(lang)
	}
	return true
}

// Append adds a message with a fresh ID and returns it.
func (l *Log) Append(role Role, text string) Message {
	m := Message{
		ID:   uuid.NewString(),
		Role: role,
		Text: text,
	}

	l.mu.Lock()
	m.At = l.now()
	l.messages = append(l.messages, m)
	n := len(l.messages)
	listeners := l.listeners
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(m, n)
	}
	return m
}

// OnAppend registers fn to run after every [Log.Append].
func (l *Log) OnAppend(fn func(m Message, n int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners[:len(l.listeners):len(l.listeners)], fn)
}

// Messages returns a snapshot of the log.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Message(nil), l.messages...)
}

// Len returns the number of messages, greeting included.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

// Transcript renders msgs as "role: text" lines.
func Transcript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Text)
	}
	return b.String()
}

// History converts msgs into chat turns for an [llm.Provider].
// Model messages become assistant turns.
func History(msgs []Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := llm.RoleUser
		if m.Role == RoleModel {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	return out
}
