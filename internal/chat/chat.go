// Package chat implements the text side of the interview: a user message goes
// into the conversation log, the specialist's reply comes back from an
// [llm.Provider] and is appended after it.
//
// Failures never surface as errors to the user. A failed or empty completion
// is replaced by a localized fallback reply so the conversation can go on.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/genogram/internal/conversation"
	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/pkg/provider/llm"
)

// Default sampling parameters for chat completions.
const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 300
)

var (
	// ErrEmptyMessage is returned by [Service.Send] for blank input.
	ErrEmptyMessage = errors.New("chat: empty message")

	// ErrLiveActive is returned by [Service.Send] while a voice session owns
	// the conversation.
	ErrLiveActive = errors.New("chat: voice session active")
)

// Option configures a [Service].
type Option func(*Service)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTuning sets temperature and output token limit.
func WithTuning(temperature float64, maxOutputTokens int) Option {
	return func(s *Service) {
		s.temperature = temperature
		s.maxTokens = maxOutputTokens
	}
}

// WithBusy installs a check that blocks sending while it reports true.
func WithBusy(busy func() bool) Option {
	return func(s *Service) { s.busy = busy }
}

// Service sends text messages to the specialist model.
//
// Send calls are serialized so that each request sees the complete history,
// including the reply to the previous message.
type Service struct {
	log      *conversation.Log
	provider llm.Provider
	metrics  *observe.Metrics
	busy     func() bool

	sendMu sync.Mutex

	mu          sync.Mutex
	temperature float64
	maxTokens   int
}

// New creates a Service that appends to log. A nil provider is allowed: every
// Send then answers with the localized "unavailable" reply.
func New(log *conversation.Log, provider llm.Provider, opts ...Option) *Service {
	s := &Service{
		log:         log,
		provider:    provider,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxOutputTokens,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SetTuning replaces temperature and output token limit for subsequent sends.
func (s *Service) SetTuning(temperature float64, maxOutputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temperature = temperature
	s.maxTokens = maxOutputTokens
}

// Send appends text as a user message, asks the model for a reply and appends
// the reply. It returns the appended reply.
//
// Provider failures are logged and answered with a fallback reply; the error
// return is reserved for input that was rejected before anything was
// appended ([ErrEmptyMessage], [ErrLiveActive]).
func (s *Service) Send(ctx context.Context, text string) (conversation.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.Message{}, ErrEmptyMessage
	}
	if s.busy != nil && s.busy() {
		return conversation.Message{}, ErrLiveActive
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	lang := s.log.Language()
	history := conversation.History(s.log.Messages())
	s.log.Append(conversation.RoleUser, text)

	reply := s.complete(ctx, lang, history, text)
	return s.log.Append(conversation.RoleModel, reply), nil
}

func (s *Service) complete(ctx context.Context, lang conversation.Language, history []llm.Message, text string) string {
	if s.provider == nil {
		return conversation.ChatUnavailableReply(lang)
	}

	ctx, span := observe.StartChatSpan(ctx, string(lang), len(history))
	defer span.End()

	s.mu.Lock()
	temperature, maxTokens := s.temperature, s.maxTokens
	s.mu.Unlock()

	req := llm.CompletionRequest{
		Messages:     append(history, llm.Message{Role: llm.RoleUser, Content: text}),
		SystemPrompt: conversation.SystemInstruction(lang),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}

	start := time.Now()
	resp, err := s.provider.Complete(ctx, req)
	s.metrics.ChatDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.FailSpan(span, err, "completion failed")
		observe.Logger(ctx).Warn("chat completion failed", "err", err)
		return conversation.ChatErrorReply(lang)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		observe.Logger(ctx).Warn("chat completion returned no text")
		return conversation.ChatEmptyReply(lang)
	}
	return resp.Content
}
