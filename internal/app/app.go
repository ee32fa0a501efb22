// Package app wires the genogram subsystems into a running application.
//
// New builds the conversation log, text chat, live voice controller and the
// analysis runner from a config and a set of providers. Run drives them until
// the context is cancelled or the console user quits; Shutdown ends any open
// voice session.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/genogram/internal/analysis"
	"github.com/MrWong99/genogram/internal/chat"
	"github.com/MrWong99/genogram/internal/config"
	"github.com/MrWong99/genogram/internal/console"
	"github.com/MrWong99/genogram/internal/conversation"
	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/internal/server"
	"github.com/MrWong99/genogram/internal/session"
	"github.com/MrWong99/genogram/pkg/provider/live"
)

// App owns the subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	log     *conversation.Log
	chat    *chat.Service
	live    *session.Controller
	runner  *analysis.Runner
	server  *server.Server
	console *console.Console
	watcher *config.Watcher

	consoleIn  io.Reader
	consoleOut io.Writer
	configPath string
	setLevel   func(config.LogLevel)

	stopOnce sync.Once
}

// Backend assertions for the two front ends.
var (
	_ server.Backend  = (*App)(nil)
	_ console.Backend = (*App)(nil)
)

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics shared by all subsystems. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithConsole enables the terminal front end on the given streams.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.consoleIn = in
		a.consoleOut = out
	}
}

// WithConfigReload watches the config file at path and applies log level,
// language and chat tuning changes while running.
func WithConfigReload(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogLevelSetter is called when a reloaded config changes the log level.
func WithLogLevelSetter(fn func(config.LogLevel)) Option {
	return func(a *App) { a.setLevel = fn }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New wires all subsystems. It does not open any device or connection; the
// voice session starts on [App.ConnectLive].
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		return nil, errors.New("app: providers are required")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	ctrl, err := session.NewController(session.Config{
		Provider:   providers.Live,
		Devices:    providers.Audio,
		Metrics:    a.metrics,
		QueueDepth: cfg.Live.QueueDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.live = ctrl

	a.log = conversation.NewLog(cfg.Language)
	a.chat = chat.New(a.log, providers.Chat,
		chat.WithMetrics(a.metrics),
		chat.WithTuning(cfg.Chat.Temperature, cfg.Chat.MaxOutputTokens),
		chat.WithBusy(ctrl.Active),
	)

	runnerOpts := []analysis.RunnerOption{analysis.WithMinMessages(cfg.Analysis.MinMessages)}
	if a.consoleIn != nil {
		a.console = console.New(a.consoleIn, a.consoleOut, a)
		a.log.OnAppend(func(m conversation.Message, _ int) { a.console.PrintMessage(m) })
		runnerOpts = append(runnerOpts, analysis.WithOnUpdate(a.console.PrintSnapshot))
	}
	a.runner = analysis.NewRunner(
		analysis.NewAnalyzer(providers.Analysis, a.metrics),
		a.log,
		analysis.NewDashboard(),
		runnerOpts...,
	)
	a.log.OnAppend(a.runner.OnAppend)

	if cfg.Server.ListenAddr != "" {
		srvOpts := []server.Option{
			server.WithMetrics(a.metrics),
			server.WithCheckers(
				server.Checker{Name: "chat", Check: func(context.Context) error { return breakerCheck(providers.Chat) }},
				server.Checker{Name: "analysis", Check: func(context.Context) error { return breakerCheck(providers.Analysis) }},
			),
		}
		if tls := cfg.Server.TLS; tls != nil {
			srvOpts = append(srvOpts, server.WithTLS(tls.CertFile, tls.KeyFile))
		}
		a.server = server.New(cfg.Server.ListenAddr, a, srvOpts...)
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
	}
	return a, nil
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run drives the application until ctx is cancelled or the console user types
// /quit. The first subsystem failure cancels the rest and is returned.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runner.Run(gctx) })
	g.Go(func() error { return a.consumeEvents(gctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Run(gctx) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.console != nil {
		g.Go(func() error {
			err := a.console.Run(gctx)
			if errors.Is(err, console.ErrQuit) {
				cancel()
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// Shutdown ends the voice session. It is safe to call more than once.
func (a *App) Shutdown(context.Context) error {
	a.stopOnce.Do(a.live.Disconnect)
	return nil
}

// consumeEvents turns controller events into conversation log entries and
// analysis triggers. The controller is detached when it returns, so a later
// Shutdown cannot block on a full event channel.
func (a *App) consumeEvents(ctx context.Context) error {
	defer a.live.Detach()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.live.Events():
			a.handleEvent(ev)
		}
	}
}

func (a *App) handleEvent(ev session.Event) {
	lang := a.log.Language()
	switch ev.Type {
	case session.EventOpen:
		a.log.Append(conversation.RoleModel, conversation.LiveStartedNotice(lang))
	case session.EventUtterance:
		a.log.Append(ev.Utterance.Role, ev.Utterance.Text)
	case session.EventClose:
		slog.Info("voice session closed", "reason", ev.Reason)
		a.runner.Trigger()
	case session.EventError:
		slog.Error("voice session failed", "err", ev.Err)
		a.log.Append(conversation.RoleModel, conversation.LiveFailedNotice(lang))
		a.runner.Trigger()
	}
}

// applyConfig is the config watcher callback.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.Empty() {
		return
	}
	if d.LogLevelChanged && a.setLevel != nil {
		a.setLevel(d.NewLogLevel)
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged {
		a.SetLanguage(d.NewLanguage)
	}
	if d.ChatChanged {
		a.chat.SetTuning(d.NewChat.Temperature, d.NewChat.MaxOutputTokens)
		slog.Info("chat tuning changed",
			"temperature", d.NewChat.Temperature,
			"max_output_tokens", d.NewChat.MaxOutputTokens,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Backend ─────────────────────────────────────────────────────────────────

// Messages returns a snapshot of the conversation log.
func (a *App) Messages() []conversation.Message { return a.log.Messages() }

// Language returns the active conversation language.
func (a *App) Language() conversation.Language { return a.log.Language() }

// SetLanguage switches the conversation language. An open voice session keeps
// its language until it is reconnected.
func (a *App) SetLanguage(lang conversation.Language) {
	if a.log.SetLanguage(lang) {
		slog.Info("conversation language changed", "language", lang)
	}
}

// SendChat sends a typed message and returns the model reply.
func (a *App) SendChat(ctx context.Context, text string) (conversation.Message, error) {
	return a.chat.Send(ctx, text)
}

// Dashboard returns the latest analysis results.
func (a *App) Dashboard() analysis.Snapshot { return a.runner.Dashboard().Snapshot() }

// Insight requests a clinical insight over the current log.
func (a *App) Insight(ctx context.Context) *analysis.Insight { return a.runner.Insight(ctx) }

// LiveStats returns the counters of the open voice session.
func (a *App) LiveStats() (session.Stats, error) { return a.live.Stats() }

// LiveActive reports whether a voice session is connecting or open.
func (a *App) LiveActive() bool { return a.live.Active() }

// ConnectLive starts a voice session in the current language.
func (a *App) ConnectLive(ctx context.Context) error {
	lang := a.log.Language()
	return a.live.Connect(ctx, live.SessionConfig{
		Model:        a.cfg.Providers.Live.Model,
		Instructions: conversation.SystemInstruction(lang),
		Voice:        a.cfg.Live.Voice,
		Language:     string(lang),
	})
}

// DisconnectLive ends the voice session, if any.
func (a *App) DisconnectLive() { a.live.Disconnect() }
