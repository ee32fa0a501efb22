// Package console is a line-oriented terminal front end. Plain lines are sent
// as chat messages; lines starting with a slash are commands:
//
//	/live         start or stop the voice session
//	/lang es|en   switch the conversation language
//	/insight      request a clinical insight
//	/analysis     print the latest systemic analysis
//	/help         list commands
//	/quit         exit
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/genogram/internal/analysis"
	"github.com/MrWong99/genogram/internal/chat"
	"github.com/MrWong99/genogram/internal/conversation"
)

// ErrQuit is returned by [Console.Run] when the user asked to exit.
var ErrQuit = errors.New("console: quit")

// Backend is the application surface the console drives.
type Backend interface {
	Language() conversation.Language
	SetLanguage(lang conversation.Language)
	SendChat(ctx context.Context, text string) (conversation.Message, error)

	Dashboard() analysis.Snapshot
	Insight(ctx context.Context) *analysis.Insight

	LiveActive() bool
	ConnectLive(ctx context.Context) error
	DisconnectLive()
}

type styles struct {
	user   lipgloss.Style
	model  lipgloss.Style
	label  lipgloss.Style
	dim    lipgloss.Style
	errMsg lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		user:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff")),
		model:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		label:  r.NewStyle().Bold(true).Underline(true),
		dim:    r.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		errMsg: r.NewStyle().Foreground(lipgloss.Color("#ff5f5f")),
	}
}

// Console reads commands from in and writes to out. Output methods are safe
// for concurrent use, so the application may print messages and dashboard
// updates while Run is waiting for input.
type Console struct {
	in      io.Reader
	backend Backend

	mu  sync.Mutex
	out io.Writer
	st  styles
}

// New creates a Console.
func New(in io.Reader, out io.Writer, backend Backend) *Console {
	return &Console{
		in:      in,
		out:     out,
		backend: backend,
		st:      newStyles(lipgloss.NewRenderer(out)),
	}
}

// Run processes input lines until ctx is cancelled, the input ends or the
// user types /quit. It returns [ErrQuit] for /quit and nil otherwise.
//
// The reader goroutine cannot be interrupted while blocked on input; it exits
// with the input stream.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c.printf("%s\n", c.st.dim.Render(helpText(c.backend.Language())))
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, strings.TrimSpace(line)); err != nil {
				return err
			}
		}
	}
}

func (c *Console) handle(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		// The reply reaches the screen through the log listener.
		if _, err := c.backend.SendChat(ctx, line); err != nil {
			c.printErr(err)
		}
		return nil
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	switch strings.ToLower(cmd) {
	case "quit", "exit":
		return ErrQuit
	case "live":
		c.toggleLive(ctx)
	case "lang":
		lang, err := conversation.ParseLanguage(strings.TrimSpace(arg))
		if err != nil {
			c.printErr(err)
			return nil
		}
		c.backend.SetLanguage(lang)
		c.printf("%s\n", c.st.dim.Render("language: "+string(lang)))
	case "insight":
		if in := c.backend.Insight(ctx); in == nil {
			c.printf("%s\n", c.st.dim.Render("no insight available"))
		}
		c.PrintSnapshot(c.backend.Dashboard())
	case "analysis":
		c.PrintSnapshot(c.backend.Dashboard())
	default:
		c.printf("%s\n", c.st.dim.Render(helpText(c.backend.Language())))
	}
	return nil
}

func (c *Console) toggleLive(ctx context.Context) {
	if c.backend.LiveActive() {
		c.backend.DisconnectLive()
		return
	}
	if err := c.backend.ConnectLive(ctx); err != nil {
		c.printErr(err)
	}
}

// PrintMessage writes one conversation message.
func (c *Console) PrintMessage(m conversation.Message) {
	style := c.st.model
	if m.Role == conversation.RoleUser {
		style = c.st.user
	}
	c.printf("%s %s\n", style.Render(string(m.Role)+">"), m.Text)
}

// PrintSnapshot writes the dashboard contents.
func (c *Console) PrintSnapshot(s analysis.Snapshot) {
	var b strings.Builder
	if d := s.Systemic; d != nil {
		fmt.Fprintf(&b, "%s\n%s\n", c.st.label.Render("Genogram"), d.GenogramMermaid)
		fmt.Fprintf(&b, "%s\n", c.st.label.Render("Ledger"))
		for _, e := range d.Ledger.Merits {
			fmt.Fprintf(&b, "  + %-40s %6.1f\n", e.Description, e.Value)
		}
		for _, e := range d.Ledger.Debts {
			fmt.Fprintf(&b, "  - %-40s %6.1f\n", e.Description, e.Value)
		}
		fmt.Fprintf(&b, "%s\n", c.st.label.Render("Sentiments"))
		for _, sn := range d.Sentiments {
			fmt.Fprintf(&b, "  %-20s %-9s %+.2f\n", sn.Member, sn.Sentiment, sn.Score)
		}
	}
	if in := s.Insight; in != nil {
		fmt.Fprintf(&b, "%s\n", c.st.label.Render("Insight"))
		fmt.Fprintf(&b, "  loyalty: %s\n  debt:    %s\n  action:  %s\n", in.Loyalty, in.Debt, in.Action)
	}
	if b.Len() == 0 {
		b.WriteString(c.st.dim.Render("no analysis yet") + "\n")
	}
	c.printf("%s", b.String())
}

func (c *Console) printErr(err error) {
	msg := err.Error()
	if errors.Is(err, chat.ErrLiveActive) {
		msg = "voice session active: type /live to stop it before chatting"
	}
	c.printf("%s\n", c.st.errMsg.Render(msg))
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func helpText(l conversation.Language) string {
	if l == conversation.English {
		return "Type to chat. Commands: /live /lang es|en /insight /analysis /help /quit"
	}
	return "Escribe para conversar. Comandos: /live /lang es|en /insight /analysis /help /quit"
}
