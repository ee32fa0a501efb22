package analysis

import (
	"context"
	"sync"

	"github.com/MrWong99/genogram/internal/conversation"
)

// DefaultMinMessages is the smallest log length that triggers a systemic run.
const DefaultMinMessages = 3

// ShouldAnalyze reports whether a log of n messages is due for a systemic
// run: at least minMessages long and of even length, i.e. right after a reply
// completed an exchange.
func ShouldAnalyze(n, minMessages int) bool {
	return n >= minMessages && n%2 == 0
}

// RunnerOption configures a [Runner].
type RunnerOption func(*Runner)

// WithMinMessages overrides [DefaultMinMessages].
func WithMinMessages(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.minMessages = n
		}
	}
}

// WithOnUpdate registers fn to run after a run stored a new result.
func WithOnUpdate(fn func(Snapshot)) RunnerOption {
	return func(r *Runner) { r.onUpdate = fn }
}

// Runner schedules systemic analysis of a conversation log and publishes the
// results to a [Dashboard].
//
// Systemic runs happen one at a time on the goroutine executing [Runner.Run].
// Triggers that arrive while a run is in flight collapse into a single
// follow-up run over the then-current log.
type Runner struct {
	analyzer    *Analyzer
	log         *conversation.Log
	dash        *Dashboard
	minMessages int
	onUpdate    func(Snapshot)

	trigger chan struct{}

	// insightMu serializes on-demand insight requests.
	insightMu sync.Mutex
}

// NewRunner creates a Runner. Call [Runner.Run] to start processing triggers.
func NewRunner(a *Analyzer, log *conversation.Log, dash *Dashboard, opts ...RunnerOption) *Runner {
	r := &Runner{
		analyzer:    a,
		log:         log,
		dash:        dash,
		minMessages: DefaultMinMessages,
		trigger:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dashboard returns the dashboard the runner publishes to.
func (r *Runner) Dashboard() *Dashboard { return r.dash }

// OnAppend is a [conversation.Log.OnAppend] listener that triggers a run when
// the log reaches an analysable length.
func (r *Runner) OnAppend(_ conversation.Message, n int) {
	if ShouldAnalyze(n, r.minMessages) {
		r.Trigger()
	}
}

// Trigger requests a systemic run without waiting for it.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run processes triggers until ctx is cancelled. It always returns nil.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.trigger:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce analyses the current log synchronously and reports whether the
// dashboard was updated.
func (r *Runner) RunOnce(ctx context.Context) bool {
	d := r.analyzer.Systemic(ctx, r.log.Messages(), r.log.Language())
	if !r.dash.UpdateSystemic(d) {
		return false
	}
	r.notify()
	return true
}

// Insight asks for the clinical insight of the current log, stores it and
// returns it. On failure it returns nil and the dashboard keeps the prior
// insight.
func (r *Runner) Insight(ctx context.Context) *Insight {
	r.insightMu.Lock()
	defer r.insightMu.Unlock()

	in := r.analyzer.Insight(ctx, r.log.Messages(), r.log.Language())
	if r.dash.UpdateInsight(in) {
		r.notify()
	}
	return in
}

func (r *Runner) notify() {
	if r.onUpdate != nil {
		r.onUpdate(r.dash.Snapshot())
	}
}
