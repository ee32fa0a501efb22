package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/genogram/internal/conversation"
	"github.com/MrWong99/genogram/internal/observe"
	"github.com/MrWong99/genogram/pkg/provider/llm"
)

// errEmptyTranscript is returned when there is nothing to analyse.
var errEmptyTranscript = errors.New("analysis: empty transcript")

// Analyzer runs the schema-constrained extraction calls.
type Analyzer struct {
	provider llm.Provider
	metrics  *observe.Metrics
}

// NewAnalyzer creates an Analyzer backed by provider. A nil metrics uses
// [observe.DefaultMetrics].
func NewAnalyzer(provider llm.Provider, metrics *observe.Metrics) *Analyzer {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Analyzer{provider: provider, metrics: metrics}
}

// Systemic extracts the genogram, ledger and sentiments from msgs. It returns
// nil when the extraction fails for any reason.
func (a *Analyzer) Systemic(ctx context.Context, msgs []conversation.Message, lang conversation.Language) *SystemicData {
	d, err := a.systemic(ctx, msgs, lang)
	if err != nil {
		observe.Logger(ctx).Warn("systemic analysis failed", "err", err)
		return nil
	}
	return d
}

// Insight produces the clinical insight for msgs. It returns nil when the
// request fails for any reason.
func (a *Analyzer) Insight(ctx context.Context, msgs []conversation.Message, lang conversation.Language) *Insight {
	in, err := a.insight(ctx, msgs, lang)
	if err != nil {
		observe.Logger(ctx).Warn("insight analysis failed", "err", err)
		return nil
	}
	return in
}

func (a *Analyzer) systemic(ctx context.Context, msgs []conversation.Message, lang conversation.Language) (*SystemicData, error) {
	content, err := a.call(ctx, "systemic", msgs, llm.CompletionRequest{
		SystemPrompt:   conversation.SystemicAnalysisInstruction(lang),
		ResponseSchema: SystemicSchema(),
		SchemaName:     "systemic_data",
	}, conversation.SystemicAnalysisRequest)
	if err != nil {
		return nil, err
	}
	d, err := decodeSystemic(content)
	if err != nil {
		return nil, fmt.Errorf("analysis: decode systemic data: %w", err)
	}
	return d, nil
}

func (a *Analyzer) insight(ctx context.Context, msgs []conversation.Message, lang conversation.Language) (*Insight, error) {
	content, err := a.call(ctx, "insight", msgs, llm.CompletionRequest{
		SystemPrompt:   conversation.InsightInstruction(lang),
		ResponseSchema: InsightSchema(),
		SchemaName:     "insight",
	}, conversation.InsightRequest)
	if err != nil {
		return nil, err
	}
	in, err := decodeInsight(content)
	if err != nil {
		return nil, fmt.Errorf("analysis: decode insight: %w", err)
	}
	return in, nil
}

// call sends the transcript of msgs, wrapped by wrap, with the prompt and
// schema preset in req.
func (a *Analyzer) call(ctx context.Context, kind string, msgs []conversation.Message, req llm.CompletionRequest, wrap func(string) string) (string, error) {
	if a.provider == nil {
		return "", errors.New("analysis: no provider configured")
	}
	if len(msgs) == 0 {
		return "", errEmptyTranscript
	}

	ctx, span := observe.StartAnalysisSpan(ctx, kind, len(msgs))
	defer span.End()

	req.Messages = []llm.Message{{Role: llm.RoleUser, Content: wrap(conversation.Transcript(msgs))}}

	start := time.Now()
	resp, err := a.provider.Complete(ctx, req)
	a.metrics.RecordAnalysis(ctx, kind, time.Since(start).Seconds())
	if err != nil {
		observe.FailSpan(span, err, "completion failed")
		return "", fmt.Errorf("analysis: %s completion: %w", kind, err)
	}
	if resp == nil || resp.Content == "" {
		return "", fmt.Errorf("analysis: %s completion: empty response", kind)
	}
	return resp.Content, nil
}
