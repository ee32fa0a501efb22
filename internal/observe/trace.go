package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/genogram"

// Span names.
const (
	SpanChatSend       = "chat.send"
	spanAnalysisPrefix = "analysis."
)

// Span attribute keys.
const (
	AttrLanguage     = attribute.Key("genogram.language")
	AttrHistory      = attribute.Key("genogram.history_messages")
	AttrTranscript   = attribute.Key("genogram.transcript_messages")
	AttrAnalysisKind = attribute.Key("genogram.analysis_kind")
)

// StartSpan starts a span on the genogram tracer of the global provider. The
// caller must end it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartChatSpan starts the span around one chat completion.
func StartChatSpan(ctx context.Context, lang string, history int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanChatSend, trace.WithAttributes(
		AttrLanguage.String(lang),
		AttrHistory.Int(history),
	))
}

// StartAnalysisSpan starts the span around one analysis call, named
// "analysis.<kind>".
func StartAnalysisSpan(ctx context.Context, kind string, transcript int) (context.Context, trace.Span) {
	return StartSpan(ctx, spanAnalysisPrefix+kind, trace.WithAttributes(
		AttrAnalysisKind.String(kind),
		AttrTranscript.Int(transcript),
	))
}

// FailSpan records err on span and marks it failed with msg.
func FailSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, with trace_id and span_id attached when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
