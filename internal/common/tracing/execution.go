package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const executionTracerName = "openbotgate-runtime"

func executionTracer() trace.Tracer {
	return Tracer(executionTracerName)
}

// TraceToolExecute creates a span for one tool adapter run.
func TraceToolExecute(ctx context.Context, tool, sessionID string, newSession bool) (context.Context, trace.Span) {
	ctx, span := executionTracer().Start(ctx, "tool.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.String("tool", tool),
		attribute.String("session_id", sessionID),
		attribute.Bool("new_session", newSession),
	)
	return ctx, span
}

// TraceToolResult records the outcome of a tool run on its span.
func TraceToolResult(span trace.Span, success bool, duration time.Duration, errMsg string) {
	span.SetAttributes(
		attribute.Bool("success", success),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)
	if !success {
		span.SetStatus(codes.Error, errMsg)
	}
}

// TraceExecutorRun creates a span for one subprocess execution.
func TraceExecutorRun(ctx context.Context, timeout time.Duration) (context.Context, trace.Span) {
	ctx, span := executionTracer().Start(ctx, "executor.run",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(attribute.Int64("timeout_ms", timeout.Milliseconds()))
	return ctx, span
}

// TraceExecutorResult records exit information on an executor span.
func TraceExecutorResult(span trace.Span, exitCode int, killed bool, err error) {
	span.SetAttributes(
		attribute.Int("exit_code", exitCode),
		attribute.Bool("killed", killed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
