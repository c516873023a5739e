package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Per-commit spans. gitlib spans one per git call, miner.extract one per commit.
const (
	gitlibTracer = "defectminer/gitlib"
	extractSpan  = "miner.extract"
)

// quietTracerProvider records run and shard spans and turns per-commit spans
// into no-ops.
type quietTracerProvider struct {
	embedded.TracerProvider

	delegate trace.TracerProvider
	noop     trace.TracerProvider
}

// NewFilteringTracerProvider wraps delegate for non-verbose runs.
func NewFilteringTracerProvider(delegate trace.TracerProvider) trace.TracerProvider {
	return &quietTracerProvider{delegate: delegate, noop: nooptrace.NewTracerProvider()}
}

func (p *quietTracerProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if name == gitlibTracer {
		return p.noop.Tracer(name, opts...)
	}

	return &quietTracer{delegate: p.delegate.Tracer(name, opts...), noop: p.noop.Tracer(name, opts...)}
}

type quietTracer struct {
	embedded.Tracer

	delegate trace.Tracer
	noop     trace.Tracer
}

func (t *quietTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if name == extractSpan {
		return t.noop.Start(ctx, name, opts...)
	}

	return t.delegate.Start(ctx, name, opts...)
}
