package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/defectminer/internal/observability"
)

func newTestProvider() (*tracetest.InMemoryExporter, trace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	return exporter, tp
}

// spanAttrMap converts a span's attributes into a map for easy assertion.
func spanAttrMap(s tracetest.SpanStub) map[string]any {
	m := make(map[string]any, len(s.Attributes))
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.AsInterface()
	}

	return m
}

func TestAttributeFilter_StripsIdentities(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), logger)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	_, span := tp.Tracer("test").Start(context.Background(), "miner.shard")
	span.SetAttributes(
		attribute.Int("shard.index", 2),
		attribute.Int("mining.ids", 40),
		attribute.String("commit.id", "abc"),
		attribute.String("commit.author", "ann"),
		attribute.String("author.email", "ann@example.com"),
		attribute.String("repo.path", "/secret"),
		attribute.String("exception.message", "corrupt header"),
	)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	assert.Equal(t, map[string]any{
		"shard.index": int64(2),
		"mining.ids":  int64(40),
		"commit.id":   "abc",

		"exception.message": "corrupt header",
	}, spanAttrMap(spans[0]))
	assert.Contains(t, buf.String(), "commit.author")
	assert.Contains(t, buf.String(), "repo.path")
}

func TestFilteringProvider_SuppressesGitlibTracer(t *testing.T) {
	t.Parallel()

	exporter, base := newTestProvider()
	fp := observability.NewFilteringTracerProvider(base)

	_, span := fp.Tracer("defectminer/gitlib").Start(context.Background(), "gitlib.blame")
	span.End()

	assert.Empty(t, exporter.GetSpans())
}

func TestFilteringProvider_SuppressesPerCommitSpans(t *testing.T) {
	t.Parallel()

	exporter, base := newTestProvider()
	tracer := observability.NewFilteringTracerProvider(base).Tracer("defectminer/miner")

	ctx, shard := tracer.Start(context.Background(), "miner.shard")
	_, extract := tracer.Start(ctx, "miner.extract")
	extract.End()
	shard.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "miner.shard", spans[0].Name)
}
