package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// exportedKeys are the span attributes defectminer sets. Anything else,
// author names and commit messages included, is dropped before export.
var exportedKeys = map[string]bool{
	"mining.ids":           true,
	"mining.workers":       true,
	"mining.mined":         true,
	"mining.failed_shards": true,
	"shard.index":          true,
	"shard.ids":            true,
	"commit.id":            true,
	"features.aggregator":  true,
	"features.ingested":    true,
	"features.emitted":     true,
	"features.resumed":     true,
	"error":                true,
}

// exceptionPrefix covers the attributes span.RecordError attaches.
const exceptionPrefix = "exception."

type attributeFilter struct {
	delegate sdktrace.SpanProcessor
	logger   *slog.Logger
}

// NewAttributeFilter wraps delegate so exported spans carry only known
// attributes. Dropped keys are logged at warn level when logger is non-nil.
func NewAttributeFilter(delegate sdktrace.SpanProcessor, logger *slog.Logger) sdktrace.SpanProcessor {
	return &attributeFilter{delegate: delegate, logger: logger}
}

func (f *attributeFilter) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	f.delegate.OnStart(parent, s)
}

func (f *attributeFilter) OnEnd(s sdktrace.ReadOnlySpan) {
	f.delegate.OnEnd(&filteredSpan{ReadOnlySpan: s, keep: f.keep})
}

func (f *attributeFilter) Shutdown(ctx context.Context) error {
	err := f.delegate.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("attribute filter shutdown: %w", err)
	}

	return nil
}

func (f *attributeFilter) ForceFlush(ctx context.Context) error {
	err := f.delegate.ForceFlush(ctx)
	if err != nil {
		return fmt.Errorf("attribute filter flush: %w", err)
	}

	return nil
}

func (f *attributeFilter) keep(key string) bool {
	if exportedKeys[key] || strings.HasPrefix(key, exceptionPrefix) {
		return true
	}

	if f.logger != nil {
		f.logger.Warn("span attribute dropped", "key", key)
	}

	return false
}

type filteredSpan struct {
	sdktrace.ReadOnlySpan

	keep func(string) bool
}

func (s *filteredSpan) Attributes() []attribute.KeyValue {
	orig := s.ReadOnlySpan.Attributes()
	kept := make([]attribute.KeyValue, 0, len(orig))

	for _, kv := range orig {
		if s.keep(string(kv.Key)) {
			kept = append(kept, kv)
		}
	}

	return kept
}
