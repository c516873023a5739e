package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "defectminer/miner"

// ErrShardPanic wraps a panic recovered inside a shard worker.
var ErrShardPanic = errors.New("shard worker panicked")

// Config holds the read-only settings shared by every shard.
type Config struct {
	// Workers is the number of shards mined in parallel.
	Workers int
	// RecordsPerFile is the chunk rotation threshold.
	RecordsPerFile int
	// ShardTimeout bounds each shard. Zero disables the deadline.
	ShardTimeout time.Duration
	// ChunkDir receives the per-shard chunk files.
	ChunkDir string
	// RepoName prefixes chunk file names.
	RepoName string
	// Compress writes LZ4-framed chunks.
	Compress bool
	// KeepChunks leaves chunk files on disk after the merge. They are always
	// left when the merge fails.
	KeepChunks bool
	Extractor  ExtractorConfig
}

// ShardStats summarizes one shard.
type ShardStats struct {
	Index         int
	IDs           int
	Mined         int
	Skipped       int
	FailedCommits int
	Chunks        int
	Bytes         int64
	Duration      time.Duration
	// LastCommit is the commit being mined when the shard stopped early.
	LastCommit string
	Err        error
}

// RunStats summarizes a mining run.
type RunStats struct {
	IDs          int
	Mined        int
	Skipped      int
	Merged       int
	FailedShards int
	Chunks       int
	Bytes        int64
	Duration     time.Duration
	Shards       []ShardStats
}

// Orchestrator mines shards in parallel and merges their output.
type Orchestrator struct {
	open     Opener
	cfg      Config
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// NewOrchestrator creates an orchestrator that opens one repository handle per shard.
func NewOrchestrator(open Opener, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		open:     open,
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		recorder: nopRecorder{},
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.cfg.Workers < 1 {
		o.cfg.Workers = 1
	}

	if o.cfg.RecordsPerFile <= 0 {
		o.cfg.RecordsPerFile = DefaultRecordsPerFile
	}

	return o
}

// ListIDs returns the commit ids selected by rng, oldest first.
func (o *Orchestrator) ListIDs(ctx context.Context, rng Range) ([]string, error) {
	repo, err := o.open()
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	defer closeRepo(repo)

	ids, err := repo.CommitIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}

	return rng.Apply(ids), nil
}

// Mine lists the commits selected by rng and runs them.
func (o *Orchestrator) Mine(ctx context.Context, rng Range, sink Sink) (RunStats, error) {
	ids, err := o.ListIDs(ctx, rng)
	if err != nil {
		return RunStats{}, err
	}

	return o.Run(ctx, ids, sink)
}

// Run mines oldest-first ids across the configured shards and writes the
// chronologically merged stream to sink. A failing shard is logged and stops
// early without affecting its siblings; its flushed records are still merged.
// The output does not depend on the number of workers.
func (o *Orchestrator) Run(ctx context.Context, ids []string, sink Sink) (RunStats, error) {
	start := time.Now()

	ctx, span := o.tracer.Start(ctx, "miner.Run",
		trace.WithAttributes(
			attribute.Int("mining.ids", len(ids)),
			attribute.Int("mining.workers", o.cfg.Workers),
		))
	defer span.End()

	mkdirErr := os.MkdirAll(o.cfg.ChunkDir, 0o750)
	if mkdirErr != nil {
		return RunStats{}, fmt.Errorf("create chunk dir: %w", mkdirErr)
	}

	shards := Partition(ids, o.cfg.Workers)
	results := make([]ShardStats, len(shards))
	chunkSets := make([][]string, len(shards))

	var g errgroup.Group

	for k, shard := range shards {
		g.Go(func() error {
			results[k], chunkSets[k] = o.runShard(ctx, k, shard)

			return results[k].Err
		})
	}

	// Siblings keep running when a shard fails; each failure is in results.
	waitErr := g.Wait()
	if waitErr != nil {
		o.logger.WarnContext(ctx, "some shards stopped early", "first_error", waitErr)
	}

	var chunks []Chunk

	for k, set := range chunkSets {
		for seq, path := range set {
			chunks = append(chunks, Chunk{Path: path, Shard: k, Seq: seq})
		}
	}

	stats := RunStats{IDs: len(ids), Shards: results, Chunks: len(chunks)}

	for _, s := range results {
		stats.Mined += s.Mined
		stats.Skipped += s.Skipped
		stats.Bytes += s.Bytes

		if s.Err != nil {
			stats.FailedShards++
		}
	}

	merged, mergeErr := Merge(chunks, sink)
	stats.Merged = merged

	if mergeErr != nil && len(chunks) > 0 {
		o.logger.ErrorContext(ctx, "merge failed, chunks kept for a rerun",
			"chunk_dir", o.cfg.ChunkDir, "chunks", len(chunks), "error", mergeErr)
	}

	if !o.cfg.KeepChunks && mergeErr == nil {
		for _, ch := range chunks {
			rmErr := os.Remove(ch.Path)
			if rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				o.logger.WarnContext(ctx, "remove chunk", "path", ch.Path, "error", rmErr)
			}
		}
	}

	stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("mining.mined", stats.Mined),
		attribute.Int("mining.failed_shards", stats.FailedShards),
	)

	if mergeErr != nil {
		span.RecordError(mergeErr)
		span.SetStatus(codes.Error, "merge failed")

		return stats, fmt.Errorf("merge shards: %w", mergeErr)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return stats, ctxErr
	}

	o.logger.InfoContext(ctx, "mining finished",
		"ids", stats.IDs, "mined", stats.Mined, "skipped", stats.Skipped,
		"failed_shards", stats.FailedShards, "duration", stats.Duration)

	return stats, nil
}

// runShard mines one shard. It never panics and never returns an error; the
// outcome is carried in ShardStats.
func (o *Orchestrator) runShard(ctx context.Context, k int, ids []string) (stats ShardStats, chunks []string) {
	start := time.Now()
	stats = ShardStats{Index: k, IDs: len(ids)}

	if o.cfg.ShardTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.cfg.ShardTimeout)
		defer cancel()
	}

	ctx, span := o.tracer.Start(ctx, "miner.shard",
		trace.WithAttributes(attribute.Int("shard.index", k), attribute.Int("shard.ids", len(ids))))
	defer span.End()

	logger := o.logger.With("shard", k)
	writer := NewShardWriter(o.cfg.ChunkDir, o.cfg.RepoName, k, o.cfg.RecordsPerFile, o.cfg.Compress)

	defer func() {
		if r := recover(); r != nil {
			stats.Err = fmt.Errorf("%w: %v", ErrShardPanic, r)
			logger.ErrorContext(ctx, "shard panicked", "commit", stats.LastCommit, "panic", r, "stack", string(debug.Stack()))
		}

		sealErr := writer.Close()
		if sealErr != nil {
			logger.ErrorContext(ctx, "seal chunk", "error", sealErr)
			stats.Err = errors.Join(stats.Err, sealErr)
		}

		chunks = writer.Chunks()
		stats.Chunks = len(chunks)
		stats.Bytes = writer.Bytes()
		stats.Duration = time.Since(start)

		if stats.Err != nil {
			span.RecordError(stats.Err)
			span.SetStatus(codes.Error, "shard failed")
		}

		o.recorder.ShardFinished(ctx, k, stats.Duration.Seconds(), stats.Err != nil)
	}()

	repo, err := o.open()
	if err != nil {
		stats.Err = fmt.Errorf("open repository: %w", err)
		logger.ErrorContext(ctx, "shard aborted", "error", stats.Err)

		return stats, nil
	}
	defer closeRepo(repo)

	extractor := NewExtractor(repo, o.cfg.Extractor, logger, o.recorder)

	for _, id := range ids {
		stats.LastCommit = id

		if ctxErr := ctx.Err(); ctxErr != nil {
			stats.Err = fmt.Errorf("shard stopped before %s: %w", id, ctxErr)
			logger.ErrorContext(ctx, "shard interrupted", "commit", id, "error", ctxErr)

			return stats, nil
		}

		c, extractErr := extractor.Extract(ctx, id)

		var extraction *ExtractionError

		switch {
		case extractErr == nil:
		case errors.Is(extractErr, ErrNoRelevantFiles):
			stats.Skipped++
			o.recorder.CommitSkipped(ctx)

			continue
		case errors.As(extractErr, &extraction),
			errors.Is(extractErr, context.DeadlineExceeded),
			errors.Is(extractErr, context.Canceled):
			stats.Err = extractErr
			logger.ErrorContext(ctx, "shard stopped", "commit", id, "error", extractErr)

			return stats, nil
		default:
			stats.FailedCommits++
			logger.WarnContext(ctx, "commit failed", "commit", id, "error", extractErr)

			continue
		}

		writeErr := writer.Write(c)
		if writeErr != nil {
			stats.Err = fmt.Errorf("write %s: %w", id, writeErr)
			logger.ErrorContext(ctx, "shard stopped", "commit", id, "error", writeErr)

			return stats, nil
		}

		stats.Mined++
		o.recorder.CommitMined(ctx)
	}

	stats.LastCommit = ""

	logger.DebugContext(ctx, "shard finished", "mined", stats.Mined, "skipped", stats.Skipped)

	return stats, nil
}
