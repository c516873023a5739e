package features

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/defectminer/internal/checkpoint"
	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
	"github.com/Sumatoshi-tech/defectminer/pkg/persist"
)

const tracerName = "defectminer/features"

// DefaultSnapshotEvery is the snapshot interval used when none is configured.
const DefaultSnapshotEvery = 1000

// ErrInputMismatch is returned when a checkpoint does not match the input it
// is resumed against.
var ErrInputMismatch = errors.New("checkpoint does not match input")

// RunConfig configures one aggregator run.
type RunConfig struct {
	// InputPath is the mined commit stream.
	InputPath string
	// OutputPath receives one feature record per line. It must be plain JSONL
	// when checkpoints are enabled, unless the aggregator is a Releaser.
	OutputPath string
	// SnapshotDir enables checkpoints. Empty disables them.
	SnapshotDir string
	// SnapshotEvery is the number of ingested commits between checkpoints.
	SnapshotEvery int
	// Resume continues from an existing checkpoint. Without it any existing
	// checkpoint is discarded.
	Resume bool
	// Codec encodes aggregator state. Nil selects JSON.
	Codec persist.Codec
}

// RunStats summarizes a run.
type RunStats struct {
	Aggregator string
	Resumed    bool
	// Skipped counts input records already covered by the checkpoint.
	Skipped   int
	Ingested  int
	Emitted   int
	Snapshots int
	Duration  time.Duration
}

// Recorder receives feature run events. observability.MiningMetrics implements it.
type Recorder interface {
	RecordsEmitted(ctx context.Context, aggregator string, n int)
	SnapshotSaved(ctx context.Context, aggregator string)
}

type nopRecorder struct{}

func (nopRecorder) RecordsEmitted(context.Context, string, int) {}
func (nopRecorder) SnapshotSaved(context.Context, string)       {}

// RunOption configures a Runner.
type RunOption func(*runOptions)

type runOptions struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	recorder Recorder
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RunOption {
	return func(o *runOptions) { o.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) RunOption {
	return func(o *runOptions) { o.tracer = t }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) RunOption {
	return func(o *runOptions) { o.recorder = r }
}

// checkpointState is what a checkpoint stores for a run.
type checkpointState[S any] struct {
	Guard *OrderGuard `json:"guard"`
	State S           `json:"state"`
}

// Runner feeds a commit stream through an aggregator, writes its records and
// checkpoints its state.
type Runner[R, S any] struct {
	agg     Aggregator[R, S]
	cfg     RunConfig
	opts    runOptions
	manager *checkpoint.Manager
}

// NewRunner creates a runner for agg.
func NewRunner[R, S any](agg Aggregator[R, S], cfg RunConfig, opts ...RunOption) *Runner[R, S] {
	o := runOptions{
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		recorder: nopRecorder{},
	}

	for _, opt := range opts {
		opt(&o)
	}

	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = DefaultSnapshotEvery
	}

	r := &Runner[R, S]{agg: agg, cfg: cfg, opts: o}

	if cfg.SnapshotDir != "" {
		r.manager = checkpoint.NewManager(cfg.SnapshotDir, checkpoint.Key(agg.Name(), cfg.InputPath), cfg.Codec)
	}

	return r
}

// Checkpoints returns the checkpoint manager, or nil when checkpoints are disabled.
func (r *Runner[R, S]) Checkpoints() *checkpoint.Manager {
	return r.manager
}

// resumePoint is where a resumed run picks up.
type resumePoint struct {
	ingested int
	lastID   string
	offset   int64
}

// restore loads the checkpoint into the aggregator and returns the guard and
// resume point. A missing checkpoint means a cold start.
func (r *Runner[R, S]) restore(ctx context.Context) (*OrderGuard, resumePoint, bool, error) {
	if r.manager == nil {
		return NewOrderGuard(), resumePoint{}, false, nil
	}

	if !r.cfg.Resume {
		clearErr := r.manager.Clear()
		if clearErr != nil {
			return nil, resumePoint{}, false, clearErr
		}

		return NewOrderGuard(), resumePoint{}, false, nil
	}

	meta, saved, err := checkpoint.Load[checkpointState[S]](r.manager, r.agg.Name(), r.agg.StateVersion())
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		r.opts.logger.InfoContext(ctx, "no checkpoint, starting cold", "aggregator", r.agg.Name())

		return NewOrderGuard(), resumePoint{}, false, nil
	}

	if err != nil {
		return nil, resumePoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}

	restoreErr := r.agg.Restore(saved.State)
	if restoreErr != nil {
		return nil, resumePoint{}, false, fmt.Errorf("restore %s: %w", r.agg.Name(), restoreErr)
	}

	guard := saved.Guard
	if guard == nil || guard.Authors == nil || guard.Files == nil {
		guard = NewOrderGuard()
	}

	r.opts.logger.InfoContext(ctx, "resuming from checkpoint",
		"aggregator", r.agg.Name(), "ingested", meta.Ingested, "last_commit", meta.LastCommitID)

	return guard, resumePoint{ingested: meta.Ingested, lastID: meta.LastCommitID, offset: meta.OutputOffset}, true, nil
}

// Run processes the whole input. Records of a Releaser are written after the
// last commit; other aggregators write one record per commit as it arrives.
func (r *Runner[R, S]) Run(ctx context.Context) (RunStats, error) {
	start := time.Now()
	name := r.agg.Name()
	stats := RunStats{Aggregator: name}

	ctx, span := r.opts.tracer.Start(ctx, "features.run",
		trace.WithAttributes(attribute.String("features.aggregator", name)))
	defer span.End()

	fail := func(err error) (RunStats, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "feature run failed")

		stats.Duration = time.Since(start)

		return stats, err
	}

	guard, point, resumed, err := r.restore(ctx)
	if err != nil {
		return fail(err)
	}

	stats.Resumed = resumed

	releaser, releases := any(r.agg).(Releaser[R])

	var out *jsonl.Writer

	if !releases {
		out, err = r.openOutput(point.offset)
		if err != nil {
			return fail(err)
		}

		defer func() {
			if out != nil {
				out.Close()
			}
		}()
	}

	in, err := jsonl.Open(r.cfg.InputPath)
	if err != nil {
		return fail(err)
	}
	defer in.Close()

	lastID := ""

	for n := 1; ; n++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}

		var c miner.Commit

		nextErr := in.Next(&c)
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			return fail(nextErr)
		}

		if n <= point.ingested {
			stats.Skipped++

			if n == point.ingested && c.CommitID != point.lastID {
				return fail(fmt.Errorf("%w: record %d is %s, checkpoint ends at %s",
					ErrInputMismatch, n, c.CommitID, point.lastID))
			}

			continue
		}

		admitErr := guard.Admit(&c)
		if admitErr != nil {
			return fail(admitErr)
		}

		rec, ingestErr := r.agg.Ingest(&c)
		if ingestErr != nil {
			return fail(fmt.Errorf("ingest %s: %w", c.CommitID, ingestErr))
		}

		stats.Ingested++
		lastID = c.CommitID

		if out != nil {
			writeErr := out.Write(rec)
			if writeErr != nil {
				return fail(writeErr)
			}

			stats.Emitted++
		}

		if r.manager != nil && n%r.cfg.SnapshotEvery == 0 {
			saveErr := r.save(ctx, guard, out, n, lastID)
			if saveErr != nil {
				return fail(saveErr)
			}

			stats.Snapshots++
		}
	}

	if stats.Skipped < point.ingested {
		return fail(fmt.Errorf("%w: input has %d records, checkpoint covers %d",
			ErrInputMismatch, stats.Skipped, point.ingested))
	}

	if lastID == "" {
		lastID = point.lastID
	}

	if releases {
		emitted, releaseErr := r.release(releaser)
		stats.Emitted = emitted

		if releaseErr != nil {
			return fail(releaseErr)
		}
	}

	if r.manager != nil {
		saveErr := r.save(ctx, guard, out, point.ingested+stats.Ingested, lastID)
		if saveErr != nil {
			return fail(saveErr)
		}

		stats.Snapshots++
	}

	if out != nil {
		closeErr := out.Close()
		out = nil

		if closeErr != nil {
			return fail(closeErr)
		}
	}

	r.opts.recorder.RecordsEmitted(ctx, name, stats.Emitted)

	stats.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("features.ingested", stats.Ingested),
		attribute.Int("features.emitted", stats.Emitted),
		attribute.Bool("features.resumed", stats.Resumed),
	)

	r.opts.logger.InfoContext(ctx, "feature run finished",
		"aggregator", name, "resumed", stats.Resumed, "skipped", stats.Skipped,
		"ingested", stats.Ingested, "emitted", stats.Emitted, "duration", stats.Duration)

	return stats, nil
}

// openOutput opens the record output. With checkpoints the file is truncated
// to offset so records written after the last checkpoint are dropped.
func (r *Runner[R, S]) openOutput(offset int64) (*jsonl.Writer, error) {
	if r.manager == nil {
		return jsonl.Create(r.cfg.OutputPath)
	}

	return jsonl.OpenAppend(r.cfg.OutputPath, offset)
}

func (r *Runner[R, S]) release(releaser Releaser[R]) (int, error) {
	out, err := jsonl.Create(r.cfg.OutputPath)
	if err != nil {
		return 0, err
	}

	emitted := 0

	releaseErr := releaser.Release(func(rec R) error {
		emitted++

		return out.Write(rec)
	})

	closeErr := out.Close()

	return emitted, errors.Join(releaseErr, closeErr)
}

// save syncs the output and checkpoints the aggregator after ingested records.
func (r *Runner[R, S]) save(ctx context.Context, guard *OrderGuard, out *jsonl.Writer, ingested int, lastID string) error {
	var offset int64

	if out != nil {
		syncErr := out.Sync()
		if syncErr != nil {
			return syncErr
		}

		offset = out.Offset()
	}

	meta := checkpoint.Metadata{
		Aggregator:   r.agg.Name(),
		StateVersion: r.agg.StateVersion(),
		InputPath:    r.cfg.InputPath,
		Ingested:     ingested,
		LastCommitID: lastID,
		OutputOffset: offset,
	}

	err := checkpoint.Save(r.manager, meta, checkpointState[S]{Guard: guard, State: r.agg.Snapshot()})
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", r.agg.Name(), err)
	}

	r.opts.recorder.SnapshotSaved(ctx, r.agg.Name())
	r.opts.logger.DebugContext(ctx, "checkpoint saved", "aggregator", r.agg.Name(), "ingested", ingested)

	return nil
}
