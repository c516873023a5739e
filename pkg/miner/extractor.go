package miner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/defectminer/pkg/gitparse"
)

// ErrNoRelevantFiles signals that a commit produced no record.
var ErrNoRelevantFiles = errors.New("no relevant files")

// Reasons a file is left out of a commit record.
const (
	SkipParse    = "parse_error"
	SkipBinary   = "binary"
	SkipNoHunks  = "no_hunks"
	SkipLanguage = "language"
	SkipBlame    = "blame"
	SkipLimit    = "max_files"
)

// ExtractionError reports a commit whose header could not be read. It ends
// the shard that hit it.
type ExtractionError struct {
	CommitID string
	Err      error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract commit %s: %v", e.CommitID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Recorder receives mining events. observability.MiningMetrics implements it.
type Recorder interface {
	CommitMined(ctx context.Context)
	CommitSkipped(ctx context.Context)
	FileSkipped(ctx context.Context, reason string)
	ShardFinished(ctx context.Context, shard int, seconds float64, failed bool)
}

type nopRecorder struct{}

func (nopRecorder) CommitMined(context.Context)                       {}
func (nopRecorder) CommitSkipped(context.Context)                     {}
func (nopRecorder) FileSkipped(context.Context, string)               {}
func (nopRecorder) ShardFinished(context.Context, int, float64, bool) {}

// ExtractorConfig controls which files make it into a record.
type ExtractorConfig struct {
	// Language keeps only files of this language (case-insensitive). Empty keeps all.
	Language string
	// MaxFiles bounds the files kept per commit. Zero means unlimited.
	MaxFiles int
}

// Extractor turns one commit id into a Commit record.
type Extractor struct {
	repo     Repository
	cfg      ExtractorConfig
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// NewExtractor creates an extractor over repo. A nil logger or recorder falls
// back to slog.Default and a no-op.
func NewExtractor(repo Repository, cfg ExtractorConfig, logger *slog.Logger, recorder Recorder) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}

	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Extractor{repo: repo, cfg: cfg, logger: logger, recorder: recorder, tracer: otel.Tracer(tracerName)}
}

// Extract builds the record of id. It returns ErrNoRelevantFiles when no file
// survives filtering and *ExtractionError when the header is unusable.
func (e *Extractor) Extract(ctx context.Context, id string) (*Commit, error) {
	ctx, span := e.tracer.Start(ctx, "miner.extract", trace.WithAttributes(attribute.String("commit.id", id)))
	defer span.End()

	header, err := e.repo.Header(ctx, id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		return nil, &ExtractionError{CommitID: id, Err: err}
	}

	raw, err := e.repo.Diff(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", id, err)
	}

	diffs, parseErrs := gitparse.ParseCommitDiff(raw)
	for _, perr := range parseErrs {
		e.logger.WarnContext(ctx, "skipping unparseable file diff", "commit", id, "error", perr)
		e.recorder.FileSkipped(ctx, SkipParse)
	}

	c := &Commit{
		CommitID: header.ID,
		ParentID: header.Parent(),
		Subject:  header.Subject,
		Message:  header.Message,
		Author:   header.Author,
		Date:     header.Date,
		Files:    []string{},
		Diff:     make(map[string]gitparse.FileDiff),
		Blame:    make(map[string]gitparse.BlameMap),
	}

	for i := range diffs {
		d := &diffs[i]

		reason, blame, keepErr := e.keep(ctx, c, d)
		if keepErr != nil {
			return nil, keepErr
		}

		if reason != "" {
			e.recorder.FileSkipped(ctx, reason)

			continue
		}

		dest := d.DestPath()
		c.Files = append(c.Files, dest)
		c.Diff[dest] = *d
		c.Blame[dest] = blame
	}

	if len(c.Files) == 0 {
		return nil, ErrNoRelevantFiles
	}

	return c, nil
}

// keep decides whether d belongs in c and fetches its blame. It returns a skip
// reason, or an error only when ctx is done.
func (e *Extractor) keep(ctx context.Context, c *Commit, d *gitparse.FileDiff) (string, gitparse.BlameMap, error) {
	switch {
	case d.IsBinary:
		return SkipBinary, nil, nil
	case len(d.Content) == 0:
		return SkipNoHunks, nil, nil
	case !MatchesLanguage(d.DestPath(), e.cfg.Language):
		return SkipLanguage, nil, nil
	case e.cfg.MaxFiles > 0 && len(c.Files) >= e.cfg.MaxFiles:
		return SkipLimit, nil, nil
	}

	if _, dup := c.Diff[d.DestPath()]; dup {
		return SkipParse, nil, nil
	}

	if d.IsAdded() || c.ParentID == "" {
		return "", gitparse.BlameMap{}, nil
	}

	lines, err := e.repo.Blame(ctx, c.ParentID, d.SourcePath())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", nil, ctxErr
		}

		e.logger.WarnContext(ctx, "blame failed", "commit", c.CommitID, "path", d.SourcePath(), "error", err)

		return SkipBlame, nil, nil
	}

	blame, err := gitparse.ParseBlame(lines)
	if err != nil {
		e.logger.WarnContext(ctx, "unusable blame", "commit", c.CommitID, "path", d.SourcePath(), "error", err)

		return SkipBlame, nil, nil
	}

	return "", blame, nil
}
