package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/defectminer/internal/config"
	"github.com/Sumatoshi-tech/defectminer/internal/observability"
	"github.com/Sumatoshi-tech/defectminer/internal/report"
	"github.com/Sumatoshi-tech/defectminer/pkg/features"
	"github.com/Sumatoshi-tech/defectminer/pkg/features/kamei"
	"github.com/Sumatoshi-tech/defectminer/pkg/features/vccfinder"
	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
	"github.com/Sumatoshi-tech/defectminer/pkg/persist"
)

// ErrCompressedFeatureOutput rejects lz4 feature outputs, which cannot be
// truncated on resume.
var ErrCompressedFeatureOutput = errors.New("feature output must be plain jsonl")

type featureFlags struct {
	output        string
	snapshotDir   string
	snapshotEvery int
	resume        bool
	codec         string
}

func newFeaturesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Compute point-in-time defect prediction features from a commit stream",
		Long: `Features consumes a chronological commit stream produced by "mine" and
writes one feature record per commit. Every value depends only on the commit
and the commits before it, except the future_* columns of vccfinder, which are
filled in once the whole stream has been read.

Runs checkpoint their state every --snapshot-every commits when --snapshot-dir
is set and continue from the last checkpoint with --resume.`,
	}

	cmd.AddCommand(newAggregatorCommand(a, kamei.Name,
		"Change metrics: size, diffusion, history and author experience",
		func(cmd *cobra.Command, input string, ff *featureFlags) error {
			return runAggregator[kamei.Record, kamei.State](cmd, a, kamei.New(), input, ff)
		}))

	cmd.AddCommand(newAggregatorCommand(a, vccfinder.Name,
		"Churn, keyword and ownership metrics",
		func(cmd *cobra.Command, input string, ff *featureFlags) error {
			return runAggregator[vccfinder.Record, vccfinder.State](cmd, a, vccfinder.New(), input, ff)
		}))

	return cmd
}

type aggregatorRun func(cmd *cobra.Command, input string, ff *featureFlags) error

func newAggregatorCommand(a *app, name, short string, run aggregatorRun) *cobra.Command {
	var ff featureFlags

	cmd := &cobra.Command{
		Use:   name + " <commits.jsonl>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyFeatureFlags(cmd, &ff, &a.cfg.Features)

			startErr := a.start(cmd.Context(), observability.ModeFeatures)
			if startErr != nil {
				return startErr
			}
			defer a.stop()

			return run(cmd, args[0], &ff)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&ff.output, "output", "o", "", "Feature output path (default: <input>-"+name+".jsonl)")
	flags.StringVar(&ff.snapshotDir, "snapshot-dir", "", "Checkpoint directory (empty disables checkpoints)")
	flags.IntVar(&ff.snapshotEvery, "snapshot-every", config.DefaultFeaturesSnapshotEvery, "Commits between checkpoints")
	flags.BoolVar(&ff.resume, "resume", false, "Continue from the last checkpoint")
	flags.StringVar(&ff.codec, "codec", config.DefaultFeaturesCodec, "Checkpoint state codec: json or gob")

	return cmd
}

func applyFeatureFlags(cmd *cobra.Command, ff *featureFlags, f *config.FeaturesConfig) {
	flags := cmd.Flags()

	if flags.Changed("snapshot-dir") {
		f.SnapshotDir = ff.snapshotDir
	}

	if flags.Changed("snapshot-every") {
		f.SnapshotEvery = ff.snapshotEvery
	}

	if flags.Changed("resume") {
		f.Resume = ff.resume
	}

	if flags.Changed("codec") {
		f.Codec = ff.codec
	}
}

// featureOutputPath derives "<dir>/<stem>-<aggregator>.jsonl" from the input.
func featureOutputPath(input, aggregator string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, jsonl.Lz4Ext)
	base = strings.TrimSuffix(base, ".jsonl")

	return filepath.Join(filepath.Dir(input), base+"-"+aggregator+".jsonl")
}

func runAggregator[R, S any](
	cmd *cobra.Command, a *app, agg features.Aggregator[R, S], input string, ff *featureFlags,
) error {
	f := a.cfg.Features

	output := ff.output
	if output == "" {
		output = featureOutputPath(input, agg.Name())
	}

	if jsonl.Compressed(output) {
		return fmt.Errorf("%w: %s", ErrCompressedFeatureOutput, output)
	}

	codec, err := persist.CodecByName(f.Codec)
	if err != nil {
		return err
	}

	runner := features.NewRunner[R, S](agg, features.RunConfig{
		InputPath:     input,
		OutputPath:    output,
		SnapshotDir:   f.SnapshotDir,
		SnapshotEvery: f.SnapshotEvery,
		Resume:        f.Resume,
		Codec:         codec,
	},
		features.WithLogger(a.providers.Logger),
		features.WithRecorder(a.metrics),
	)

	stats, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("%s: %w", agg.Name(), err)
	}

	p, err := a.printer()
	if err != nil {
		return err
	}

	return p.Features(report.FromFeatures(input, output, stats))
}
