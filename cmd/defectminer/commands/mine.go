package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/defectminer/internal/config"
	"github.com/Sumatoshi-tech/defectminer/internal/observability"
	"github.com/Sumatoshi-tech/defectminer/internal/report"
	"github.com/Sumatoshi-tech/defectminer/pkg/jsonl"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
)

const outputDirPerm = 0o750

type mineFlags struct {
	language       string
	workers        int
	recordsPerFile int
	shardTimeout   time.Duration
	outputDir      string
	output         string
	chunkDir       string
	keepChunks     bool
	backend        string
	compress       bool
	start          int
	end            int
	maxFiles       int
}

func newMineCommand(a *app) *cobra.Command {
	var mf mineFlags

	cmd := &cobra.Command{
		Use:   "mine [repository]",
		Short: "Mine a repository's history into a chronological commit stream",
		Long: `Mine walks the commits reachable from HEAD in parallel shards, keeps the
files of the configured language, records their diff hunks and the blame of
the parent revision, and writes one JSON record per commit ordered by date.

Examples:
  defectminer mine /src/openssl --language C --workers 8
  defectminer mine --backend git --start 100 --end 600 --compress .`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				a.cfg.Mining.RepoPath = args[0]
			}

			applyMineFlags(cmd, &mf, &a.cfg.Mining)

			startErr := a.start(cmd.Context(), observability.ModeMine)
			if startErr != nil {
				return startErr
			}
			defer a.stop()

			return a.runMine(cmd, mf.output)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&mf.language, "language", "l", config.DefaultMiningLanguage, "Language of the files to keep (empty keeps all)")
	flags.IntVarP(&mf.workers, "workers", "w", config.DefaultMiningWorkers, "Number of shards mined in parallel")
	flags.IntVar(&mf.recordsPerFile, "records-per-file", config.DefaultMiningRecordsPerFile, "Records per shard chunk file")
	flags.DurationVar(&mf.shardTimeout, "shard-timeout", config.DefaultMiningShardTimeout, "Deadline for each shard (0 disables it)")
	flags.StringVarP(&mf.outputDir, "output-dir", "o", config.DefaultMiningOutputDir, "Directory receiving the commit stream")
	flags.StringVar(&mf.output, "output", "", "Commit stream path (default: <output-dir>/extracted-all-<repo><range>.jsonl)")
	flags.StringVar(&mf.chunkDir, "chunk-dir", "", "Directory for shard chunks (default: <output-dir>/chunks-<repo>)")
	flags.BoolVar(&mf.keepChunks, "keep-chunks", false, "Keep shard chunk files after the merge")
	flags.StringVar(&mf.backend, "backend", config.DefaultMiningBackend, "Repository backend: gitlib or git")
	flags.BoolVar(&mf.compress, "compress", false, "Write lz4-compressed chunks and output")
	flags.IntVar(&mf.start, "start", 0, "First commit index, counted from HEAD")
	flags.IntVar(&mf.end, "end", 0, "Commit index to stop at, counted from HEAD (0 = no limit)")
	flags.IntVar(&mf.maxFiles, "max-files", 0, "Maximum files kept per commit (0 = unlimited)")

	return cmd
}

// applyMineFlags copies the flags the user set over the loaded config.
func applyMineFlags(cmd *cobra.Command, mf *mineFlags, m *config.MiningConfig) {
	flags := cmd.Flags()

	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}

	set("language", func() { m.Language = mf.language })
	set("workers", func() { m.Workers = mf.workers })
	set("records-per-file", func() { m.RecordsPerFile = mf.recordsPerFile })
	set("shard-timeout", func() { m.ShardTimeout = mf.shardTimeout })
	set("output-dir", func() { m.OutputDir = mf.outputDir })
	set("chunk-dir", func() { m.ChunkDir = mf.chunkDir })
	set("keep-chunks", func() { m.KeepChunks = mf.keepChunks })
	set("backend", func() { m.Backend = mf.backend })
	set("compress", func() { m.Compress = mf.compress })
	set("start", func() { m.Start = mf.start })
	set("end", func() { m.End = mf.end })
	set("max-files", func() { m.MaxFiles = mf.maxFiles })
}

// outputPaths resolves the stream and chunk locations for repoName.
func outputPaths(m config.MiningConfig, explicit, repoName string, rng miner.Range) (output, chunks string) {
	output = explicit
	if output == "" {
		output = filepath.Join(m.OutputDir, "extracted-all-"+repoName+rng.Suffix()+".jsonl")
		if m.Compress {
			output += jsonl.Lz4Ext
		}
	}

	chunks = m.ChunkDir
	if chunks == "" {
		chunks = filepath.Join(m.OutputDir, "chunks-"+repoName)
	}

	return output, chunks
}

func (a *app) runMine(cmd *cobra.Command, explicitOutput string) error {
	ctx := cmd.Context()
	m := a.cfg.Mining

	repoPath := m.RepoPath
	if repoPath == "" {
		repoPath = "."
	}

	absRepo, err := filepath.Abs(repoPath)
	if err != nil {
		return fmt.Errorf("resolve repository path: %w", err)
	}

	opener, err := a.open(m.Backend, absRepo)
	if err != nil {
		return err
	}

	repoName := filepath.Base(absRepo)
	rng := miner.Range{Start: m.Start, End: m.End}
	output, chunkDir := outputPaths(m, explicitOutput, repoName, rng)

	mkdirErr := os.MkdirAll(filepath.Dir(output), outputDirPerm)
	if mkdirErr != nil {
		return fmt.Errorf("create output dir: %w", mkdirErr)
	}

	sink, err := jsonl.Create(output)
	if err != nil {
		return err
	}

	orch := miner.NewOrchestrator(opener, miner.Config{
		Workers:        m.Workers,
		RecordsPerFile: m.RecordsPerFile,
		ShardTimeout:   m.ShardTimeout,
		ChunkDir:       chunkDir,
		RepoName:       repoName,
		Compress:       m.Compress,
		KeepChunks:     m.KeepChunks,
		Extractor:      miner.ExtractorConfig{Language: m.Language, MaxFiles: m.MaxFiles},
	},
		miner.WithLogger(a.providers.Logger),
		miner.WithRecorder(a.metrics),
	)

	a.providers.Logger.InfoContext(ctx, "mining started",
		"repository", absRepo, "backend", m.Backend, "workers", m.Workers, "output", output)

	stats, mineErr := orch.Mine(ctx, rng, sink)

	closeErr := sink.Close()
	if mineErr != nil {
		return mineErr
	}

	if closeErr != nil {
		return closeErr
	}

	p, err := a.printer()
	if err != nil {
		return err
	}

	return p.Mining(report.FromMining(absRepo, output, stats))
}
