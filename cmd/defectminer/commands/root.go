package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/defectminer/internal/config"
	"github.com/Sumatoshi-tech/defectminer/internal/report"
	"github.com/Sumatoshi-tech/defectminer/pkg/version"
)

// NewRootCommand builds the defectminer command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultOpen, os.Stdout, os.Stderr)
}

func newRootCommand(open OpenFunc, stdout, stderr io.Writer) *cobra.Command {
	a := &app{open: open, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "defectminer",
		Short: "Mine git history into just-in-time defect prediction features",
		Long: `defectminer mines a repository's commit history into a chronological
stream of structured commits and computes per-commit defect prediction
features from it without looking ahead.

Commands:
  mine       Mine a repository into a commit stream
  features   Compute kamei or vccfinder features from a commit stream
  validate   Check a stream against its schema and ordering
  version    Show version information`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "Config file (default: ./.defectminer.yaml or ~/.defectminer.yaml)")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "Debug logging and per-commit trace spans")
	pf.StringVar(&a.flags.logFormat, "log-format", config.DefaultLoggingFormat, "Log format: text or json")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address (e.g. :9464)")
	pf.StringVar(&a.flags.format, "format", report.FormatText, "Summary format: text, yaml or json")
	pf.BoolVar(&a.flags.color, "color", false, "Color the text summary")

	root.AddCommand(newMineCommand(a))
	root.AddCommand(newFeaturesCommand(a))
	root.AddCommand(newValidateCommand(a))
	root.AddCommand(newVersionCommand(stdout))

	return root
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(stdout, version.String())
		},
	}
}
