package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/defectminer/internal/observability"
	"github.com/Sumatoshi-tech/defectminer/internal/report"
	"github.com/Sumatoshi-tech/defectminer/pkg/features"
	"github.com/Sumatoshi-tech/defectminer/pkg/schema"
)

const defaultMaxProblems = 20

// ErrValidationFailed is returned when a stream has schema or ordering problems.
var ErrValidationFailed = errors.New("validation failed")

func newValidateCommand(a *app) *cobra.Command {
	var (
		schemaName  string
		maxProblems int
		printSchema bool
	)

	cmd := &cobra.Command{
		Use:   "validate <file.jsonl>",
		Short: "Validate a commit or feature stream",
		Long: `Validate checks every record of a JSONL (or .jsonl.lz4) file against the
embedded JSON Schema. Commit streams are also checked for chronological order,
the precondition of every feature aggregator.

Examples:
  defectminer validate out/extracted-all-openssl.jsonl
  defectminer validate --schema kamei out/extracted-all-openssl-kamei.jsonl
  defectminer validate --schema vccfinder --print-schema`,
		Args: cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				src, err := schema.Source(schemaName)
				if err != nil {
					return err
				}

				_, err = a.stdout.Write(src)

				return err
			}

			if len(args) != 1 {
				return fmt.Errorf("%w: expected one file", ErrValidationFailed)
			}

			startErr := a.start(cmd.Context(), observability.ModeCLI)
			if startErr != nil {
				return startErr
			}
			defer a.stop()

			return a.runValidate(args[0], schemaName, maxProblems)
		},
	}

	cmd.Flags().StringVar(&schemaName, "schema", schema.Commit, "Record schema: commit, kamei or vccfinder")
	cmd.Flags().IntVar(&maxProblems, "max-problems", defaultMaxProblems, "Maximum schema violations listed (0 = all)")
	cmd.Flags().BoolVar(&printSchema, "print-schema", false, "Print the JSON Schema and exit")

	return cmd
}

func (a *app) runValidate(path, schemaName string, maxProblems int) error {
	v, err := schema.New(schemaName)
	if err != nil {
		return err
	}

	res, err := v.ValidateFile(path, maxProblems)
	if err != nil {
		return err
	}

	summary := report.ValidationSummary{
		Path:    path,
		Schema:  schemaName,
		Records: res.Records,
		Invalid: res.Invalid,
	}

	for _, recErr := range res.Errors {
		summary.Problems = append(summary.Problems, recErr.Error())
	}

	if schemaName == schema.Commit {
		stream, streamErr := features.ValidateStream(path)
		summary.FirstDate = stream.FirstDate
		summary.LastDate = stream.LastDate

		if streamErr != nil {
			summary.Error = streamErr.Error()
		}
	}

	p, err := a.printer()
	if err != nil {
		return err
	}

	printErr := p.Validation(summary)
	if printErr != nil {
		return printErr
	}

	if !summary.OK() {
		return fmt.Errorf("%w: %s", ErrValidationFailed, path)
	}

	return nil
}
