// Package report renders run summaries for the terminal, YAML or JSON.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/defectminer/pkg/features"
	"github.com/Sumatoshi-tech/defectminer/pkg/miner"
)

// Output formats accepted by NewPrinter.
const (
	FormatText = "text"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

const yamlIndent = 2

// ErrUnknownFormat is returned by NewPrinter for unsupported formats.
var ErrUnknownFormat = errors.New("unknown report format")

// ShardSummary is the report view of one mining shard.
type ShardSummary struct {
	Index         int           `json:"index"                 yaml:"index"`
	IDs           int           `json:"ids"                   yaml:"ids"`
	Mined         int           `json:"mined"                 yaml:"mined"`
	Skipped       int           `json:"skipped"               yaml:"skipped"`
	FailedCommits int           `json:"failed_commits"        yaml:"failed_commits"`
	Chunks        int           `json:"chunks"                yaml:"chunks"`
	Bytes         int64         `json:"bytes"                 yaml:"bytes"`
	Duration      time.Duration `json:"duration"              yaml:"duration"`
	LastCommit    string        `json:"last_commit,omitempty" yaml:"last_commit,omitempty"`
	Error         string        `json:"error,omitempty"       yaml:"error,omitempty"`
}

// MiningSummary is the report view of a mining run.
type MiningSummary struct {
	Repository   string         `json:"repository"    yaml:"repository"`
	Output       string         `json:"output"        yaml:"output"`
	IDs          int            `json:"ids"           yaml:"ids"`
	Mined        int            `json:"mined"         yaml:"mined"`
	Skipped      int            `json:"skipped"       yaml:"skipped"`
	Merged       int            `json:"merged"        yaml:"merged"`
	FailedShards int            `json:"failed_shards" yaml:"failed_shards"`
	Chunks       int            `json:"chunks"        yaml:"chunks"`
	Bytes        int64          `json:"bytes"         yaml:"bytes"`
	Duration     time.Duration  `json:"duration"      yaml:"duration"`
	Shards       []ShardSummary `json:"shards"        yaml:"shards"`
}

// FromMining converts orchestrator stats.
func FromMining(repo, output string, stats miner.RunStats) MiningSummary {
	s := MiningSummary{
		Repository:   repo,
		Output:       output,
		IDs:          stats.IDs,
		Mined:        stats.Mined,
		Skipped:      stats.Skipped,
		Merged:       stats.Merged,
		FailedShards: stats.FailedShards,
		Chunks:       stats.Chunks,
		Bytes:        stats.Bytes,
		Duration:     stats.Duration,
		Shards:       make([]ShardSummary, 0, len(stats.Shards)),
	}

	for _, sh := range stats.Shards {
		row := ShardSummary{
			Index:         sh.Index,
			IDs:           sh.IDs,
			Mined:         sh.Mined,
			Skipped:       sh.Skipped,
			FailedCommits: sh.FailedCommits,
			Chunks:        sh.Chunks,
			Bytes:         sh.Bytes,
			Duration:      sh.Duration,
			LastCommit:    sh.LastCommit,
		}

		if sh.Err != nil {
			row.Error = sh.Err.Error()
		}

		s.Shards = append(s.Shards, row)
	}

	return s
}

// FeatureSummary is the report view of an aggregator run.
type FeatureSummary struct {
	Aggregator string        `json:"aggregator" yaml:"aggregator"`
	Input      string        `json:"input"      yaml:"input"`
	Output     string        `json:"output"     yaml:"output"`
	Resumed    bool          `json:"resumed"    yaml:"resumed"`
	Skipped    int           `json:"skipped"    yaml:"skipped"`
	Ingested   int           `json:"ingested"   yaml:"ingested"`
	Emitted    int           `json:"emitted"    yaml:"emitted"`
	Snapshots  int           `json:"snapshots"  yaml:"snapshots"`
	Duration   time.Duration `json:"duration"   yaml:"duration"`
}

// FromFeatures converts runner stats.
func FromFeatures(input, output string, stats features.RunStats) FeatureSummary {
	return FeatureSummary{
		Aggregator: stats.Aggregator,
		Input:      input,
		Output:     output,
		Resumed:    stats.Resumed,
		Skipped:    stats.Skipped,
		Ingested:   stats.Ingested,
		Emitted:    stats.Emitted,
		Snapshots:  stats.Snapshots,
		Duration:   stats.Duration,
	}
}

// ValidationSummary is the report view of a stream validation.
type ValidationSummary struct {
	Path      string   `json:"path"                yaml:"path"`
	Schema    string   `json:"schema"              yaml:"schema"`
	Records   int      `json:"records"             yaml:"records"`
	FirstDate int64    `json:"first_date"          yaml:"first_date"`
	LastDate  int64    `json:"last_date"           yaml:"last_date"`
	Invalid   int      `json:"invalid"             yaml:"invalid"`
	Problems  []string `json:"problems,omitempty"  yaml:"problems,omitempty"`
	Error     string   `json:"error,omitempty"     yaml:"error,omitempty"`
}

// OK reports whether the stream passed every check.
func (v ValidationSummary) OK() bool {
	return v.Error == "" && v.Invalid == 0
}

// Printer writes summaries in one format.
type Printer struct {
	w      io.Writer
	format string
	color  bool
}

// NewPrinter creates a printer. colorize only affects the text format.
func NewPrinter(w io.Writer, format string, colorize bool) (*Printer, error) {
	switch format {
	case "", FormatText:
		format = FormatText
	case FormatYAML, FormatJSON:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	return &Printer{w: w, format: format, color: colorize}, nil
}

// Mining prints a mining summary.
func (p *Printer) Mining(s MiningSummary) error {
	if p.format != FormatText {
		return p.encode(s)
	}

	status := p.paint(color.FgGreen, "mining finished")
	if s.FailedShards > 0 {
		status = p.paint(color.FgYellow, fmt.Sprintf("mining finished with %d failed shard(s)", s.FailedShards))
	}

	kv := newTable()
	kv.AppendRows([]table.Row{
		{"repository", s.Repository},
		{"output", s.Output},
		{"commits listed", humanize.Comma(int64(s.IDs))},
		{"commits mined", humanize.Comma(int64(s.Mined))},
		{"commits skipped", humanize.Comma(int64(s.Skipped))},
		{"records merged", humanize.Comma(int64(s.Merged))},
		{"chunks", s.Chunks},
		{"chunk bytes", humanize.IBytes(nonNegative(s.Bytes))},
		{"duration", s.Duration.Round(time.Millisecond)},
	})

	shards := newTable()
	shards.AppendHeader(table.Row{"shard", "ids", "mined", "skipped", "failed", "chunks", "bytes", "duration", "status"})

	for _, sh := range s.Shards {
		state := p.paint(color.FgGreen, "ok")
		if sh.Error != "" {
			state = p.paint(color.FgRed, sh.Error)
		}

		shards.AppendRow(table.Row{
			sh.Index, sh.IDs, sh.Mined, sh.Skipped, sh.FailedCommits, sh.Chunks,
			humanize.IBytes(nonNegative(sh.Bytes)), sh.Duration.Round(time.Millisecond), state,
		})
	}

	_, err := fmt.Fprintf(p.w, "%s\n%s\n\n%s\n", status, kv.Render(), shards.Render())

	return err
}

// Features prints an aggregator run summary.
func (p *Printer) Features(s FeatureSummary) error {
	if p.format != FormatText {
		return p.encode(s)
	}

	status := p.paint(color.FgGreen, s.Aggregator+" finished")
	if s.Resumed {
		status = p.paint(color.FgCyan, s.Aggregator+" resumed and finished")
	}

	kv := newTable()
	kv.AppendRows([]table.Row{
		{"input", s.Input},
		{"output", s.Output},
		{"skipped", humanize.Comma(int64(s.Skipped))},
		{"ingested", humanize.Comma(int64(s.Ingested))},
		{"emitted", humanize.Comma(int64(s.Emitted))},
		{"snapshots", s.Snapshots},
		{"duration", s.Duration.Round(time.Millisecond)},
	})

	_, err := fmt.Fprintf(p.w, "%s\n%s\n", status, kv.Render())

	return err
}

// Validation prints a stream validation summary.
func (p *Printer) Validation(s ValidationSummary) error {
	if p.format != FormatText {
		return p.encode(s)
	}

	status := p.paint(color.FgGreen, "stream is valid")
	if !s.OK() {
		status = p.paint(color.FgRed, "stream validation failed")
	}

	kv := newTable()
	kv.AppendRows([]table.Row{
		{"path", s.Path},
		{"schema", s.Schema},
		{"records", humanize.Comma(int64(s.Records))},
		{"invalid", s.Invalid},
		{"first date", formatDate(s.FirstDate)},
		{"last date", formatDate(s.LastDate)},
	})

	if s.Error != "" {
		kv.AppendRow(table.Row{"error", p.paint(color.FgRed, s.Error)})
	}

	_, err := fmt.Fprintf(p.w, "%s\n%s\n", status, kv.Render())
	if err != nil {
		return err
	}

	for _, problem := range s.Problems {
		_, err = fmt.Fprintf(p.w, "  - %s\n", p.paint(color.FgYellow, problem))
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Printer) encode(v any) error {
	if p.format == FormatJSON {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}

	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(yamlIndent)

	encodeErr := enc.Encode(v)
	if encodeErr != nil {
		return fmt.Errorf("encode yaml: %w", encodeErr)
	}

	return enc.Close()
}

func (p *Printer) paint(attr color.Attribute, s string) string {
	c := color.New(attr)
	if p.color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}

	return c.Sprint(s)
}

func newTable() table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	return tbl
}

func formatDate(unix int64) string {
	if unix == 0 {
		return "-"
	}

	return time.Unix(unix, 0).UTC().Format(time.RFC3339)
}

func nonNegative(n int64) uint64 {
	if n < 0 {
		return 0
	}

	return uint64(n)
}
