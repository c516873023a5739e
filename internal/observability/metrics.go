package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricCommitsMined     = "defectminer.commits.mined"
	metricCommitsSkipped   = "defectminer.commits.skipped"
	metricFilesSkipped     = "defectminer.files.skipped"
	metricShardsFailed     = "defectminer.shards.failed"
	metricShardDuration    = "defectminer.shard.duration.seconds"
	metricRecordsEmitted   = "defectminer.features.records"
	metricSnapshotsWritten = "defectminer.features.snapshots"

	attrReason     = "reason"
	attrAggregator = "aggregator"
	attrFailed     = "failed"
)

// durationBucketBoundaries covers 10ms to 2h for shards that range from a
// handful of commits to large histories.
var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 7200}

// MiningMetrics holds the OTel instruments of mining and feature runs. It
// implements miner.Recorder and features.Recorder.
type MiningMetrics struct {
	commitsMined     metric.Int64Counter
	commitsSkipped   metric.Int64Counter
	filesSkipped     metric.Int64Counter
	shardsFailed     metric.Int64Counter
	shardDuration    metric.Float64Histogram
	recordsEmitted   metric.Int64Counter
	snapshotsWritten metric.Int64Counter
}

// NewMiningMetrics creates the instruments from the given meter.
func NewMiningMetrics(mt metric.Meter) (*MiningMetrics, error) {
	b := newMetricBuilder(mt)

	mm := &MiningMetrics{
		commitsMined:     b.counter(metricCommitsMined, "Commits turned into records", "{commit}"),
		commitsSkipped:   b.counter(metricCommitsSkipped, "Commits without relevant files", "{commit}"),
		filesSkipped:     b.counter(metricFilesSkipped, "Files left out of commit records", "{file}"),
		shardsFailed:     b.counter(metricShardsFailed, "Shards that stopped early", "{shard}"),
		shardDuration:    b.histogram(metricShardDuration, "Shard wall time in seconds", "s", durationBucketBoundaries...),
		recordsEmitted:   b.counter(metricRecordsEmitted, "Feature records written", "{record}"),
		snapshotsWritten: b.counter(metricSnapshotsWritten, "Aggregator checkpoints written", "{snapshot}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return mm, nil
}

// CommitMined counts a mined commit.
func (mm *MiningMetrics) CommitMined(ctx context.Context) {
	mm.commitsMined.Add(ctx, 1)
}

// CommitSkipped counts a commit that produced no record.
func (mm *MiningMetrics) CommitSkipped(ctx context.Context) {
	mm.commitsSkipped.Add(ctx, 1)
}

// FileSkipped counts a file left out of a record, by reason.
func (mm *MiningMetrics) FileSkipped(ctx context.Context, reason string) {
	mm.filesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// ShardFinished records the shard duration and counts failures.
func (mm *MiningMetrics) ShardFinished(ctx context.Context, _ int, seconds float64, failed bool) {
	mm.shardDuration.Record(ctx, seconds, metric.WithAttributes(attribute.Bool(attrFailed, failed)))

	if failed {
		mm.shardsFailed.Add(ctx, 1)
	}
}

// RecordsEmitted counts feature records written by an aggregator run.
func (mm *MiningMetrics) RecordsEmitted(ctx context.Context, aggregator string, n int) {
	mm.recordsEmitted.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrAggregator, aggregator)))
}

// SnapshotSaved counts an aggregator checkpoint.
func (mm *MiningMetrics) SnapshotSaved(ctx context.Context, aggregator string) {
	mm.snapshotsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String(attrAggregator, aggregator)))
}
