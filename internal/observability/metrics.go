// Package observability provides OTel metric instruments for the transfer
// pipeline, exported through a Prometheus scrape endpoint.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricChunksUploaded = "clipscribe.chunks.uploaded.total"
	metricChunkRetries   = "clipscribe.chunks.retries.total"
	metricBytesUploaded  = "clipscribe.bytes.uploaded.total"
	metricPollsTotal     = "clipscribe.polls.total"
	metricStageDuration  = "clipscribe.stage.duration.seconds"
	metricSessionsActive = "clipscribe.sessions.active"

	attrOutcome = "outcome"
	attrStage   = "stage"
	attrStatus  = "status"
)

// durationBucketBoundaries covers 100ms through 30min: single chunks take
// seconds, whole-pipeline runs can take many minutes.
var durationBucketBoundaries = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200, 1800}

// TransferMetrics holds the pipeline's metric instruments. It satisfies the
// Metrics interfaces of the upload and track packages.
type TransferMetrics struct {
	chunksUploaded metric.Int64Counter
	chunkRetries   metric.Int64Counter
	bytesUploaded  metric.Int64Counter
	pollsTotal     metric.Int64Counter
	stageDuration  metric.Float64Histogram
	sessionsActive metric.Int64UpDownCounter
}

// NewTransferMetrics creates the transfer instruments from the given meter.
func NewTransferMetrics(mt metric.Meter) (*TransferMetrics, error) {
	b := newMetricBuilder(mt)

	tm := &TransferMetrics{
		chunksUploaded: b.counter(metricChunksUploaded, "Total chunks acknowledged by the server", "{chunk}"),
		chunkRetries:   b.counter(metricChunkRetries, "Total chunk upload retries", "{retry}"),
		bytesUploaded:  b.counter(metricBytesUploaded, "Total bytes acknowledged by the server", "By"),
		pollsTotal:     b.counter(metricPollsTotal, "Total job status polls by outcome", "{poll}"),
		stageDuration:  b.histogram(metricStageDuration, "Pipeline stage duration in seconds", "s", durationBucketBoundaries...),
		sessionsActive: b.upDownCounter(metricSessionsActive, "Upload sessions currently in flight", "{session}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return tm, nil
}

// ChunkUploaded records one acknowledged chunk of the given size.
func (tm *TransferMetrics) ChunkUploaded(ctx context.Context, bytes int64) {
	tm.chunksUploaded.Add(ctx, 1)
	tm.bytesUploaded.Add(ctx, bytes)
}

// ChunkRetried records one chunk upload retry.
func (tm *TransferMetrics) ChunkRetried(ctx context.Context) {
	tm.chunkRetries.Add(ctx, 1)
}

// PollCompleted records one status poll with its outcome.
func (tm *TransferMetrics) PollCompleted(ctx context.Context, outcome string) {
	tm.pollsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// SessionStarted marks an upload session as in flight.
func (tm *TransferMetrics) SessionStarted(ctx context.Context) {
	tm.sessionsActive.Add(ctx, 1)
}

// SessionEnded marks an upload session as no longer in flight.
func (tm *TransferMetrics) SessionEnded(ctx context.Context) {
	tm.sessionsActive.Add(ctx, -1)
}

// RecordStage records a completed pipeline stage with its status and duration.
func (tm *TransferMetrics) RecordStage(ctx context.Context, stage, status string, duration time.Duration) {
	tm.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String(attrStage, stage),
		attribute.String(attrStatus, status),
	))
}
