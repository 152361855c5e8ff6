// Package orchestrate wires the three pipeline stages together: fetch the
// media, upload it chunk by chunk, then await the transcription job. Each
// stage owns its retry policy; a failed stage fails the run, no stage is
// re-invoked from here.
package orchestrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/clipscribe/clipscribe/internal/sessionstore"
	"github.com/clipscribe/clipscribe/pkg/chunk"
	"github.com/clipscribe/clipscribe/pkg/fetch"
	"github.com/clipscribe/clipscribe/pkg/track"
	"github.com/clipscribe/clipscribe/pkg/transport"
	"github.com/clipscribe/clipscribe/pkg/upload"
)

// Pipeline stage names carried on errors and metrics.
const (
	StageFetch  = "fetch"
	StageUpload = "upload"
	StageTrack  = "track"
	StageResult = "result"
)

// StageError tags a failure with the pipeline stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Client is the full service surface the pipeline needs. *transport.Client
// satisfies it.
type Client interface {
	InitSession(ctx context.Context, meta transport.FileMeta, priorSessionID string) (transport.SessionHandle, error)
	UploadChunk(ctx context.Context, sessionID string, desc chunk.Descriptor, data io.Reader) error
	FinalizeSession(ctx context.Context, sessionID, checksum string) (string, error)
	PollStatus(ctx context.Context, jobID string) (transport.JobState, error)
	FetchResult(ctx context.Context, jobID string) ([]byte, error)
}

// Metrics receives pipeline-level instrumentation. internal/observability
// provides the real implementation; the default is a no-op.
type Metrics interface {
	SessionStarted(ctx context.Context)
	SessionEnded(ctx context.Context)
	RecordStage(ctx context.Context, stage, status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted(context.Context)                             {}
func (nopMetrics) SessionEnded(context.Context)                               {}
func (nopMetrics) RecordStage(context.Context, string, string, time.Duration) {}

// Options configures an Orchestrator.
type Options struct {
	// ChunkSize is the fixed chunk size for uploads.
	ChunkSize int64
	// Upload configures the upload session. Its Metrics and Logger fields
	// default from the orchestrator's when unset.
	Upload upload.Options
	// Poll configures job tracking.
	Poll track.Options
	// ResultsDir, when set, stores the transcript payload after a successful
	// job and records its path in the outcome.
	ResultsDir string
	// KeepFiles leaves the downloaded media on disk after a successful run.
	// Failed runs always keep it so a resumed upload can re-read chunks.
	KeepFiles bool
	// Metrics receives pipeline instrumentation.
	Metrics Metrics
	// Logger receives pipeline logging. Defaults to slog.Default.
	Logger *slog.Logger
}

// Outcome is the result of a completed pipeline run.
type Outcome struct {
	File      *fetch.FileHandle
	JobID     string
	Reference string
	// ResultPath is where the transcript was stored, empty when result
	// storage is disabled.
	ResultPath string
}

// Orchestrator runs the fetch, upload, and track stages for one media URL.
type Orchestrator struct {
	fetcher fetch.Fetcher
	client  Client
	opts    Options
}

// New creates an Orchestrator.
func New(fetcher fetch.Fetcher, client Client, opts Options) *Orchestrator {
	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Upload.Logger == nil {
		opts.Upload.Logger = opts.Logger
	}

	if opts.Poll.Logger == nil {
		opts.Poll.Logger = opts.Logger
	}

	return &Orchestrator{fetcher: fetcher, client: client, opts: opts}
}

// Run drives one URL through the whole pipeline. The returned error is always
// a *StageError identifying where the run stopped.
func (o *Orchestrator) Run(ctx context.Context, url string) (*Outcome, error) {
	file, err := o.fetchStage(ctx, url)
	if err != nil {
		return nil, err
	}

	jobID, err := o.uploadStage(ctx, file)
	if err != nil {
		return nil, err
	}

	result, err := o.trackStage(ctx, jobID)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{File: file, JobID: jobID, Reference: result.Reference}

	if o.opts.ResultsDir != "" {
		outcome.ResultPath, err = o.resultStage(ctx, jobID)
		if err != nil {
			return nil, err
		}
	}

	o.cleanup(file)

	return outcome, nil
}

func (o *Orchestrator) fetchStage(ctx context.Context, url string) (*fetch.FileHandle, error) {
	started := time.Now()

	file, err := o.fetcher.Fetch(ctx, url)

	o.recordStage(ctx, StageFetch, started, err)

	if err != nil {
		return nil, &StageError{Stage: StageFetch, Err: err}
	}

	o.opts.Logger.Info("media fetched",
		"path", file.Path, "size", file.Size, "content_type", file.ContentType)

	return file, nil
}

func (o *Orchestrator) uploadStage(ctx context.Context, file *fetch.FileHandle) (string, error) {
	session, err := upload.NewSession(file, o.opts.ChunkSize, o.client, o.opts.Upload)
	if err != nil {
		return "", &StageError{Stage: StageUpload, Err: err}
	}

	o.opts.Metrics.SessionStarted(ctx)
	defer o.opts.Metrics.SessionEnded(ctx)

	started := time.Now()

	jobID, err := session.Run(ctx)

	o.recordStage(ctx, StageUpload, started, err)

	if err != nil {
		return "", &StageError{Stage: StageUpload, Err: err}
	}

	return jobID, nil
}

func (o *Orchestrator) trackStage(ctx context.Context, jobID string) (*track.Result, error) {
	tracker := track.New(o.client, o.opts.Poll)

	started := time.Now()

	result, err := tracker.Await(ctx, jobID)

	o.recordStage(ctx, StageTrack, started, err)

	if err != nil {
		return nil, &StageError{Stage: StageTrack, Err: err}
	}

	return result, nil
}

func (o *Orchestrator) resultStage(ctx context.Context, jobID string) (string, error) {
	started := time.Now()

	payload, err := o.client.FetchResult(ctx, jobID)
	if err == nil {
		var path string

		path, err = sessionstore.SaveResult(o.opts.ResultsDir, jobID, payload)
		if err == nil {
			o.recordStage(ctx, StageResult, started, nil)
			o.opts.Logger.Info("transcript stored", "path", path)

			return path, nil
		}
	}

	o.recordStage(ctx, StageResult, started, err)

	return "", &StageError{Stage: StageResult, Err: err}
}

// cleanup removes the downloaded media after a successful run unless the
// caller asked to keep it.
func (o *Orchestrator) cleanup(file *fetch.FileHandle) {
	if o.opts.KeepFiles {
		return
	}

	err := os.Remove(file.Path)
	if err != nil {
		o.opts.Logger.Warn("failed to remove downloaded media", "path", file.Path, "error", err)

		return
	}

	o.opts.Logger.Debug("removed downloaded media", "path", file.Path)
}

func (o *Orchestrator) recordStage(ctx context.Context, stage string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	o.opts.Metrics.RecordStage(ctx, stage, status, time.Since(started))
}
