// Package upload drives a local file to a fully-acknowledged upload on the
// remote service: session init, a bounded worker pool uploading chunks with
// retry and backoff, resumability across restarts, and the finalize call
// that yields a transcription job id.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/clipscribe/clipscribe/internal/sessionstore"
	"github.com/clipscribe/clipscribe/pkg/chunk"
	"github.com/clipscribe/clipscribe/pkg/fetch"
	"github.com/clipscribe/clipscribe/pkg/transport"
)

// Status is the lifecycle state of an upload session.
type Status int

// Session lifecycle states.
const (
	// Building means the session id has not been obtained yet.
	Building Status = iota
	// InProgress means chunks are being uploaded.
	InProgress
	// Finalizing means all chunks are acked and the finalize call is running.
	Finalizing
	// Completed means the server accepted the finalize and assigned a job id.
	Completed
	// FailedState is terminal; the session carries the failure cause.
	FailedState
)

// String returns the lowercase state name.
func (s Status) String() string {
	switch s {
	case Building:
		return "building"
	case InProgress:
		return "in-progress"
	case Finalizing:
		return "finalizing"
	case Completed:
		return "completed"
	case FailedState:
		return "failed"
	default:
		return "unknown"
	}
}

// Default retry pacing.
const (
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 30 * time.Second
	defaultConcurrency    = 4
)

// Transport is the subset of the service client the session needs.
type Transport interface {
	InitSession(ctx context.Context, meta transport.FileMeta, priorSessionID string) (transport.SessionHandle, error)
	UploadChunk(ctx context.Context, sessionID string, desc chunk.Descriptor, data io.Reader) error
	FinalizeSession(ctx context.Context, sessionID, checksum string) (string, error)
}

// Store persists session state between runs. *sessionstore.Store satisfies it.
type Store interface {
	Load(key string) (*sessionstore.Record, error)
	Save(key string, record *sessionstore.Record) error
	Delete(key string) error
}

// Metrics receives transfer counters. internal/observability provides the
// real implementation; the default is a no-op.
type Metrics interface {
	ChunkUploaded(ctx context.Context, bytes int64)
	ChunkRetried(ctx context.Context)
}

type nopMetrics struct{}

func (nopMetrics) ChunkUploaded(context.Context, int64) {}
func (nopMetrics) ChunkRetried(context.Context)         {}

// ProgressFunc is called after every acked chunk with the acked count, the
// total chunk count, and the acked byte total.
type ProgressFunc func(acked, total int, ackedBytes int64)

// Options configures a Session.
type Options struct {
	// MaxRetries is the number of retries allowed per chunk after its first
	// failed attempt. A chunk failing MaxRetries+1 times fails the session.
	MaxRetries int
	// Concurrency bounds the worker pool.
	Concurrency int
	// RetryBaseDelay seeds the exponential backoff.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff.
	RetryMaxDelay time.Duration
	// Store, when set, persists state for resume across restarts.
	Store Store
	// Metrics receives transfer counters.
	Metrics Metrics
	// OnProgress, when set, is called after every acked chunk.
	OnProgress ProgressFunc
	// Logger receives session logging. Defaults to slog.Default.
	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = defaultConcurrency
	}

	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = defaultRetryBaseDelay
	}

	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = defaultRetryMaxDelay
	}

	if o.Metrics == nil {
		o.Metrics = nopMetrics{}
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Session owns the transfer of one file. It is not reusable: a Failed
// session stays Failed and a new one must be started.
type Session struct {
	file      *fetch.FileHandle
	plan      *chunk.Plan
	table     *chunk.Table
	transport Transport
	opts      Options

	mu        sync.Mutex
	status    Status
	sessionID string

	// priorSessionID is a persisted session id from an earlier run, offered
	// to the server for resumption.
	priorSessionID string
	storeKey       string
}

// NewSession builds the chunk plan for the file and, when a store is
// configured, restores persisted state from an earlier run. A persisted
// record is only honored when checksum, file size, and chunk size all still
// match; anything stale is discarded.
func NewSession(file *fetch.FileHandle, chunkSize int64, tr Transport, opts Options) (*Session, error) {
	opts.applyDefaults()

	plan, err := chunk.NewPlan(file.Size, chunkSize)
	if err != nil {
		return nil, err
	}

	s := &Session{
		file:      file,
		plan:      plan,
		table:     chunk.NewTable(plan),
		transport: tr,
		opts:      opts,
		status:    Building,
	}

	if opts.Store != nil {
		s.storeKey = sessionstore.Key(file.Checksum)
		s.restore()
	}

	return s, nil
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// AckedChunks returns how many chunks the server has confirmed.
func (s *Session) AckedChunks() int {
	return s.table.AckedCount()
}

// Run drives the session to Completed and returns the server-assigned job
// id, or moves it to Failed and returns a *SessionFailure. Cancelling ctx
// stops dispatching promptly and fails the session with ErrCancelled.
func (s *Session) Run(ctx context.Context) (string, error) {
	err := s.init(ctx)
	if err != nil {
		return "", s.fail(err)
	}

	err = s.uploadChunks(ctx)
	if err != nil {
		return "", s.fail(err)
	}

	// All chunks acked and the pool has drained; no retry can arrive after
	// this transition.
	s.setStatus(Finalizing)
	s.persist()

	jobID, err := s.finalize(ctx)
	if err != nil {
		return "", s.fail(err)
	}

	s.setStatus(Completed)

	if s.opts.Store != nil {
		_ = s.opts.Store.Delete(s.storeKey)
	}

	s.opts.Logger.Info("upload completed", "session_id", s.sessionID, "job_id", jobID)

	return jobID, nil
}

// init obtains a session id, offering the prior one when present. If the
// server declines to resume, every chunk is reset to Pending since the
// fresh session holds nothing.
func (s *Session) init(ctx context.Context) error {
	meta := transport.FileMeta{
		Name:        s.file.Title,
		Size:        s.file.Size,
		Checksum:    s.file.Checksum,
		ContentType: s.file.ContentType,
	}

	if meta.Name == "" {
		meta.Name = s.file.Path
	}

	var handle transport.SessionHandle

	err := s.withRetry(ctx, "init_session", func() error {
		var callErr error

		handle, callErr = s.transport.InitSession(ctx, meta, s.priorSessionID)

		return callErr
	})
	if err != nil {
		return err
	}

	if s.priorSessionID != "" && !handle.Resumed {
		s.opts.Logger.Info("server declined resume, starting fresh", "prior_session_id", s.priorSessionID)
		_ = s.table.Restore(make([]chunk.State, s.plan.Count()))
	}

	s.mu.Lock()
	s.sessionID = handle.ID
	s.status = InProgress
	s.mu.Unlock()

	s.persist()

	return nil
}

// uploadChunks runs the worker pool until every chunk is acked or a chunk
// fails terminally. Out-of-order acks are fine; the pool drains before the
// caller may finalize.
func (s *Session) uploadChunks(ctx context.Context) error {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	indices := make(chan int)

	var wg sync.WaitGroup

	for range s.opts.Concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for index := range indices {
				err := s.uploadOne(workCtx, index)
				if err != nil {
					// Terminal chunk failure: stop handing out work.
					cancel()

					return
				}
			}
		}()
	}

	// Lowest pending index first keeps retry scheduling deterministic.
dispatch:
	for _, index := range s.table.PendingIndices() {
		acquired, err := s.table.Acquire(index)
		if err != nil || !acquired {
			continue
		}

		select {
		case indices <- index:
		case <-workCtx.Done():
			// Release the index we acquired but never dispatched.
			_ = s.table.NoteRetry(index, workCtx.Err())

			break dispatch
		}
	}

	close(indices)
	wg.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}

	if index, state, failed := s.table.FirstFailed(); failed {
		return &ChunkFailure{Index: index, Attempts: state.Attempts, Err: errors.New(state.LastErr)}
	}

	if !s.table.AllAcked() {
		// Dispatch aborted without a recorded failure; treat as cancelled.
		return fmt.Errorf("%w: upload pool stopped early", ErrCancelled)
	}

	return nil
}

// uploadOne drives a single acquired chunk to Acked or Failed, retrying
// transient and rate-limited errors with exponential backoff. The worker
// keeps ownership of the index through all its retries.
func (s *Session) uploadOne(ctx context.Context, index int) error {
	desc, err := s.plan.Descriptor(index)
	if err != nil {
		return err
	}

	file, err := os.Open(s.file.Path)
	if err != nil {
		_ = s.table.MarkFailed(index, err)

		return fmt.Errorf("open source file: %w", err)
	}
	defer file.Close()

	for {
		if ctx.Err() != nil {
			_ = s.table.NoteRetry(index, ctx.Err())

			return nil
		}

		reader := io.NewSectionReader(file, desc.Offset, desc.Length)

		callErr := s.transport.UploadChunk(ctx, s.sessionID, desc, reader)
		if callErr == nil {
			_ = s.table.MarkAcked(index)
			s.opts.Metrics.ChunkUploaded(ctx, desc.Length)
			s.reportProgress()
			s.persist()

			return nil
		}

		attempts, attemptsErr := s.table.Attempts(index)
		if attemptsErr != nil {
			return attemptsErr
		}

		terr, classified := transport.AsError(callErr)
		if classified && !terr.Retryable() {
			// A single permanently rejected chunk invalidates the upload.
			_ = s.table.MarkFailed(index, callErr)

			return callErr
		}

		if attempts > s.opts.MaxRetries {
			_ = s.table.MarkFailed(index, callErr)

			return callErr
		}

		s.opts.Logger.Warn("chunk upload failed, retrying",
			"index", index, "attempt", attempts, "error", callErr)
		s.opts.Metrics.ChunkRetried(ctx)

		delay := s.backoffDelay(attempts, terr)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			_ = s.table.NoteRetry(index, ctx.Err())

			return nil
		}

		_ = s.table.NoteRetry(index, callErr)
	}
}

// backoffDelay computes the sleep before retry number attempt+1: exponential
// from the base delay, capped, with the server-suggested delay winning for
// rate-limited failures.
func (s *Session) backoffDelay(attempt int, terr *transport.Error) time.Duration {
	if terr != nil && terr.Kind == transport.RateLimited && terr.RetryAfter > 0 {
		return terr.RetryAfter
	}

	delay := s.opts.RetryBaseDelay << (attempt - 1)
	if delay > s.opts.RetryMaxDelay || delay <= 0 {
		delay = s.opts.RetryMaxDelay
	}

	return delay
}

// finalize sends the whole-file checksum. The checksum is recomputed first:
// a file that changed mid-transfer is a permanent failure and the chunks are
// never re-sent.
func (s *Session) finalize(ctx context.Context) (string, error) {
	current, err := fetch.Checksum(s.file.Path)
	if err != nil {
		return "", &FinalizeFailure{Err: err}
	}

	if current != s.file.Checksum {
		return "", &FinalizeFailure{
			ChecksumMismatch: true,
			Err:              fmt.Errorf("checksum drifted from %s to %s", s.file.Checksum, current),
		}
	}

	var jobID string

	err = s.withRetry(ctx, "finalize", func() error {
		var callErr error

		jobID, callErr = s.transport.FinalizeSession(ctx, s.sessionID, s.file.Checksum)

		return callErr
	})
	if err != nil {
		return "", &FinalizeFailure{Err: err}
	}

	return jobID, nil
}

// withRetry applies the chunk retry policy to a single non-chunk call:
// transient and rate-limited failures retry up to MaxRetries times with the
// same backoff, permanent failures surface immediately.
func (s *Session) withRetry(ctx context.Context, op string, call func() error) error {
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
		}

		err := call()
		if err == nil {
			return nil
		}

		terr, classified := transport.AsError(err)
		if classified && !terr.Retryable() {
			return err
		}

		if attempt > s.opts.MaxRetries {
			return err
		}

		s.opts.Logger.Warn("call failed, retrying", "op", op, "attempt", attempt, "error", err)

		select {
		case <-time.After(s.backoffDelay(attempt, terr)):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
		}
	}
}

// restore loads persisted state from the store. Stale records (different
// checksum, size, or chunk size) are deleted rather than honored.
func (s *Session) restore() {
	record, err := s.opts.Store.Load(s.storeKey)
	if err != nil {
		if !errors.Is(err, sessionstore.ErrNotFound) {
			s.opts.Logger.Warn("discarding unreadable session record", "error", err)
			_ = s.opts.Store.Delete(s.storeKey)
		}

		return
	}

	if record.Checksum != s.file.Checksum ||
		record.FileSize != s.plan.FileSize ||
		record.ChunkSize != s.plan.ChunkSize {
		s.opts.Logger.Info("persisted session is stale, starting fresh")
		_ = s.opts.Store.Delete(s.storeKey)

		return
	}

	err = s.table.Restore(record.Chunks)
	if err != nil {
		_ = s.opts.Store.Delete(s.storeKey)

		return
	}

	s.priorSessionID = record.SessionID

	s.opts.Logger.Info("restored session state",
		"session_id", record.SessionID,
		"acked", s.table.AckedCount(),
		"total", s.plan.Count())
}

// persist saves the current state when a store is configured. Persistence
// failures are logged, never fatal: the transfer can still finish without
// resume support.
func (s *Session) persist() {
	if s.opts.Store == nil {
		return
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	record := &sessionstore.Record{
		SessionID: sessionID,
		Checksum:  s.file.Checksum,
		FileSize:  s.plan.FileSize,
		ChunkSize: s.plan.ChunkSize,
		Chunks:    s.table.Snapshot(),
	}

	err := s.opts.Store.Save(s.storeKey, record)
	if err != nil {
		s.opts.Logger.Warn("failed to persist session state", "error", err)
	}
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// fail moves the session to its terminal Failed state, persisting the final
// chunk map so acked chunks can be skipped on a future resume.
func (s *Session) fail(cause error) error {
	s.setStatus(FailedState)
	s.persist()

	s.opts.Logger.Error("upload session failed", "session_id", s.sessionID, "error", cause)

	return &SessionFailure{Err: cause}
}

func (s *Session) reportProgress() {
	if s.opts.OnProgress == nil {
		return
	}

	acked := s.table.AckedCount()

	var ackedBytes int64

	states := s.table.Snapshot()
	for i, state := range states {
		if state.Status == chunk.Acked {
			ackedBytes += s.plan.Chunks[i].Length
		}
	}

	s.opts.OnProgress(acked, s.plan.Count(), ackedBytes)
}
