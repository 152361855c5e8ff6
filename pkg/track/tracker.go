// Package track polls a submitted transcription job until it reaches a
// terminal state, with backoff on transport trouble and a hard wait ceiling.
package track

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clipscribe/clipscribe/pkg/transport"
)

// Sentinel errors for job tracking.
var (
	// ErrPollTimeout means no terminal status was observed within the wait
	// ceiling. The job may still complete server-side; this is a client-side
	// give-up, not a cancellation request.
	ErrPollTimeout = errors.New("track: timed out waiting for job")
	// ErrCancelledByCaller means the caller aborted the wait. Distinct from
	// the server reporting the job as cancelled.
	ErrCancelledByCaller = errors.New("track: cancelled by caller")
)

// RemoteJobFailure reports a job the server moved to failed or cancelled.
// Cancelled is carried as-is, never folded into failed.
type RemoteJobFailure struct {
	JobID  string
	Status transport.JobStatus
	Detail string
}

// Error implements the error interface.
func (e *RemoteJobFailure) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("track: job %s %s: %s", e.JobID, e.Status, e.Detail)
	}

	return fmt.Sprintf("track: job %s %s", e.JobID, e.Status)
}

// Result is the successful outcome of a tracked job.
type Result struct {
	JobID string
	// Reference points at the transcript on the server.
	Reference string
}

// Poller is the subset of the service client the tracker needs.
type Poller interface {
	PollStatus(ctx context.Context, jobID string) (transport.JobState, error)
}

// Metrics receives poll counters. The default is a no-op.
type Metrics interface {
	PollCompleted(ctx context.Context, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) PollCompleted(context.Context, string) {}

// Options configures a Tracker.
type Options struct {
	// Interval is the base delay between polls.
	Interval time.Duration
	// MaxWait is the ceiling on total wait time.
	MaxWait time.Duration
	// MaxBackoff caps the growing delay used while consecutive polls fail
	// with transient transport errors.
	MaxBackoff time.Duration
	// Metrics receives poll counters.
	Metrics Metrics
	// Logger receives tracking logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// Default poll pacing.
const (
	defaultInterval   = 5 * time.Second
	defaultMaxWait    = 10 * time.Minute
	defaultMaxBackoff = time.Minute
)

// Tracker awaits terminal job states.
type Tracker struct {
	poller Poller
	opts   Options
}

// New creates a Tracker.
func New(poller Poller, opts Options) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}

	if opts.MaxWait <= 0 {
		opts.MaxWait = defaultMaxWait
	}

	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}

	if opts.Metrics == nil {
		opts.Metrics = nopMetrics{}
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Tracker{poller: poller, opts: opts}
}

// Await polls the job until it reaches a terminal state, the wait ceiling
// passes, or ctx is cancelled. The poll delay grows while consecutive polls
// fail with retryable transport errors and resets on any successful poll.
// Permanent transport errors surface immediately.
func (t *Tracker) Await(ctx context.Context, jobID string) (*Result, error) {
	deadline := time.Now().Add(t.opts.MaxWait)
	delay := t.opts.Interval

	for {
		state, err := t.poller.PollStatus(ctx, jobID)

		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrCancelledByCaller, context.Cause(ctx))
			}

			terr, classified := transport.AsError(err)
			if classified && !terr.Retryable() {
				t.opts.Metrics.PollCompleted(ctx, "permanent_error")

				return nil, err
			}

			t.opts.Metrics.PollCompleted(ctx, "transient_error")
			t.opts.Logger.Warn("status poll failed", "job_id", jobID, "error", err, "next_delay", delay)

			// Non-decreasing backoff while the trouble lasts.
			delay = min(delay*2, t.opts.MaxBackoff)
		case state.Status.Terminal():
			t.opts.Metrics.PollCompleted(ctx, string(state.Status))

			return t.resolveTerminal(jobID, state)
		default:
			t.opts.Metrics.PollCompleted(ctx, string(state.Status))
			t.opts.Logger.Debug("job in progress",
				"job_id", jobID, "status", state.Status, "progress", state.Progress)

			delay = t.opts.Interval
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrCancelledByCaller, context.Cause(ctx))
		}

		// Give up only once the full wait budget has elapsed, never a poll
		// interval early.
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: job %s after %s", ErrPollTimeout, jobID, t.opts.MaxWait)
		}
	}
}

func (t *Tracker) resolveTerminal(jobID string, state transport.JobState) (*Result, error) {
	switch state.Status {
	case transport.JobSucceeded:
		return &Result{JobID: jobID, Reference: state.Result}, nil
	default:
		// Failed or cancelled; the status rides along for the caller.
		return nil, &RemoteJobFailure{JobID: jobID, Status: state.Status, Detail: state.Error}
	}
}
