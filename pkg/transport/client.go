// Package transport implements the HTTP client for the remote transcription
// service: session init, chunk upload, finalize, and job status polling.
// Every call is bounded by the configured per-call timeout and returns
// either a success value or a classified *Error.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipscribe/clipscribe/pkg/chunk"
)

// defaultCallTimeout bounds a single HTTP call when the caller does not
// override it.
const defaultCallTimeout = 90 * time.Second

// JobStatus is a server-reported job state.
type JobStatus string

// Job states reported by the remote service.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further status transition can occur.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// JobState is one observation of a transcription job.
type JobState struct {
	Status   JobStatus `json:"status"`
	Progress float64   `json:"progress,omitempty"`
	// Result is the transcript reference, present once the job succeeded.
	Result string `json:"result,omitempty"`
	// Error is the server-side failure detail, present once the job failed.
	Error string `json:"error,omitempty"`
}

// FileMeta describes the file being registered with a new session.
type FileMeta struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type,omitempty"`
}

// SessionHandle is the server's answer to a session init call.
type SessionHandle struct {
	ID string `json:"session_id"`
	// Resumed is true when the server accepted a prior session id and
	// retained its acked chunks.
	Resumed bool `json:"resumed"`
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAPIKey sets the bearer token attached to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client. Mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client talks to the remote transcription service.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
	schemas    *schemaSet
}

// New creates a transport client for the given base URL.
func New(baseURL string, opts ...Option) (*Client, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "clipscribe",
		httpClient: &http.Client{Timeout: defaultCallTimeout},
		logger:     slog.Default(),
		schemas:    schemas,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// InitSession registers a new upload session for the file. When
// priorSessionID is non-empty the server is asked to resume it; the returned
// handle reports whether resumption was accepted. A rejected resume is not
// an error: the server falls back to a fresh session.
func (c *Client) InitSession(ctx context.Context, meta FileMeta, priorSessionID string) (SessionHandle, error) {
	const op = "init_session"

	payload := struct {
		FileMeta
		PriorSessionID string `json:"prior_session_id,omitempty"`
	}{FileMeta: meta, PriorSessionID: priorSessionID}

	body, err := json.Marshal(payload)
	if err != nil {
		return SessionHandle{}, malformedResponse(op, fmt.Errorf("encode request: %w", err))
	}

	raw, terr := c.call(ctx, op, http.MethodPost, "/sessions", bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
	})
	if terr != nil {
		return SessionHandle{}, terr
	}

	if err := validate(c.schemas.session, raw); err != nil {
		return SessionHandle{}, malformedResponse(op, err)
	}

	var handle SessionHandle
	if err := json.Unmarshal(raw, &handle); err != nil {
		return SessionHandle{}, malformedResponse(op, err)
	}

	c.logger.Debug("session initialized", "session_id", handle.ID, "resumed", handle.Resumed)

	return handle, nil
}

// UploadChunk sends one chunk body to the server and returns once the
// server acknowledged it.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, desc chunk.Descriptor, data io.Reader) error {
	const op = "upload_chunk"

	path := fmt.Sprintf("/sessions/%s/chunks/%d", url.PathEscape(sessionID), desc.Index)

	raw, terr := c.call(ctx, op, http.MethodPut, path, data, map[string]string{
		"Content-Type":   "application/octet-stream",
		"X-Chunk-Offset": strconv.FormatInt(desc.Offset, 10),
		"X-Chunk-Length": strconv.FormatInt(desc.Length, 10),
	})
	if terr != nil {
		return terr
	}

	if err := validate(c.schemas.ack, raw); err != nil {
		return malformedResponse(op, err)
	}

	var ack struct {
		Ack bool `json:"ack"`
	}

	if err := json.Unmarshal(raw, &ack); err != nil {
		return malformedResponse(op, err)
	}

	if !ack.Ack {
		return malformedResponse(op, fmt.Errorf("server did not acknowledge chunk %d", desc.Index))
	}

	return nil
}

// FinalizeSession closes the session with the whole-file checksum and
// returns the server-assigned job id.
func (c *Client) FinalizeSession(ctx context.Context, sessionID, checksum string) (string, error) {
	const op = "finalize_session"

	body, err := json.Marshal(map[string]string{"checksum": checksum})
	if err != nil {
		return "", malformedResponse(op, fmt.Errorf("encode request: %w", err))
	}

	path := fmt.Sprintf("/sessions/%s/finalize", url.PathEscape(sessionID))

	raw, terr := c.call(ctx, op, http.MethodPost, path, bytes.NewReader(body), map[string]string{
		"Content-Type": "application/json",
	})
	if terr != nil {
		return "", terr
	}

	if err := validate(c.schemas.finalize, raw); err != nil {
		return "", malformedResponse(op, err)
	}

	var resp struct {
		JobID string `json:"job_id"`
	}

	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", malformedResponse(op, err)
	}

	return resp.JobID, nil
}

// PollStatus fetches the current state of a job.
func (c *Client) PollStatus(ctx context.Context, jobID string) (JobState, error) {
	const op = "poll_status"

	raw, terr := c.call(ctx, op, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, nil)
	if terr != nil {
		return JobState{}, terr
	}

	if err := validate(c.schemas.job, raw); err != nil {
		return JobState{}, malformedResponse(op, err)
	}

	var state JobState
	if err := json.Unmarshal(raw, &state); err != nil {
		return JobState{}, malformedResponse(op, err)
	}

	return state, nil
}

// FetchResult downloads the transcript payload of a succeeded job.
func (c *Client) FetchResult(ctx context.Context, jobID string) ([]byte, error) {
	const op = "fetch_result"

	raw, terr := c.call(ctx, op, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/result", nil, nil)
	if terr != nil {
		return nil, terr
	}

	return raw, nil
}

// Ping probes the server. A 404 on the health path still proves the server
// is reachable, so both /health and / are tried and 200/404 are accepted.
func (c *Client) Ping(ctx context.Context) error {
	const op = "ping"

	var lastErr error

	for _, path := range []string{"/health", "/"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return &Error{Op: op, Kind: Permanent, Err: err}
		}

		c.setCommonHeaders(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = classifyRequestError(op, err)

			continue
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
			return nil
		}

		lastErr = classifyStatus(op, resp, nil)
	}

	return lastErr
}

// call performs one request/response cycle and returns the raw body of a
// 2xx response, or a classified error.
func (c *Client) call(ctx context.Context, op, method, path string, body io.Reader, headers map[string]string) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &Error{Op: op, Kind: Permanent, Err: err}
	}

	c.setCommonHeaders(req)

	for name, value := range headers {
		req.Header.Set(name, value)
	}

	started := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyRequestError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyRequestError(op, err)
	}

	c.logger.Debug("call completed",
		"op", op,
		"status", resp.StatusCode,
		"elapsed", time.Since(started).Round(time.Millisecond))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, classifyStatus(op, resp, raw)
	}

	return raw, nil
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
