package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies a transport failure for retry scheduling.
type Kind int

// Failure classifications.
const (
	// Transient covers connection resets, timeouts, and 5xx responses.
	// Eligible for retry.
	Transient Kind = iota
	// Permanent covers 4xx responses (other than 429) and malformed
	// responses. Never retried; surfaces immediately.
	Permanent
	// RateLimited covers 429 responses. Retried after the server-suggested
	// delay, or the caller's default backoff when no delay was suggested.
	RateLimited
)

// String returns the lowercase classification name.
func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case RateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}

// Error is a classified transport failure. Every transport call returns
// either a success value or an *Error; nothing is silently swallowed.
type Error struct {
	// Op is the failing operation (e.g. "upload_chunk", "poll_status").
	Op string
	// Kind drives the caller's retry decision.
	Kind Kind
	// StatusCode is the HTTP status, when a response was received.
	StatusCode int
	// RetryAfter is the server-suggested delay for RateLimited failures.
	// Zero when the server suggested nothing usable.
	RetryAfter time.Duration
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport.%s (%s, http %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("transport.%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation.
func (e *Error) Retryable() bool {
	return e.Kind == Transient || e.Kind == RateLimited
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var terr *Error

	ok := errors.As(err, &terr)

	return terr, ok
}

// classifyRequestError classifies a failure that occurred before any
// response arrived: dial errors, resets, and timeouts are Transient.
// Context cancellation stays visible through the error chain so callers can
// distinguish a caller-initiated abort from network trouble.
func classifyRequestError(op string, err error) *Error {
	kind := Transient

	if errors.Is(err, context.Canceled) {
		kind = Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		kind = Transient
	}

	return &Error{Op: op, Kind: kind, Err: err}
}

// classifyStatus classifies a non-2xx HTTP response.
func classifyStatus(op string, resp *http.Response, body []byte) *Error {
	code := resp.StatusCode

	switch {
	case code == http.StatusTooManyRequests:
		return &Error{
			Op:         op,
			Kind:       RateLimited,
			StatusCode: code,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("server rate limited: %s", truncateBody(body)),
		}
	case code >= http.StatusInternalServerError:
		return &Error{
			Op:         op,
			Kind:       Transient,
			StatusCode: code,
			Err:        fmt.Errorf("server error: %s", truncateBody(body)),
		}
	default:
		return &Error{
			Op:         op,
			Kind:       Permanent,
			StatusCode: code,
			Err:        fmt.Errorf("request rejected: %s", truncateBody(body)),
		}
	}
}

// malformedResponse classifies an unparseable or schema-invalid response
// body. Malformed responses are Permanent per the retry policy.
func malformedResponse(op string, err error) *Error {
	return &Error{Op: op, Kind: Permanent, Err: fmt.Errorf("malformed response: %w", err)}
}

// parseRetryAfter handles the delay-seconds form of the Retry-After header.
// The HTTP-date form is rare on rate limiters and is ignored.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// maxErrorBodyBytes limits how much of a failure body lands in error text.
const maxErrorBodyBytes = 256

func truncateBody(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		return string(body[:maxErrorBodyBytes]) + "..."
	}

	return string(body)
}
