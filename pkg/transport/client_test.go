package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipscribe/clipscribe/pkg/chunk"
)

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(server.URL, opts...)
	require.NoError(t, err)

	return client
}

func TestClient_InitSession(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "clipscribe")
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"checksum":"abc123"`)

		_, _ = w.Write([]byte(`{"session_id": "sess-1", "resumed": false}`))
	}))

	handle, err := client.InitSession(context.Background(), FileMeta{
		Name: "talk.mp3", Size: 1024, Checksum: "abc123", ContentType: "audio/mpeg",
	}, "")

	require.NoError(t, err)
	assert.Equal(t, "sess-1", handle.ID)
	assert.False(t, handle.Resumed)
}

func TestClient_InitSession_ResumeAccepted(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"prior_session_id":"sess-old"`)

		_, _ = w.Write([]byte(`{"session_id": "sess-old", "resumed": true}`))
	}))

	handle, err := client.InitSession(context.Background(), FileMeta{Name: "a", Size: 1, Checksum: "c"}, "sess-old")

	require.NoError(t, err)
	assert.True(t, handle.Resumed)
}

func TestClient_InitSession_BearerAuth(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"session_id": "s"}`))
	}), WithAPIKey("secret-key"))

	_, err := client.InitSession(context.Background(), FileMeta{Name: "a", Size: 1, Checksum: "c"}, "")

	require.NoError(t, err)
}

func TestClient_UploadChunk_HeadersAndBody(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/sessions/sess-1/chunks/2", r.URL.Path)
		assert.Equal(t, "16", r.Header.Get("X-Chunk-Offset"))
		assert.Equal(t, "8", r.Header.Get("X-Chunk-Length"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "chunkdata", string(body))

		_, _ = w.Write([]byte(`{"ack": true}`))
	}))

	err := client.UploadChunk(context.Background(), "sess-1",
		chunk.Descriptor{Index: 2, Offset: 16, Length: 8}, strings.NewReader("chunkdata"))

	require.NoError(t, err)
}

func TestClient_UploadChunk_NackIsPermanent(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ack": false}`))
	}))

	err := client.UploadChunk(context.Background(), "s", chunk.Descriptor{}, strings.NewReader("x"))

	terr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, Permanent, terr.Kind)
}

func TestClient_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		header     http.Header
		wantKind   Kind
		wantRetry  bool
		retryAfter time.Duration
	}{
		{name: "500 transient", status: http.StatusInternalServerError, wantKind: Transient, wantRetry: true},
		{name: "503 transient", status: http.StatusServiceUnavailable, wantKind: Transient, wantRetry: true},
		{name: "400 permanent", status: http.StatusBadRequest, wantKind: Permanent},
		{name: "404 permanent", status: http.StatusNotFound, wantKind: Permanent},
		{name: "413 permanent", status: http.StatusRequestEntityTooLarge, wantKind: Permanent},
		{
			name:       "429 rate limited with retry-after",
			status:     http.StatusTooManyRequests,
			header:     http.Header{"Retry-After": []string{"7"}},
			wantKind:   RateLimited,
			wantRetry:  true,
			retryAfter: 7 * time.Second,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				for name, values := range tc.header {
					w.Header()[name] = values
				}

				w.WriteHeader(tc.status)
			}))

			_, err := client.PollStatus(context.Background(), "job-1")

			terr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantKind, terr.Kind)
			assert.Equal(t, tc.wantRetry, terr.Retryable())
			assert.Equal(t, tc.status, terr.StatusCode)
			assert.Equal(t, tc.retryAfter, terr.RetryAfter)
		})
	}
}

func TestClient_MalformedResponseIsPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>oops</html>"},
		{name: "missing status", body: `{"progress": 50}`},
		{name: "unknown status value", body: `{"status": "exploded"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))

			_, err := client.PollStatus(context.Background(), "job-1")

			terr, ok := AsError(err)
			require.True(t, ok)
			assert.Equal(t, Permanent, terr.Kind)
			assert.False(t, terr.Retryable())
		})
	}
}

func TestClient_FinalizeSession(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/sess-1/finalize", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"checksum": "deadbeef"}`, string(body))

		_, _ = w.Write([]byte(`{"job_id": "job-42"}`))
	}))

	jobID, err := client.FinalizeSession(context.Background(), "sess-1", "deadbeef")

	require.NoError(t, err)
	assert.Equal(t, "job-42", jobID)
}

func TestClient_PollStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job-42", r.URL.Path)

		_, _ = w.Write([]byte(`{"status": "running", "progress": 41.5}`))
	}))

	state, err := client.PollStatus(context.Background(), "job-42")

	require.NoError(t, err)
	assert.Equal(t, JobRunning, state.Status)
	assert.InDelta(t, 41.5, state.Progress, 0.001)
	assert.False(t, state.Status.Terminal())
}

func TestClient_FetchResult(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/job-42/result", r.URL.Path)

		_, _ = w.Write([]byte(`{"transcript": "hello world"}`))
	}))

	raw, err := client.FetchResult(context.Background(), "job-42")

	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello world")
}

func TestClient_ServerSuppliedIDsStayOnePathSegment(t *testing.T) {
	t.Parallel()

	// Session and job ids come from the server; one containing separators
	// must not be allowed to redirect the request to a different path.
	const id = "evil/../sneaky"

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.EscapedPath(), "evil%2F..%2Fsneaky")
		assert.NotContains(t, r.URL.EscapedPath(), "evil/")

		switch {
		case r.Method == http.MethodPut:
			_, _ = w.Write([]byte(`{"ack": true}`))
		case strings.HasSuffix(r.URL.Path, "/finalize"):
			_, _ = w.Write([]byte(`{"job_id": "job-1"}`))
		case strings.HasSuffix(r.URL.Path, "/result"):
			_, _ = w.Write([]byte(`{}`))
		default:
			_, _ = w.Write([]byte(`{"status": "running"}`))
		}
	}))

	ctx := context.Background()

	err := client.UploadChunk(ctx, id, chunk.Descriptor{Index: 0, Length: 1}, strings.NewReader("x"))
	require.NoError(t, err)

	_, err = client.FinalizeSession(ctx, id, "cafe")
	require.NoError(t, err)

	_, err = client.PollStatus(ctx, id)
	require.NoError(t, err)

	_, err = client.FetchResult(ctx, id)
	require.NoError(t, err)
}

func TestClient_Ping(t *testing.T) {
	t.Parallel()

	t.Run("health ok", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				w.WriteHeader(http.StatusOK)

				return
			}

			w.WriteHeader(http.StatusInternalServerError)
		}))

		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("404 still counts as reachable", func(t *testing.T) {
		t.Parallel()

		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		assert.NoError(t, client.Ping(context.Background()))
	})

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()

		client, err := New("http://127.0.0.1:1")
		require.NoError(t, err)

		assert.Error(t, client.Ping(context.Background()))
	})
}

func TestClient_ContextCancellation(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.PollStatus(ctx, "job-1")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestJobStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, JobSucceeded.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.True(t, JobCancelled.Terminal())
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobRunning.Terminal())
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
}
