package orchestrate

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipscribe/clipscribe/internal/sessionstore"
	"github.com/clipscribe/clipscribe/pkg/chunk"
	"github.com/clipscribe/clipscribe/pkg/fetch"
	"github.com/clipscribe/clipscribe/pkg/track"
	"github.com/clipscribe/clipscribe/pkg/transport"
	"github.com/clipscribe/clipscribe/pkg/upload"
)

// fakeService scripts the whole remote surface for pipeline tests.
type fakeService struct {
	mu sync.Mutex

	uploadErr   error
	pollStates  []transport.JobState
	pollErr     error
	resultBody  []byte
	resultErr   error
	resultCalls int
	pollCalls   int
}

func (f *fakeService) InitSession(_ context.Context, _ transport.FileMeta, _ string) (transport.SessionHandle, error) {
	return transport.SessionHandle{ID: "sess-1"}, nil
}

func (f *fakeService) UploadChunk(_ context.Context, _ string, _ chunk.Descriptor, data io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.uploadErr != nil {
		return f.uploadErr
	}

	_, err := io.Copy(io.Discard, data)

	return err
}

func (f *fakeService) FinalizeSession(_ context.Context, _, _ string) (string, error) {
	return "job-1", nil
}

func (f *fakeService) PollStatus(_ context.Context, _ string) (transport.JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pollErr != nil {
		return transport.JobState{}, f.pollErr
	}

	index := f.pollCalls
	if index >= len(f.pollStates) {
		index = len(f.pollStates) - 1
	}

	f.pollCalls++

	return f.pollStates[index], nil
}

func (f *fakeService) FetchResult(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resultCalls++

	if f.resultErr != nil {
		return nil, f.resultErr
	}

	return f.resultBody, nil
}

// stubFetcher returns a pre-built handle or an error.
type stubFetcher struct {
	handle *fetch.FileHandle
	err    error
}

func (s *stubFetcher) Fetch(_ context.Context, _ string) (*fetch.FileHandle, error) {
	if s.err != nil {
		return nil, s.err
	}

	return s.handle, nil
}

func mediaFixture(t *testing.T) *fetch.FileHandle {
	t.Helper()

	path := filepath.Join(t.TempDir(), "media.mp3")
	require.NoError(t, os.WriteFile(path, []byte("thirty-two bytes of fake audio!!"), 0o600))

	handle, err := fetch.NewFileHandle(path)
	require.NoError(t, err)

	return handle
}

func succeedingService() *fakeService {
	return &fakeService{
		pollStates: []transport.JobState{{Status: transport.JobSucceeded, Result: "transcripts/1"}},
		resultBody: []byte(`{"text":"hello"}`),
	}
}

func testOptions() Options {
	return Options{
		ChunkSize: 16,
		Upload:    upload.Options{MaxRetries: 1, Concurrency: 2, RetryBaseDelay: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Poll:      track.Options{Interval: time.Millisecond, MaxWait: time.Second},
	}
}

func TestRun_FullPipeline(t *testing.T) {
	t.Parallel()

	file := mediaFixture(t)
	service := succeedingService()

	opts := testOptions()
	opts.ResultsDir = t.TempDir()

	outcome, err := New(&stubFetcher{handle: file}, service, opts).Run(context.Background(), "https://example.com/v")

	require.NoError(t, err)
	assert.Equal(t, "job-1", outcome.JobID)
	assert.Equal(t, "transcripts/1", outcome.Reference)

	payload, err := sessionstore.LoadResult(outcome.ResultPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hello"}`, string(payload))

	// Media is removed after success by default.
	_, statErr := os.Stat(file.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_KeepFilesLeavesMedia(t *testing.T) {
	t.Parallel()

	file := mediaFixture(t)

	opts := testOptions()
	opts.KeepFiles = true

	_, err := New(&stubFetcher{handle: file}, succeedingService(), opts).Run(context.Background(), "u")

	require.NoError(t, err)

	_, statErr := os.Stat(file.Path)
	assert.NoError(t, statErr)
}

func TestRun_SkipsResultFetchWhenDisabled(t *testing.T) {
	t.Parallel()

	service := succeedingService()

	outcome, err := New(&stubFetcher{handle: mediaFixture(t)}, service, testOptions()).Run(context.Background(), "u")

	require.NoError(t, err)
	assert.Empty(t, outcome.ResultPath)
	assert.Zero(t, service.resultCalls)
}

func TestRun_FetchFailureTagged(t *testing.T) {
	t.Parallel()

	fetchErr := fetch.ErrRestrictedContent

	_, err := New(&stubFetcher{err: fetchErr}, succeedingService(), testOptions()).Run(context.Background(), "u")

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageFetch, stageErr.Stage)
	assert.ErrorIs(t, err, fetch.ErrRestrictedContent)
}

func TestRun_UploadFailureKeepsMedia(t *testing.T) {
	t.Parallel()

	file := mediaFixture(t)
	service := succeedingService()
	service.uploadErr = &transport.Error{Op: "upload_chunk", Kind: transport.Permanent, StatusCode: 400, Err: errors.New("rejected")}

	_, err := New(&stubFetcher{handle: file}, service, testOptions()).Run(context.Background(), "u")

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageUpload, stageErr.Stage)

	// A failed upload keeps the media so a resumed run can re-read chunks.
	_, statErr := os.Stat(file.Path)
	assert.NoError(t, statErr)
}

func TestRun_TrackFailureTagged(t *testing.T) {
	t.Parallel()

	service := succeedingService()
	service.pollStates = []transport.JobState{{Status: transport.JobFailed, Error: "undecodable"}}

	_, err := New(&stubFetcher{handle: mediaFixture(t)}, service, testOptions()).Run(context.Background(), "u")

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageTrack, stageErr.Stage)

	var remote *track.RemoteJobFailure
	assert.ErrorAs(t, err, &remote)
}

func TestRun_ResultFailureTagged(t *testing.T) {
	t.Parallel()

	service := succeedingService()
	service.resultErr = &transport.Error{Op: "fetch_result", Kind: transport.Permanent, StatusCode: 404, Err: errors.New("gone")}

	opts := testOptions()
	opts.ResultsDir = t.TempDir()

	_, err := New(&stubFetcher{handle: mediaFixture(t)}, service, opts).Run(context.Background(), "u")

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageResult, stageErr.Stage)
}

func TestRun_RecordsStageMetrics(t *testing.T) {
	t.Parallel()

	recorder := &stageRecorder{}

	opts := testOptions()
	opts.Metrics = recorder

	_, err := New(&stubFetcher{handle: mediaFixture(t)}, succeedingService(), opts).Run(context.Background(), "u")

	require.NoError(t, err)
	assert.Equal(t, []string{StageFetch, StageUpload, StageTrack}, recorder.stages)
	assert.Equal(t, 1, recorder.started)
	assert.Equal(t, 1, recorder.ended)
}

type stageRecorder struct {
	mu      sync.Mutex
	stages  []string
	started int
	ended   int
}

func (r *stageRecorder) SessionStarted(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started++
}

func (r *stageRecorder) SessionEnded(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ended++
}

func (r *stageRecorder) RecordStage(_ context.Context, stage, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stages = append(r.stages, stage)
}
