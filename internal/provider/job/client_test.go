package job_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/provider/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "job-key"

// fakeJobService simulates the submit/poll/fetch service. Each task reports the
// statuses in script, one per poll, repeating the last one.
type fakeJobService struct {
	t      *testing.T
	script []job.StatusResponse

	mu        sync.Mutex
	submitted []job.SubmitRequest
	polls     map[string]int
	fetches   atomic.Int32
}

func newFakeJobService(t *testing.T, script ...job.StatusResponse) *fakeJobService {
	t.Helper()

	return &fakeJobService{t: t, script: script, polls: make(map[string]int)}
}

func (f *fakeJobService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/tasks":
		var req job.SubmitRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.submitted = append(f.submitted, req)
		taskID := fmt.Sprintf("task-%d", len(f.submitted))
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(job.SubmitResponse{TaskID: taskID})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/tasks/"):
		taskID := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")

		f.mu.Lock()
		index := f.polls[taskID]
		f.polls[taskID] = index + 1
		f.mu.Unlock()

		if index >= len(f.script) {
			index = len(f.script) - 1
		}

		_ = json.NewEncoder(w).Encode(f.script[index])
	case r.Method == http.MethodGet && r.URL.Path == "/v1/results/result-1":
		f.fetches.Add(1)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("job-audio"))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeJobService) pollCount(taskID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.polls[taskID]
}

func (f *fakeJobService) submissions() []job.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]job.SubmitRequest(nil), f.submitted...)
}

func processing() job.StatusResponse {
	return job.StatusResponse{Status: "PROCESSING"}
}

func success() job.StatusResponse {
	return job.StatusResponse{Status: "SUCCESS", ResultHandle: "result-1"}
}

func newTestClient(baseURL string, opts ...job.Option) *job.Client {
	opts = append([]job.Option{job.WithPollInterval(time.Millisecond)}, opts...)

	return job.NewClient(baseURL, testAPIKey, opts...)
}

func TestClient_Synthesize_SucceedsAtAttemptK(t *testing.T) {
	t.Parallel()

	const k = 5

	script := make([]job.StatusResponse, 0, k)
	for range k - 1 {
		script = append(script, processing())
	}

	script = append(script, success())

	service := newFakeJobService(t, script...)
	server := httptest.NewServer(service)
	defer server.Close()

	client := newTestClient(server.URL, job.WithMaxAttempts(10))

	buffer, err := client.Synthesize(context.Background(), "Some text.", core.VoiceProfile{VoiceID: "v1", Age: "adult"})
	require.NoError(t, err)
	assert.Equal(t, []byte("job-audio"), buffer.Data)

	assert.Equal(t, k, service.pollCount("task-1"))
	assert.Equal(t, int32(1), service.fetches.Load())

	submitted := service.submissions()
	require.Len(t, submitted, 1)
	assert.Equal(t, "Some text.", submitted[0].Text)
	assert.Equal(t, "v1", submitted[0].Voice)
	assert.Equal(t, "adult", submitted[0].Age)
}

func TestClient_Synthesize_TimesOut(t *testing.T) {
	t.Parallel()

	service := newFakeJobService(t, job.StatusResponse{Status: "PENDING"}, processing())
	server := httptest.NewServer(service)
	defer server.Close()

	client := newTestClient(server.URL, job.WithMaxAttempts(4))

	_, err := client.Synthesize(context.Background(), "Some text.", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrSynthesisTimeout)
	assert.Contains(t, err.Error(), "task-1")
	assert.Equal(t, 4, service.pollCount("task-1"))
	assert.Zero(t, service.fetches.Load())
}

func TestClient_Synthesize_Failed(t *testing.T) {
	t.Parallel()

	service := newFakeJobService(t, processing(), job.StatusResponse{Status: "FAILED", FailureReason: "voice not found"})
	server := httptest.NewServer(service)
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Synthesize(context.Background(), "Some text.", core.VoiceProfile{})
	require.ErrorIs(t, err, job.ErrJobFailed)

	var providerErr *core.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, job.ProviderName, providerErr.Provider)
	assert.Equal(t, "voice not found", providerErr.Body)
	assert.Zero(t, service.fetches.Load())
}

func TestClient_Synthesize_UnknownStatus(t *testing.T) {
	t.Parallel()

	service := newFakeJobService(t, job.StatusResponse{Status: "EXPLODED"})
	server := httptest.NewServer(service)
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Synthesize(context.Background(), "Some text.", core.VoiceProfile{})
	require.ErrorIs(t, err, job.ErrUnknownStatus)
}

func TestClient_Synthesize_SuccessWithoutHandle(t *testing.T) {
	t.Parallel()

	service := newFakeJobService(t, job.StatusResponse{Status: "SUCCESS"})
	server := httptest.NewServer(service)
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Synthesize(context.Background(), "Some text.", core.VoiceProfile{})

	var providerErr *core.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Contains(t, providerErr.Body, "result handle")
}

func TestClient_Synthesize_Unavailable(t *testing.T) {
	t.Parallel()

	client := job.NewClient("", testAPIKey)
	assert.False(t, client.Available())

	_, err := client.Synthesize(context.Background(), "Some text.", core.VoiceProfile{})
	require.ErrorIs(t, err, core.ErrProviderUnavailable)
}

func TestClient_Synthesize_SubmitRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Synthesize(context.Background(), "Some text.", core.VoiceProfile{})

	var providerErr *core.ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusTooManyRequests, providerErr.StatusCode)
	assert.Equal(t, "quota exceeded", providerErr.Body)
}

func TestClient_Wait_HonorsCancellation(t *testing.T) {
	t.Parallel()

	service := newFakeJobService(t, processing())
	server := httptest.NewServer(service)
	defer server.Close()

	client := job.NewClient(server.URL, testAPIKey, job.WithPollInterval(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Wait(ctx, &job.Job{TaskID: "task-9", Status: job.StatusPending})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, service.pollCount("task-9"))
}

func TestClient_Limits(t *testing.T) {
	t.Parallel()

	client := job.NewClient("http://localhost", testAPIKey)
	assert.Equal(t, job.DefaultMaxChunkLength, client.Limits().MaxChunkLength)
	assert.Equal(t, job.DefaultChunkDelay, client.Limits().ChunkDelay)
	assert.Equal(t, job.ProviderName, client.Name())
}
