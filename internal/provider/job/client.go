// Package job provides the asynchronous synthesis provider: each chunk is submitted as a
// task, polled until it reaches a terminal status, and its result fetched separately.
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
)

// ProviderName identifies this provider in logs, metrics and errors.
const ProviderName = "job"

// API endpoints and paths.
const (
	apiTasks   = "/v1/tasks"
	apiResults = "/v1/results/"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// Default values.
const (
	DefaultMaxChunkLength = 450
	DefaultChunkDelay     = time.Second
	DefaultPollInterval   = 2 * time.Second
	DefaultMaxAttempts    = 60
	defaultTimeout        = 30 * time.Second
	defaultLanguage       = "en-US"
)

// Error messages.
const (
	errMissingTaskID       = "submit response carried no task id"
	errMissingResultHandle = "task succeeded without a result handle"
	errEmptyResult         = "result contained no audio data"
	errFmtStatus           = "task %s reported status %q"
	errFmtTimeout          = "%w: task %s still %s after %d attempts"
)

// Client is the JobProvider. It is safe for concurrent use; each Synthesize call owns
// its own Job.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	defaultVoice   string
	format         audio.Format
	pollInterval   time.Duration
	maxAttempts    int
	maxChunkLength int
	chunkDelay     time.Duration
}

// SubmitRequest is the payload that creates a task.
type SubmitRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
	Age      string `json:"age,omitempty"`
	Format   string `json:"format"`
}

// SubmitResponse is the service's answer to a submission.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// StatusResponse is the service's answer to a poll.
type StatusResponse struct {
	Status        string `json:"status"`
	ResultHandle  string `json:"result_handle,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(voice string) Option {
	return func(c *Client) {
		c.defaultVoice = voice
	}
}

// WithFormat sets the requested output format.
func WithFormat(format audio.Format) Option {
	return func(c *Client) {
		if format != "" {
			c.format = format
		}
	}
}

// WithPollInterval sets the fixed spacing between status polls.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval >= 0 {
			c.pollInterval = interval
		}
	}
}

// WithMaxAttempts bounds the number of status polls per task.
func WithMaxAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithMaxChunkLength overrides the provider's chunk limit.
func WithMaxChunkLength(maxChunkLength int) Option {
	return func(c *Client) {
		if maxChunkLength > 0 {
			c.maxChunkLength = maxChunkLength
		}
	}
}

// WithChunkDelay overrides the spacing between chunk submissions.
func WithChunkDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay >= 0 {
			c.chunkDelay = delay
		}
	}
}

// NewClient creates a JobProvider for the service at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	client := &Client{
		httpClient:     &http.Client{Timeout: defaultTimeout},
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		format:         audio.FormatMP3,
		pollInterval:   DefaultPollInterval,
		maxAttempts:    DefaultMaxAttempts,
		maxChunkLength: DefaultMaxChunkLength,
		chunkDelay:     DefaultChunkDelay,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return ProviderName
}

// Available reports whether credentials and an endpoint are configured.
func (c *Client) Available() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// Limits returns the chunking and pacing limits of the provider.
func (c *Client) Limits() core.ProviderLimits {
	return core.ProviderLimits{
		MaxChunkLength: c.maxChunkLength,
		ChunkDelay:     c.chunkDelay,
	}
}

// Synthesize submits text, polls the task to completion, and fetches the result.
func (c *Client) Synthesize(ctx context.Context, text string, voice core.VoiceProfile) (*audio.Buffer, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%s: %w", ProviderName, core.ErrProviderUnavailable)
	}

	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyText
	}

	task, err := c.Submit(ctx, text, voice)
	if err != nil {
		return nil, err
	}

	err = c.Wait(ctx, task)
	if err != nil {
		return nil, err
	}

	return c.Fetch(ctx, task.ResultHandle)
}

// Submit creates a task for text and returns it in the PENDING state.
func (c *Client) Submit(ctx context.Context, text string, voice core.VoiceProfile) (*Job, error) {
	payload := SubmitRequest{
		Text:     text,
		Voice:    voice.VoiceID,
		Language: voice.Language,
		Gender:   voice.Gender,
		Age:      voice.Age,
		Format:   string(c.format),
	}

	if payload.Voice == "" {
		payload.Voice = c.defaultVoice
	}

	if payload.Language == "" {
		payload.Language = defaultLanguage
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+apiTasks, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var submitted SubmitResponse

	err = readJSON(resp.Body, &submitted)
	if err != nil {
		return nil, c.providerError(resp.StatusCode, "", err)
	}

	if submitted.TaskID == "" {
		return nil, c.providerError(resp.StatusCode, errMissingTaskID, nil)
	}

	return &Job{TaskID: submitted.TaskID, Status: StatusPending}, nil
}

// Wait polls the task at a fixed interval until it reaches a terminal status or the
// attempt budget runs out. On success task.ResultHandle is set.
func (c *Client) Wait(ctx context.Context, task *Job) error {
	for task.Attempts < c.maxAttempts {
		if task.Attempts > 0 {
			err := sleep(ctx, c.pollInterval)
			if err != nil {
				return fmt.Errorf("polling task %s: %w", task.TaskID, err)
			}
		}

		task.Attempts++

		err := c.poll(ctx, task)
		if err != nil {
			return err
		}

		switch task.Status {
		case StatusSuccess:
			if task.ResultHandle == "" {
				return c.providerError(http.StatusOK, errMissingResultHandle, nil)
			}

			return nil
		case StatusFailed:
			return c.providerError(http.StatusOK, task.FailureReason, ErrJobFailed)
		case StatusPending, StatusProcessing:
		}
	}

	return fmt.Errorf(errFmtTimeout, core.ErrSynthesisTimeout, task.TaskID, task.Status, task.Attempts)
}

// Fetch downloads the audio identified by handle.
func (c *Client) Fetch(ctx context.Context, handle string) (*audio.Buffer, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+apiResults+url.PathEscape(handle), http.NoBody)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read result: %w", core.ErrProviderTransport, err)
	}

	if len(data) == 0 {
		return nil, c.providerError(resp.StatusCode, errEmptyResult, nil)
	}

	format, err := audio.ParseFormat(resp.Header.Get(headerContentType))
	if err != nil {
		format = c.format
	}

	return &audio.Buffer{Data: data, Format: format}, nil
}

func (c *Client) poll(ctx context.Context, task *Job) error {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+apiTasks+"/"+url.PathEscape(task.TaskID), http.NoBody)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var reported StatusResponse

	err = readJSON(resp.Body, &reported)
	if err != nil {
		return c.providerError(resp.StatusCode, "", err)
	}

	status, err := ParseStatus(reported.Status)
	if err != nil {
		return c.providerError(resp.StatusCode, fmt.Sprintf(errFmtStatus, task.TaskID, reported.Status), err)
	}

	if task.Advance(status) {
		task.ResultHandle = reported.ResultHandle
		task.FailureReason = reported.FailureReason
	}

	return nil
}

// do sends an authorized request and converts transport failures and non-2xx answers
// into the provider error taxonomy. The caller closes the body of a returned response.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)

	if method == http.MethodPost {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", core.ErrProviderTransport, method, endpoint, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxStatusBodyBytes))

		return nil, c.providerError(resp.StatusCode, strings.TrimSpace(string(raw)), nil)
	}

	return resp, nil
}

func (c *Client) providerError(statusCode int, body string, err error) *core.ProviderError {
	return &core.ProviderError{
		Provider:   ProviderName,
		StatusCode: statusCode,
		Body:       body,
		Err:        err,
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
