// Package direct provides the synchronous synthesis provider: one HTTP request per
// chunk, answered with raw audio bytes.
package direct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
)

// ProviderName identifies this provider in logs, metrics and errors.
const ProviderName = "direct"

// API endpoints and paths.
const (
	apiSynthesizeSpeech = "/v1/speech"
	apiHealth           = "/health"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	acceptAudio         = "audio/*"
	bearerPrefix        = "Bearer "
)

// Default values.
const (
	DefaultMaxChunkLength = 4000
	DefaultChunkDelay     = 250 * time.Millisecond
	defaultTimeout        = 60 * time.Second
	defaultLanguage       = "en-US"
	defaultSpeakingRate   = 1.0
	defaultVolume         = 1.0
)

// Error messages.
const (
	errReceivedEmptyAudio      = "received empty audio data"
	errFmtServiceErrorWithCode = "%s (code: %s)"
)

// Client is the DirectProvider. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	model          string
	defaultVoice   string
	format         audio.Format
	maxChunkLength int
	chunkDelay     time.Duration
}

// Request defines the JSON payload sent for each chunk.
type Request struct {
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Language     string  `json:"language"`
	Model        string  `json:"model,omitempty"`
	Gender       string  `json:"gender,omitempty"`
	SpeakingRate float64 `json:"speaking_rate"`
	Volume       float64 `json:"volume"`
	Format       string  `json:"format"`
}

// ErrorResponse represents a structured error body from the service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithModel sets the provider model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
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

// WithMaxChunkLength overrides the provider's chunk limit.
func WithMaxChunkLength(maxChunkLength int) Option {
	return func(c *Client) {
		if maxChunkLength > 0 {
			c.maxChunkLength = maxChunkLength
		}
	}
}

// WithChunkDelay overrides the spacing between chunk calls.
func WithChunkDelay(delay time.Duration) Option {
	return func(c *Client) {
		if delay >= 0 {
			c.chunkDelay = delay
		}
	}
}

// NewClient creates a DirectProvider for the service at baseURL. An empty apiKey or
// baseURL yields a client that reports itself unavailable.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	client := &Client{
		httpClient:     &http.Client{Timeout: defaultTimeout},
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		apiKey:         apiKey,
		format:         audio.FormatMP3,
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

// Synthesize sends one chunk and returns the audio from the response body. Missing
// credentials are reported as core.ErrProviderUnavailable before any network call.
func (c *Client) Synthesize(ctx context.Context, text string, voice core.VoiceProfile) (*audio.Buffer, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%s: %w", ProviderName, core.ErrProviderUnavailable)
	}

	if strings.TrimSpace(text) == "" {
		return nil, core.ErrEmptyText
	}

	requestBody, err := json.Marshal(c.buildRequest(text, voice))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiSynthesizeSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, acceptAudio)
	httpReq.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"%w: failed to send request to %s: %w",
			core.ErrProviderTransport,
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read audio data: %w", core.ErrProviderTransport, err)
	}

	if len(audioData) == 0 {
		return nil, &core.ProviderError{
			Provider:   ProviderName,
			StatusCode: resp.StatusCode,
			Body:       errReceivedEmptyAudio,
		}
	}

	return &audio.Buffer{Data: audioData, Format: c.responseFormat(resp)}, nil
}

// HealthCheck verifies that the service is reachable and reports healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Available() {
		return fmt.Errorf("%s: %w", ProviderName, core.ErrProviderUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	req.Header.Set(headerAuthorization, bearerPrefix+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"%w: health check failed for service at %s: %w",
			core.ErrProviderTransport,
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

func (c *Client) buildRequest(text string, voice core.VoiceProfile) Request {
	req := Request{
		Text:         text,
		Voice:        voice.VoiceID,
		Language:     voice.Language,
		Model:        c.model,
		Gender:       voice.Gender,
		SpeakingRate: voice.SpeakingRate,
		Volume:       voice.Volume,
		Format:       string(c.format),
	}

	if req.Voice == "" {
		req.Voice = c.defaultVoice
	}

	if req.Language == "" {
		req.Language = defaultLanguage
	}

	if req.SpeakingRate <= 0 {
		req.SpeakingRate = defaultSpeakingRate
	}

	if req.Volume <= 0 {
		req.Volume = defaultVolume
	}

	return req
}

// responseFormat prefers the declared Content-Type and falls back to the requested format.
func (c *Client) responseFormat(resp *http.Response) audio.Format {
	format, err := audio.ParseFormat(resp.Header.Get(headerContentType))
	if err != nil {
		return c.format
	}

	return format
}

// parseErrorResponse decodes a structured JSON error when the service sends one and
// keeps the raw body otherwise.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	providerErr := &core.ProviderError{
		Provider:   ProviderName,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		providerErr.Body = errorResp.Detail
		if errorResp.ErrorCode != "" {
			providerErr.Body = fmt.Sprintf(errFmtServiceErrorWithCode, errorResp.Detail, errorResp.ErrorCode)
		}
	}

	return providerErr
}
