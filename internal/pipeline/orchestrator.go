// Package pipeline drives one narration request from text to a stored audio reference:
// provider selection, chunking, ordered synthesis, stitching and upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/metrics"
	"github.com/book-expert/narration-service/internal/text"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Log messages.
const (
	logFmtTransition      = "Narration %s: %s -> %s"
	logFmtSelected        = "Narration %s: using %s provider (max chunk %d, delay %s)"
	logFmtChunked         = "Narration %s: split %d characters into %d chunks"
	logFmtChunkDone       = "Narration %s: chunk %d/%d synthesized (%d bytes)"
	logFmtFallback        = "Narration %s: %s provider cannot serve request, restarting with next provider: %v"
	logFmtFailed          = "Narration %s failed in %s: %v"
	logFmtDone            = "Narration %s stored in %s tier after %s"
	errFmtChunkFailed     = "chunk %d/%d via %s: %w"
	errFmtNoProviderAfter = "%w: %w"
)

// Stitcher merges ordered per-chunk buffers into one artifact.
type Stitcher interface {
	Stitch(ctx context.Context, buffers []audio.Buffer) (*audio.Artifact, error)
}

// TextCleaner rewrites request text before it is chunked.
type TextCleaner interface {
	Clean(text string) string
}

// Result is the detailed outcome of a successful request.
type Result struct {
	URL      string
	Tier     core.Tier
	Provider string
	Chunks   int
	Bytes    int
	Duration time.Duration
}

// Orchestrator runs requests through the state machine. It is safe for concurrent use;
// the only state shared between requests is the per-provider pacing limiter.
type Orchestrator struct {
	providers                []core.SynthesisProvider
	limiters                 map[string]*rate.Limiter
	stitcher                 Stitcher
	uploader                 core.Uploader
	log                      *logger.Logger
	metrics                  *metrics.Recorder
	cleaner                  TextCleaner
	fallbackOnTransportError bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records request, chunk, fallback and upload metrics.
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.metrics = recorder
	}
}

// WithTransportFallback also restarts with the next provider when a provider cannot be
// reached at all.
func WithTransportFallback(enabled bool) Option {
	return func(o *Orchestrator) {
		o.fallbackOnTransportError = enabled
	}
}

// WithTextCleaner runs every request's text through cleaner before chunking.
func WithTextCleaner(cleaner TextCleaner) Option {
	return func(o *Orchestrator) {
		o.cleaner = cleaner
	}
}

// New creates an orchestrator over providers in preference order.
func New(
	providers []core.SynthesisProvider,
	stitcher Stitcher,
	uploader core.Uploader,
	log *logger.Logger,
	opts ...Option,
) *Orchestrator {
	orchestrator := &Orchestrator{
		providers: make([]core.SynthesisProvider, 0, len(providers)),
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		stitcher:  stitcher,
		uploader:  uploader,
		log:       log,
	}

	for _, provider := range providers {
		if provider == nil {
			continue
		}

		orchestrator.providers = append(orchestrator.providers, provider)
		orchestrator.limiters[provider.Name()] = newPacer(provider.Limits().ChunkDelay)
	}

	for _, opt := range opts {
		opt(orchestrator)
	}

	return orchestrator
}

// newPacer allows one call immediately and then one per delay. It is shared by all
// requests, so it bounds each provider's call rate across the process.
func newPacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Every(delay), 1)
}

// Synthesize narrates req and returns the reference to the stored audio.
func (o *Orchestrator) Synthesize(ctx context.Context, req core.SynthesisRequest) (string, error) {
	result, err := o.Run(ctx, req)
	if err != nil {
		return "", err
	}

	return result.URL, nil
}

// request is the mutable state of one run.
type request struct {
	id         string
	req        core.SynthesisRequest
	state      State
	candidates []core.SynthesisProvider
	next       int
	provider   core.SynthesisProvider
	chunks     []text.Chunk
	buffers    []audio.Buffer
	artifact   *audio.Artifact
	upload     *core.UploadResult
	lastErr    error
	err        error
}

// Run narrates req and returns the detailed outcome. Any chunk or stitch failure aborts
// the request without uploading anything.
func (o *Orchestrator) Run(ctx context.Context, req core.SynthesisRequest) (*Result, error) {
	start := time.Now()

	err := req.Validate()
	if err != nil {
		o.metrics.RecordRequest(err, time.Since(start))

		return nil, err
	}

	run := &request{
		id:         uuid.NewString(),
		req:        req,
		state:      StateSelectProvider,
		candidates: o.orderProviders(req.Voice.Provider),
	}

	for !run.state.Terminal() {
		previous := run.state

		switch run.state {
		case StateSelectProvider:
			o.selectProvider(run)
		case StateChunk:
			o.chunk(run)
		case StateSynthesizeEachChunk:
			o.synthesizeEachChunk(ctx, run)
		case StateStitch:
			o.stitch(ctx, run)
		case StateUpload:
			o.upload(ctx, run)
		case StateDone, StateError:
		}

		o.log.Info(logFmtTransition, run.id, previous, run.state)
	}

	duration := time.Since(start)
	o.metrics.RecordRequest(run.err, duration)

	if run.err != nil {
		return nil, run.err
	}

	o.metrics.RecordUpload(string(run.upload.Tier), run.artifact.Size())
	o.log.Info(logFmtDone, run.id, run.upload.Tier, duration.Round(time.Millisecond))

	return &Result{
		URL:      run.upload.URL,
		Tier:     run.upload.Tier,
		Provider: run.provider.Name(),
		Chunks:   len(run.chunks),
		Bytes:    run.artifact.Size(),
		Duration: duration,
	}, nil
}

// orderProviders moves the provider named by preferred to the front.
func (o *Orchestrator) orderProviders(preferred string) []core.SynthesisProvider {
	ordered := make([]core.SynthesisProvider, 0, len(o.providers))

	for _, provider := range o.providers {
		if preferred != "" && strings.EqualFold(provider.Name(), preferred) {
			ordered = append([]core.SynthesisProvider{provider}, ordered...)

			continue
		}

		ordered = append(ordered, provider)
	}

	return ordered
}

func (o *Orchestrator) selectProvider(run *request) {
	for run.next < len(run.candidates) {
		candidate := run.candidates[run.next]
		run.next++

		if candidate.Available() {
			run.provider = candidate
			limits := candidate.Limits()
			o.log.Info(logFmtSelected, run.id, candidate.Name(), limits.MaxChunkLength, limits.ChunkDelay)
			run.state = StateChunk

			return
		}
	}

	if run.lastErr != nil {
		o.fail(run, fmt.Errorf(errFmtNoProviderAfter, core.ErrNoProviderConfigured, run.lastErr))

		return
	}

	o.fail(run, core.ErrNoProviderConfigured)
}

func (o *Orchestrator) chunk(run *request) {
	maxLength := run.provider.Limits().MaxChunkLength
	if maxLength <= 0 {
		maxLength = math.MaxInt
	}

	source := run.req.Text
	if o.cleaner != nil {
		source = o.cleaner.Clean(source)
	}

	chunks, err := text.Split(source, maxLength)
	if err != nil {
		o.fail(run, err)

		return
	}

	if len(chunks) == 0 {
		o.fail(run, core.ErrEmptyText)

		return
	}

	o.log.Info(logFmtChunked, run.id, utf8.RuneCountInString(source), len(chunks))

	run.chunks = chunks
	run.buffers = make([]audio.Buffer, 0, len(chunks))
	run.state = StateSynthesizeEachChunk
}

// synthesizeEachChunk calls the provider strictly in chunk order. A provider that turns
// out to be unavailable sends the request back to provider selection; every other
// failure aborts it.
func (o *Orchestrator) synthesizeEachChunk(ctx context.Context, run *request) {
	provider := run.provider
	pacer := o.limiters[provider.Name()]
	delay := provider.Limits().ChunkDelay
	total := len(run.chunks)

	for _, chunk := range run.chunks {
		if chunk.Ordinal > 0 {
			err := pause(ctx, delay)
			if err != nil {
				o.fail(run, fmt.Errorf(errFmtChunkFailed, chunk.Ordinal+1, total, provider.Name(), err))

				return
			}
		}

		err := pacer.Wait(ctx)
		if err != nil {
			o.fail(run, fmt.Errorf(errFmtChunkFailed, chunk.Ordinal+1, total, provider.Name(), err))

			return
		}

		buffer, err := provider.Synthesize(ctx, chunk.Content, run.req.Voice)
		o.metrics.RecordChunkCall(provider.Name(), err)

		if err == nil && (buffer == nil || len(buffer.Data) == 0) {
			err = &core.ProviderError{Provider: provider.Name(), Body: "empty audio"}
		}

		if err != nil {
			if o.shouldFallback(err) {
				o.log.Warn(logFmtFallback, run.id, provider.Name(), err)
				o.metrics.RecordFallback(provider.Name())

				run.lastErr = err
				run.chunks = nil
				run.buffers = nil
				run.state = StateSelectProvider

				return
			}

			o.fail(run, fmt.Errorf(errFmtChunkFailed, chunk.Ordinal+1, total, provider.Name(), err))

			return
		}

		run.buffers = append(run.buffers, *buffer)
		o.log.Info(logFmtChunkDone, run.id, chunk.Ordinal+1, total, len(buffer.Data))
	}

	run.state = StateStitch
}

// pause waits delay after a chunk call finishes. The shared pacer only spaces call
// starts, which leaves no gap after calls that outlast the delay.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) shouldFallback(err error) bool {
	if errors.Is(err, core.ErrProviderUnavailable) {
		return true
	}

	return o.fallbackOnTransportError && errors.Is(err, core.ErrProviderTransport)
}

func (o *Orchestrator) stitch(ctx context.Context, run *request) {
	artifact, err := o.stitcher.Stitch(ctx, run.buffers)
	if err != nil {
		o.fail(run, err)

		return
	}

	run.buffers = nil
	run.artifact = artifact
	run.state = StateUpload
}

func (o *Orchestrator) upload(ctx context.Context, run *request) {
	result, err := o.uploader.Upload(ctx, run.artifact, run.req.Destination)
	if err != nil {
		o.fail(run, err)

		return
	}

	run.upload = result
	run.state = StateDone
}

func (o *Orchestrator) fail(run *request, err error) {
	o.log.Error(logFmtFailed, run.id, run.state, err)

	run.err = err
	run.state = StateError
}
