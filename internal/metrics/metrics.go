// Package metrics exposes Prometheus instrumentation for the narration pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const namespace = "narration"

// Recorder holds the pipeline's collectors. A nil *Recorder records nothing.
type Recorder struct {
	requests        *prometheus.CounterVec
	chunkCalls      *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	requestDuration prometheus.Histogram
	audioBytes      prometheus.Counter
}

// New registers the collectors with registerer. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(registerer prometheus.Registerer) *Recorder {
	factory := promauto.With(registerer)

	return &Recorder{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of narration requests by outcome",
		}, []string{"status"}),
		chunkCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_chunk_calls_total",
			Help:      "Total number of chunk synthesis calls by provider and outcome",
		}, []string{"provider", "status"}),
		fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Total number of restarts with the next provider, by the provider left behind",
		}, []string{"provider"}),
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of stored narrations by storage tier",
		}, []string{"tier"}),
		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "End-to-end narration latency in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		audioBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total bytes of stitched audio produced",
		}),
	}
}

// RecordRequest records the outcome and latency of one request.
func (r *Recorder) RecordRequest(err error, duration time.Duration) {
	if r == nil {
		return
	}

	r.requests.WithLabelValues(status(err)).Inc()
	r.requestDuration.Observe(duration.Seconds())
}

// RecordChunkCall records one provider call.
func (r *Recorder) RecordChunkCall(provider string, err error) {
	if r == nil {
		return
	}

	r.chunkCalls.WithLabelValues(provider, status(err)).Inc()
}

// RecordFallback records abandoning provider for the next one.
func (r *Recorder) RecordFallback(provider string) {
	if r == nil {
		return
	}

	r.fallbacks.WithLabelValues(provider).Inc()
}

// RecordUpload records a stored artifact.
func (r *Recorder) RecordUpload(tier string, bytes int) {
	if r == nil {
		return
	}

	r.uploads.WithLabelValues(tier).Inc()
	r.audioBytes.Add(float64(bytes))
}

func status(err error) string {
	if err != nil {
		return StatusError
	}

	return StatusSuccess
}
