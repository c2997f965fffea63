// Package core defines the request types, capabilities and error taxonomy shared by the
// narration pipeline.
package core

import (
	"context"
	"time"

	"github.com/book-expert/narration-service/internal/audio"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// ProviderLimits describes how a provider must be fed.
type ProviderLimits struct {
	// MaxChunkLength is the largest chunk, in runes, the provider accepts.
	MaxChunkLength int
	// ChunkDelay is the minimum spacing between consecutive chunk calls.
	ChunkDelay time.Duration
}

// SynthesisProvider turns one text chunk into one audio buffer. Both the direct and the
// job-based providers satisfy it; the orchestrator picks between them with Available.
type SynthesisProvider interface {
	Name() string
	// Available reports whether the provider has the configuration it needs. It never
	// performs network I/O.
	Available() bool
	Limits() ProviderLimits
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*audio.Buffer, error)
}

// Uploader persists a finished artifact and returns a durable reference to it.
type Uploader interface {
	Upload(ctx context.Context, artifact *audio.Artifact, destination Destination) (*UploadResult, error)
}
