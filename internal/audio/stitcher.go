package audio

import (
	"context"
	"errors"
	"fmt"
)

// Static errors.
var (
	// ErrConcatenationFailure is returned when ordered buffers could not be merged.
	// A partially stitched artifact is never returned alongside it.
	ErrConcatenationFailure = errors.New("audio concatenation failed")
	// ErrNoBuffers is returned when Stitch is called without audio.
	ErrNoBuffers = errors.New("no audio buffers to stitch")
)

// Concatenator merges two or more ordered buffers into one encoded stream.
type Concatenator interface {
	Concatenate(ctx context.Context, buffers []Buffer, format Format) ([]byte, error)
}

// Stitcher turns the per-chunk buffers of one request into a single artifact.
type Stitcher struct {
	concatenator Concatenator
}

// NewStitcher creates a Stitcher backed by the given concatenator.
func NewStitcher(concatenator Concatenator) *Stitcher {
	return &Stitcher{concatenator: concatenator}
}

// Stitch returns the single buffer unchanged when only one is supplied; the
// concatenator is only invoked for two or more buffers.
func (s *Stitcher) Stitch(ctx context.Context, buffers []Buffer) (*Artifact, error) {
	if len(buffers) == 0 {
		return nil, ErrNoBuffers
	}

	format := buffers[0].Format

	if len(buffers) == 1 {
		return &Artifact{Data: buffers[0].Data, Format: format}, nil
	}

	if s.concatenator == nil {
		return nil, fmt.Errorf("%w: no concatenator configured", ErrConcatenationFailure)
	}

	data, err := s.concatenator.Concatenate(ctx, buffers, format)
	if err != nil {
		if errors.Is(err, ErrConcatenationFailure) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrConcatenationFailure, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: concatenator produced no output", ErrConcatenationFailure)
	}

	return &Artifact{Data: data, Format: format}, nil
}
