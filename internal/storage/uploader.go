// Package storage persists finished narrations through an ordered chain of storage
// tiers and returns a durable reference to the stored audio.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/fileutil"
	"github.com/google/uuid"
)

// Log messages.
const (
	logFmtTierUnavailable = "Storage tier %s unavailable, trying next tier"
	logFmtTierFailed      = "Storage tier %s failed for %s: %v"
	logFmtStored          = "Stored %s (%s) in %s tier"
)

// ErrEmptyArtifact is returned when there is nothing to upload.
var ErrEmptyArtifact = errors.New("artifact is empty")

// Tier is one storage backend in the fallback chain.
type Tier interface {
	Tier() core.Tier
	// Available reports whether the backend is configured. It never performs I/O.
	Available() bool
	// Store saves the artifact as fileName under the destination folder and returns a
	// reference to it.
	Store(ctx context.Context, artifact *audio.Artifact, destination core.Destination, fileName string) (string, error)
}

// Uploader tries each tier in order until one stores the artifact.
type Uploader struct {
	tiers []Tier
	log   *logger.Logger
}

// NewUploader creates an uploader over tiers in fallback order. Nil tiers are skipped.
func NewUploader(log *logger.Logger, tiers ...Tier) *Uploader {
	chain := make([]Tier, 0, len(tiers))

	for _, tier := range tiers {
		if tier != nil {
			chain = append(chain, tier)
		}
	}

	return &Uploader{tiers: chain, log: log}
}

// Upload stores artifact and reports which tier served it. A later tier is tried only
// when the previous one is unavailable or fails.
func (u *Uploader) Upload(
	ctx context.Context,
	artifact *audio.Artifact,
	destination core.Destination,
) (*core.UploadResult, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return nil, ErrEmptyArtifact
	}

	fileName := ArtifactName(destination, artifact.Format)

	var failures []error

	for _, tier := range u.tiers {
		if !tier.Available() {
			u.log.Info(logFmtTierUnavailable, tier.Tier())

			continue
		}

		location, err := tier.Store(ctx, artifact, destination, fileName)
		if err != nil {
			u.log.Warn(logFmtTierFailed, tier.Tier(), fileName, err)
			failures = append(failures, fmt.Errorf("%s: %w", tier.Tier(), err))

			continue
		}

		u.log.Info(logFmtStored, fileName, fileutil.FormatFileSize(int64(artifact.Size())), tier.Tier())

		return &core.UploadResult{URL: location, Tier: tier.Tier()}, nil
	}

	if len(failures) == 0 {
		return nil, core.ErrAllStorageTiersFailed
	}

	return nil, fmt.Errorf("%w: %w", core.ErrAllStorageTiersFailed, errors.Join(failures...))
}

// ArtifactName derives the stored file name from the destination's identifier, or a
// random one when the identifier is empty after sanitizing.
func ArtifactName(destination core.Destination, format audio.Format) string {
	base := fileutil.SanitizeFilename(destination.Name)
	if base == "" {
		base = uuid.NewString()
	}

	return base + format.Extension()
}
