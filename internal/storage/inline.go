package storage

import (
	"context"
	"encoding/base64"

	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
)

// InlineTier embeds the artifact in a base64 data URI. It is the last tier and cannot
// fail.
type InlineTier struct{}

// NewInlineTier returns the inline tier.
func NewInlineTier() InlineTier {
	return InlineTier{}
}

// Tier identifies the inline tier.
func (InlineTier) Tier() core.Tier {
	return core.TierInline
}

// Available always reports true.
func (InlineTier) Available() bool {
	return true
}

// Store returns data:<mime>;base64,<payload>.
func (InlineTier) Store(_ context.Context, artifact *audio.Artifact, _ core.Destination, _ string) (string, error) {
	return DataURI(artifact), nil
}

// DataURI encodes artifact as a data URI.
func DataURI(artifact *audio.Artifact) string {
	return "data:" + artifact.Format.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(artifact.Data)
}
