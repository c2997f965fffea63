package core

import (
	"strings"
)

// VoiceProfile selects and tunes the voice used for a request. Zero values fall back to
// the provider's configured defaults.
type VoiceProfile struct {
	Provider     string  `json:"provider,omitempty"`
	VoiceID      string  `json:"voice_id,omitempty"`
	Language     string  `json:"language,omitempty"`
	Gender       string  `json:"gender,omitempty"`
	Age          string  `json:"age,omitempty"`
	SpeakingRate float64 `json:"speaking_rate,omitempty"`
	Volume       float64 `json:"volume,omitempty"`
}

// Destination names where the finished audio is stored.
type Destination struct {
	// Folder is the logical slash-separated folder path, e.g. "audio/storyNarration".
	Folder string `json:"folder"`
	// Name is the stable identifier used for the stored file name.
	Name string `json:"name,omitempty"`
}

// Segments returns the non-empty folder path segments in order.
func (d Destination) Segments() []string {
	raw := strings.Split(d.Folder, "/")
	segments := make([]string, 0, len(raw))

	for _, segment := range raw {
		segment = strings.TrimSpace(segment)
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	return segments
}

// CleanFolder returns the folder path with empty segments removed.
func (d Destination) CleanFolder() string {
	return strings.Join(d.Segments(), "/")
}

// SynthesisRequest is one text-to-audio job. It is passed by value and never mutated.
type SynthesisRequest struct {
	Text        string
	Voice       VoiceProfile
	Destination Destination
}

// Validate checks the request at the pipeline boundary.
func (r SynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}

	return nil
}

// Tier names the storage backend that served an upload.
type Tier string

// Storage tiers in fallback order.
const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
	TierInline    Tier = "inline"
)

// UploadResult is the terminal output of the pipeline.
type UploadResult struct {
	URL  string
	Tier Tier
}
