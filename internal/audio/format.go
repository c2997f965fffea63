// Package audio provides the in-memory audio types produced by synthesis providers and
// the stitching step that merges per-chunk audio into one artifact.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Format represents supported audio formats.
type Format string

// Supported formats.
const (
	FormatMP3  Format = "mp3"
	FormatWAV  Format = "wav"
	FormatFLAC Format = "flac"
	FormatOGG  Format = "ogg"
	FormatM4A  Format = "m4a"
	FormatAAC  Format = "aac"
)

const (
	mimeMPEG     = "audio/mpeg"
	mimeWAV      = "audio/wav"
	mimeFLAC     = "audio/flac"
	mimeOGG      = "audio/ogg"
	mimeMP4      = "audio/mp4"
	mimeAAC      = "audio/aac"
	mimeFallback = "application/octet-stream"
)

// ErrUnsupportedFormat is returned when a format name is not recognized.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// ParseFormat maps a format name or MIME type to a Format.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))

	// Content-Type headers may carry parameters (audio/mpeg; charset=...).
	if idx := strings.IndexByte(normalized, ';'); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}

	switch normalized {
	case "mp3", mimeMPEG, "audio/mp3":
		return FormatMP3, nil
	case "wav", mimeWAV, "audio/x-wav", "audio/wave":
		return FormatWAV, nil
	case "flac", mimeFLAC:
		return FormatFLAC, nil
	case "ogg", "opus", mimeOGG:
		return FormatOGG, nil
	case "m4a", mimeMP4:
		return FormatM4A, nil
	case "aac", mimeAAC:
		return FormatAAC, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
	}
}

// MIMEType returns the content type used when storing or embedding the format.
func (f Format) MIMEType() string {
	switch f {
	case FormatMP3:
		return mimeMPEG
	case FormatWAV:
		return mimeWAV
	case FormatFLAC:
		return mimeFLAC
	case FormatOGG:
		return mimeOGG
	case FormatM4A:
		return mimeMP4
	case FormatAAC:
		return mimeAAC
	default:
		return mimeFallback
	}
}

// Extension returns the file extension for the format, including the leading dot.
func (f Format) Extension() string {
	if f == "" {
		return ".bin"
	}

	return "." + string(f)
}

// Buffer is the raw encoded audio returned by a provider for one text chunk.
type Buffer struct {
	Data   []byte
	Format Format
}

// Artifact is the stitched audio for a whole request.
type Artifact struct {
	Data   []byte
	Format Format
}

// Size returns the artifact length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}

	return len(a.Data)
}
