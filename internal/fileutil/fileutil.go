// Package fileutil provides file and path helpers shared by the service and the CLI.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultDirPermissions = 0o750
	sizeStep              = 1024
)

// sizeUnits are the suffixes FormatFileSize steps through, smallest first.
var sizeUnits = []string{"KB", "MB", "GB", "TB"}

// textExtensions are the file types the CLI accepts as narration input.
var textExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".xml":  true,
	".html": true,
	".htm":  true,
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	_, err := os.Stat(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	err = os.MkdirAll(path, defaultDirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// FormatDuration renders elapsed time for people: "45.2s", "5m 30.5s" or "1h 15m".
func FormatDuration(elapsed time.Duration) string {
	switch {
	case elapsed < time.Minute:
		return fmt.Sprintf("%.1fs", elapsed.Seconds())
	case elapsed < time.Hour:
		minutes := elapsed.Truncate(time.Minute)

		return fmt.Sprintf("%dm %.1fs", int(minutes.Minutes()), (elapsed - minutes).Seconds())
	default:
		hours := elapsed.Truncate(time.Hour)

		return fmt.Sprintf("%dh %dm", int(hours.Hours()), int((elapsed - hours).Minutes()))
	}
}

// FormatFileSize renders a byte count with one decimal in the largest fitting unit.
func FormatFileSize(bytes int64) string {
	if bytes < sizeStep {
		return fmt.Sprintf("%d B", bytes)
	}

	value := float64(bytes) / sizeStep
	unit := 0

	for value >= sizeStep && unit < len(sizeUnits)-1 {
		value /= sizeStep
		unit++
	}

	return fmt.Sprintf("%.1f %s", value, sizeUnits[unit])
}

// IsValidTextFile reports whether filename looks like plain text or markup.
func IsValidTextFile(filename string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(filename))]
}

// SanitizeFilename makes filename safe as a file name and object key: reserved and
// control characters become underscores and surrounding spaces and dots are dropped.
func SanitizeFilename(filename string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < ' ' || strings.ContainsRune(`<>:"/\|?*`, r) {
			return '_'
		}

		return r
	}, strings.TrimSpace(filename))

	return strings.Trim(cleaned, " .")
}
