package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
)

const (
	defaultFFmpegBinary = "ffmpeg"
	stitchDirPattern    = "stitch-*"
	manifestFileName    = "manifest.txt"
	partFileFormat      = "part-%04d%s"
	outputFileBase      = "stitched"
	filePermissions     = 0o600
)

// Error formats.
const (
	errFmtCreateWorkDir  = "failed to create stitch work dir: %w"
	errFmtWritePart      = "failed to write part %d: %w"
	errFmtWriteManifest  = "failed to write concat manifest: %w"
	errFmtFFmpegFailed   = "%w: ffmpeg execution failed: %w - output: %s"
	errFmtReadOutput     = "%w: failed to read stitched output: %w"
	logFmtCleanupFailed  = "Failed to remove stitch work dir '%s': %v"
	logFmtStitchComplete = "Stitched %d buffers into %d bytes (%s)"
)

// FFmpegConcatenator implements Concatenator by shelling out to ffmpeg's concat demuxer.
type FFmpegConcatenator struct {
	binary   string
	workDir  string
	reencode bool
	log      *logger.Logger
}

// FFmpegOption configures an FFmpegConcatenator.
type FFmpegOption func(*FFmpegConcatenator)

// WithBinary overrides the ffmpeg executable path.
func WithBinary(path string) FFmpegOption {
	return func(c *FFmpegConcatenator) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithWorkDir sets the parent directory for per-request temporary files.
// An empty value uses os.TempDir().
func WithWorkDir(dir string) FFmpegOption {
	return func(c *FFmpegConcatenator) {
		c.workDir = dir
	}
}

// WithReencode re-encodes the output instead of stream copying.
func WithReencode(reencode bool) FFmpegOption {
	return func(c *FFmpegConcatenator) {
		c.reencode = reencode
	}
}

// NewFFmpegConcatenator creates a new FFmpegConcatenator.
func NewFFmpegConcatenator(log *logger.Logger, opts ...FFmpegOption) *FFmpegConcatenator {
	concatenator := &FFmpegConcatenator{
		binary: defaultFFmpegBinary,
		log:    log,
	}

	for _, opt := range opts {
		opt(concatenator)
	}

	return concatenator
}

// Concatenate writes each buffer and an ordered manifest into a fresh temporary
// directory, runs ffmpeg over them and reads the result back. The directory is
// removed on every return path.
func (c *FFmpegConcatenator) Concatenate(ctx context.Context, buffers []Buffer, format Format) ([]byte, error) {
	workDir, err := os.MkdirTemp(c.workDir, stitchDirPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: "+errFmtCreateWorkDir, ErrConcatenationFailure, err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil && c.log != nil {
			c.log.Warn(logFmtCleanupFailed, workDir, removeErr)
		}
	}()

	manifestPath, err := writeParts(workDir, buffers, format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConcatenationFailure, err)
	}

	outputPath := filepath.Join(workDir, outputFileBase+format.Extension())

	// #nosec G204 -- binary comes from service configuration, paths are generated here
	cmd := exec.CommandContext(ctx, c.binary, c.buildArgs(manifestPath, outputPath)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf(errFmtFFmpegFailed, ErrConcatenationFailure, err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf(errFmtReadOutput, ErrConcatenationFailure, err)
	}

	if c.log != nil {
		c.log.Info(logFmtStitchComplete, len(buffers), len(data), format)
	}

	return data, nil
}

func (c *FFmpegConcatenator) buildArgs(manifestPath, outputPath string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
	}

	if !c.reencode {
		args = append(args, "-c", "copy")
	}

	return append(args, outputPath)
}

// writeParts writes the buffers in order and returns the manifest path.
func writeParts(workDir string, buffers []Buffer, format Format) (string, error) {
	var manifest strings.Builder

	for index, buffer := range buffers {
		partPath := filepath.Join(workDir, fmt.Sprintf(partFileFormat, index, format.Extension()))

		writeErr := os.WriteFile(partPath, buffer.Data, filePermissions)
		if writeErr != nil {
			return "", fmt.Errorf(errFmtWritePart, index, writeErr)
		}

		manifest.WriteString("file '")
		manifest.WriteString(escapeManifestPath(partPath))
		manifest.WriteString("'\n")
	}

	manifestPath := filepath.Join(workDir, manifestFileName)

	err := os.WriteFile(manifestPath, []byte(manifest.String()), filePermissions)
	if err != nil {
		return "", fmt.Errorf(errFmtWriteManifest, err)
	}

	return manifestPath, nil
}

// escapeManifestPath quotes a path for the concat demuxer's single-quoted syntax.
func escapeManifestPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
