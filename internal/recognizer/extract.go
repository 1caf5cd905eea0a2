package recognizer

import (
	"context"
	"os/exec"
	"strings"

	"ctscribe/internal/services"
)

// CommandRunner executes an external command. Tests substitute it.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// AudioExtractor converts media into recognizer input.
type AudioExtractor struct {
	ffmpegBinary  string
	commandRunner CommandRunner
}

// NewAudioExtractor uses ffmpegBinary, defaulting to "ffmpeg".
func NewAudioExtractor(ffmpegBinary string) *AudioExtractor {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &AudioExtractor{ffmpegBinary: ffmpegBinary}
}

// WithCommandRunner sets a custom command runner (for testing).
func (e *AudioExtractor) WithCommandRunner(runner CommandRunner) {
	e.commandRunner = runner
}

// Extract writes the first audio stream of source to dest as mono 16 kHz
// signed 16-bit PCM WAV.
func (e *AudioExtractor) Extract(ctx context.Context, source, dest string) error {
	args := buildExtractArgs(source, dest)
	if e.commandRunner != nil {
		return e.commandRunner(ctx, e.ffmpegBinary, args...)
	}
	cmd := exec.CommandContext(ctx, e.ffmpegBinary, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return services.Wrap(services.ErrExternalTool, "extract audio", "ffmpeg", strings.TrimSpace(string(output)), err)
	}
	return nil
}

func buildExtractArgs(source, dest string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-map", "0:a:0",
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
}
