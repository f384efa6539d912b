package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ExtractTimeout bounds one audio extraction run.
const ExtractTimeout = 5 * time.Minute

var (
	// ErrToolUnavailable means ffmpeg could not be located on this host.
	ErrToolUnavailable = errors.New("ffmpeg not found")
	// ErrExtractionFailed means ffmpeg exited non-zero or produced no output.
	ErrExtractionFailed = errors.New("audio extraction failed")
	// ErrExtractionTimeout means extraction exceeded ExtractTimeout.
	ErrExtractionTimeout = errors.New("audio extraction timed out")
)

// ExtractAudio converts an arbitrary media file into a mono 16kHz 16-bit PCM
// WAV next to nothing in particular (a temp file the caller must remove).
// Whisper expects exactly this format.
func ExtractAudio(ctx context.Context, inputPath string) (string, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", fmt.Errorf("%w: %v", ErrToolUnavailable, err)
	}

	tmpFile, err := os.CreateTemp("", "transcribe-audio-*.wav")
	if err != nil {
		return "", err
	}
	tmpFile.Close()
	outputPath := tmpFile.Name()

	ctx, cancel := context.WithTimeout(ctx, ExtractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-i", inputPath,
		"-vn", // no video
		"-acodec", "pcm_s16le",
		"-ar", "16000", // 16kHz
		"-ac", "1", // mono
		"-y", // overwrite
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outputPath)
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrExtractionTimeout
		}
		return "", fmt.Errorf("%w: %s", ErrExtractionFailed, truncate(string(output), 200))
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outputPath)
		return "", fmt.Errorf("%w: output file empty", ErrExtractionFailed)
	}

	return outputPath, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
