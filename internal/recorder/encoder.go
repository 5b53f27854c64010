package recorder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"camfeed/internal/frame"
)

// Quality is the encoder adapter's quality preset (spec §4.9).
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Encoder is the external collaborator contract spec §4.9 names:
// consume an ordered sequence of already-complete JPEG frames and
// produce a video file at outputPath.
type Encoder interface {
	Encode(ctx context.Context, frames []*frame.Frame, outputPath string, fps int, quality Quality) (string, error)
}

// qualityPreset maps a Quality to an ffmpeg -crf value (lower is
// higher quality); mirrors a camera capture pipeline's "-q:v" tuning.
func qualityPreset(q Quality) string {
	switch q {
	case QualityHigh:
		return "18"
	case QualityLow:
		return "30"
	default:
		return "23"
	}
}

// FFmpegEncoder shells out to an ffmpeg binary on PATH, piping frames
// in over stdin as an MJPEG stream and muxing them into an MP4 via
// ffmpeg's mjpeg demuxer (-f mjpeg).
type FFmpegEncoder struct {
	Codec  string // e.g. "libx264"; defaults if empty
	Preset string // e.g. "veryfast"; defaults if empty
}

// Encode starts ffmpeg, writes frames to its stdin in order, and has it
// mux them into outputPath at the given fps and quality.
func (e *FFmpegEncoder) Encode(ctx context.Context, frames []*frame.Frame, outputPath string, fps int, quality Quality) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("recorder: no frames to encode")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("recorder: mkdir output dir: %w", err)
	}

	codec := e.Codec
	if codec == "" {
		codec = "libx264"
	}
	preset := e.Preset
	if preset == "" {
		preset = "veryfast"
	}

	args := []string{
		"-y",
		"-f", "mjpeg",
		"-r", fmt.Sprintf("%d", fps),
		"-i", "-",
		"-c:v", codec,
		"-preset", preset,
		"-crf", qualityPreset(quality),
		"-pix_fmt", "yuv420p",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("recorder: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("recorder: start ffmpeg: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		for _, f := range frames {
			if _, err := stdin.Write(f.Bytes()); err != nil {
				writeErr <- err
				return
			}
		}
		writeErr <- nil
	}()

	if err := <-writeErr; err != nil {
		_ = cmd.Process.Kill()
		cmd.Wait()
		return "", fmt.Errorf("recorder: write frames to ffmpeg: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("recorder: ffmpeg failed: %w (stderr: %s)", err, stderr.String())
	}

	return outputPath, nil
}
