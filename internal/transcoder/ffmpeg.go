package transcoder

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"
)

// Encoder runs ffmpeg for rendition encodes and thumbnails.
type Encoder struct {
	binary     string
	preset     string
	segmentSec int
	logger     *zap.Logger
}

// NewEncoder creates an encoder wrapper. Empty binary falls back to "ffmpeg"
// on PATH; empty preset to "veryfast".
func NewEncoder(binary, preset string, segmentSec int, logger *zap.Logger) *Encoder {
	if binary == "" {
		binary = "ffmpeg"
	}
	if preset == "" {
		preset = "veryfast"
	}
	if segmentSec <= 0 {
		segmentSec = 6
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{binary: binary, preset: preset, segmentSec: segmentSec, logger: logger}
}

// EncodeRendition transcodes input into VOD-mode HLS under outDir/{name}:
// fixed-duration segments plus a per-rendition playlist.
func (e *Encoder) EncodeRendition(ctx context.Context, input, outDir string, r Rendition, hasAudio bool) error {
	dir := filepath.Join(outDir, r.Name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create rendition dir: %w", err)
	}

	args := []string{
		"-hide_banner", "-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=-2:%d", r.Height),
		"-c:v", "libx264",
		"-preset", e.preset,
		"-b:v", fmt.Sprintf("%dk", r.Bitrate),
		"-maxrate", fmt.Sprintf("%dk", r.Bitrate),
		"-bufsize", fmt.Sprintf("%dk", 2*r.Bitrate),
	}
	if hasAudio {
		args = append(args, "-c:a", "aac", "-b:a", "128k", "-ac", "2")
	} else {
		args = append(args, "-an")
	}
	args = append(args,
		"-hls_time", fmt.Sprintf("%d", e.segmentSec),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(dir, "segment_%03d.ts"),
		filepath.Join(dir, "playlist.m3u8"),
	)

	e.logger.Debug("encoding rendition", zap.String("rendition", r.Name), zap.String("input", input))
	return e.run(ctx, args)
}

// Thumbnail grabs a single frame at atSeconds and writes a 640x360 JPEG.
func (e *Encoder) Thumbnail(ctx context.Context, input, outPath string, atSeconds float64) error {
	args := []string{
		"-hide_banner", "-y",
		"-ss", fmt.Sprintf("%.2f", atSeconds),
		"-i", input,
		"-vframes", "1",
		"-vf", "scale=640:360:force_original_aspect_ratio=decrease,pad=640:360:(ow-iw)/2:(oh-ih)/2",
		outPath,
	}
	return e.run(ctx, args)
}

func (e *Encoder) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &ProcessError{Name: "ffmpeg", Err: err, Stderr: stderr.String()}
	}
	return nil
}
