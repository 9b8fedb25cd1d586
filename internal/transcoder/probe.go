package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const probeTimeout = 30 * time.Second

// MediaInfo is the probed source metadata the pipeline decides from.
type MediaInfo struct {
	Duration  float64
	Width     int
	Height    int
	Codec     string
	FrameRate float64
	HasAudio  bool
}

// Prober inspects media files with ffprobe.
type Prober struct {
	binary string
}

// NewProber creates a prober; an empty binary falls back to "ffprobe" on PATH.
func NewProber(binary string) *Prober {
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	return &Prober{binary: binary}
}

// Probe returns duration, dimensions, codec, frame rate and audio presence
// for the file at path.
func (p *Prober) Probe(ctx context.Context, path string) (MediaInfo, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, probeTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return MediaInfo{}, &ProcessError{Name: "ffprobe", Err: err, Stderr: stderr.String()}
	}
	info, err := parseProbeOutput(stdout.Bytes())
	if err != nil {
		return MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return info, nil
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func parseProbeOutput(data []byte) (MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return MediaInfo{}, err
	}

	var info MediaInfo
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
			info.Duration = d
		}
	}
	for _, s := range payload.Streams {
		switch s.CodecType {
		case "video":
			// First video stream wins.
			if info.Width == 0 {
				info.Width = s.Width
				info.Height = s.Height
				info.Codec = s.CodecName
				info.FrameRate = parseFrameRate(s.AvgFrameRate)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

// parseFrameRate parses ffprobe's "num/den" rate, e.g. "30000/1001".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return 0
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
