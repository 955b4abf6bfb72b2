package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
)

type MediaInfo struct {
	Width    int
	Height   int
	Duration float64 // seconds, zero when unknown
}

// Toolkit probes and encodes local files.
type Toolkit interface {
	Probe(ctx context.Context, path string) (MediaInfo, error)
	Encode(ctx context.Context, input, output string, r Rung) error
}

// FFmpeg shells out to the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (MediaInfo, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return MediaInfo{}, fmt.Errorf("ffprobe: %w: %s", err, stderr.String())
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (MediaInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(out, &p); err != nil {
		return MediaInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}

	var info MediaInfo
	for _, s := range p.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			info.Width, info.Height = s.Width, s.Height
			break
		}
	}
	if info.Height == 0 {
		return MediaInfo{}, errors.New("could not determine video dimensions")
	}

	if d, err := strconv.ParseFloat(p.Format.Duration, 64); err == nil && d > 0 && !math.IsInf(d, 0) {
		info.Duration = d
	}
	return info, nil
}

func (f *FFmpeg) Encode(ctx context.Context, input, output string, r Rung) error {
	cmd := exec.CommandContext(ctx, f.FFmpegPath, encodeArgs(input, output, r)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg %s: %w: %s", r.Quality, err, tail(out, 2048))
	}
	return nil
}

func encodeArgs(input, output string, r Rung) []string {
	return []string{
		"-hide_banner",
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-s", fmt.Sprintf("%dx%d", r.Width, r.Height),
		"-b:v", r.VideoBitrate,
		"-b:a", r.AudioBitrate,
		"-preset", "fast",
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		"-f", "mp4",
		output,
	}
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
