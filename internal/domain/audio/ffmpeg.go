package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type execRunner struct{}

func (execRunner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// ffmpegCodec probes with ffprobe and cuts with ffmpeg stream copy.
type ffmpegCodec struct {
	ffmpeg  string
	ffprobe string
	cmd     CommandRunner
}

// FFmpegOption configures the ffmpeg codec.
type FFmpegOption func(*ffmpegCodec)

// WithBinaries overrides the ffmpeg and ffprobe executables.
func WithBinaries(ffmpeg, ffprobe string) FFmpegOption {
	return func(c *ffmpegCodec) {
		if ffmpeg != "" {
			c.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			c.ffprobe = ffprobe
		}
	}
}

// WithCommandRunner replaces process execution, mainly for tests.
func WithCommandRunner(r CommandRunner) FFmpegOption {
	return func(c *ffmpegCodec) {
		if r != nil {
			c.cmd = r
		}
	}
}

// NewFFmpegCodec returns a Codec backed by the ffmpeg command line tools.
func NewFFmpegCodec(opts ...FFmpegOption) Codec {
	c := &ffmpegCodec{ffmpeg: "ffmpeg", ffprobe: "ffprobe", cmd: execRunner{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ffmpegCodec) Probe(ctx context.Context, path string) (time.Duration, error) {
	out, err := c.cmd.CombinedOutput(ctx, c.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: ffprobe: %v: %s", ErrDecode, err, strings.TrimSpace(string(out)))
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("%w: ffprobe duration %q", ErrDecode, strings.TrimSpace(string(out)))
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func (c *ffmpegCodec) Cut(ctx context.Context, src string, windows []Window) error {
	for _, w := range windows {
		out, err := c.cmd.CombinedOutput(ctx, c.ffmpeg,
			"-y", "-v", "error",
			"-ss", ffmpegTime(w.Start),
			"-t", ffmpegTime(w.End-w.Start),
			"-i", src,
			"-c", "copy",
			w.Path,
		)
		if err != nil {
			return fmt.Errorf("ffmpeg %s: %v: %s", w.Path, err, strings.TrimSpace(string(out)))
		}
	}
	return nil
}

func ffmpegTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}
