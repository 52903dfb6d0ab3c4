package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const tempDirPattern = "callqa_chunks_"

// Chunker splits recordings longer than a maximum duration into sequential
// windows. PCM WAV is cut natively; other containers go through ffmpeg.
type Chunker struct {
	native   Codec
	external Codec
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithNativeCodec replaces the WAV codec.
func WithNativeCodec(c Codec) Option {
	return func(ch *Chunker) {
		if c != nil {
			ch.native = c
		}
	}
}

// WithExternalCodec replaces the ffmpeg codec used for non-WAV input.
func WithExternalCodec(c Codec) Option {
	return func(ch *Chunker) {
		if c != nil {
			ch.external = c
		}
	}
}

// NewChunker creates a Chunker with the WAV codec and an ffmpeg codec on PATH.
func NewChunker(opts ...Option) *Chunker {
	c := &Chunker{
		native:   NewWAVCodec(),
		external: NewFFmpegCodec(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Split returns the chunks of path, each at most maxDuration long.
//
// A recording no longer than maxDuration comes back as a single chunk whose
// Path is path itself; nothing is copied. Otherwise chunks are written to
// outputDir (a fresh temp dir when empty) as {base}_chunk{NNN}{ext}, with the
// index zero-padded to three digits and ext defaulting to .wav. The source is
// never modified. A non-positive maxDuration selects DefaultMaxDuration.
func (c *Chunker) Split(ctx context.Context, path string, maxDuration time.Duration, outputDir string) ([]Chunk, error) {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}

	codec, total, err := c.probe(ctx, path)
	if err != nil {
		return nil, err
	}

	if total <= maxDuration {
		return []Chunk{{Source: path, Index: 0, Path: path, Start: 0, End: total}}, nil
	}

	if outputDir == "" {
		outputDir, err = os.MkdirTemp("", tempDirPattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExport, err)
		}
	} else if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	base, ext := ChunkName(path)
	var (
		chunks  []Chunk
		windows []Window
	)
	for i, start := 0, time.Duration(0); start < total; i, start = i+1, start+maxDuration {
		end := min(start+maxDuration, total)
		p := filepath.Join(outputDir, fmt.Sprintf("%s_chunk%03d%s", base, i, ext))
		windows = append(windows, Window{Start: start, End: end, Path: p})
		chunks = append(chunks, Chunk{Source: path, Index: i, Path: p, Start: start, End: end})
	}

	if err := codec.Cut(ctx, path, windows); err != nil {
		if errors.Is(err, ErrDecode) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}
	return chunks, nil
}

// ChunkName returns the base name and extension used for chunk files of path.
func ChunkName(path string) (base, ext string) {
	name := filepath.Base(path)
	ext = filepath.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".wav"
	}
	return base, ext
}

// probe picks the codec for path and returns the recording duration.
func (c *Chunker) probe(ctx context.Context, path string) (Codec, time.Duration, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".wav" || ext == "" {
		d, err := c.native.Probe(ctx, path)
		if err == nil {
			return c.native, d, nil
		}
		if !errors.Is(err, errUnsupported) {
			return nil, 0, decodeErr(path, err)
		}
	}

	d, err := c.external.Probe(ctx, path)
	if err != nil {
		return nil, 0, decodeErr(path, err)
	}
	return c.external, d, nil
}

func decodeErr(path string, err error) error {
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
}
