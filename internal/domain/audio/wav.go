package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/youpy/go-wav"
)

const (
	// readBatch is the number of frames pulled from the decoder per call.
	readBatch = 4096
	// maxNativeChannels is what wav.Sample can carry per frame.
	maxNativeChannels = 2
)

// wavCodec cuts PCM WAV files without leaving the process.
type wavCodec struct{}

// NewWAVCodec returns a Codec for PCM WAV files with one or two channels.
func NewWAVCodec() Codec { return wavCodec{} }

func (wavCodec) Probe(_ context.Context, path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer func() { _ = f.Close() }()

	r := wav.NewReader(f)
	if _, err := checkFormat(r); err != nil {
		return 0, err
	}
	d, err := r.Duration()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return d, nil
}

func (wavCodec) Cut(ctx context.Context, src string, windows []Window) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer func() { _ = f.Close() }()

	r := wav.NewReader(f)
	format, err := checkFormat(r)
	if err != nil {
		return err
	}

	eof := false
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}
		frames := framesAt(w.End, format.SampleRate) - framesAt(w.Start, format.SampleRate)
		if eof, err = writeWindow(r, format, w.Path, frames, eof); err != nil {
			return err
		}
	}
	return nil
}

// writeWindow copies frames samples from r into a new file at path. Once the
// decoder runs dry the rest of the window is padded with silence so the
// header length always matches the payload.
func writeWindow(r *wav.Reader, format *wav.WavFormat, path string, frames int64, eof bool) (bool, error) {
	out, err := os.Create(path)
	if err != nil {
		return eof, err
	}

	w := wav.NewWriter(out, uint32(frames), format.NumChannels, format.SampleRate, format.BitsPerSample)
	for left := frames; left > 0; {
		n := min(left, readBatch)
		var samples []wav.Sample
		if !eof {
			samples, err = r.ReadSamples(uint32(n))
			if errors.Is(err, io.EOF) {
				eof, err = true, nil
			}
			if err != nil {
				_ = out.Close()
				return eof, fmt.Errorf("%w: %v", ErrDecode, err)
			}
		}
		if int64(len(samples)) > n {
			samples = samples[:n]
		}
		if len(samples) == 0 {
			samples = make([]wav.Sample, n)
		}
		if err := w.WriteSamples(samples); err != nil {
			_ = out.Close()
			return eof, err
		}
		left -= int64(len(samples))
	}
	return eof, out.Close()
}

func checkFormat(r *wav.Reader) (*wav.WavFormat, error) {
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if format.AudioFormat != wav.AudioFormatPCM || format.NumChannels == 0 || format.NumChannels > maxNativeChannels {
		return nil, fmt.Errorf("%w: format %d with %d channels", errUnsupported, format.AudioFormat, format.NumChannels)
	}
	return format, nil
}

func framesAt(d time.Duration, rate uint32) int64 {
	return int64(d) * int64(rate) / int64(time.Second)
}
