// Package audio splits long call recordings into bounded-duration chunks so
// each piece stays within the speech-to-text provider's per-file limits.
package audio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxDuration is the longest audio the provider accepts per file.
const DefaultMaxDuration = time.Hour

// Sentinel error kinds for this package.
var (
	// ErrDecode is returned when the source cannot be opened or decoded.
	ErrDecode = errors.New("audio decode failed")
	// ErrExport is returned when a chunk cannot be written.
	ErrExport = errors.New("audio chunk export failed")
	// errUnsupported marks a readable file the native codec cannot cut.
	errUnsupported = errors.New("unsupported audio encoding")
)

// Chunk is one contiguous window of a source recording. When the source did
// not need splitting Path equals Source.
type Chunk struct {
	Source string
	Index  int
	Path   string
	Start  time.Duration
	End    time.Duration
}

// Duration returns the length of the window.
func (c Chunk) Duration() time.Duration { return c.End - c.Start }

func (c Chunk) String() string {
	return fmt.Sprintf("chunk %d: %s-%s", c.Index, c.Start, c.End)
}

// Paths returns the chunk file paths in order.
func Paths(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Path
	}
	return out
}

// Window is a half-open [Start, End) range to export to Path.
type Window struct {
	Start time.Duration
	End   time.Duration
	Path  string
}

// Codec probes and cuts one family of audio containers.
type Codec interface {
	// Probe returns the total duration of the file at path.
	Probe(ctx context.Context, path string) (time.Duration, error)
	// Cut exports every window of src, in order, to its Path.
	Cut(ctx context.Context, src string, windows []Window) error
}

// CommandRunner executes an external program and returns its combined output.
type CommandRunner interface {
	CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error)
}
