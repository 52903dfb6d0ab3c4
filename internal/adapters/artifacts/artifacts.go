// Package artifacts writes the per-call output files: the speaker-labelled
// conversation, the timing summary, analysis, question answers, grading
// results and the raw provider documents.
package artifacts

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // short file-name digest only
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/callqa/internal/domain/transcript"
)

// File name suffixes. A file is named base + suffix.
const (
	ConversationSuffix = "_conversation.txt"
	TimingSuffix       = "_timing.json"
	AnalysisSuffix     = "_analysis.txt"
	RawDir             = "raw"

	gradingTimeLayout = "20060102_150405"
)

// ErrWrite wraps every failed artifact write.
var ErrWrite = errors.New("write artifact")

// Writer places artifacts for one call under dir.
type Writer struct {
	dir  string
	base string
	now  func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithBase sets the file name prefix. The default is empty, giving
// "_conversation.txt" and friends.
func WithBase(base string) Option {
	return func(w *Writer) {
		w.base = base
	}
}

// WithClock overrides the time source used for grading file names.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWriter creates a Writer rooted at dir. The directory is created on first write.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Conversation writes the formatted transcript.
func (w *Writer) Conversation(text string) (string, error) {
	return w.write(w.base+ConversationSuffix, []byte(text))
}

// Timing writes the per-speaker totals as indented JSON.
func (w *Writer) Timing(st *transcript.SpeakerTiming) (string, error) {
	data, err := transcript.FormatTiming(st)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return w.write(w.base+TimingSuffix, data)
}

// Analysis writes the free-form call analysis.
func (w *Writer) Analysis(text string) (string, error) {
	return w.write(w.base+AnalysisSuffix, []byte(text))
}

// Answer writes a question and its answer to a file keyed by the question digest.
func (w *Writer) Answer(question, answer string) (string, error) {
	name := fmt.Sprintf("%s_question_%s.txt", w.base, QuestionDigest(question))
	body := fmt.Sprintf("Question: %s\n\nAnswer:\n%s", question, answer)
	return w.write(name, []byte(body))
}

// Grading writes v as indented JSON to a timestamped grading file.
func (w *Writer) Grading(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	name := "grading_" + w.now().Format(gradingTimeLayout) + ".json"
	return w.write(name, buf.Bytes())
}

// RawDocuments stores provider documents under dir/raw and returns that directory.
func (w *Writer) RawDocuments(docs []transcript.Document) (string, error) {
	dir := filepath.Join(w.dir, RawDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	for _, d := range docs {
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(d.Name)), d.Data, 0o644); err != nil { //nolint:gosec // output files are meant to be readable
			return "", fmt.Errorf("%w: %s: %v", ErrWrite, d.Name, err)
		}
	}
	return dir, nil
}

func (w *Writer) write(name string, data []byte) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrWrite, err)
	}
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // output files are meant to be readable
		return "", fmt.Errorf("%w: %s: %v", ErrWrite, name, err)
	}
	return path, nil
}

// QuestionDigest is the first six hex digits of the question's SHA-1.
func QuestionDigest(question string) string {
	sum := sha1.Sum([]byte(question)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])[:6]
}
