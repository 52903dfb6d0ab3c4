// Package inbox watches a drop folder and submits new recordings.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/okian/callqa/pkg/logger"
	"github.com/okian/callqa/pkg/metrics"
)

// ErrWatch is returned when the folder cannot be watched.
var ErrWatch = errors.New("watch inbox")

// DefaultExtensions are the audio files picked up from the inbox.
var DefaultExtensions = []string{".wav", ".mp3", ".m4a", ".ogg", ".flac"}

// Submitter accepts a recording found in the inbox.
type Submitter interface {
	SubmitFile(ctx context.Context, path string) error
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(ctx context.Context, path string) error

func (f SubmitFunc) SubmitFile(ctx context.Context, path string) error { return f(ctx, path) }

// Watcher submits audio files once they stop changing for the settle delay.
type Watcher struct {
	dir    string
	submit Submitter
	exts   map[string]struct{}
	settle time.Duration
	logger logger.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithExtensions replaces the accepted file extensions.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		w.exts = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			w.exts[strings.ToLower(e)] = struct{}{}
		}
	}
}

// WithSettleDelay sets how long a file must be quiet before it is submitted.
func WithSettleDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithLogger sets the watcher's logger.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Watcher for dir.
func New(dir string, submit Submitter, opts ...Option) *Watcher {
	w := &Watcher{
		dir:     dir,
		submit:  submit,
		settle:  time.Second,
		pending: make(map[string]*time.Timer),
	}
	WithExtensions(DefaultExtensions...)(w)
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("inbox")
	}
	return w
}

// Run watches until ctx is done. The directory is created if missing.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrWatch, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatch, err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrWatch, w.dir, err)
	}
	w.logger.Info(ctx, "watching inbox", logger.String("dir", w.dir))

	defer w.cancelPending()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			metrics.RecordErrorByComponent("inbox", "watch")
			w.logger.Error(ctx, "inbox watcher error", logger.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !w.accepts(ev.Name) {
		return
	}
	if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[ev.Name]; ok {
		t.Reset(w.settle)
		return
	}
	path := ev.Name
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		if err := w.submit.SubmitFile(ctx, path); err != nil {
			w.logger.Warn(ctx, "inbox submission failed", logger.String("path", path), logger.Error(err))
			return
		}
		w.logger.Info(ctx, "inbox file submitted", logger.String("path", path))
	})
}

func (w *Watcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for p, t := range w.pending {
		t.Stop()
		delete(w.pending, p)
	}
}
