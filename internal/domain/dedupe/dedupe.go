// Package dedupe remembers recording fingerprints so the same audio submitted
// twice is processed once.
package dedupe

import (
	"container/list"
	"context"
	"crypto/sha1" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"io"
	"sync"
)

// Deduper maps recording fingerprints to the job that first claimed them.
type Deduper interface {
	// Claim records fingerprint for owner unless it is already known.
	// It returns the owning job and whether the fingerprint was already seen.
	Claim(ctx context.Context, fingerprint, owner string) (string, bool)

	// Release forgets fingerprint so it can be submitted again, e.g. after
	// the job failed or the queue rejected it.
	Release(ctx context.Context, fingerprint string)

	Size() int
}

type entry struct {
	fingerprint string
	owner       string
}

// inMemoryDeduper keeps at most maxSize fingerprints and evicts the oldest
// claim first. A non-positive maxSize disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // front = newest
	index   map[string]*list.Element
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: 10_000}
	for _, opt := range opts {
		opt(d)
	}
	d.order = list.New()
	d.index = make(map[string]*list.Element)
	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, fingerprint, owner string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[fingerprint]; ok {
		return el.Value.(entry).owner, true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		if oldest := d.order.Back(); oldest != nil {
			delete(d.index, oldest.Value.(entry).fingerprint)
			d.order.Remove(oldest)
		}
	}
	d.index[fingerprint] = d.order.PushFront(entry{fingerprint: fingerprint, owner: owner})
	return owner, false
}

func (d *inMemoryDeduper) Release(_ context.Context, fingerprint string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[fingerprint]; ok {
		d.order.Remove(el)
		delete(d.index, fingerprint)
	}
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

// Fingerprint returns the hex SHA-1 of everything read from r.
func Fingerprint(r io.Reader) (string, error) {
	h := sha1.New() //nolint:gosec // see import
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
