package service_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/okian/callqa/internal/domain/provider"
	"github.com/okian/callqa/internal/domain/transcript"
	"github.com/okian/callqa/pkg/logger"
	"github.com/youpy/go-wav"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

const testRate = 1000

// wavBytes renders a mono 16-bit recording of n samples at testRate.
func wavBytes(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	samples := make([]wav.Sample, n)
	for i := range samples {
		samples[i].Values[0] = (i % 50) * 200
	}
	if err := wav.NewWriter(&buf, uint32(n), 1, testRate, 16).WriteSamples(samples); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeWAV(t *testing.T, dir, name string, n int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, wavBytes(t, n), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// fakeSTT returns one diarized document per chunk, alternating speakers.
type fakeSTT struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	docs  []transcript.Document
}

func (f *fakeSTT) Transcribe(_ context.Context, req provider.TranscriptionRequest) ([]transcript.Document, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Paths)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.docs != nil {
		return f.docs, nil
	}
	docs := make([]transcript.Document, 0, len(req.Paths))
	for i := range req.Paths {
		data := fmt.Sprintf(`{"diarized_transcript":{"entries":[{"speaker_id":"SPEAKER_%02d","transcript":"part %d","start_time_seconds":0,"end_time_seconds":%d}]}}`, i%2, i, i+1)
		docs = append(docs, transcript.Document{Name: fmt.Sprintf("%03d.json", i), Data: []byte(data)})
	}
	return docs, nil
}

// fakeLLM answers grading prompts with a fenced JSON reply and anything else
// with a fixed text.
type fakeLLM struct {
	mu       sync.Mutex
	prompts  []provider.CompletionRequest
	grading  string
	answer   string
	failWith error
}

func (f *fakeLLM) Complete(_ context.Context, req provider.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req)
	f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	user := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(user, "SCORECARD CRITERIA") {
		if f.grading != "" {
			return f.grading, nil
		}
		return "Here you go:\n```json\n{\"grades\":[{\"criterion\":\"Greeting\",\"score\":4,\"reasoning\":\"warm\"}],\"overall_score\":4,\"summary\":\"good call\"}\n```", nil
	}
	if f.answer != "" {
		return f.answer, nil
	}
	return "The agent resolved the issue.", nil
}

func (f *fakeLLM) lastUser() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	msgs := f.prompts[len(f.prompts)-1].Messages
	return msgs[len(msgs)-1].Content
}

var errProviderDown = &provider.Error{Op: "speech-to-text-translate", Status: 503, Body: "unavailable"}


// blockingSTT holds every transcription until release is closed.
type blockingSTT struct {
	release chan struct{}
}

func (b *blockingSTT) Transcribe(ctx context.Context, req provider.TranscriptionRequest) ([]transcript.Document, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return (&fakeSTT{}).Transcribe(ctx, req)
}
