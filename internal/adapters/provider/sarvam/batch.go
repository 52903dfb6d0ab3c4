package sarvam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/callqa/internal/domain/provider"
	"github.com/okian/callqa/internal/domain/transcript"
	"github.com/okian/callqa/pkg/logger"
	"github.com/okian/callqa/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	jobPath = "speech-to-text-translate/job/v1"

	opJobCreate   = "job.create"
	opJobUpload   = "job.upload"
	opJobStart    = "job.start"
	opJobStatus   = "job.status"
	opJobDownload = "job.download"

	defaultPollInterval = 5 * time.Second
	defaultJobTimeout   = 10 * time.Minute
)

// Job states reported by the batch API.
const (
	jobCompleted = "completed"
	jobFailed    = "failed"
)

var (
	// ErrJobFailed is returned when the provider reports the batch job failed.
	ErrJobFailed = errors.New("transcription job failed")
	// ErrMissingOutput is returned when a finished job has no result for an input.
	ErrMissingOutput = errors.New("transcription job output missing")
)

// Batch transcribes through the asynchronous job API: create a job, upload
// every file, start it, poll until it finishes and download one result
// document per input.
type Batch struct {
	client       *Client
	pollInterval time.Duration
	jobTimeout   time.Duration
}

var _ provider.Transcriber = (*Batch)(nil)

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithPollInterval sets how often job status is checked.
func WithPollInterval(d time.Duration) BatchOption {
	return func(b *Batch) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

// WithJobTimeout bounds the wait for a started job.
func WithJobTimeout(d time.Duration) BatchOption {
	return func(b *Batch) {
		if d > 0 {
			b.jobTimeout = d
		}
	}
}

// NewBatch creates a batch transcriber sharing c's endpoint, key and HTTP client.
func NewBatch(c *Client, opts ...BatchOption) *Batch {
	b := &Batch{client: c, pollInterval: defaultPollInterval, jobTimeout: defaultJobTimeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type jobParameters struct {
	Model       string `json:"model,omitempty"`
	WithDiarize bool   `json:"with_diarization"`
	NumSpeakers int    `json:"num_speakers,omitempty"`
}

type jobCreateRequest struct {
	JobParameters jobParameters `json:"job_parameters"`
}

type jobFilesRequest struct {
	JobID string   `json:"job_id"`
	Files []string `json:"files"`
}

type fileURL struct {
	FileURL string `json:"file_url"`
}

type jobResponse struct {
	JobID        string             `json:"job_id"`
	JobState     string             `json:"job_state"`
	ErrorMessage string             `json:"error_message"`
	UploadURLs   map[string]fileURL `json:"upload_urls"`
	DownloadURLs map[string]fileURL `json:"download_urls"`
	JobDetails   []jobDetail        `json:"job_details"`
}

type jobDetail struct {
	Inputs  []jobFile `json:"inputs"`
	Outputs []jobFile `json:"outputs"`
	State   string    `json:"state"`
}

type jobFile struct {
	FileName string `json:"file_name"`
}

// Transcribe runs one batch job for all of req.Paths. Documents are named
// "{NNN}_{file}.json" in input order.
func (b *Batch) Transcribe(ctx context.Context, req provider.TranscriptionRequest) ([]transcript.Document, error) {
	if len(req.Paths) == 0 {
		return nil, nil
	}
	ctx, span := tracing.Start(ctx, "sarvam.batch",
		attribute.Int("audio.files", len(req.Paths)),
		attribute.String("stt.model", req.Model),
	)
	start := time.Now()
	docs, err := b.run(ctx, req)
	b.client.observe(ctx, opTranscribe, start, err)
	tracing.End(span, err)
	return docs, err
}

func (b *Batch) run(ctx context.Context, req provider.TranscriptionRequest) ([]transcript.Document, error) {
	names := make([]string, len(req.Paths))
	index := make(map[string]int, len(req.Paths))
	for i, p := range req.Paths {
		// Chunks of different inputs may share a base name.
		names[i] = fmt.Sprintf("%03d_%s", i, filepath.Base(p))
		index[names[i]] = i
	}

	job, err := b.call(ctx, opJobCreate, http.MethodPost, jobPath, jobCreateRequest{JobParameters: jobParameters{
		Model:       req.Model,
		WithDiarize: req.Diarize,
		NumSpeakers: req.NumSpeakers,
	}})
	if err != nil {
		return nil, err
	}
	log := b.client.log().With(logger.String("sarvam_job", job.JobID))
	log.Info(ctx, "transcription job created", logger.Int("files", len(names)))

	if err := b.upload(ctx, job.JobID, req.Paths, names); err != nil {
		return nil, err
	}
	if _, err := b.call(ctx, opJobStart, http.MethodPost, jobPath+"/"+job.JobID+"/start", nil); err != nil {
		return nil, err
	}

	status, err := b.wait(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	log.Info(ctx, "transcription job finished", logger.String("state", status.JobState))

	return b.download(ctx, job.JobID, status, names, index)
}

func (b *Batch) upload(ctx context.Context, jobID string, paths, names []string) error {
	res, err := b.call(ctx, opJobUpload, http.MethodPost, jobPath+"/upload-files", jobFilesRequest{JobID: jobID, Files: names})
	if err != nil {
		return err
	}
	for i, name := range names {
		u, ok := res.UploadURLs[name]
		if !ok || u.FileURL == "" {
			return &provider.Error{Op: opJobUpload, Err: fmt.Errorf("no upload url for %s", name)}
		}
		data, err := os.ReadFile(paths[i])
		if err != nil {
			return &provider.Error{Op: opJobUpload, Err: err}
		}
		if _, err := b.client.do(ctx, opJobUpload, http.MethodPut, u.FileURL, "application/octet-stream",
			bytes.NewReader(data), false, "x-ms-blob-type", "BlockBlob"); err != nil {
			return err
		}
	}
	return nil
}

// wait polls job status until the job completes, fails, or the job timeout
// or ctx ends.
func (b *Batch) wait(ctx context.Context, jobID string) (jobResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, b.jobTimeout)
	defer cancel()

	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		status, err := b.call(ctx, opJobStatus, http.MethodGet, jobPath+"/"+jobID+"/status", nil)
		if err != nil {
			return jobResponse{}, err
		}
		switch strings.ToLower(status.JobState) {
		case jobCompleted:
			return status, nil
		case jobFailed:
			msg := status.ErrorMessage
			if msg == "" {
				msg = "job " + jobID
			}
			return jobResponse{}, &provider.Error{Op: opJobStatus, Err: fmt.Errorf("%w: %s", ErrJobFailed, msg)}
		}

		select {
		case <-ctx.Done():
			return jobResponse{}, &provider.Error{Op: opJobStatus, Err: fmt.Errorf("job %s: %w", jobID, ctx.Err())}
		case <-ticker.C:
		}
	}
}

func (b *Batch) download(ctx context.Context, jobID string, status jobResponse, names []string, index map[string]int) ([]transcript.Document, error) {
	outputs := make([]string, len(names))
	for _, d := range status.JobDetails {
		if len(d.Inputs) == 0 || len(d.Outputs) == 0 || strings.EqualFold(d.State, jobFailed) {
			continue
		}
		if i, ok := index[d.Inputs[0].FileName]; ok {
			outputs[i] = d.Outputs[0].FileName
		}
	}
	files := make([]string, 0, len(outputs))
	for i, out := range outputs {
		if out == "" {
			return nil, &provider.Error{Op: opJobDownload, Err: fmt.Errorf("%w: %s", ErrMissingOutput, names[i])}
		}
		files = append(files, out)
	}

	res, err := b.call(ctx, opJobDownload, http.MethodPost, jobPath+"/download-files", jobFilesRequest{JobID: jobID, Files: files})
	if err != nil {
		return nil, err
	}
	docs := make([]transcript.Document, 0, len(outputs))
	for i, out := range outputs {
		u, ok := res.DownloadURLs[out]
		if !ok || u.FileURL == "" {
			return nil, &provider.Error{Op: opJobDownload, Err: fmt.Errorf("%w: %s", ErrMissingOutput, out)}
		}
		data, err := b.client.do(ctx, opJobDownload, http.MethodGet, u.FileURL, "", nil, false)
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(filepath.Base(names[i]), filepath.Ext(names[i]))
		docs = append(docs, transcript.Document{Name: base + ".json", Data: data})
	}
	return docs, nil
}

// call sends a signed JSON request under the job API and decodes the reply.
func (b *Batch) call(ctx context.Context, op, method, path string, body any) (jobResponse, error) {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return jobResponse{}, &provider.Error{Op: op, Err: err}
		}
		reader, contentType = bytes.NewReader(payload), "application/json"
	}

	raw, err := b.client.do(ctx, op, method, b.client.baseURL+"/"+path, contentType, reader, true)
	if err != nil {
		return jobResponse{}, err
	}

	var out jobResponse
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return jobResponse{}, &provider.Error{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}
