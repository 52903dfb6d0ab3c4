// Package sarvam talks to the Sarvam AI REST API for diarized
// speech-to-text translation and chat completions.
package sarvam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/okian/callqa/internal/domain/provider"
	"github.com/okian/callqa/internal/domain/transcript"
	"github.com/okian/callqa/pkg/logger"
	"github.com/okian/callqa/pkg/metrics"
	"github.com/okian/callqa/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL = "https://api.sarvam.ai"
	DefaultModel   = "sarvam-m"

	headerAPIKey = "api-subscription-key"

	opTranscribe = "speech-to-text-translate"
	opComplete   = "chat/completions"

	defaultTimeout = 10 * time.Minute
	maxErrorBody   = 4 << 10
)

// ErrEmptyCompletion is returned when the model answered without any choice.
var ErrEmptyCompletion = errors.New("completion has no choices")

// Client implements provider.Transcriber and provider.Completer. Transcribe
// uses the synchronous endpoint, one upload per file; see Batch for the job API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	http    *http.Client
	logger  logger.Logger
	logOnce sync.Once
}

var (
	_ provider.Transcriber = (*Client)(nil)
	_ provider.Completer   = (*Client)(nil)
)

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c
}

type chatRequest struct {
	Messages    []provider.Message `json:"messages"`
	Model       string             `json:"model"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message provider.Message `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req provider.CompletionRequest) (string, error) {
	ctx, span := tracing.Start(ctx, "sarvam.complete",
		attribute.String("llm.model", c.model),
		attribute.Int("llm.messages", len(req.Messages)),
	)
	start := time.Now()
	answer, err := c.complete(ctx, req)
	c.observe(ctx, opComplete, start, err)
	tracing.End(span, err)
	return answer, err
}

func (c *Client) complete(ctx context.Context, req provider.CompletionRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Messages:    req.Messages,
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", &provider.Error{Op: opComplete, Err: err}
	}

	raw, err := c.post(ctx, opComplete, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &provider.Error{Op: opComplete, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &provider.Error{Op: opComplete, Err: ErrEmptyCompletion}
	}
	return out.Choices[0].Message.Content, nil
}

// Transcribe uploads each path in turn and returns the raw result documents.
// Documents are named "{NNN}_{file}.json" so their lexical order is the
// input order.
func (c *Client) Transcribe(ctx context.Context, req provider.TranscriptionRequest) ([]transcript.Document, error) {
	docs := make([]transcript.Document, 0, len(req.Paths))
	for i, path := range req.Paths {
		ctx, span := tracing.Start(ctx, "sarvam.transcribe",
			attribute.String("audio.path", path),
			attribute.Int("audio.index", i),
		)
		start := time.Now()
		data, err := c.transcribe(ctx, path, req)
		c.observe(ctx, opTranscribe, start, err)
		tracing.End(span, err)
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		docs = append(docs, transcript.Document{
			Name: fmt.Sprintf("%03d_%s.json", i, base),
			Data: data,
		})
	}
	return docs, nil
}

func (c *Client) transcribe(ctx context.Context, path string, req provider.TranscriptionRequest) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &provider.Error{Op: opTranscribe, Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, &provider.Error{Op: opTranscribe, Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, &provider.Error{Op: opTranscribe, Err: fmt.Errorf("read audio: %w", err)}
	}
	if req.Model != "" {
		_ = w.WriteField("model", req.Model)
	}
	if req.Diarize {
		_ = w.WriteField("with_diarization", "true")
		if req.NumSpeakers > 0 {
			_ = w.WriteField("num_speakers", strconv.Itoa(req.NumSpeakers))
		}
	}
	if err := w.Close(); err != nil {
		return nil, &provider.Error{Op: opTranscribe, Err: err}
	}

	return c.post(ctx, opTranscribe, w.FormDataContentType(), &buf)
}

func (c *Client) post(ctx context.Context, op, contentType string, body io.Reader) ([]byte, error) {
	return c.do(ctx, op, http.MethodPost, c.baseURL+"/"+op, contentType, body, true)
}

// do sends one request. Signed requests carry the subscription key; presigned
// storage URLs must not.
func (c *Client) do(ctx context.Context, op, method, url, contentType string, body io.Reader, signed bool, headers ...string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &provider.Error{Op: op, Err: err}
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if signed && c.apiKey != "" {
		httpReq.Header.Set(headerAPIKey, c.apiKey)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		httpReq.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &provider.Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &provider.Error{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.Error{Op: op, Status: resp.StatusCode, Err: err}
	}
	return raw, nil
}

func (c *Client) observe(ctx context.Context, op string, start time.Time, err error) {
	latency := float64(time.Since(start).Milliseconds())
	outcome := "success"
	if err != nil {
		outcome = "error"
		metrics.RecordErrorByComponent("sarvam", op)
		c.log().Warn(ctx, "provider request failed",
			logger.String("op", op),
			logger.Error(err),
		)
	}
	metrics.RecordProviderRequest(op, outcome, latency)
}

func (c *Client) log() logger.Logger {
	c.logOnce.Do(func() {
		if c.logger == nil {
			c.logger = logger.Get().Named("sarvam")
		}
	})
	return c.logger
}
