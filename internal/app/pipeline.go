package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/callqa/internal/adapters/artifacts"
	"github.com/okian/callqa/internal/domain/audio"
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
	"github.com/okian/callqa/internal/domain/prompts"
	"github.com/okian/callqa/internal/domain/provider"
	"github.com/okian/callqa/internal/domain/transcript"
	"github.com/okian/callqa/pkg/logger"
	"github.com/okian/callqa/pkg/metrics"
	"github.com/okian/callqa/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
)

const chunksDir = "chunks"

// Pipeline runs the per-call stages against injected providers. Every
// stage reports expected failures through its result's Outcome.
type Pipeline struct {
	stt     provider.Transcriber
	llm     provider.Completer
	chunker *audio.Chunker
	prompts prompts.Set

	maxChunk    time.Duration
	sttModel    string
	numSpeakers int
	temperature float64
	maxTokens   int
	saveGrading bool

	logger logger.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithChunker replaces the audio chunker.
func WithChunker(c *audio.Chunker) PipelineOption {
	return func(p *Pipeline) {
		if c != nil {
			p.chunker = c
		}
	}
}

// WithPrompts sets the prompt templates.
func WithPrompts(s prompts.Set) PipelineOption {
	return func(p *Pipeline) {
		p.prompts = s
	}
}

// WithMaxChunkDuration bounds the audio length of each transcription upload.
func WithMaxChunkDuration(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.maxChunk = d
		}
	}
}

// WithTranscription sets the speech model and the speaker count hint.
func WithTranscription(model string, numSpeakers int) PipelineOption {
	return func(p *Pipeline) {
		p.sttModel = model
		p.numSpeakers = numSpeakers
	}
}

// WithCompletion sets sampling temperature and the reply token cap.
func WithCompletion(temperature float64, maxTokens int) PipelineOption {
	return func(p *Pipeline) {
		p.temperature = temperature
		p.maxTokens = maxTokens
	}
}

// WithGradingFiles writes grading_{timestamp}.json after each successful grading.
func WithGradingFiles(enabled bool) PipelineOption {
	return func(p *Pipeline) {
		p.saveGrading = enabled
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(stt provider.Transcriber, llm provider.Completer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		stt:      stt,
		llm:      llm,
		chunker:  audio.NewChunker(),
		prompts:  prompts.Default(),
		maxChunk: audio.DefaultMaxDuration,
		logger:   logger.Get().Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Transcribe chunks every recording, transcribes the chunks in order,
// normalizes the provider documents and writes the conversation, timing and
// raw documents under outDir.
func (p *Pipeline) Transcribe(ctx context.Context, paths []string, outDir string) model.TranscriptionResult {
	if len(paths) == 0 {
		return model.TranscriptionResult{Outcome: model.Failed(errNoAudio)}
	}
	ctx, span := tracing.Start(ctx, "pipeline.transcribe", attribute.Int("audio.files", len(paths)))
	res, err := p.transcribe(ctx, paths, outDir)
	tracing.End(span, err)
	if err != nil {
		p.logger.Warn(ctx, "transcription failed", logger.Strings("paths", paths), logger.Error(err))
		return model.TranscriptionResult{Outcome: model.Failed(err), Chunks: res.Chunks, Artifacts: res.Artifacts}
	}
	res.Outcome = model.Succeeded()
	return res
}

func (p *Pipeline) transcribe(ctx context.Context, paths []string, outDir string) (model.TranscriptionResult, error) {
	var res model.TranscriptionResult
	w := artifacts.NewWriter(outDir)
	res.Artifacts.RunDir = outDir

	chunkDir := filepath.Join(outDir, chunksDir)
	if _, err := os.Stat(chunkDir); errors.Is(err, fs.ErrNotExist) {
		// Chunks only live until the provider has them.
		defer p.discardChunks(ctx, chunkDir)
	}

	var chunks []audio.Chunk
	err := p.stage(ctx, metrics.StageChunk, func(ctx context.Context) error {
		for _, path := range paths {
			cs, err := p.chunker.Split(ctx, path, p.maxChunk, chunkDir)
			if err != nil {
				return err
			}
			chunks = append(chunks, cs...)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	res.Chunks = len(chunks)
	metrics.RecordAudioChunks(len(chunks))

	var docs []transcript.Document
	err = p.stage(ctx, metrics.StageTranscribe, func(ctx context.Context) error {
		var err error
		docs, err = p.stt.Transcribe(ctx, provider.TranscriptionRequest{
			Paths:       audio.Paths(chunks),
			Model:       p.sttModel,
			NumSpeakers: p.numSpeakers,
			Diarize:     true,
		})
		return err
	})
	if err != nil {
		return res, err
	}

	err = p.stage(ctx, metrics.StageNormalize, func(context.Context) error {
		rawDir, err := w.RawDocuments(docs)
		if err != nil {
			return err
		}
		res.Artifacts.RawDir = rawDir

		rec, err := transcript.Normalize(docs)
		if err != nil {
			return err
		}
		timing := transcript.Aggregate(rec)
		text := transcript.FormatTranscript(rec)
		metrics.RecordNormalized(len(docs), rec.Len())
		metrics.RecordSpeakingSeconds(timing.Total())

		if res.Artifacts.Conversation, err = w.Conversation(text); err != nil {
			return err
		}
		if res.Artifacts.Timing, err = w.Timing(timing); err != nil {
			return err
		}
		res.Record, res.Timing, res.Transcript = rec, timing, text
		return nil
	})
	return res, err
}

func (p *Pipeline) discardChunks(ctx context.Context, dir string) {
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn(ctx, "removing chunks", logger.String("dir", dir), logger.Error(err))
	}
}

// Analyze asks the model for a free-form analysis of transcript and writes
// it under outDir when outDir is set.
func (p *Pipeline) Analyze(ctx context.Context, text, outDir string) model.AnalysisResult {
	if strings.TrimSpace(text) == "" {
		return model.AnalysisResult{Outcome: model.Failed(errEmptyTranscript)}
	}
	var res model.AnalysisResult
	err := p.stage(ctx, metrics.StageAnalyze, func(ctx context.Context) error {
		prompt, err := p.prompts.RenderAnalysis(text)
		if err != nil {
			return err
		}
		if res.Analysis, err = p.complete(ctx, prompt); err != nil {
			return err
		}
		if outDir != "" {
			res.Path, err = artifacts.NewWriter(outDir).Analysis(res.Analysis)
		}
		return err
	})
	if err != nil {
		return model.AnalysisResult{Outcome: model.Failed(err), Analysis: res.Analysis}
	}
	res.Outcome = model.Succeeded()
	return res
}

// Summarize condenses an analysis into short per-section labels.
func (p *Pipeline) Summarize(ctx context.Context, analysis string) model.SummaryResult {
	if strings.TrimSpace(analysis) == "" {
		return model.SummaryResult{Outcome: model.Failed(errEmptyAnalysis)}
	}
	var res model.SummaryResult
	err := p.stage(ctx, metrics.StageSummarize, func(ctx context.Context) error {
		prompt, err := p.prompts.RenderSummary(analysis)
		if err != nil {
			return err
		}
		res.Summary, err = p.complete(ctx, prompt)
		return err
	})
	if err != nil {
		return model.SummaryResult{Outcome: model.Failed(err)}
	}
	res.Outcome = model.Succeeded()
	return res
}

// Ask answers a free-form question about transcript. The answer is written
// to {outDir}/_question_{digest}.txt when outDir is set.
func (p *Pipeline) Ask(ctx context.Context, text, question, outDir string) model.AnswerResult {
	res := model.AnswerResult{Question: question}
	switch {
	case strings.TrimSpace(text) == "":
		res.Outcome = model.Failed(errEmptyTranscript)
		return res
	case strings.TrimSpace(question) == "":
		res.Outcome = model.Failed(errEmptyQuestion)
		return res
	}
	err := p.stage(ctx, metrics.StageAsk, func(ctx context.Context) error {
		prompt, err := p.prompts.RenderQuestion(text, question)
		if err != nil {
			return err
		}
		if res.Answer, err = p.complete(ctx, prompt); err != nil {
			return err
		}
		if outDir != "" {
			res.Path, err = artifacts.NewWriter(outDir).Answer(question, res.Answer)
		}
		return err
	})
	if err != nil {
		res.Outcome = model.Failed(err)
		return res
	}
	res.Outcome = model.Succeeded()
	return res
}

// Grade scores transcript against criteria. An unparseable reply fails the
// attempt but keeps the raw model output.
func (p *Pipeline) Grade(ctx context.Context, text string, criteria []grading.Criterion, outDir string) model.GradingOutcome {
	switch {
	case strings.TrimSpace(text) == "":
		return model.GradingOutcome{Outcome: model.Failed(errEmptyTranscript)}
	case len(criteria) == 0:
		return model.GradingOutcome{Outcome: model.Failed(errNoCriteria)}
	}

	var res model.GradingOutcome
	err := p.stage(ctx, metrics.StageGrade, func(ctx context.Context) error {
		lines := make([]string, 0, len(criteria))
		for _, c := range criteria {
			lines = append(lines, c.String())
		}
		prompt, err := p.prompts.RenderGrading(text, lines)
		if err != nil {
			return err
		}
		if res.Raw, err = p.complete(ctx, prompt); err != nil {
			return err
		}
		parsed, err := grading.Parse(res.Raw)
		if err != nil {
			if errors.Is(err, grading.ErrParse) {
				metrics.RecordGradingParseFailure()
			}
			return err
		}
		res.Grades, res.OverallScore, res.Summary = parsed.Grades, parsed.OverallScore, parsed.Summary
		return nil
	})
	if err != nil {
		return model.GradingOutcome{Outcome: model.Failed(err), Raw: res.Raw}
	}
	res.Outcome = model.Succeeded()

	if p.saveGrading && outDir != "" {
		path, werr := artifacts.NewWriter(outDir).Grading(res)
		if werr != nil {
			p.logger.Warn(ctx, "grading file not written", logger.Error(werr))
		} else {
			res.Path = path
		}
	}
	return res
}

func (p *Pipeline) complete(ctx context.Context, prompt prompts.Prompt) (string, error) {
	return p.llm.Complete(ctx, provider.CompletionRequest{
		Messages:    provider.Messages(prompt.System, prompt.User),
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
}

// stage runs fn inside a span and records its latency and failure.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracing.Start(ctx, "pipeline."+name)
	start := time.Now()
	err := fn(ctx)
	metrics.RecordStageLatency(name, float64(time.Since(start).Microseconds())/1000)
	if err != nil {
		metrics.RecordStageFailure(name)
	}
	tracing.End(span, err)
	return err
}
