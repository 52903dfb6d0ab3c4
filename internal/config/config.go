// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Flat koanf keys; env vars map 1:1 after stripping the CALLQA_ prefix.
// - New(ctx) returns defaults; Load(ctx) layers file and env on top.
// - External errors are wrapped with this package's sentinels.
package config

import (
	"context"
	"path/filepath"
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// DataDir holds per-job run directories with chunks and artifacts.
	DataDir string `koanf:"data_dir" validate:"required"`
	// DatabasePath is the SQLite file for calls and scorecards.
	DatabasePath string `koanf:"database_path" validate:"required"`

	// QueueSize bounds the in-memory job queue.
	QueueSize int `koanf:"queue_size" validate:"gt=0"`
	// WorkerCount sets the number of pipeline workers.
	WorkerCount int `koanf:"worker_count" validate:"gt=0"`
	// DedupeSize sets how many recording fingerprints are remembered.
	DedupeSize int `koanf:"dedupe_size" validate:"gte=0"`
	// MaxUploadMB caps multipart uploads.
	MaxUploadMB int `koanf:"max_upload_mb" validate:"gt=0"`

	// ChunkMaxDurationMS is the longest audio sent to the provider per file.
	ChunkMaxDurationMS int64 `koanf:"chunk_max_duration_ms" validate:"gt=0"`

	// ProviderBaseURL is the speech/LLM API root.
	ProviderBaseURL string `koanf:"provider_base_url" validate:"required,url"`
	// ProviderAPIKey authenticates provider calls. Falls back to SARVAM_API_KEY.
	ProviderAPIKey string `koanf:"provider_api_key"`
	// ProviderTimeoutMS bounds each provider HTTP call.
	ProviderTimeoutMS int `koanf:"provider_timeout_ms" validate:"gt=0"`
	// STTMode selects the transcription API: batch (job upload, poll and
	// download) or sync (one request per chunk).
	STTMode string `koanf:"stt_mode" validate:"oneof=batch sync"`
	// STTPollIntervalMS is how often a batch job's status is checked.
	STTPollIntervalMS int `koanf:"stt_poll_interval_ms" validate:"gt=0"`
	// STTJobTimeoutMS bounds the wait for a started batch job.
	STTJobTimeoutMS int `koanf:"stt_job_timeout_ms" validate:"gt=0"`
	// STTModel is the speech-to-text-translate model.
	STTModel string `koanf:"stt_model" validate:"required"`
	// LLMModel is the chat completion model.
	LLMModel string `koanf:"llm_model" validate:"required"`
	// NumSpeakers hints the diarizer; 0 lets the provider decide.
	NumSpeakers int `koanf:"num_speakers" validate:"gte=0"`
	// Temperature for analysis and grading completions.
	Temperature float64 `koanf:"temperature" validate:"gte=0,lte=2"`
	// MaxTokens caps completion length; 0 leaves it to the provider.
	MaxTokens int `koanf:"max_tokens" validate:"gte=0"`

	// PromptsPath optionally overlays prompt templates from YAML.
	PromptsPath string `koanf:"prompts_path"`
	// ScorecardPath optionally seeds scorecard version 1 at startup (.csv/.yaml).
	ScorecardPath string `koanf:"scorecard_path"`
	// InboxDir enables the watch-folder when set.
	InboxDir string `koanf:"inbox_dir"`
	// SaveGradingFiles writes grading_{timestamp}.json into the run directory.
	SaveGradingFiles bool `koanf:"save_grading_files"`

	// OTLPEndpoint enables trace export (host:port) when set.
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	// OTLPInsecure disables TLS for the OTLP exporter.
	OTLPInsecure bool `koanf:"otlp_insecure"`
	// TraceSampleRate is the fraction of traces kept.
	TraceSampleRate float64 `koanf:"trace_sample_rate" validate:"gte=0,lte=1"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention and is currently unused.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		DataDir:            "data",
		DatabasePath:       filepath.Join("data", "calls.db"),
		QueueSize:          256,
		WorkerCount:        max(2, runtime.NumCPU()/2),
		DedupeSize:         10_000,
		MaxUploadMB:        512,
		ChunkMaxDurationMS: time.Hour.Milliseconds(),
		ProviderBaseURL:    "https://api.sarvam.ai",
		ProviderTimeoutMS:  600_000,
		STTMode:            "batch",
		STTPollIntervalMS:  5_000,
		STTJobTimeoutMS:    600_000,
		STTModel:           "saaras:v2.5",
		LLMModel:           "sarvam-m",
		NumSpeakers:        2,
		Temperature:        0,
		TraceSampleRate:    1,
	}
}

// ChunkMaxDuration returns ChunkMaxDurationMS as a time.Duration.
func (c *Config) ChunkMaxDuration() time.Duration {
	return time.Duration(c.ChunkMaxDurationMS) * time.Millisecond
}

// ProviderTimeout returns ProviderTimeoutMS as a time.Duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

// STTPollInterval returns STTPollIntervalMS as a time.Duration.
func (c *Config) STTPollInterval() time.Duration {
	return time.Duration(c.STTPollIntervalMS) * time.Millisecond
}

// STTJobTimeout returns STTJobTimeoutMS as a time.Duration.
func (c *Config) STTJobTimeout() time.Duration {
	return time.Duration(c.STTJobTimeoutMS) * time.Millisecond
}

// MaxUploadBytes returns MaxUploadMB in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
