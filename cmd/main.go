// Command callqa transcribes, analyzes and grades call recordings, either as
// an HTTP service or one-off from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/callqa/internal/adapters/provider/sarvam"
	service "github.com/okian/callqa/internal/app"
	"github.com/okian/callqa/internal/config"
	"github.com/okian/callqa/internal/domain/prompts"
	"github.com/okian/callqa/internal/domain/provider"
	"github.com/okian/callqa/pkg/logger"
	"github.com/spf13/cobra"
)

const serviceName = "callqa"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1) //nolint:gocritic // exitAfterDefer: stop already called
	}
}

// cli carries what every subcommand shares once the root has loaded it.
type cli struct {
	cfg *config.Config
	log logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Call recording transcription, analysis and scorecard grading",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}
	root.AddCommand(
		c.serveCmd(),
		c.processCmd(),
		c.normalizeCmd(),
		c.gradeCmd(),
		c.askCmd(),
	)
	return root
}

// init loads configuration (defaults -> optional file -> env) and sets up
// logging on stderr so command output on stdout stays machine readable.
func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
		return err
	}
	c.cfg, c.log = cfg, logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		c.log.Warn(cmd.Context(), "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

func (c *cli) sarvamClient() *sarvam.Client {
	return sarvam.New(
		sarvam.WithBaseURL(c.cfg.ProviderBaseURL),
		sarvam.WithAPIKey(c.cfg.ProviderAPIKey),
		sarvam.WithModel(c.cfg.LLMModel),
		sarvam.WithTimeout(c.cfg.ProviderTimeout()),
		sarvam.WithLogger(c.log.Named("sarvam")),
	)
}

// transcriber picks the speech-to-text API configured by stt_mode.
func (c *cli) transcriber(client *sarvam.Client) provider.Transcriber {
	if c.cfg.STTMode == "sync" {
		return client
	}
	return sarvam.NewBatch(client,
		sarvam.WithPollInterval(c.cfg.STTPollInterval()),
		sarvam.WithJobTimeout(c.cfg.STTJobTimeout()),
	)
}

func (c *cli) pipeline() (*service.Pipeline, error) {
	set, err := prompts.Load(c.cfg.PromptsPath)
	if err != nil {
		return nil, err
	}
	client := c.sarvamClient()
	return service.NewPipeline(c.transcriber(client), client,
		service.WithPrompts(set),
		service.WithMaxChunkDuration(c.cfg.ChunkMaxDuration()),
		service.WithTranscription(c.cfg.STTModel, c.cfg.NumSpeakers),
		service.WithCompletion(c.cfg.Temperature, c.cfg.MaxTokens),
		service.WithGradingFiles(c.cfg.SaveGradingFiles),
		service.WithPipelineLogger(c.log.Named("pipeline")),
	), nil
}
