package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/callqa/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.ChunkMaxDurationMS, convey.ShouldEqual, 3_600_000)
				convey.So(cfg.STTModel, convey.ShouldNotBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("CALLQA_ADDR", ":8080")
			_ = os.Setenv("CALLQA_QUEUE_SIZE", "64")
			_ = os.Setenv("CALLQA_WORKER_COUNT", "3")
			_ = os.Setenv("CALLQA_CHUNK_MAX_DURATION_MS", "1800000")
			_ = os.Setenv("CALLQA_SAVE_GRADING_FILES", "true")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
				convey.So(cfg.ChunkMaxDurationMS, convey.ShouldEqual, 1_800_000)
				convey.So(cfg.SaveGradingFiles, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with a YAML file and env overrides", func() {
			tmpFile := createTempConfigFile(t, `
addr: ":9090"
worker_count: 8
llm_model: "sarvam-m-large"
inbox_dir: "/srv/inbox"
`)
			_ = os.Setenv("CALLQA_CONFIG", tmpFile)
			_ = os.Setenv("CALLQA_WORKER_COUNT", "4")

			cfg, err := config.Load(ctx)

			convey.Convey("Then env beats file and file beats defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
				convey.So(cfg.LLMModel, convey.ShouldEqual, "sarvam-m-large")
				convey.So(cfg.InboxDir, convey.ShouldEqual, "/srv/inbox")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 256)
			})
		})

		convey.Convey("When the provider key comes from the vendor variable", func() {
			_ = os.Setenv("SARVAM_API_KEY", "sk-vendor")
			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.ProviderAPIKey, convey.ShouldEqual, "sk-vendor")

			convey.Convey("And the prefixed key wins when both are set", func() {
				_ = os.Setenv("CALLQA_PROVIDER_API_KEY", "sk-own")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.ProviderAPIKey, convey.ShouldEqual, "sk-own")
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(t, `invalid: yaml: content: [`)
			_ = os.Setenv("CALLQA_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("CALLQA_CONFIG", "/non/existent/file.yaml")
			cfg, err := config.Load(ctx)
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(cfg, convey.ShouldBeNil)
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("CALLQA_ADDR", "")
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "Addr")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When numeric limits are out of range", func() {
			_ = os.Setenv("CALLQA_WORKER_COUNT", "0")
			_ = os.Setenv("CALLQA_TEMPERATURE", "3.5")
			_, err := config.Load(ctx)

			convey.Convey("Then every failing field is reported", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "WorkerCount")
				convey.So(err.Error(), convey.ShouldContainSubstring, "Temperature")
			})
		})

		convey.Convey("When the log format is unknown", func() {
			_ = os.Setenv("CALLQA_LOG_FORMAT", "xml")
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a number cannot be parsed", func() {
			_ = os.Setenv("CALLQA_QUEUE_SIZE", "lots")
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

func clearConfigEnvVars() {
	for _, envVar := range []string{
		"CALLQA_CONFIG", "CALLQA_ADDR", "CALLQA_QUEUE_SIZE", "CALLQA_WORKER_COUNT",
		"CALLQA_CHUNK_MAX_DURATION_MS", "CALLQA_SAVE_GRADING_FILES", "CALLQA_PROVIDER_API_KEY",
		"CALLQA_TEMPERATURE", "CALLQA_LOG_FORMAT", "SARVAM_API_KEY",
	} {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "callqa-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	return f.Name()
}
