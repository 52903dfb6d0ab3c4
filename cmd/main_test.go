package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	service "github.com/okian/callqa/internal/app"
	"github.com/smartystreets/goconvey/convey"
)

// chatServer answers chat completions with reply.
func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNormalizeCommand(t *testing.T) {
	convey.Convey("Given downloaded provider documents", t, func() {
		t.Setenv("CALLQA_DATA_DIR", t.TempDir())
		raw := t.TempDir()
		writeFile(t, raw, "000_call.json", `{"diarized_transcript":{"entries":[{"speaker_id":"SPEAKER_00","transcript":"hello","start_time_seconds":0,"end_time_seconds":2}]}}`)
		writeFile(t, raw, "001_call.json", `{"diarized_transcript":{"entries":[{"speaker_id":"SPEAKER_01","transcript":"hi there","start_time_seconds":0,"end_time_seconds":3}]}}`)
		out := t.TempDir()

		convey.Convey("When normalize runs with an output directory", func() {
			stdout, err := run("normalize", raw, "-o", out)

			convey.Convey("Then the conversation is printed and written with its timing", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(stdout, convey.ShouldEqual, "SPEAKER_00: hello\nSPEAKER_01: hi there\n")
				_, err := os.Stat(filepath.Join(out, "_conversation.txt"))
				convey.So(err, convey.ShouldBeNil)
				timing, err := os.ReadFile(filepath.Join(out, "_timing.json"))
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(timing), convey.ShouldContainSubstring, "SPEAKER_01")
			})
		})

		convey.Convey("When the directory does not exist", func() {
			_, err := run("normalize", filepath.Join(raw, "missing"))
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestGradeAndAskCommands(t *testing.T) {
	convey.Convey("Given a transcript and a scorecard", t, func() {
		dir := t.TempDir()
		t.Setenv("CALLQA_DATA_DIR", dir)
		transcriptPath := writeFile(t, dir, "call_conversation.txt", "SPEAKER_00: Thank you for calling.\nSPEAKER_01: Hi.\n")
		scorecard := writeFile(t, dir, "scorecard.csv", "Criterion\nGreeting\n")

		convey.Convey("When the model returns grades", func() {
			srv := chatServer(t, "```json\n{\"grades\":[{\"criterion\":\"Greeting\",\"score\":5,\"reasoning\":\"warm\"}],\"overall_score\":5,\"summary\":\"good\"}\n```")
			t.Setenv("CALLQA_PROVIDER_BASE_URL", srv.URL)
			stdout, err := run("grade", "--transcript", transcriptPath, "--scorecard", scorecard)

			convey.Convey("Then the grading result is printed", func() {
				convey.So(err, convey.ShouldBeNil)
				var res map[string]any
				convey.So(json.Unmarshal([]byte(stdout), &res), convey.ShouldBeNil)
				convey.So(res["status"], convey.ShouldEqual, "success")
				convey.So(res["overall_score"], convey.ShouldEqual, 5.0)
			})
		})

		convey.Convey("When the model reply is not JSON", func() {
			srv := chatServer(t, "I cannot grade this.")
			t.Setenv("CALLQA_PROVIDER_BASE_URL", srv.URL)
			stdout, err := run("grade", "--transcript", transcriptPath, "--scorecard", scorecard)

			convey.Convey("Then the failure keeps the raw reply", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(stdout, convey.ShouldContainSubstring, "I cannot grade this.")
			})
		})

		convey.Convey("When a question is asked", func() {
			srv := chatServer(t, "The customer said hi.")
			t.Setenv("CALLQA_PROVIDER_BASE_URL", srv.URL)
			stdout, err := run("ask", "--transcript", transcriptPath, "What", "did", "the", "customer", "say?")

			convey.Convey("Then the answer is printed and saved next to the transcript", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(strings.TrimSpace(stdout), convey.ShouldEqual, "The customer said hi.")
				matches, _ := filepath.Glob(filepath.Join(dir, "*_question_*.txt"))
				convey.So(matches, convey.ShouldHaveLength, 1)
			})
		})

		convey.Convey("When required flags are missing", func() {
			_, err := run("grade", "--transcript", transcriptPath)
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the root command", t, func() {
		convey.Convey("Then every subcommand is registered", func() {
			var names []string
			for _, c := range newRootCmd().Commands() {
				names = append(names, c.Name())
			}
			for _, want := range []string{"serve", "process", "normalize", "grade", "ask"} {
				convey.So(names, convey.ShouldContain, want)
			}
		})

		convey.Convey("When the configuration is invalid", func() {
			t.Setenv("CALLQA_ADDR", "")
			_, err := run("normalize", t.TempDir())

			convey.Convey("Then the command fails before running", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When process is given no audio", func() {
			_, err := run("process")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestServiceMetricsUpdate(t *testing.T) {
	convey.Convey("Given a started service", t, func() {
		dir := t.TempDir()
		t.Setenv("CALLQA_DATA_DIR", dir)
		c := &cli{}
		root := newRootCmd()
		root.SetContext(context.Background())
		convey.So(c.init(root), convey.ShouldBeNil)

		p, err := c.pipeline()
		convey.So(err, convey.ShouldBeNil)
		svc := service.New(p, service.WithDataDir(dir))
		convey.So(svc.Start(context.Background()), convey.ShouldBeNil)
		defer svc.Stop()

		convey.Convey("Then updating service metrics does not panic", func() {
			convey.So(func() { updateServiceMetrics(svc) }, convey.ShouldNotPanic)
			convey.So(registerRuntimeCollectors, convey.ShouldNotPanic)
			convey.So(registerRuntimeCollectors, convey.ShouldNotPanic)
		})
	})
}
