package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/callqa/internal/adapters/http/api"
	"github.com/okian/callqa/internal/adapters/repository"
	service "github.com/okian/callqa/internal/app"
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
	"github.com/okian/callqa/internal/domain/transcript"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockDeps struct {
	uploads    []service.Upload
	bodies     []string
	dup        bool
	submitErr  error
	calls      map[int64]model.CallRecord
	jobs       map[string]model.JobStatus
	answer     model.AnswerResult
	scorecards map[int]model.Scorecard
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		calls:      map[int64]model.CallRecord{7: {ID: 7, Filename: "a.wav", Transcript: "SPEAKER_00: hi\n"}},
		jobs:       map[string]model.JobStatus{"job-1": {JobID: "job-1", State: model.JobRunning}},
		scorecards: map[int]model.Scorecard{},
	}
}

func (m *mockDeps) Submit(_ context.Context, up service.Upload) (model.Job, bool, error) {
	if m.submitErr != nil {
		return model.Job{}, false, m.submitErr
	}
	b, _ := io.ReadAll(up.Body)
	m.uploads = append(m.uploads, up)
	m.bodies = append(m.bodies, string(b))
	return model.Job{ID: "job-1", Filename: up.Filename, Criteria: up.Criteria}, m.dup, nil
}

func (m *mockDeps) JobState(_ context.Context, id string) (model.JobStatus, error) {
	st, ok := m.jobs[id]
	if !ok {
		return model.JobStatus{}, fmt.Errorf("%w: %s", service.ErrJobNotFound, id)
	}
	return st, nil
}

func (m *mockDeps) Calls(context.Context) ([]model.CallRecord, error) {
	out := make([]model.CallRecord, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockDeps) Call(_ context.Context, id int64) (model.CallRecord, error) {
	c, ok := m.calls[id]
	if !ok {
		return model.CallRecord{}, repository.ErrNotFound
	}
	return c, nil
}

func (m *mockDeps) DeleteCall(_ context.Context, id int64) (bool, error) {
	_, ok := m.calls[id]
	delete(m.calls, id)
	return ok, nil
}

func (m *mockDeps) Ask(ctx context.Context, id int64, q string) (model.AnswerResult, error) {
	if _, err := m.Call(ctx, id); err != nil {
		return model.AnswerResult{}, err
	}
	if strings.TrimSpace(q) == "" {
		return model.AnswerResult{Outcome: model.Failed(fmt.Errorf("%w: empty question", service.ErrEmptyInput))}, nil
	}
	res := m.answer
	res.Question = q
	return res, nil
}

func (m *mockDeps) Summarize(ctx context.Context, id int64) (model.SummaryResult, error) {
	if _, err := m.Call(ctx, id); err != nil {
		return model.SummaryResult{}, err
	}
	return model.SummaryResult{Outcome: model.Succeeded(), Summary: "short"}, nil
}

func (m *mockDeps) SaveScorecard(_ context.Context, sc model.Scorecard) (model.Scorecard, error) {
	if len(sc.Criteria) == 0 {
		return model.Scorecard{}, grading.ErrNoCriteria
	}
	m.scorecards[sc.Version] = sc
	return sc, nil
}

func (m *mockDeps) Scorecard(_ context.Context, v int) (model.Scorecard, error) {
	sc, ok := m.scorecards[v]
	if !ok {
		return model.Scorecard{}, repository.ErrNotFound
	}
	return sc, nil
}

func (m *mockDeps) LatestScorecard(context.Context) (model.Scorecard, error) {
	best := 0
	for v := range m.scorecards {
		best = max(best, v)
	}
	return m.Scorecard(context.Background(), best)
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newHandler(deps *mockDeps, opts ...api.Option) http.Handler {
	stats := &mockStatsProvider{stats: map[string]interface{}{"started": true}}
	return api.NewServer(deps, stats, opts...).Handler(context.Background())
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func uploadRequest(fields map[string][]string, audio string) *http.Request {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			_ = mw.WriteField(k, v)
		}
	}
	if audio != "" {
		fw, _ := mw.CreateFormFile("audio", "call.wav")
		_, _ = fw.Write([]byte(audio))
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/calls", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(w *httptest.ResponseRecorder) map[string]string {
	var out map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		h := newHandler(newMockDeps())

		Convey("Then health reports ok", func() {
			w := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
		})

		Convey("Then stats are served as JSON", func() {
			w := do(h, httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then metrics are exposed for scraping", func() {
			do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			w := do(h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "/healthz")
		})

		Convey("Then unknown routes get a JSON 404", func() {
			w := do(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(w)["code"], ShouldEqual, "not_found")
		})

		Convey("Then wrong methods get a JSON 405", func() {
			w := do(h, httptest.NewRequest(http.MethodPatch, "/calls", nil))
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestCallsHandler_Submit(t *testing.T) {
	Convey("Given a calls endpoint", t, func() {
		deps := newMockDeps()
		h := newHandler(deps)

		Convey("When a recording is uploaded with criteria", func() {
			w := do(h, uploadRequest(map[string][]string{"criterion": {"Greeting", " ", "Closing"}}, "RIFF"))

			Convey("Then it is accepted and forwarded", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(deps.uploads, ShouldHaveLength, 1)
				So(deps.uploads[0].Filename, ShouldEqual, "call.wav")
				So(grading.Names(deps.uploads[0].Criteria), ShouldResemble, []string{"Greeting", "Closing"})
				So(deps.bodies[0], ShouldEqual, "RIFF")

				var ack map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &ack), ShouldBeNil)
				So(ack["status"], ShouldEqual, "accepted")
				So(ack["duplicate"], ShouldEqual, false)
			})
		})

		Convey("When a scorecard version is pinned", func() {
			w := do(h, uploadRequest(map[string][]string{"scorecard_version": {"3"}}, "RIFF"))
			So(w.Code, ShouldEqual, http.StatusAccepted)
			So(deps.uploads[0].ScorecardVersion, ShouldEqual, 3)
			So(deps.uploads[0].Criteria, ShouldBeEmpty)
		})

		Convey("When the scorecard version is not a number", func() {
			w := do(h, uploadRequest(map[string][]string{"scorecard_version": {"x"}}, "RIFF"))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the audio part is missing", func() {
			w := do(h, uploadRequest(map[string][]string{"criterion": {"Greeting"}}, ""))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w)["message"], ShouldContainSubstring, "missing audio file")
		})

		Convey("When the body is not multipart", func() {
			w := do(h, httptest.NewRequest(http.MethodPost, "/calls", strings.NewReader("{}")))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the upload exceeds the limit", func() {
			small := newHandler(deps, api.WithMaxUploadBytes(64))
			w := do(small, uploadRequest(nil, strings.Repeat("x", 1024)))
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
		})

		Convey("When the recording was already submitted", func() {
			deps.dup = true
			w := do(h, uploadRequest(nil, "RIFF"))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"duplicate":true`)
		})

		Convey("When the queue is full", func() {
			deps.submitErr = service.ErrBackpressure
			w := do(h, uploadRequest(nil, "RIFF"))
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decodeError(w)["code"], ShouldEqual, "backpressure")
		})

		Convey("When the service is not running", func() {
			deps.submitErr = service.ErrNotStarted
			w := do(h, uploadRequest(nil, "RIFF"))
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestCallsHandler_Queries(t *testing.T) {
	Convey("Given stored calls and jobs", t, func() {
		deps := newMockDeps()
		h := newHandler(deps)

		Convey("When a job is queried", func() {
			w := do(h, httptest.NewRequest(http.MethodGet, "/jobs/job-1", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"state":"running"`)

			w = do(h, httptest.NewRequest(http.MethodGet, "/jobs/missing", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When calls are listed and fetched", func() {
			w := do(h, httptest.NewRequest(http.MethodGet, "/calls", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			var calls []model.CallRecord
			So(json.Unmarshal(w.Body.Bytes(), &calls), ShouldBeNil)
			So(calls, ShouldHaveLength, 1)

			w = do(h, httptest.NewRequest(http.MethodGet, "/calls/7", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "SPEAKER_00: hi")

			w = do(h, httptest.NewRequest(http.MethodGet, "/calls/8", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When speaker timing is requested", func() {
			timing := &transcript.SpeakerTiming{}
			timing.Add("SPEAKER_01", 30)
			timing.Add("SPEAKER_00", 12.5)
			deps.calls[9] = model.CallRecord{ID: 9, Filename: "b.wav", Timing: timing}

			w := do(h, httptest.NewRequest(http.MethodGet, "/calls/9/timing", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"timing":{"SPEAKER_01":30,"SPEAKER_00":12.5}`)
			So(w.Body.String(), ShouldContainSubstring, `"total_seconds":42.5`)

			w = do(h, httptest.NewRequest(http.MethodGet, "/calls/7/timing", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
			w = do(h, httptest.NewRequest(http.MethodGet, "/calls/8/timing", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When a call is deleted", func() {
			w := do(h, httptest.NewRequest(http.MethodDelete, "/calls/7", nil))
			So(w.Code, ShouldEqual, http.StatusNoContent)
			w = do(h, httptest.NewRequest(http.MethodDelete, "/calls/7", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When a question is asked", func() {
			deps.answer = model.AnswerResult{Outcome: model.Succeeded(), Answer: "Yes."}
			req := httptest.NewRequest(http.MethodPost, "/calls/7/questions", strings.NewReader(`{"question":"Polite?"}`))
			w := do(h, req)

			Convey("Then the answer is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var res map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &res), ShouldBeNil)
				So(res["question"], ShouldEqual, "Polite?")
				So(res["answer"], ShouldEqual, "Yes.")
			})
		})

		Convey("When the question is empty", func() {
			w := do(h, httptest.NewRequest(http.MethodPost, "/calls/7/questions", strings.NewReader(`{"question":""}`)))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the provider fails", func() {
			deps.answer = model.AnswerResult{Outcome: model.Failed(errors.New("provider error: status 503"))}
			w := do(h, httptest.NewRequest(http.MethodPost, "/calls/7/questions", strings.NewReader(`{"question":"Polite?"}`)))
			So(w.Code, ShouldEqual, http.StatusBadGateway)
			So(decodeError(w)["code"], ShouldEqual, "provider_error")
		})

		Convey("When the question body is malformed", func() {
			w := do(h, httptest.NewRequest(http.MethodPost, "/calls/7/questions", strings.NewReader(`{`)))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a summary is requested", func() {
			w := do(h, httptest.NewRequest(http.MethodPost, "/calls/7/summary", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"summary":"short"`)
		})

		Convey("When the call id is not numeric", func() {
			w := do(h, httptest.NewRequest(http.MethodGet, "/calls/abc", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestScorecardsHandler(t *testing.T) {
	Convey("Given a scorecards endpoint", t, func() {
		deps := newMockDeps()
		h := newHandler(deps)

		Convey("When no scorecard exists", func() {
			w := do(h, httptest.NewRequest(http.MethodGet, "/scorecards/latest", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When scorecards are stored as JSON and CSV", func() {
			w := do(h, httptest.NewRequest(http.MethodPut, "/scorecards/1",
				strings.NewReader(`{"criteria":[{"criterion":"Greeting"}]}`)))
			So(w.Code, ShouldEqual, http.StatusOK)

			req := httptest.NewRequest(http.MethodPut, "/scorecards/2",
				strings.NewReader("Criteria,Description\nClosing,Ends politely\nEmpathy,\n"))
			req.Header.Set("Content-Type", "text/csv")
			w = do(h, req)
			So(w.Code, ShouldEqual, http.StatusOK)

			Convey("Then the latest and a specific version can be read", func() {
				w := do(h, httptest.NewRequest(http.MethodGet, "/scorecards/latest", nil))
				So(w.Code, ShouldEqual, http.StatusOK)
				var sc model.Scorecard
				So(json.Unmarshal(w.Body.Bytes(), &sc), ShouldBeNil)
				So(sc.Version, ShouldEqual, 2)
				So(grading.Names(sc.Criteria), ShouldResemble, []string{"Closing", "Empathy"})

				w = do(h, httptest.NewRequest(http.MethodGet, "/scorecards/1", nil))
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "Greeting")
			})
		})

		Convey("When a scorecard has no criteria", func() {
			w := do(h, httptest.NewRequest(http.MethodPut, "/scorecards/3", strings.NewReader(`{"criteria":[]}`)))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body is not JSON", func() {
			w := do(h, httptest.NewRequest(http.MethodPut, "/scorecards/3", strings.NewReader(`nope`)))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
