package model_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
	"github.com/okian/callqa/internal/domain/transcript"
	. "github.com/smartystreets/goconvey/convey"
)

func TestOutcome(t *testing.T) {
	Convey("Given stage outcomes", t, func() {
		Convey("When a stage fails", func() {
			cause := errors.New("empty transcript")
			res := model.GradingOutcome{Outcome: model.Failed(cause), Raw: "nope"}

			Convey("Then the status, message and cause are kept", func() {
				So(res.OK(), ShouldBeFalse)
				So(res.Error, ShouldEqual, "empty transcript")
				So(errors.Is(res.Err, cause), ShouldBeTrue)
			})

			Convey("Then the JSON form is a flat status payload", func() {
				b, err := json.Marshal(res)
				So(err, ShouldBeNil)
				var m map[string]any
				So(json.Unmarshal(b, &m), ShouldBeNil)
				So(m["status"], ShouldEqual, "failed")
				So(m["error"], ShouldEqual, "empty transcript")
				So(m["raw"], ShouldEqual, "nope")
			})
		})

		Convey("When a stage succeeds", func() {
			So(model.Succeeded().OK(), ShouldBeTrue)
		})
	})
}

func TestCallRecord(t *testing.T) {
	Convey("Given a stored call", t, func() {
		Convey("When a grading object is present", func() {
			c := model.CallRecord{Grades: json.RawMessage(`{"grades":[{"criterion":"Greeting","score":5,"reasoning":"warm"}],"overall_score":4.5,"summary":"solid"}`)}
			res, err := c.Grading()
			So(err, ShouldBeNil)
			So(res.Grades, ShouldResemble, []grading.Item{{Criterion: "Greeting", Score: 5, Reasoning: "warm"}})
			So(res.OverallScore, ShouldEqual, 4.5)
			So(res.Summary, ShouldEqual, "solid")
		})

		Convey("When no grading ran", func() {
			for _, blob := range []json.RawMessage{nil, json.RawMessage(`{}`)} {
				res, err := model.CallRecord{Grades: blob}.Grading()
				So(err, ShouldBeNil)
				So(res.Grades, ShouldBeEmpty)
				So(res.OverallScore, ShouldEqual, 0)
			}
		})

		Convey("When timing is attached", func() {
			timing := &transcript.SpeakerTiming{}
			timing.Add("SPEAKER_01", 3)
			timing.Add("SPEAKER_00", 1.5)
			b, err := json.Marshal(model.CallRecord{ID: 1, Timing: timing, Fingerprint: "abc"})
			So(err, ShouldBeNil)
			So(string(b), ShouldContainSubstring, `"timing":{"SPEAKER_01":3,"SPEAKER_00":1.5}`)
			So(string(b), ShouldNotContainSubstring, "abc")
		})

		Convey("When job states are checked", func() {
			So(model.JobQueued.Done(), ShouldBeFalse)
			So(model.JobFailed.Done(), ShouldBeTrue)
		})
	})
}
