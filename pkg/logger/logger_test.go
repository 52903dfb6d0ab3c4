package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given logger initialization", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)
			So(Get(), ShouldNotBeNil)
			So(Sync(), ShouldBeNil)
		})

		Convey("When an unknown format is requested", func() {
			So(Init(WithFormat("xml")), ShouldNotBeNil)
		})
	})
}

func TestLoggerJSON(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithFormat("json"), WithOutput(&buf)), ShouldBeNil)
		ctx := context.Background()

		Convey("When logging with fields", func() {
			Get().With(String("job_id", "j-1")).Info(ctx, "chunked", Int("chunks", 3), Error(errors.New("boom")))

			Convey("Then the record carries fields and caller", func() {
				var rec map[string]any
				So(json.Unmarshal(buf.Bytes(), &rec), ShouldBeNil)
				So(rec["msg"], ShouldEqual, "chunked")
				So(rec["job_id"], ShouldEqual, "j-1")
				So(rec["chunks"], ShouldEqual, 3)
				So(rec["error"], ShouldEqual, "boom")
				So(rec["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When the level is raised", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			Get().Info(ctx, "hidden")
			So(buf.Len(), ShouldEqual, 0)
			So(SetLevelString("loud"), ShouldNotBeNil)
		})

		Convey("When a named logger is stored in a context", func() {
			lctx := WithContext(ctx, Named("worker"))
			FromContext(lctx).Info(ctx, "picked")

			Convey("Then fields are grouped under the name", func() {
				So(strings.Contains(buf.String(), `"worker":{`), ShouldBeTrue)
			})
		})

		Convey("When no logger is stored in a context", func() {
			So(FromContext(ctx), ShouldEqual, Get())
		})
	})
}
