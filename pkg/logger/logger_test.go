package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Init installs a global logger", t, func() {
		So(Init(), ShouldBeNil)
		So(Get(), ShouldNotBeNil)
		So(Sync(), ShouldBeNil)
	})

	Convey("Init rejects unknown formats", t, func() {
		So(Init(WithFormat("xml")), ShouldNotBeNil)
		So(Init(), ShouldBeNil)
	})
}

func TestLoggerOutput(t *testing.T) {
	ctx := context.Background()

	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithWriter(&buf), WithFormat("json")), ShouldBeNil)

		Convey("Fields and the caller are written", func() {
			Get().Info(ctx, "trace applied",
				String("student", "42"),
				Int64("applied", 3),
				Bool("async", false),
				Duration("took", time.Millisecond),
				Error(errors.New("boom")))

			var entry map[string]any
			So(json.Unmarshal(buf.Bytes(), &entry), ShouldBeNil)
			So(entry["msg"], ShouldEqual, "trace applied")
			So(entry["student"], ShouldEqual, "42")
			So(entry["source"], ShouldContainSubstring, "logger_test.go")
		})

		Convey("Secret-like keys are redacted", func() {
			Get().With(String("api_key", "s3cret")).Warn(ctx, "auth", String("authorization", "Bearer s3cret"), String("refresh_token", "x"))
			So(buf.String(), ShouldNotContainSubstring, "s3cret")
			So(strings.Count(buf.String(), redacted), ShouldEqual, 3)
		})

		Convey("Entries below the level are dropped", func() {
			Get().Debug(ctx, "hidden")
			So(buf.Len(), ShouldEqual, 0)
			So(SetLevelString("debug"), ShouldBeNil)
			Get().Debug(ctx, "shown")
			So(buf.String(), ShouldContainSubstring, "shown")
			So(SetLevelString("info"), ShouldBeNil)
		})

		Convey("Named loggers group their fields", func() {
			Named("engine").Info(ctx, "x", String("k", "v"))
			So(buf.String(), ShouldContainSubstring, `"engine":{`)
		})

		Reset(func() { _ = Init() })
	})

	Convey("SetLevelString rejects unknown levels", t, func() {
		So(SetLevelString("verbose"), ShouldNotBeNil)
		So(SetLevelString("WARNING"), ShouldBeNil)
		So(SetLevelString("info"), ShouldBeNil)
	})
}
