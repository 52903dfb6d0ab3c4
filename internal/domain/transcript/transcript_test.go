package transcript_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/callqa/internal/domain/transcript"
	. "github.com/smartystreets/goconvey/convey"
)

func doc(name, body string) transcript.Document {
	return transcript.Document{Name: name, Data: []byte(body)}
}

func TestNormalize(t *testing.T) {
	Convey("Given provider result documents", t, func() {
		Convey("When two documents arrive out of order", func() {
			docs := []transcript.Document{
				doc("b.json", `{"diarized_transcript":{"entries":[
					{"speaker_id":"SPEAKER_01","transcript":"hi there","start_time_seconds":1.5,"end_time_seconds":3.5}]}}`),
				doc("a.json", `{"diarized_transcript":{"entries":[
					{"speaker_id":"SPEAKER_00","transcript":" hello ","start_time_seconds":0.0,"end_time_seconds":1.5}]}}`),
			}
			rec, err := transcript.Normalize(docs)

			Convey("Then entries follow the lexical order of names", func() {
				So(err, ShouldBeNil)
				So(rec.Len(), ShouldEqual, 2)
				So(rec[0], ShouldResemble, transcript.Entry{Speaker: "SPEAKER_00", Text: "hello", Start: 0, End: 1.5})
				So(rec[1].Speaker, ShouldEqual, "SPEAKER_01")
			})

			Convey("Then the input slice is left untouched", func() {
				So(docs[0].Name, ShouldEqual, "b.json")
			})
		})

		Convey("When entries are missing fields", func() {
			rec, err := transcript.Normalize([]transcript.Document{
				doc("x.json", `{"diarized_transcript":{"entries":[{}, {"speaker_id":7,"transcript":null,"start_time_seconds":"soon"}]}}`),
			})

			Convey("Then defaults are applied without failing", func() {
				So(err, ShouldBeNil)
				So(rec, ShouldResemble, transcript.Record{
					{Speaker: transcript.UnknownSpeaker},
					{Speaker: transcript.UnknownSpeaker},
				})
			})
		})

		Convey("When a document only has a flat transcript", func() {
			rec, err := transcript.Normalize([]transcript.Document{
				doc("only.json", `{"transcript":"  whole call text  "}`),
			})

			Convey("Then exactly one fallback entry is produced", func() {
				So(err, ShouldBeNil)
				So(rec, ShouldResemble, transcript.Record{
					{Speaker: transcript.FallbackSpeaker, Text: "whole call text"},
				})
			})
		})

		Convey("When a document has an empty entry list and a flat transcript", func() {
			rec, err := transcript.Normalize([]transcript.Document{
				doc("c.json", `{"diarized_transcript":{"entries":[]},"transcript":"fallback"}`),
			})

			Convey("Then the flat transcript is used", func() {
				So(err, ShouldBeNil)
				So(rec.Len(), ShouldEqual, 1)
				So(rec[0].Text, ShouldEqual, "fallback")
			})
		})

		Convey("When a document has entries and a flat transcript", func() {
			rec, _ := transcript.Normalize([]transcript.Document{
				doc("d.json", `{"diarized_transcript":{"entries":[{"speaker_id":"A","transcript":"x"}]},"transcript":"ignored"}`),
			})

			Convey("Then the entries win", func() {
				So(rec, ShouldResemble, transcript.Record{{Speaker: "A", Text: "x"}})
			})
		})

		Convey("When a document carries neither entries nor transcript", func() {
			rec, err := transcript.Normalize([]transcript.Document{doc("e.json", `{"language_code":"hi-IN"}`)})

			Convey("Then it contributes nothing", func() {
				So(err, ShouldBeNil)
				So(rec.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a document is not a JSON object", func() {
			_, err := transcript.Normalize([]transcript.Document{doc("bad.json", `[1,2`)})

			Convey("Then a malformed document error names it", func() {
				So(errors.Is(err, transcript.ErrMalformedDocument), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "bad.json")
			})
		})

		Convey("When entry counts vary per document", func() {
			rec, _ := transcript.Normalize([]transcript.Document{
				doc("1.json", `{"diarized_transcript":{"entries":[{"speaker_id":"A"},{"speaker_id":"B"}]}}`),
				doc("2.json", `{"transcript":"t"}`),
				doc("3.json", `{"diarized_transcript":{"entries":[{"speaker_id":"A"},{"speaker_id":"A"},{"speaker_id":"C"}]}}`),
			})

			Convey("Then the record length is the sum of per-document counts", func() {
				So(rec.Len(), ShouldEqual, 6)
			})
		})
	})
}

func TestAggregate(t *testing.T) {
	Convey("Given a conversation record", t, func() {
		rec := transcript.Record{
			{Speaker: "SPEAKER_01", Start: 0, End: 2},
			{Speaker: "SPEAKER_00", Start: 2, End: 2.5},
			{Speaker: "SPEAKER_01", Start: 5, End: 4},
			{Speaker: "SPEAKER_00", Start: 3, End: 4},
		}

		Convey("When aggregating", func() {
			st := transcript.Aggregate(rec)

			Convey("Then keys follow first occurrence", func() {
				So(st.Speakers(), ShouldResemble, []string{"SPEAKER_01", "SPEAKER_00"})
			})

			Convey("Then inverted intervals contribute zero", func() {
				v, ok := st.Get("SPEAKER_01")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 2.0)
			})

			Convey("Then totals equal the sum of clamped durations", func() {
				v, _ := st.Get("SPEAKER_00")
				So(v, ShouldEqual, 1.5)
				So(st.Total(), ShouldEqual, 3.5)
			})
		})

		Convey("When every entry is inverted", func() {
			st := transcript.Aggregate(transcript.Record{{Speaker: "X", Start: 3, End: 1}})

			Convey("Then the speaker is still present with zero", func() {
				v, ok := st.Get("X")
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 0)
			})
		})
	})
}

func TestFormat(t *testing.T) {
	Convey("Given the serializers", t, func() {
		Convey("When formatting a record", func() {
			out := transcript.FormatTranscript(transcript.Record{
				{Speaker: "SPEAKER_00", Text: "hello"},
				{Speaker: "SPEAKER_00", Text: ""},
			})

			Convey("Then each entry is one line with a trailing newline", func() {
				So(out, ShouldEqual, "SPEAKER_00: hello\nSPEAKER_00: \n")
			})
		})

		Convey("When formatting an empty record", func() {
			So(transcript.FormatTranscript(nil), ShouldEqual, "\n")
		})

		Convey("When formatting timing with non-ASCII speakers", func() {
			st := &transcript.SpeakerTiming{}
			st.Add("वक्ता", 1.25)
			st.Add("A&B", 2)
			out, err := transcript.FormatTiming(st)

			Convey("Then output is indented, unescaped and ordered", func() {
				So(err, ShouldBeNil)
				So(string(out), ShouldEqual, "{\n  \"वक्ता\": 1.25,\n  \"A&B\": 2\n}\n")
			})
		})

		Convey("When formatting empty timing", func() {
			out, err := transcript.FormatTiming(nil)
			So(err, ShouldBeNil)
			So(string(out), ShouldEqual, "{}\n")
		})

		Convey("When reading timing back", func() {
			var st transcript.SpeakerTiming
			err := json.Unmarshal([]byte(`{"z":1,"a":2.5}`), &st)

			Convey("Then key order survives", func() {
				So(err, ShouldBeNil)
				So(st.Speakers(), ShouldResemble, []string{"z", "a"})
			})
		})

		Convey("When reading malformed timing", func() {
			var st transcript.SpeakerTiming
			err := json.Unmarshal([]byte(`{"z":"one"}`), &st)
			So(errors.Is(err, transcript.ErrMalformedTiming), ShouldBeTrue)
		})
	})
}

func TestLoadDir(t *testing.T) {
	Convey("Given a directory of provider results", t, func() {
		dir := t.TempDir()
		So(os.WriteFile(filepath.Join(dir, "call_chunk001.json"), []byte(`{"transcript":"second"}`), 0o600), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "call_chunk000.json"), []byte(`{"transcript":"first"}`), 0o600), ShouldBeNil)
		So(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`skip`), 0o600), ShouldBeNil)

		Convey("When loading and normalizing", func() {
			docs, err := transcript.LoadDir(dir)
			So(err, ShouldBeNil)
			So(docs, ShouldHaveLength, 2)
			rec, err := transcript.Normalize(docs)

			Convey("Then chunk order is preserved", func() {
				So(err, ShouldBeNil)
				So(transcript.FormatTranscript(rec), ShouldEqual, "SPEAKER_00: first\nSPEAKER_00: second\n")
			})
		})

		Convey("When the directory does not exist", func() {
			_, err := transcript.LoadDir(filepath.Join(dir, "missing"))
			So(errors.Is(err, transcript.ErrReadDocuments), ShouldBeTrue)
		})
	})
}

func TestEndToEndTwoChunks(t *testing.T) {
	Convey("Given two chunk results", t, func() {
		docs := []transcript.Document{
			doc("chunk000.json", `{"diarized_transcript":{"entries":[{"speaker_id":"SPEAKER_00","transcript":"hello","start_time_seconds":0.0,"end_time_seconds":1.5}]}}`),
			doc("chunk001.json", `{"diarized_transcript":{"entries":[{"speaker_id":"SPEAKER_01","transcript":"hi there","start_time_seconds":0.0,"end_time_seconds":2.0}]}}`),
		}

		rec, err := transcript.Normalize(docs)
		So(err, ShouldBeNil)
		timing, err := transcript.FormatTiming(transcript.Aggregate(rec))
		So(err, ShouldBeNil)

		So(transcript.FormatTranscript(rec), ShouldEqual, "SPEAKER_00: hello\nSPEAKER_01: hi there\n")

		var got map[string]float64
		So(json.Unmarshal(timing, &got), ShouldBeNil)
		So(got, ShouldResemble, map[string]float64{"SPEAKER_00": 1.5, "SPEAKER_01": 2.0})
	})
}
