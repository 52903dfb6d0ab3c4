package transcript

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FormatTranscript renders one "{speaker}: {text}" line per entry, joined by
// newlines and terminated by a trailing newline.
func FormatTranscript(rec Record) string {
	var b strings.Builder
	for i, e := range rec {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(e.Speaker)
		b.WriteString(": ")
		b.WriteString(e.Text)
	}
	b.WriteByte('\n')
	return b.String()
}

// FormatTiming renders the timing map as indented JSON (two spaces, non-ASCII
// kept verbatim) followed by a newline.
func FormatTiming(st *SpeakerTiming) ([]byte, error) {
	if st == nil {
		st = &SpeakerTiming{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
