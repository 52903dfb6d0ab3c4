// Package transcript turns raw diarized speech-to-text documents into a single
// ordered conversation record, aggregates per-speaker speaking time and
// renders both as the text and JSON artifacts stored next to a call.
package transcript

// Defaults applied while normalizing provider documents.
const (
	// UnknownSpeaker labels entries whose speaker_id is missing.
	UnknownSpeaker = "UNKNOWN"
	// FallbackSpeaker labels the single entry synthesized from a flat transcript.
	FallbackSpeaker = "SPEAKER_00"
)

// Document is one raw provider result, typically one per audio chunk.
// Name decides the processing order; Data holds the JSON body.
type Document struct {
	Name string
	Data []byte
}

// Entry is one speaker-attributed utterance. Times are seconds relative to
// the start of the chunk that produced it.
type Entry struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Duration returns the speaking time contributed by the entry. Inverted
// intervals contribute nothing.
func (e Entry) Duration() float64 {
	if d := e.End - e.Start; d > 0 {
		return d
	}
	return 0
}

// Record is the ordered conversation for a whole call: documents in name
// order, entries in document order. It is never re-sorted by timestamp.
type Record []Entry

// Len returns the number of entries.
func (r Record) Len() int { return len(r) }
