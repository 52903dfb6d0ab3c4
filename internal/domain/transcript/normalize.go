package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Normalize merges provider documents into one Record.
//
// Documents are consumed in ascending lexical order of Name. Entries are read
// from diarized_transcript.entries; a document without entries but with a
// top-level transcript string contributes exactly one SPEAKER_00 entry.
// Missing or mistyped fields fall back to their defaults. Speaker labels are
// taken as-is per document; nothing reconciles them across chunks.
func Normalize(docs []Document) (Record, error) {
	ordered := make([]Document, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })

	rec := make(Record, 0)
	for _, d := range ordered {
		entries, err := documentEntries(d)
		if err != nil {
			return nil, err
		}
		rec = append(rec, entries...)
	}
	return rec, nil
}

type rawObject map[string]json.RawMessage

func documentEntries(d Document) ([]Entry, error) {
	var top rawObject
	if err := json.Unmarshal(d.Data, &top); err != nil || top == nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedDocument, d.Name)
	}

	var entries []Entry
	var diarized rawObject
	if decodeInto(top["diarized_transcript"], &diarized) {
		var items []json.RawMessage
		if decodeInto(diarized["entries"], &items) {
			for _, item := range items {
				var obj rawObject
				if !decodeInto(item, &obj) || obj == nil {
					continue
				}
				entries = append(entries, entryFrom(obj))
			}
		}
	}

	if len(entries) == 0 {
		var flat string
		if decodeInto(top["transcript"], &flat) {
			entries = append(entries, Entry{Speaker: FallbackSpeaker, Text: strings.TrimSpace(flat)})
		}
	}
	return entries, nil
}

func entryFrom(obj rawObject) Entry {
	e := Entry{Speaker: UnknownSpeaker}
	decodeInto(obj["speaker_id"], &e.Speaker)
	decodeInto(obj["transcript"], &e.Text)
	e.Text = strings.TrimSpace(e.Text)
	decodeInto(obj["start_time_seconds"], &e.Start)
	decodeInto(obj["end_time_seconds"], &e.End)
	return e
}

// decodeInto unmarshals raw into dst and reports whether it succeeded.
// Absent keys, JSON null and type mismatches leave dst untouched.
func decodeInto[T any](raw json.RawMessage, dst *T) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	*dst = v
	return true
}

// LoadDir reads every *.json file in dir as a Document named after the file.
func LoadDir(dir string) ([]Document, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadDocuments, err)
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadDocuments, err)
	}
	docs := make([]Document, 0, len(matches))
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrReadDocuments, err)
		}
		docs = append(docs, Document{Name: filepath.Base(m), Data: data})
	}
	return docs, nil
}
