package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SpeakerTiming maps speaker labels to total speaking seconds. Keys keep the
// order in which speakers first appeared. The zero value is ready to use.
type SpeakerTiming struct {
	order  []string
	totals map[string]float64
}

// Aggregate sums entry durations per speaker in a single pass.
func Aggregate(rec Record) *SpeakerTiming {
	st := &SpeakerTiming{}
	for _, e := range rec {
		st.Add(e.Speaker, e.Duration())
	}
	return st
}

// Add accumulates seconds for speaker, registering it on first sight.
func (s *SpeakerTiming) Add(speaker string, seconds float64) {
	if s.totals == nil {
		s.totals = make(map[string]float64)
	}
	if _, ok := s.totals[speaker]; !ok {
		s.order = append(s.order, speaker)
	}
	s.totals[speaker] += seconds
}

// Get returns the total for speaker.
func (s *SpeakerTiming) Get(speaker string) (float64, bool) {
	v, ok := s.totals[speaker]
	return v, ok
}

// Speakers returns the labels in first-occurrence order.
func (s *SpeakerTiming) Speakers() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of distinct speakers.
func (s *SpeakerTiming) Len() int { return len(s.order) }

// Total returns the summed speaking time of all speakers.
func (s *SpeakerTiming) Total() float64 {
	var sum float64
	for _, k := range s.order {
		sum += s.totals[k]
	}
	return sum
}

// MarshalJSON encodes the map as an object in first-occurrence order.
func (s *SpeakerTiming) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	out := []byte{'{'}
	for i, k := range s.order {
		if i > 0 {
			out = append(out, ',')
		}
		buf.Reset()
		if err := enc.Encode(k); err != nil {
			return nil, err
		}
		out = append(out, bytes.TrimRight(buf.Bytes(), "\n")...)
		out = append(out, ':')
		v, err := json.Marshal(s.totals[k])
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	return append(out, '}'), nil
}

// UnmarshalJSON decodes an object, keeping the key order of the input.
func (s *SpeakerTiming) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTiming, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object", ErrMalformedTiming)
	}

	fresh := SpeakerTiming{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedTiming, err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: expected key", ErrMalformedTiming)
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedTiming, key, err)
		}
		fresh.Add(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTiming, err)
	}
	*s = fresh
	return nil
}
