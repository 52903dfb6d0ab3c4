// Package grading parses rubric grading responses returned by a language
// model and loads the scorecard criteria those responses are graded against.
package grading

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Item is the grade for one scorecard criterion.
type Item struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// UnmarshalJSON reads an item leniently: missing fields stay zero, a numeric
// score may arrive as a string, and "criteria" is accepted for "criterion".
// Anything that is not an object decodes to an empty item.
func (it *Item) UnmarshalJSON(data []byte) error {
	out := Item{}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		*it = out
		return nil
	}
	if !readString(raw["criterion"], &out.Criterion) {
		readString(raw["criteria"], &out.Criterion)
	}
	readString(raw["reasoning"], &out.Reasoning)
	readNumber(raw["score"], &out.Score)
	*it = out
	return nil
}

// Result is a parsed grading response. OverallScore is whatever the model
// reported; it is never recomputed from Grades. Raw keeps the original text.
type Result struct {
	Grades       []Item  `json:"grades"`
	OverallScore float64 `json:"overall_score"`
	Summary      string  `json:"summary"`
	Raw          string  `json:"-"`
}

func readString(raw json.RawMessage, dst *string) bool {
	if len(raw) == 0 {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	*dst = s
	return true
}

func readNumber(raw json.RawMessage, dst *float64) bool {
	if len(raw) == 0 {
		return false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		*dst = f
		return true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return false
	}
	*dst = f
	return true
}
