package grading

import (
	"encoding/json"
	"errors"
	"strings"
)

const fence = "```"

// Parse extracts a grading Result from free-form model output.
//
// The text is tried in order as: plain JSON; the body of the first fence
// opened with a json marker, up to the next fence; the body of the first
// fenced block. If none of these holds a JSON object a *ParseError carrying
// raw is returned. Missing keys default to empty grades, 0 and "".
func Parse(raw string) (Result, error) {
	trimmed := strings.TrimSpace(raw)

	if res, err := decode(trimmed); err == nil {
		res.Raw = raw
		return res, nil
	}

	var candidate string
	if at := indexFold(trimmed, fence+"json"); at >= 0 {
		candidate = upToFence(trimmed[at+len(fence)+len("json"):])
	} else if at := strings.Index(trimmed, fence); at >= 0 {
		candidate = upToFence(trimmed[at+len(fence):])
	} else {
		return Result{}, &ParseError{Raw: raw}
	}

	res, err := decode(strings.TrimSpace(candidate))
	if err != nil {
		return Result{}, &ParseError{Raw: raw, Cause: err}
	}
	res.Raw = raw
	return res, nil
}

var errNotObject = errors.New("response is not a JSON object")

func decode(s string) (Result, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return Result{}, err
	}
	if obj == nil {
		return Result{}, errNotObject
	}

	res := Result{Grades: []Item{}}
	if g, ok := obj["grades"]; ok {
		var items []Item
		if err := json.Unmarshal(g, &items); err == nil && items != nil {
			res.Grades = items
		}
	}
	readNumber(obj["overall_score"], &res.OverallScore)
	readString(obj["summary"], &res.Summary)
	return res, nil
}

func upToFence(s string) string {
	if end := strings.Index(s, fence); end >= 0 {
		return s[:end]
	}
	return s
}

// indexFold is a case-insensitive strings.Index for ASCII needles.
func indexFold(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}
