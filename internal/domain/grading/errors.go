package grading

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("could not parse grading response as JSON")
	// ErrNoCriteria is returned when a scorecard yields no criteria.
	ErrNoCriteria = errors.New("no scorecard criteria")
	// ErrScorecardFormat is returned for unreadable or unsupported scorecard files.
	ErrScorecardFormat = errors.New("unsupported scorecard format")
)

// ParseError reports a grading response that yielded no JSON object.
// Raw holds the untouched model output for display or debugging.
type ParseError struct {
	Raw   string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrParse, e.Cause)
	}
	return ErrParse.Error()
}

// Is makes errors.Is(err, ErrParse) hold for any *ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func (e *ParseError) Unwrap() error { return e.Cause }
