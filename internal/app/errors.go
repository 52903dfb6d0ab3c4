package service

import (
	"errors"
	"fmt"
)

// Sentinel error kinds for the service and pipeline.
var (
	// ErrEmptyInput marks a stage given an empty transcript, question or criteria list.
	ErrEmptyInput = errors.New("empty input")
	// ErrNotStarted is returned by calls that need a started service.
	ErrNotStarted = errors.New("service not started")
	// ErrBackpressure is returned when the job queue is full.
	ErrBackpressure = errors.New("too many calls in progress")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidUpload is returned for unusable submissions.
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrStopped is recorded on jobs the service stopped before finishing.
	ErrStopped = errors.New("service stopped before the call finished")
)

var (
	errEmptyTranscript = fmt.Errorf("%w: empty transcript", ErrEmptyInput)
	errNoCriteria      = fmt.Errorf("%w: no scorecard items provided", ErrEmptyInput)
	errEmptyAnalysis   = fmt.Errorf("%w: empty analysis", ErrEmptyInput)
	errEmptyQuestion   = fmt.Errorf("%w: empty question", ErrEmptyInput)
	errNoAudio         = fmt.Errorf("%w: no audio files", ErrEmptyInput)
)
