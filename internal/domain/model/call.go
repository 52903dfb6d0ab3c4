// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"time"

	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/transcript"
)

// JobState is the lifecycle position of a submitted recording.
type JobState string

// Job states.
const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Done reports whether the state is terminal.
func (s JobState) Done() bool { return s == JobSucceeded || s == JobFailed }

// Job is one recording queued for processing.
type Job struct {
	ID          string              `json:"id"`
	Filename    string              `json:"filename"`
	AudioPath   string              `json:"-"`
	Fingerprint string              `json:"fingerprint"`
	Criteria    []grading.Criterion `json:"criteria,omitempty"`
	SubmittedAt time.Time           `json:"submitted_at"`
}

// JobStatus is the externally visible progress of a Job.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	State     JobState  `json:"state"`
	Stage     string    `json:"stage,omitempty"`
	Error     string    `json:"error,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	CallID    int64     `json:"call_id,omitempty"`
	RunDir    string    `json:"run_dir,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CallRecord is a processed call as stored. Grades holds the grading object
// ({"grades","overall_score","summary"}) as produced by the grader, or {}
// when no grading ran. Fingerprint identifies the audio and is released for
// resubmission when the call is deleted.
type CallRecord struct {
	ID          int64                     `json:"call_id"`
	Filename    string                    `json:"filename"`
	UploadTime  time.Time                 `json:"upload_time"`
	Transcript  string                    `json:"transcript,omitempty"`
	Analysis    string                    `json:"analysis,omitempty"`
	Grades      json.RawMessage           `json:"grades,omitempty"`
	Timing      *transcript.SpeakerTiming `json:"timing,omitempty"`
	Fingerprint string                    `json:"-"`
	CreatedAt   time.Time                 `json:"created_at"`
}

// Grading decodes Grades. An empty or {} blob yields a zero Result.
func (c CallRecord) Grading() (grading.Result, error) {
	var res grading.Result
	if len(c.Grades) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(c.Grades, &res); err != nil {
		return grading.Result{}, err
	}
	return res, nil
}

// Scorecard is a versioned list of grading criteria.
type Scorecard struct {
	Version   int                 `json:"version"`
	Criteria  []grading.Criterion `json:"criteria" validate:"required,min=1,dive"`
	CreatedAt time.Time           `json:"created_at"`
}
