package model

import (
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/transcript"
)

// Status discriminates stage results.
type Status string

// Result statuses.
const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Outcome carries the status shared by every stage result. Err keeps the
// typed cause for errors.Is; Error is its display form.
type Outcome struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
	Err    error  `json:"-"`
}

// OK reports success.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Succeeded returns a success outcome.
func Succeeded() Outcome { return Outcome{Status: StatusSuccess} }

// Failed returns a failure outcome for err.
func Failed(err error) Outcome {
	o := Outcome{Status: StatusFailed, Err: err}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// Artifacts lists the files written for a call.
type Artifacts struct {
	RunDir       string `json:"run_dir,omitempty"`
	RawDir       string `json:"raw_dir,omitempty"`
	Conversation string `json:"conversation_file,omitempty"`
	Timing       string `json:"timing_file,omitempty"`
	Analysis     string `json:"analysis_file,omitempty"`
	Grading      string `json:"grading_file,omitempty"`
}

// TranscriptionResult is the output of chunking, transcription and normalization.
type TranscriptionResult struct {
	Outcome
	Transcript string                    `json:"transcript,omitempty"`
	Record     transcript.Record         `json:"entries,omitempty"`
	Timing     *transcript.SpeakerTiming `json:"timing,omitempty"`
	Chunks     int                       `json:"chunks"`
	Artifacts  Artifacts                 `json:"artifacts"`
}

// AnalysisResult is the free-form call analysis.
type AnalysisResult struct {
	Outcome
	Analysis string `json:"analysis,omitempty"`
	Path     string `json:"analysis_file,omitempty"`
}

// SummaryResult is the short per-section summary of an analysis.
type SummaryResult struct {
	Outcome
	Summary string `json:"summary,omitempty"`
}

// AnswerResult is the reply to a free-form question about a call.
type AnswerResult struct {
	Outcome
	Question string `json:"question"`
	Answer   string `json:"answer,omitempty"`
	Path     string `json:"answer_file,omitempty"`
}

// GradingOutcome is a rubric grading attempt. On a parse failure Raw still
// holds the model output.
type GradingOutcome struct {
	Outcome
	Grades       []grading.Item `json:"grades,omitempty"`
	OverallScore float64        `json:"overall_score"`
	Summary      string         `json:"summary,omitempty"`
	Raw          string         `json:"raw,omitempty"`
	Path         string         `json:"grading_file,omitempty"`
}
