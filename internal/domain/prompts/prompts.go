// Package prompts holds the versioned prompt templates sent to the language
// model for call analysis, summaries, free-form questions and grading.
package prompts

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Sentinel error kinds for this package.
var (
	ErrLoadPrompts   = errors.New("load prompts failed")
	ErrRenderPrompt  = errors.New("render prompt failed")
	ErrInvalidPrompt = errors.New("invalid prompt template")
)

// Set is one version of every prompt the pipeline sends. Templates use
// text/template syntax over Vars.
type Set struct {
	Version string `koanf:"version"`

	AnalysisSystem string `koanf:"analysis_system"`
	Analysis       string `koanf:"analysis"`
	Summary        string `koanf:"summary"`
	Question       string `koanf:"question"`
	GradingSystem  string `koanf:"grading_system"`
	Grading        string `koanf:"grading"`
}

// Vars are the values a template can reference.
type Vars struct {
	Transcript string
	Analysis   string
	Question   string
	Criteria   []string
}

// Prompt is a rendered system/user message pair. System may be empty.
type Prompt struct {
	System string
	User   string
}

// Default returns the built-in prompt set.
func Default() Set {
	return Set{
		Version:        "2",
		AnalysisSystem: "You are a call analytics expert. Provide structured insights.",
		Analysis: `Analyze this call transcription thoroughly from start to finish.

TRANSCRIPTION:
{{.Transcript}}

Please answer the following:

1. Identify which speaker is the **customer** and which one is the **agent**.
2. Determine if the customer is a **new/potential customer** or an **existing customer**.
3. What **problem, query, or doubt** did the customer raise at the beginning?
4. What **services/products** was the customer inquiring about or facing issues with?
5. How did the agent respond to and resolve the issue throughout the call?
6. Was the **customer satisfied** at the end of the call?
7. Did the customer express any **emotions or sentiments** (positive, negative, or neutral)?
8. Were there any mentions of **competitors**, or any opportunities for **upselling or cross-selling**?
9. Summarize the **resolution** and whether it was successful.

Provide your answer in a clear, structured format with section headings and bullet points.
`,
		Summary: `Based on this call analysis, summarize each of the following in 2-3 words:

{{.Analysis}}

1. Customer & Agent
2. Customer Type
3. Main Issue
4. Service Discussed
5. Agent's Response
6. Customer Satisfaction
7. Sentiment
8. Competitor or Upsell
9. Resolution
`,
		Question: `Based on this call transcription, answer the question below:

TRANSCRIPTION:
{{.Transcript}}

QUESTION: {{.Question}}`,
		GradingSystem: "You are an expert call quality evaluator. " +
			"Grade calls objectively based on the provided criteria. " +
			"Always respond with valid JSON.",
		Grading: `Grade this call transcription based on the following criteria.

TRANSCRIPTION:
{{.Transcript}}

SCORECARD CRITERIA:
{{range $i, $c := .Criteria}}{{inc $i}}. {{$c}}
{{end}}
For each criterion, provide:
- Score (1-5): 1=Poor, 2=Below Average, 3=Average, 4=Good, 5=Excellent
- Reasoning: Brief explanation for the score

Format your response as JSON with this structure:
{
  "grades": [
    {
      "criterion": "criterion name",
      "score": <1-5>,
      "reasoning": "explanation"
    },
    ...
  ],
  "overall_score": <average score>,
  "summary": "overall assessment"
}
`,
	}
}

// Load overlays the YAML file at path on top of Default. Keys absent from the
// file keep their built-in template. Every template is parsed before returning.
func Load(path string) (Set, error) {
	set := Default()
	if path == "" {
		return set, nil
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrLoadPrompts, err)
	}
	if err := k.UnmarshalWithConf("", &set, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrLoadPrompts, err)
	}
	if err := set.Validate(); err != nil {
		return Set{}, err
	}
	return set, nil
}

// Validate parses every template.
func (s Set) Validate() error {
	for name, body := range s.templates() {
		if strings.TrimSpace(body) == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidPrompt, name)
		}
		if _, err := template.New(name).Funcs(funcs).Parse(body); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPrompt, name, err)
		}
	}
	return nil
}

func (s Set) templates() map[string]string {
	return map[string]string{
		"analysis": s.Analysis,
		"summary":  s.Summary,
		"question": s.Question,
		"grading":  s.Grading,
	}
}

// RenderAnalysis builds the analysis prompt for a transcript.
func (s Set) RenderAnalysis(transcript string) (Prompt, error) {
	user, err := render("analysis", s.Analysis, Vars{Transcript: transcript})
	return Prompt{System: s.AnalysisSystem, User: user}, err
}

// RenderSummary builds the short-summary prompt from an analysis text.
func (s Set) RenderSummary(analysis string) (Prompt, error) {
	user, err := render("summary", s.Summary, Vars{Analysis: analysis})
	return Prompt{User: user}, err
}

// RenderQuestion builds a free-form question prompt.
func (s Set) RenderQuestion(transcript, question string) (Prompt, error) {
	user, err := render("question", s.Question, Vars{Transcript: transcript, Question: question})
	return Prompt{User: user}, err
}

// RenderGrading builds the grading prompt; criteria are numbered from 1, one per line.
func (s Set) RenderGrading(transcript string, criteria []string) (Prompt, error) {
	user, err := render("grading", s.Grading, Vars{Transcript: transcript, Criteria: criteria})
	return Prompt{System: s.GradingSystem, User: user}, err
}

// funcs are available to every template. inc turns a range index into a
// 1-based list number.
var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

func render(name, body string, v Vars) (string, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRenderPrompt, name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRenderPrompt, name, err)
	}
	return buf.String(), nil
}
