// Package provider declares the speech-to-text and language-model
// capabilities the pipeline depends on. Implementations live under
// internal/adapters/provider and are injected at construction time.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/callqa/internal/domain/transcript"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest asks a language model for a single reply.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TranscriptionRequest asks for diarized, translated transcripts of audio files.
type TranscriptionRequest struct {
	Paths       []string
	Model       string
	NumSpeakers int
	Diarize     bool
}

// Transcriber turns audio files into raw diarized result documents, one per
// input path, named so that lexical order matches input order.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) ([]transcript.Document, error)
}

// Completer returns the assistant text for a chat completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ErrProvider is matched by every *Error.
var ErrProvider = errors.New("provider error")

// Error describes a failed provider call. Status is the HTTP status when the
// provider answered, zero for transport failures.
type Error struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: %s: status %d: %s", ErrProvider, e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s: status %d", ErrProvider, e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", ErrProvider, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", ErrProvider, e.Op)
	}
}

// Is makes errors.Is(err, ErrProvider) hold for any *Error.
func (e *Error) Is(target error) bool { return target == ErrProvider }

func (e *Error) Unwrap() error { return e.Err }

// Messages builds a chat transcript from an optional system prompt and a user prompt.
func Messages(system, user string) []Message {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}
