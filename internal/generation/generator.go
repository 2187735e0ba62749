// Package generation defines the contract with the AI backend that turns a
// purpose/topic/difficulty triple into structured chapter content, plus the
// prompt builder whose output is persisted on each study request.
//
// The backend is an external collaborator: the request lifecycle invokes it
// once per request and awaits the result under the caller's context. Any
// error (including context expiry) is treated as a failed generation and
// triggers the compensating credit refund upstream.
package generation

import (
	"context"
	"fmt"
)

// Chapter is one unit of a generated course layout.
type Chapter struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Bullets       []string `json:"bullets"`
	EstimatedTime string   `json:"estimated_time"`
}

// Course is the structured artifact a successful generation produces.
// Chapters are ordered; content is immutable once persisted.
type Course struct {
	Topic      string    `json:"topic"`
	Difficulty string    `json:"difficulty"`
	Summary    string    `json:"summary"`
	Chapters   []Chapter `json:"chapters"`
}

// Generator produces a course for a validated request. Implementations must
// honor ctx for cancellation and timeouts; a ctx error is a failed
// generation, not a retryable condition inside the call.
type Generator interface {
	Generate(ctx context.Context, purpose, topic, difficulty string) (*Course, error)
}

// PromptFor renders the instruction text sent to the backend. It is
// deterministic so replays of the same request produce the same prompt.
func PromptFor(purpose, topic, difficulty string) string {
	return fmt.Sprintf(
		"Create a %s-level study course for %s preparation on the topic %q. "+
			"Return an ordered list of chapters, each with a title, a short description, "+
			"key bullet points, and an estimated completion time, plus a one-paragraph summary.",
		difficulty, purposeLabel(purpose), topic,
	)
}

// purposeLabel maps the purpose enum to the phrasing used in prompts and
// generated summaries.
func purposeLabel(purpose string) string {
	switch purpose {
	case "exam":
		return "exam"
	case "job":
		return "job interview"
	case "practice":
		return "practice"
	case "coding":
		return "coding interview"
	default:
		return "general study"
	}
}
