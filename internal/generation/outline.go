package generation

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Outline is the built-in deterministic generator. It expands
// purpose-specific chapter templates around the topic instead of calling a
// remote model, which makes it the default backend for development and the
// fixture for tests. Chapter count scales with difficulty.
type Outline struct {
	// Model is the identifier reported for generated requests.
	Model string
}

// NewOutline returns an Outline generator with the default model id.
func NewOutline() *Outline { return &Outline{Model: "outline-v1"} }

// chapterTemplate is one planned chapter; {topic} is substituted at
// generation time.
type chapterTemplate struct {
	title   string
	desc    string
	bullets []string
	minutes int
}

var outlineTemplates = map[string][]chapterTemplate{
	"exam": {
		{"Core Concepts of {topic}", "Foundational definitions and principles examiners expect.", []string{"Key terminology", "Fundamental theorems and rules", "Common misconceptions"}, 45},
		{"Worked Examples", "Step-by-step solutions to representative exam problems.", []string{"Classic question patterns", "Full solution walkthroughs", "Marking-scheme pitfalls"}, 60},
		{"Practice Questions", "Self-assessment with increasing difficulty.", []string{"Warm-up drills", "Past-paper style questions", "Timed practice set"}, 60},
		{"Advanced Topics", "Material that distinguishes top grades.", []string{"Edge cases and exceptions", "Cross-topic connections", "Proof techniques"}, 50},
		{"Revision and Exam Strategy", "Consolidation and time management under exam conditions.", []string{"Summary sheets", "Priority review list", "Exam-day checklist"}, 40},
	},
	"job": {
		{"Role Overview: {topic}", "What interviewers probe for in this area.", []string{"Expected competencies", "Typical interview formats", "Screening criteria"}, 30},
		{"Core Knowledge Review", "The technical ground every candidate must cover.", []string{"Must-know concepts", "Frequently asked questions", "Depth vs breadth trade-offs"}, 60},
		{"Behavioral Preparation", "Structuring experience stories around {topic}.", []string{"STAR-format answers", "Project retrospectives", "Failure and conflict questions"}, 45},
		{"Mock Interview Drills", "Realistic practice with self-review.", []string{"Question banks", "Answer timing", "Feedback loop"}, 50},
		{"Negotiation and Follow-up", "Closing the loop after the interview.", []string{"Thank-you notes", "Offer evaluation", "Common negotiation mistakes"}, 25},
	},
	"practice": {
		{"Fundamentals of {topic}", "A structured refresher before drilling.", []string{"Concept map", "Prerequisite check", "Reference material"}, 40},
		{"Guided Exercises", "Problems with hints and full solutions.", []string{"Graded difficulty", "Hint ladders", "Solution review"}, 60},
		{"Independent Practice", "Unassisted problem sets to build fluency.", []string{"Mixed problem sets", "Error log", "Repetition schedule"}, 60},
		{"Self-Assessment", "Measuring progress and closing gaps.", []string{"Diagnostic quiz", "Weak-area drills", "Progress tracking"}, 35},
		{"Mastery Challenges", "Stretch problems beyond the comfort zone.", []string{"Competition-style problems", "Open-ended explorations", "Peer discussion prompts"}, 55},
	},
	"coding": {
		{"Problem Patterns in {topic}", "The recurring algorithmic patterns to recognize.", []string{"Pattern taxonomy", "When to apply each", "Complexity targets"}, 50},
		{"Data Structures Deep Dive", "The structures that power {topic} solutions.", []string{"Operations and costs", "Implementation from scratch", "Language-specific idioms"}, 60},
		{"Coding Drills", "Implementation practice with test cases.", []string{"Easy warm-ups", "Medium interview staples", "Hard stretch problems"}, 75},
		{"Optimization Techniques", "From brute force to optimal.", []string{"Space-time trade-offs", "Pruning and memoization", "Profiling habits"}, 45},
		{"Mock Coding Interviews", "Whiteboard and pair-programming simulation.", []string{"Thinking aloud", "Edge-case discipline", "Communication under pressure"}, 50},
	},
	"other": {
		{"Introduction to {topic}", "Orientation and learning goals.", []string{"Scope and motivation", "Key vocabulary", "Learning roadmap"}, 30},
		{"Core Material", "The essential body of knowledge.", []string{"Main concepts", "Illustrative examples", "Common pitfalls"}, 60},
		{"Applied Practice", "Putting the material to work.", []string{"Hands-on exercises", "Real-world scenarios", "Self-checks"}, 50},
		{"Deepening Understanding", "Beyond the basics.", []string{"Advanced readings", "Open questions", "Connections to adjacent topics"}, 45},
		{"Review and Retention", "Making it stick.", []string{"Spaced-repetition plan", "Summary notes", "Final self-test"}, 35},
	},
}

// chapterCount maps difficulty to how many of the templates are used.
func chapterCount(difficulty string) int {
	switch difficulty {
	case "Easy":
		return 3
	case "Medium":
		return 4
	default:
		return 5
	}
}

// Generate renders the course layout for the request. It is deterministic
// for a given (purpose, topic, difficulty) triple and returns early when
// ctx is already done.
func (g *Outline) Generate(ctx context.Context, purpose, topic, difficulty string) (*Course, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpl, ok := outlineTemplates[purpose]
	if !ok {
		tmpl = outlineTemplates["other"]
	}
	n := chapterCount(difficulty)
	if n > len(tmpl) {
		n = len(tmpl)
	}

	title := cases.Title(language.English).String(strings.TrimSpace(topic))
	chapters := make([]Chapter, 0, n)
	for _, t := range tmpl[:n] {
		chapters = append(chapters, Chapter{
			Title:         strings.ReplaceAll(t.title, "{topic}", title),
			Description:   strings.ReplaceAll(t.desc, "{topic}", title),
			Bullets:       append([]string(nil), t.bullets...),
			EstimatedTime: fmt.Sprintf("%d min", t.minutes),
		})
	}

	return &Course{
		Topic:      title,
		Difficulty: difficulty,
		Summary: fmt.Sprintf("A %s-level course on %s for %s preparation, organized into %d chapters.",
			strings.ToLower(difficulty), title, purposeLabel(purpose), len(chapters)),
		Chapters: chapters,
	}, nil
}
