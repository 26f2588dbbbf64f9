// Package generation builds the prompt envelope for grounded answers and
// calls the chat model with it.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/bull/sinhala-tutor-rag/internal/textnorm"
)

// GroundingRule is part of every system instruction.
const GroundingRule = "Answer only using the provided context; respond in the requested script."

// Style selects the system-prompt template.
type Style string

const (
	StyleAnswer    Style = "answer"
	StyleSummary   Style = "summary"
	StyleQuestions Style = "questions"
	StyleExplain   Style = "explain"
	StyleGreeting  Style = "greeting"
)

// GradeLevel is the optional learner level a reply is pitched at.
type GradeLevel string

var gradeLabels = map[GradeLevel]string{
	"grade_6":  "Grade 6",
	"grade_7":  "Grade 7",
	"grade_8":  "Grade 8",
	"grade_9":  "Grade 9",
	"grade_10": "Grade 10",
	"grade_11": "Grade 11",
	"grade_12": "Grade 12",
	"grade_13": "Grade 13",
	"o_level":  "G.C.E. Ordinary Level",
	"a_level":  "G.C.E. Advanced Level",
}

// Valid reports whether g is empty or a known level.
func (g GradeLevel) Valid() bool {
	if g == "" {
		return true
	}
	_, ok := gradeLabels[g]
	return ok
}

// Instruction returns the prompt line for g, or "" when unset.
func (g GradeLevel) Instruction() string {
	label, ok := gradeLabels[g]
	if !ok {
		return ""
	}
	return fmt.Sprintf("Pitch the explanation at a %s student in Sri Lanka: use vocabulary and depth suitable for that level.", label)
}

// Envelope is everything the generator is allowed to see for one message.
type Envelope struct {
	System           string
	Context          string
	Query            string
	GradeInstruction string
	Style            Style
	Script           textnorm.Script
}

// NewEnvelope assembles the envelope. The reply script follows the query:
// an English query gets English, anything else Sinhala.
func NewEnvelope(style Style, contextBody, query string, grade GradeLevel) Envelope {
	script := textnorm.DetectScript(query)
	return Envelope{
		System:           SystemPrompt(style, script),
		Context:          contextBody,
		Query:            query,
		GradeInstruction: grade.Instruction(),
		Style:            style,
		Script:           script,
	}
}

// SystemPrompt renders the system instruction for style and script.
func SystemPrompt(style Style, script textnorm.Script) string {
	var b strings.Builder
	b.WriteString("You are a patient tutor for Sri Lankan students.\n")
	b.WriteString(GroundingRule)
	b.WriteString("\n")
	fmt.Fprintf(&b, "Requested script: %s.\n", scriptName(script))
	b.WriteString("If the context does not contain the answer, say so plainly instead of guessing.\n")
	b.WriteString(styleTemplates[styleOrDefault(style)])
	return b.String()
}

func styleOrDefault(s Style) Style {
	if _, ok := styleTemplates[s]; ok {
		return s
	}
	return StyleAnswer
}

func scriptName(s textnorm.Script) string {
	if s == textnorm.ScriptEnglish {
		return "English"
	}
	return "Sinhala (සිංහල)"
}

// UserMessage renders the context, optional grade instruction and query.
func (e Envelope) UserMessage() string {
	var b strings.Builder
	b.WriteString("Context:\n")
	if strings.TrimSpace(e.Context) == "" {
		b.WriteString("(no context)\n")
	} else {
		b.WriteString(e.Context)
		b.WriteString("\n")
	}
	if e.GradeInstruction != "" {
		b.WriteString("\n")
		b.WriteString(e.GradeInstruction)
		b.WriteString("\n")
	}
	b.WriteString("\nQuestion:\n")
	b.WriteString(e.Query)
	return b.String()
}

// Generation is the generator's reply. Token counts are zero when unknown.
type Generation struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Generator produces exactly one reply per envelope.
type Generator interface {
	Generate(ctx context.Context, env Envelope) (*Generation, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, env Envelope) (*Generation, error)

func (f GeneratorFunc) Generate(ctx context.Context, env Envelope) (*Generation, error) {
	return f(ctx, env)
}
