// Package intent classifies a learner's query and maps the intent to a
// retrieval profile and a prompt style.
package intent

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/bull/sinhala-tutor-rag/internal/generation"
	"github.com/bull/sinhala-tutor-rag/internal/retrieval"
	"github.com/bull/sinhala-tutor-rag/internal/textnorm"
)

// Intent is what the learner is asking for.
type Intent string

const (
	Greeting    Intent = "greeting"
	Summary     Intent = "summary"
	QAGenerate  Intent = "qa_generate"
	QAAnswer    Intent = "qa_answer"
	Explanation Intent = "explanation"
)

// All lists the intents in rule-evaluation order. Greeting is last so a
// question that opens with a greeting still reaches retrieval.
var All = []Intent{QAGenerate, Summary, Explanation, QAAnswer, Greeting}

// Valid reports whether i is a known intent.
func (i Intent) Valid() bool {
	for _, known := range All {
		if i == known {
			return true
		}
	}
	return false
}

// Keywords is the rule table. Sinhala entries match as substrings so that
// inflected forms ("සාරාංශයක්", "සාරාංශය") hit the same stem; ASCII
// entries match whole words. Entries are written without joiners because
// queries are matched with joiners removed.
var Keywords = map[Intent][]string{
	QAGenerate: {
		"ප්රශ්න සාදන්න", "ප්රශ්න හදන්න", "ප්රශ්න පත්ර", "පුහුණු ප්රශ්න", "ප්රශ්න කීපයක්", "බහුවරණ",
		"quiz", "mcq", "practice questions", "generate questions", "make questions", "create questions", "question paper",
	},
	Summary: {
		"සාරාංශ", "කෙටියෙන්", "ප්රධාන කරුණු",
		"summary", "summarize", "summarise", "overview", "key points",
	},
	Explanation: {
		"පැහැදිලි කරන්න", "පැහැදිලි කර", "විස්තර කරන්න", "ඇයි",
		"explain", "why", "how does", "describe",
	},
	Greeting: {
		"ආයුබෝවන්", "හෙලෝ", "සුභ උදෑසනක්", "ස්තූතියි",
		"hello", "hi", "hey", "good morning", "good evening", "thanks", "thank you",
	},
	QAAnswer: {
		"කුමක්ද", "කවුද", "කවදාද", "කොහිද", "කීයද", "යනු",
		"what is", "what are", "who", "when", "where", "define", "which",
	},
}

// Profile is the retrieval and prompt setup selected by an intent.
type Profile struct {
	Intent Intent
	Params retrieval.Params
	Style  generation.Style
	// SkipRetrieval is set for greetings.
	SkipRetrieval bool
}

// Widening holds the enlarged stage sizes of the summary and question
// generation profiles.
type Widening struct {
	SummaryFinalK   int
	GenerateTopDocK int
	GenerateFinalK  int
}

var styles = map[Intent]generation.Style{
	Greeting:    generation.StyleGreeting,
	Summary:     generation.StyleSummary,
	QAGenerate:  generation.StyleQuestions,
	QAAnswer:    generation.StyleAnswer,
	Explanation: generation.StyleExplain,
}

// ProfileFor derives the profile of in from the base retrieval parameters.
// Widening never shrinks a stage below its base size.
func ProfileFor(in Intent, base retrieval.Params, w Widening) Profile {
	if !in.Valid() {
		in = QAAnswer
	}
	p := Profile{Intent: in, Params: base, Style: styles[in]}
	switch in {
	case Greeting:
		p.SkipRetrieval = true
	case Summary:
		p.Params.FinalK = max(base.FinalK, w.SummaryFinalK)
	case QAGenerate:
		p.Params.TopDocK = max(base.TopDocK, w.GenerateTopDocK)
		p.Params.FinalK = max(base.FinalK, w.GenerateFinalK)
	}
	p.Params.CandidatePool = max(p.Params.CandidatePool, p.Params.FinalK)
	return p
}

// MatchRules returns the first intent whose keyword occurs in query.
func MatchRules(query string) (Intent, bool) {
	text := normalize(query)
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, in := range All {
		for _, kw := range Keywords[in] {
			if matches(text, kw) {
				return in, true
			}
		}
	}
	return "", false
}

func matches(text, kw string) bool {
	if isASCII(kw) {
		return strings.Contains(text, " "+kw+" ")
	}
	return strings.Contains(text, kw)
}

// normalize lowercases, removes joiners and turns every other non-word
// character into a space. The result is padded with single spaces.
func normalize(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range s {
		switch {
		case r == '\u200d' || r == '\u200c':
			continue
		case textnorm.IsSinhala(r) || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
