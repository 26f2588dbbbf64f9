package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	pseudoSentences      = 3
	pseudoMinSentenceLen = 20
	pseudoMaxLines       = 5
)

// PseudoQuestions synthesizes Sinhala interrogatives from the first sentences
// of content. Each qualifying sentence yields a "what is" and an "explain"
// line; the result is newline-joined, capped at five lines, and "" when no
// sentence qualifies.
func PseudoQuestions(content string) string {
	runes := []rune(content)
	var lines []string
	used := 0
	for _, s := range sentenceSpans(runes) {
		if used == pseudoSentences || len(lines) >= pseudoMaxLines {
			break
		}
		sentence := strings.TrimRight(string(runes[s.start:s.end]), ".!?෴। ")
		if utf8.RuneCountInString(sentence) <= pseudoMinSentenceLen {
			continue
		}
		used++
		lines = append(lines, sentence+" යනු කුමක්ද?")
		if len(lines) < pseudoMaxLines {
			lines = append(lines, sentence+" ගැන පැහැදිලි කරන්න.")
		}
	}
	return strings.Join(lines, "\n")
}
