// Package textnorm cleans OCR and ASR output into comparable Sinhala/English text.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Script is the dominant writing system of a text.
type Script string

const (
	ScriptSinhala Script = "sinhala"
	ScriptEnglish Script = "english"
	ScriptMixed   Script = "mixed"
	ScriptUnknown Script = "unknown"
)

// dominanceRatio is the share of letters one script needs to be reported alone.
const dominanceRatio = 0.70

const (
	sinhalaFirst = '\u0D80'
	sinhalaLast  = '\u0DFF'
	zwnj         = '\u200C'
	zwj          = '\u200D'
)

// Correction is a literal substitution applied after cleaning.
type Correction struct {
	From string
	To   string
}

// Corrections is the ordered table of rule-based OCR fixes. Every entry is a
// pure substitution and none of them produce a whitespace run.
//
//  1. doubled al-lakuna (virama), a common OCR stutter
//  2. doubled kombuva
//  3. doubled aela-pilla
//  4. space before a full stop
//  5. space after an opening bracket
//  6. space before a closing bracket
//  7. repeated full stops
var Corrections = []Correction{
	{From: "\u0DCA\u0DCA", To: "\u0DCA"},
	{From: "\u0DD9\u0DD9", To: "\u0DD9"},
	{From: "\u0DCF\u0DCF", To: "\u0DCF"},
	{From: " .", To: "."},
	{From: "( ", To: "("},
	{From: " )", To: ")"},
	{From: "..", To: "."},
}

// IsSinhala reports whether r is in the Sinhala Unicode block.
func IsSinhala(r rune) bool {
	return r >= sinhalaFirst && r <= sinhalaLast
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func allowed(r rune) bool {
	switch {
	case IsSinhala(r), r == zwnj, r == zwj:
		return true
	case isASCIILetter(r), r >= '0' && r <= '9':
		return true
	case unicode.IsSpace(r):
		return true
	}
	switch r {
	case '.', '-', '(', ')', '[', ']', '/', ':', ';':
		return true
	}
	return false
}

// Clean composes text to NFC, strips characters outside the allowed class,
// collapses whitespace and applies the OCR correction table.
// Stripped characters become spaces so adjacent words are not glued together.
func Clean(raw string) string {
	composed := norm.NFC.String(raw)

	var b strings.Builder
	b.Grow(len(composed))
	for _, r := range composed {
		if allowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	cleaned := collapseWhitespace(b.String())
	for _, c := range Corrections {
		for strings.Contains(cleaned, c.From) {
			cleaned = strings.ReplaceAll(cleaned, c.From, c.To)
		}
	}
	return strings.TrimSpace(cleaned)
}

// collapseWhitespace replaces every whitespace run with a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DetectScript counts Sinhala-block characters against ASCII letters.
func DetectScript(text string) Script {
	var sinhala, english int
	for _, r := range text {
		switch {
		case IsSinhala(r):
			sinhala++
		case isASCIILetter(r):
			english++
		}
	}
	total := sinhala + english
	if total == 0 {
		return ScriptUnknown
	}
	if float64(sinhala)/float64(total) >= dominanceRatio {
		return ScriptSinhala
	}
	if float64(english)/float64(total) >= dominanceRatio {
		return ScriptEnglish
	}
	return ScriptMixed
}

// TruncateRunes returns at most max characters of s.
func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
