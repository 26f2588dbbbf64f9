// Package sinhala holds the lexical rules shared by BM25 retrieval and the
// grounding auditor: Sinhala-block tokenization, the stopword list and
// concept extraction.
package sinhala

import (
	"regexp"
	"sort"

	"golang.org/x/text/unicode/norm"
)

var (
	// runs of Sinhala-block letters and signs; U+0DF4 (kunddaliya) is punctuation.
	tokenPattern   = regexp.MustCompile(`[\x{0D80}-\x{0DF3}\x{0DF5}-\x{0DFF}]+`)
	conceptPattern = regexp.MustCompile(`[\x{0D80}-\x{0DF3}\x{0DF5}-\x{0DFF}]{3,}`)
)

// Stopwords is the list of Sinhala function words removed before scoring:
// conjunctions, postpositions, pronouns, copulas, auxiliary verbs and the
// interrogatives used by synthesized pseudo-questions.
var Stopwords = []string{
	"සහ", "හා", "හෝ", "නමුත්", "එහෙත්", "නිසා", "හෙයින්", "බැවින්", "නම්", "බව",
	"ද", "ය", "යි", "ක", "ට", "ගේ", "ගෙ", "ගෙන්", "ගෙන", "වල", "වලට", "වලින්", "ටත්",
	"මෙම", "මේ", "ඒ", "එම", "එය", "මෙය", "ඔහු", "ඇය", "අප", "අපි", "මම", "ඔබ", "ඔවුන්", "ඔවුහු",
	"විසින්", "සඳහා", "පිළිබඳ", "පිළිබඳව", "ලෙස", "මෙන්", "මෙන්ම", "තුළ", "මත", "සමඟ", "සමග",
	"දක්වා", "සිට", "පවා", "නොව", "වැනි", "පමණ", "තව", "එක",
	"වන", "වූ", "වී", "වේ", "විය", "ඇත", "ඇති", "ඇත්තේ", "නැත", "නැති", "කර", "කරන", "කළ",
	"කිරීම", "කරයි", "ලද", "ලබා", "යනු", "කුමක්ද", "කවුද", "කවදාද", "කෙසේද", "ඇයි", "කොහිද",
	"ගැන", "පැහැදිලි", "කරන්න",
}

var stopwordSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Stopwords))
	for _, w := range Stopwords {
		m[norm.NFC.String(w)] = struct{}{}
	}
	return m
}()

// IsStopword reports whether w is a Sinhala function word.
func IsStopword(w string) bool {
	_, ok := stopwordSet[w]
	return ok
}

// Tokenize returns the Sinhala-block runs of text in order, stopwords removed.
func Tokenize(text string) []string {
	matches := tokenPattern.FindAllString(norm.NFC.String(text), -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		if IsStopword(m) {
			continue
		}
		tokens = append(tokens, m)
	}
	return tokens
}

// Concepts returns the set of Sinhala content words of at least three
// characters in text.
func Concepts(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range conceptPattern.FindAllString(norm.NFC.String(text), -1) {
		if IsStopword(m) {
			continue
		}
		set[m] = struct{}{}
	}
	return set
}

// Difference returns the sorted members of a that are not in b.
func Difference(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for w := range a {
		if _, ok := b[w]; !ok {
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
