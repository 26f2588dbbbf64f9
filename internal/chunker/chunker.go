// Package chunker splits cleaned resource text into sentence-preserving,
// token-budgeted chunks with overlap.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// DefaultMaxTokens is the token budget of one chunk.
	DefaultMaxTokens = 300
	// DefaultOverlapTokens is carried from the tail of one chunk into the next.
	DefaultOverlapTokens = 30
	// charsPerToken approximates tokens from character counts.
	charsPerToken = 4
)

// Chunk is a draft fragment of a resource's cleaned text. Offsets are
// character (rune) positions into that text; Content equals text[StartChar:EndChar].
type Chunk struct {
	Index     int
	Content   string
	StartChar int
	EndChar   int
	Numbering string
}

// Chunker packs sentences into chunks of at most maxTokens approximated tokens.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

// New creates a Chunker. Non-positive maxTokens falls back to DefaultMaxTokens,
// negative overlap to zero.
func New(maxTokens, overlapTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 2
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens}
}

// EstimateTokens approximates the token count of text as max(1, chars/4).
func EstimateTokens(text string) int {
	return estimate(len([]rune(text)))
}

func estimate(chars int) int {
	return max(1, chars/charsPerToken)
}

type span struct{ start, end int }

// Chunk splits cleaned text. Sentences are never split unless a single
// sentence exceeds the budget, in which case it is split on whitespace.
func (c *Chunker) Chunk(text string) []Chunk {
	runes := []rune(text)
	units := c.units(runes)
	if len(units) == 0 {
		return nil
	}

	overlapChars := c.overlapTokens * charsPerToken
	var (
		chunks []Chunk
		start  = units[0].start
		end    = -1
	)
	emit := func() {
		content := string(runes[start:end])
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Content:   content,
			StartChar: start,
			EndChar:   end,
			Numbering: ExtractNumbering(content),
		})
	}

	for _, u := range units {
		if end < 0 {
			end = u.end
			continue
		}
		if estimate(u.end-start) <= c.maxTokens {
			end = u.end
			continue
		}
		emit()
		next := max(start, end-overlapChars)
		next = skipSpace(runes, next, u.start)
		if estimate(u.end-next) > c.maxTokens {
			next = c.trimOverlap(runes, next, u)
		}
		start, end = next, u.end
	}
	emit()
	return chunks
}

// trimOverlap moves an overlap start forward to a word boundary so that the
// overlap plus u fits the budget. With no room left it returns u.start.
func (c *Chunker) trimOverlap(runes []rune, next int, u span) int {
	limit := (c.maxTokens+1)*charsPerToken - 1
	pos := max(next, u.end-limit)
	if pos > next && !unicode.IsSpace(runes[pos-1]) {
		for pos < u.start && !unicode.IsSpace(runes[pos]) {
			pos++
		}
	}
	return skipSpace(runes, pos, u.start)
}

// units returns sentence spans, with oversized sentences split on whitespace.
func (c *Chunker) units(runes []rune) []span {
	var out []span
	for _, s := range sentenceSpans(runes) {
		if estimate(s.end-s.start) <= c.maxTokens {
			out = append(out, s)
			continue
		}
		out = append(out, splitOnWhitespace(runes, s, c.maxTokens*charsPerToken)...)
	}
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\u0DF4', '\u0964':
		return true
	}
	return false
}

// sentenceSpans splits on terminators followed by whitespace or end of text.
// Spans exclude surrounding whitespace.
func sentenceSpans(runes []rune) []span {
	var out []span
	start := -1
	for i, r := range runes {
		if start < 0 {
			if unicode.IsSpace(r) {
				continue
			}
			start = i
		}
		if isTerminator(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			out = append(out, span{start, i + 1})
			start = -1
		}
	}
	if start >= 0 {
		end := len(runes)
		for end > start && unicode.IsSpace(runes[end-1]) {
			end--
		}
		out = append(out, span{start, end})
	}
	return out
}

// splitOnWhitespace breaks s into pieces of at most maxChars, cutting at the
// last whitespace inside the window and hard-cutting words that are longer.
func splitOnWhitespace(runes []rune, s span, maxChars int) []span {
	var out []span
	pos := s.start
	for pos < s.end {
		limit := min(pos+maxChars, s.end)
		cut := limit
		if limit < s.end {
			for j := limit; j > pos; j-- {
				if unicode.IsSpace(runes[j]) {
					cut = j
					break
				}
			}
		}
		piece := span{pos, cut}
		for piece.end > piece.start && unicode.IsSpace(runes[piece.end-1]) {
			piece.end--
		}
		if piece.end > piece.start {
			out = append(out, piece)
		}
		pos = skipSpace(runes, cut, s.end)
	}
	return out
}

func skipSpace(runes []rune, pos, limit int) int {
	for pos < limit && unicode.IsSpace(runes[pos]) {
		pos++
	}
	return pos
}

var numberingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d+)\s*\(\s*([a-zA-Z])\s*\)`),
	regexp.MustCompile(`^(\d+)\s*\(\s*([\x{0D85}-\x{0DC6}])\s*\)`),
	regexp.MustCompile(`^(\d+(?:\.\d+)+)`),
	regexp.MustCompile(`^([Qq])\s*(\d+)`),
	regexp.MustCompile(`^(?i)(x|ix|iv|v?i{1,3}|v)([.)])(?:\s|$)`),
	regexp.MustCompile(`^([\x{0D85}-\x{0DC6}])\)`),
	regexp.MustCompile(`^(\d+)([.)])(?:\s|$)`),
}

// ExtractNumbering returns the question or section marker at the start of the
// first line of text ("1.1", "Q3", "2(a)", "2(අ)", "ii.", "අ)", "4."), or "".
func ExtractNumbering(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	for i, p := range numberingPatterns {
		m := p.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		switch i {
		case 0, 1:
			return m[1] + "(" + m[2] + ")"
		case 3:
			return "Q" + m[2]
		case 4:
			return strings.ToLower(m[1]) + m[2]
		case 5:
			return m[1] + ")"
		case 6:
			return m[1] + m[2]
		default:
			return m[1]
		}
	}
	return ""
}
