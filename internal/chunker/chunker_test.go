package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentences(n int, body string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = body + "."
	}
	return strings.Join(parts, " ")
}

func assertCovers(t *testing.T, text string, chunks []Chunk) {
	t.Helper()
	runes := []rune(text)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.GreaterOrEqual(t, c.StartChar, 0)
		assert.Less(t, c.StartChar, c.EndChar)
		assert.LessOrEqual(t, c.EndChar, len(runes))
		assert.Equal(t, string(runes[c.StartChar:c.EndChar]), c.Content)
		if i > 0 {
			assert.LessOrEqual(t, chunks[i-1].StartChar, c.StartChar)
			assert.LessOrEqual(t, chunks[i-1].EndChar, c.EndChar)
		}
	}
	require.NotEmpty(t, chunks)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].EndChar)
}

func TestChunker_SingleChunk(t *testing.T) {
	text := "පුනරුදය යුරෝපයේ ඇති විය. එය කලාව වෙනස් කළේය."
	chunks := New(300, 30).Chunk(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartChar)
	assert.Equal(t, utf8.RuneCountInString(text), chunks[0].EndChar)
}

func TestChunker_Empty(t *testing.T) {
	assert.Empty(t, New(300, 30).Chunk(""))
	assert.Empty(t, New(300, 30).Chunk("   \n "))
}

func TestChunker_PacksSentencesWithinBudget(t *testing.T) {
	// 41 chars per sentence, 10 tokens each with a 25 token budget.
	text := sentences(12, "abcdefghij abcdefghij abcdefghij abcdefg")
	chunks := New(25, 0).Chunk(text)

	require.Greater(t, len(chunks), 1)
	assertCovers(t, text, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, EstimateTokens(c.Content), 25)
		assert.True(t, strings.HasSuffix(c.Content, "."), "chunk should end on a sentence boundary: %q", c.Content)
	}
}

func TestChunker_Overlap(t *testing.T) {
	text := sentences(10, "abcdefghij abcdefghij abcdefghij abcdefg")
	chunks := New(25, 5).Chunk(text)

	require.Greater(t, len(chunks), 1)
	assertCovers(t, text, chunks)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		assert.Less(t, chunks[i].StartChar, prev.EndChar, "chunk %d should overlap the previous one", i)
		assert.GreaterOrEqual(t, chunks[i].StartChar, prev.EndChar-5*charsPerToken)
	}
}

func TestChunker_OverlapNeverExceedsBudget(t *testing.T) {
	// 192 chars per sentence leaves no room for the 40 char overlap.
	body := strings.Repeat("abcdefghi ", 19) + "a"
	text := sentences(30, body)
	chunks := New(50, 10).Chunk(text)

	require.Len(t, chunks, 30)
	assertCovers(t, text, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, EstimateTokens(c.Content), 50, "chunk %d: %d chars", c.Index, len([]rune(c.Content)))
	}
}

func TestChunker_OverlapTrimmedToWordBoundary(t *testing.T) {
	// 180 chars per sentence leaves room for part of the overlap.
	body := strings.Repeat("abcdefghi ", 17) + "abcdefghi"
	text := sentences(6, body)
	chunks := New(50, 10).Chunk(text)

	require.Greater(t, len(chunks), 1)
	assertCovers(t, text, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, EstimateTokens(c.Content), 50)
		if i > 0 {
			assert.Less(t, c.StartChar, chunks[i-1].EndChar, "chunk %d should keep some overlap", i)
			assert.NotEqual(t, ' ', []rune(c.Content)[0])
			assert.True(t, c.StartChar == 0 || []rune(text)[c.StartChar-1] == ' ', "chunk %d should start on a word", i)
		}
	}
}

func TestChunker_OversizedSentenceSplitOnWhitespace(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "පුනරුදය"
	}
	text := strings.Join(words, " ")
	chunks := New(50, 0).Chunk(text)

	require.Greater(t, len(chunks), 1)
	assertCovers(t, text, chunks)

	var total int
	for _, c := range chunks {
		assert.LessOrEqual(t, EstimateTokens(c.Content), 50)
		total += len(strings.Fields(c.Content))
	}
	assert.Equal(t, 200, total, "no words may be dropped")
}

func TestChunker_HardSplitsLongWord(t *testing.T) {
	text := strings.Repeat("x", 100)
	chunks := New(5, 0).Chunk(text)

	require.Len(t, chunks, 5)
	assertCovers(t, text, chunks)
}

func TestChunker_SinhalaDanda(t *testing.T) {
	text := "පළමු වාක්‍යය෴ දෙවන වාක්‍යය෴"
	units := sentenceSpans([]rune(text))
	assert.Len(t, units, 2)
}

func TestChunker_Deterministic(t *testing.T) {
	text := sentences(30, "lesson text that repeats")
	a := New(20, 4).Chunk(text)
	b := New(20, 4).Chunk(text)
	assert.Equal(t, a, b)
}

func TestExtractNumbering(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.1 පුනරුදය යනු", "1.1"},
		{"2.3.4 subsection", "2.3.4"},
		{"Q3 Explain the renaissance", "Q3"},
		{"q 12 short", "Q12"},
		{"2(a) define", "2(a)"},
		{"2 (අ) අර්ථ දක්වන්න", "2(අ)"},
		{"ii. second point", "ii."},
		{"iv) fourth", "iv)"},
		{"x. tenth", "x."},
		{"අ) පළමු කොටස", "අ)"},
		{"4. fourth question", "4."},
		{"  1.1 leading spaces", "1.1"},
		{"plain sentence", ""},
		{"Question five", ""},
		{"in the middle 1.1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractNumbering(tt.in))
		})
	}
}

func TestExtractNumbering_FirstLineOnly(t *testing.T) {
	assert.Equal(t, "", ExtractNumbering("intro line\n1.1 later"))
	assert.Equal(t, "Q1", ExtractNumbering("Q1 first\n1.1 later"))
}

func TestPseudoQuestions(t *testing.T) {
	content := "පුනරුදය යුරෝපයේ කලා පුබුදුවක් විය. කෙටි. ඉතාලියේ නගර වල වෙළඳාම වර්ධනය විය."
	got := PseudoQuestions(content)
	lines := strings.Split(got, "\n")

	require.Len(t, lines, 4)
	assert.Equal(t, "පුනරුදය යුරෝපයේ කලා පුබුදුවක් විය යනු කුමක්ද?", lines[0])
	assert.Equal(t, "පුනරුදය යුරෝපයේ කලා පුබුදුවක් විය ගැන පැහැදිලි කරන්න.", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "ඉතාලියේ"))
}

func TestPseudoQuestions_CappedAtFiveLines(t *testing.T) {
	content := sentences(6, "this sentence is comfortably long enough")
	lines := strings.Split(PseudoQuestions(content), "\n")
	assert.Len(t, lines, 5)
}

func TestPseudoQuestions_NoQualifyingSentence(t *testing.T) {
	assert.Equal(t, "", PseudoQuestions("කෙටි. short."))
}
