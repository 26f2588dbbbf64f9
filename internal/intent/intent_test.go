package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bull/sinhala-tutor-rag/internal/generation"
	"github.com/bull/sinhala-tutor-rag/internal/retrieval"
)

func TestMatchRules(t *testing.T) {
	cases := []struct {
		query string
		want  Intent
		ok    bool
	}{
		{"පාඩම 1 සාරාංශය", Summary, true},
		{"Summarize chapter 2", Summary, true},
		{"ප්‍රභාසංශ්ලේෂණය පැහැදිලි කරන්න", Explanation, true},
		{"Why is the sky blue?", Explanation, true},
		{"ආයුබෝවන්!", Greeting, true},
		{"Hi", Greeting, true},
		{"this is history", "", false},
		{"ප්‍රශ්න පත්‍රයක් සාදන්න", QAGenerate, true},
		{"Generate questions from lesson 3", QAGenerate, true},
		{"පුනරුදය යනු කුමක්ද?", QAAnswer, true},
		{"What is the Renaissance?", QAAnswer, true},
		{"   ", "", false},
		{"thanks, what is photosynthesis?", QAAnswer, true},
		{"ස්තූතියි, පුනරුදය යනු කුමක්ද?", QAAnswer, true},
		{"hello, summarize lesson 4", Summary, true},
		{"ආයුබෝවන්, ප්‍රභාසංශ්ලේෂණය පැහැදිලි කරන්න", Explanation, true},
		{"Thank you!", Greeting, true},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			got, ok := MatchRules(tc.query)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

// anchorEmbedder maps known texts to fixed vectors.
type anchorEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (e *anchorEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := e.vectors[t]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

func (e *anchorEmbedder) ModelTag() string { return "fake" }
func (e *anchorEmbedder) Dimension() int   { return 3 }

var testAnchors = []Anchor{
	{Summary, "anchor-summary"},
	{Explanation, "anchor-explain"},
}

func TestClassifySemantic(t *testing.T) {
	emb := &anchorEmbedder{vectors: map[string][]float32{
		"anchor-summary": {1, 0, 0},
		"anchor-explain": {0, 1, 0},
		"q-one":          {0.9, 0.1, 0},
		"q-two":          {0.5, 0.5, 0.7},
	}}
	r := NewRouter(emb, DefaultThreshold, testAnchors, nil)

	c := r.Classify(context.Background(), "q-one", "")
	assert.Equal(t, Summary, c.Intent)
	assert.Equal(t, MethodSemantic, c.Method)
	assert.Greater(t, c.Score, 0.65)

	c = r.Classify(context.Background(), "q-two", "")
	assert.Equal(t, QAAnswer, c.Intent)
	assert.Equal(t, MethodDefault, c.Method)
	assert.Less(t, c.Score, 0.65)

	// anchors are embedded once: one anchor call plus one call per query.
	assert.Equal(t, 3, emb.calls)
}

func TestClassifyPrecedence(t *testing.T) {
	emb := &anchorEmbedder{}
	r := NewRouter(emb, DefaultThreshold, testAnchors, nil)

	c := r.Classify(context.Background(), "පාඩම සාරාංශය", QAGenerate)
	assert.Equal(t, Classification{Intent: QAGenerate, Method: MethodHint}, c)

	c = r.Classify(context.Background(), "පාඩම සාරාංශය", "bogus")
	assert.Equal(t, Classification{Intent: Summary, Method: MethodRule}, c)
	assert.Zero(t, emb.calls)
}

func TestClassifyDegrades(t *testing.T) {
	r := NewRouter(&anchorEmbedder{err: errors.New("boom")}, DefaultThreshold, nil, nil)
	assert.Equal(t, Classification{Intent: QAAnswer, Method: MethodDefault}, r.Classify(context.Background(), "ඉතිහාසය", ""))

	r = NewRouter(nil, DefaultThreshold, nil, nil)
	assert.Equal(t, QAAnswer, r.Classify(context.Background(), "ඉතිහාසය", "").Intent)
}

func TestProfileFor(t *testing.T) {
	base := retrieval.DefaultParams()
	w := Widening{SummaryFinalK: 12, GenerateTopDocK: 8, GenerateFinalK: 12}

	greet := ProfileFor(Greeting, base, w)
	assert.True(t, greet.SkipRetrieval)
	assert.Equal(t, generation.StyleGreeting, greet.Style)

	sum := ProfileFor(Summary, base, w)
	assert.Equal(t, 12, sum.Params.FinalK)
	assert.Equal(t, base.TopDocK, sum.Params.TopDocK)
	assert.Equal(t, generation.StyleSummary, sum.Style)

	gen := ProfileFor(QAGenerate, base, w)
	assert.Equal(t, 8, gen.Params.TopDocK)
	assert.Equal(t, 12, gen.Params.FinalK)
	assert.Equal(t, generation.StyleQuestions, gen.Style)

	ans := ProfileFor("", base, w)
	assert.Equal(t, QAAnswer, ans.Intent)
	assert.Equal(t, base, ans.Params)
	assert.False(t, ans.SkipRetrieval)

	small := ProfileFor(Summary, base, Widening{SummaryFinalK: 2})
	assert.Equal(t, base.FinalK, small.Params.FinalK)
}
