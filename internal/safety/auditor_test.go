package safety

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

const consonants = "කඛගඝඞචඡජඣඤටඨඩඪණතථදධනපඵබභමයරලවශෂසහළෆ"

// newWords returns n distinct four-letter Sinhala words absent from any
// realistic context.
func newWords(n int) []string {
	cs := []rune(consonants)
	words := make([]string, n)
	for i := range n {
		words[i] = "නව" + string(cs[i/len(cs)]) + string(cs[i%len(cs)])
	}
	return words
}

const photosynthesisContext = "ජලය ශාකය සූර්යාලෝකය කාබන් ඔක්සිජන්"

func TestAuditFullyGrounded(t *testing.T) {
	r := Audit(DefaultConfig(), "ශාකය ජලය සහ සූර්යාලෝකය ගනී. කාබන් ඔක්සිජන් වෙයි.", photosynthesisContext)

	assert.Empty(t, r.MissingConcepts)
	assert.Equal(t, []string{"ගනී", "වෙයි"}, r.ExtraConcepts)
	assert.Empty(t, r.FlaggedSentences)
	assert.Equal(t, SeverityLow, r.Severity)
	assert.Equal(t, 0.96, r.Confidence)
	assert.Equal(t, FullySupported, r.Reliability)
}

func TestAuditHallucinatedSentence(t *testing.T) {
	cases := []struct {
		name        string
		newWords    int
		confidence  float64
		reliability string
	}{
		// 5 missing + 30 extra + 2*1 flagged.
		{"thirty new words", 30, 0.26, LikelyUnsupported},
		{"forty five new words", 45, 0.0, LikelyUnsupported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			answer := strings.Join(newWords(tc.newWords), " ") + "."
			r := Audit(DefaultConfig(), answer, photosynthesisContext)

			require.Len(t, r.FlaggedSentences, 1)
			assert.Equal(t, SeverityHigh, r.FlaggedSentences[0].Severity)
			assert.Len(t, r.FlaggedSentences[0].UnsupportedConcepts, tc.newWords)
			assert.Equal(t, SeverityHigh, r.Severity)
			assert.Len(t, r.MissingConcepts, 5)
			assert.Len(t, r.ExtraConcepts, tc.newWords)
			assert.Equal(t, tc.confidence, r.Confidence)
			assert.Equal(t, tc.reliability, r.Reliability)
		})
	}
	r := Audit(DefaultConfig(), strings.Join(newWords(45), " "), photosynthesisContext)
	assert.LessOrEqual(t, r.Confidence, 0.10)
}

func TestSentenceSeverityBands(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		words int
		want  string
	}{
		{4, ""},
		{5, SeverityLow},
		{9, SeverityLow},
		{10, SeverityMedium},
		{19, SeverityMedium},
		{20, SeverityHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sentenceSeverity(cfg, tc.words), "words=%d", tc.words)
	}
}

func TestAuditMediumFromFlagsOrDrift(t *testing.T) {
	// 6 unsupported words in one sentence: a low flag raises overall severity to medium.
	r := Audit(DefaultConfig(), strings.Join(newWords(6), " ")+" ජලය ශාකය සූර්යාලෝකය කාබන් ඔක්සිජන්", photosynthesisContext)
	require.Len(t, r.FlaggedSentences, 1)
	assert.Equal(t, SeverityLow, r.FlaggedSentences[0].Severity)
	assert.Equal(t, SeverityMedium, r.Severity)

	// 6 extra words spread over short sentences: no flags but drift > 5.
	words := newWords(6)
	var b strings.Builder
	for i := 0; i < len(words); i += 2 {
		b.WriteString(words[i] + " " + words[i+1] + ". ")
	}
	r = Audit(DefaultConfig(), b.String()+photosynthesisContext, photosynthesisContext)
	assert.Empty(t, r.FlaggedSentences)
	assert.Equal(t, SeverityMedium, r.Severity)
}

func TestAuditShortSentencesIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowThreshold = 1
	cfg.MediumThreshold = 1
	cfg.HighThreshold = 1
	r := Audit(cfg, "නවකක! නවකඛ? ", "")
	assert.Empty(t, r.FlaggedSentences)
	assert.Len(t, r.ExtraConcepts, 2)
}

func TestAuditDeterministic(t *testing.T) {
	answer := strings.Join(newWords(25), " ") + ". ජලය ශාකය."
	first := Audit(DefaultConfig(), answer, photosynthesisContext)
	for range 5 {
		assert.Equal(t, first, Audit(DefaultConfig(), answer, photosynthesisContext))
	}
}

func TestAuditEmptyInputs(t *testing.T) {
	r := Audit(DefaultConfig(), "", "")
	assert.Equal(t, EmptySummary(), r.Summary())
	assert.NotNil(t, r.MissingConcepts)
	assert.NotNil(t, r.FlaggedSentences)
}

func TestConfidenceAndReliability(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1.0, Confidence(cfg, 0, 0, 0))
	assert.Equal(t, 0.9, Confidence(cfg, 2, 1, 1))
	assert.Equal(t, 0.0, Confidence(cfg, 60, 0, 0))
	assert.Equal(t, 0.67, Confidence(Config{PenaltyDenominator: 3, FlagWeight: 2}, 1, 0, 0))

	assert.Equal(t, FullySupported, Reliability(0.85))
	assert.Equal(t, PartiallySupported, Reliability(0.84))
	assert.Equal(t, PartiallySupported, Reliability(0.60))
	assert.Equal(t, LikelyUnsupported, Reliability(0.59))

	order := map[string]int{LikelyUnsupported: 0, PartiallySupported: 1, FullySupported: 2}
	prev := -1
	for c := 0; c <= 100; c++ {
		level := order[Reliability(float64(c)/100)]
		assert.GreaterOrEqual(t, level, prev)
		prev = level
	}
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"එක", "දෙක", "තුන"}, SplitSentences("එක. දෙක!තුන? "))
	assert.Empty(t, SplitSentences(" ... "))
}

func TestAuditAndStore(t *testing.T) {
	store := storage.NewMemoryStore()
	a := NewAuditor(DefaultConfig(), store, nil)
	msg := uuid.New()

	report, err := a.AuditAndStore(context.Background(), msg, strings.Join(newWords(21), " "), photosynthesisContext)
	require.NoError(t, err)

	got, err := store.GetSafetyReport(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, report, FromRecord(got))
	assert.Equal(t, SeverityHigh, got.Severity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.AuditAndStore(ctx, uuid.New(), "x", "y")
	require.ErrorIs(t, err, context.Canceled)
}
