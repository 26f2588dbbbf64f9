// Package safety audits how well a generated answer is grounded in the
// context it was given. The audit is lexical: it compares Sinhala content
// words, so it is a pure function of its two inputs and the thresholds.
package safety

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/sinhala"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	FullySupported     = "fully_supported"
	PartiallySupported = "partially_supported"
	LikelyUnsupported  = "likely_unsupported"
)

const (
	minSentenceChars = 5
	// more missing or extra concepts than this raises the overall severity.
	driftLimit = 5
)

// Config holds the audit thresholds.
type Config struct {
	HighThreshold      int
	MediumThreshold    int
	LowThreshold       int
	PenaltyDenominator int
	FlagWeight         int
}

// DefaultConfig returns thresholds 20/10/5, denominator 50 and flag weight 2.
func DefaultConfig() Config {
	return Config{
		HighThreshold:      20,
		MediumThreshold:    10,
		LowThreshold:       5,
		PenaltyDenominator: 50,
		FlagWeight:         2,
	}
}

// Report is the outcome of one audit.
type Report struct {
	MissingConcepts  []string                  `json:"missing_concepts"`
	ExtraConcepts    []string                  `json:"extra_concepts"`
	FlaggedSentences []storage.FlaggedSentence `json:"flagged_sentences"`
	Severity         string                    `json:"severity"`
	Confidence       float64                   `json:"confidence"`
	Reliability      string                    `json:"reliability"`
}

// Summary is the short form returned with an answer.
type Summary struct {
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Reliability string  `json:"reliability"`
}

// Summary drops the concept lists.
func (r *Report) Summary() Summary {
	return Summary{Severity: r.Severity, Confidence: r.Confidence, Reliability: r.Reliability}
}

// Record converts r to its persisted form.
func (r *Report) Record(messageID uuid.UUID) *storage.SafetyReport {
	return &storage.SafetyReport{
		MessageID:        messageID,
		MissingConcepts:  r.MissingConcepts,
		ExtraConcepts:    r.ExtraConcepts,
		FlaggedSentences: r.FlaggedSentences,
		Severity:         r.Severity,
		Confidence:       r.Confidence,
		Reliability:      r.Reliability,
	}
}

// FromRecord is the inverse of Report.Record.
func FromRecord(rec *storage.SafetyReport) *Report {
	return &Report{
		MissingConcepts:  rec.MissingConcepts,
		ExtraConcepts:    rec.ExtraConcepts,
		FlaggedSentences: rec.FlaggedSentences,
		Severity:         rec.Severity,
		Confidence:       rec.Confidence,
		Reliability:      rec.Reliability,
	}
}

// EmptySummary is the safety summary of an answer that makes no claims.
func EmptySummary() Summary {
	return Summary{Severity: SeverityLow, Confidence: 1.0, Reliability: FullySupported}
}

// ReportStore persists audit results.
type ReportStore interface {
	UpsertSafetyReport(ctx context.Context, r *storage.SafetyReport) error
}

// Auditor runs audits with a fixed configuration.
type Auditor struct {
	cfg    Config
	store  ReportStore
	logger *zap.Logger
}

// NewAuditor creates an auditor. store may be nil when reports are not
// persisted.
func NewAuditor(cfg Config, store ReportStore, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{cfg: cfg, store: store, logger: logger}
}

// Audit compares the concepts of generated against contextText.
func (a *Auditor) Audit(generated, contextText string) *Report {
	return Audit(a.cfg, generated, contextText)
}

// AuditAndStore audits and upserts the report keyed by messageID.
func (a *Auditor) AuditAndStore(ctx context.Context, messageID uuid.UUID, generated, contextText string) (*Report, error) {
	report := a.Audit(generated, contextText)
	if err := a.Store(ctx, messageID, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Store upserts report keyed by messageID. It is a no-op without a store.
func (a *Auditor) Store(ctx context.Context, messageID uuid.UUID, report *Report) error {
	if a.store == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.store.UpsertSafetyReport(ctx, report.Record(messageID)); err != nil {
		return fmt.Errorf("store safety report for %s: %w", messageID, err)
	}
	a.logger.Debug("Stored safety report",
		zap.String("message_id", messageID.String()),
		zap.String("severity", report.Severity),
		zap.Float64("confidence", report.Confidence))
	return nil
}

// Audit is the stateless form of Auditor.Audit.
func Audit(cfg Config, generated, contextText string) *Report {
	src := sinhala.Concepts(contextText)
	gen := sinhala.Concepts(generated)

	report := &Report{
		MissingConcepts:  sinhala.Difference(src, gen),
		ExtraConcepts:    sinhala.Difference(gen, src),
		FlaggedSentences: flagSentences(cfg, generated, src),
	}
	report.Severity = overallSeverity(report)
	report.Confidence = Confidence(cfg, len(report.MissingConcepts), len(report.ExtraConcepts), len(report.FlaggedSentences))
	report.Reliability = Reliability(report.Confidence)
	return report
}

func flagSentences(cfg Config, generated string, src map[string]struct{}) []storage.FlaggedSentence {
	flagged := make([]storage.FlaggedSentence, 0)
	for _, sentence := range SplitSentences(generated) {
		if utf8.RuneCountInString(sentence) < minSentenceChars {
			continue
		}
		unsupported := sinhala.Difference(sinhala.Concepts(sentence), src)
		severity := sentenceSeverity(cfg, len(unsupported))
		if severity == "" {
			continue
		}
		flagged = append(flagged, storage.FlaggedSentence{
			Sentence:            sentence,
			UnsupportedConcepts: unsupported,
			Severity:            severity,
		})
	}
	return flagged
}

func sentenceSeverity(cfg Config, n int) string {
	switch {
	case n >= cfg.HighThreshold:
		return SeverityHigh
	case n >= cfg.MediumThreshold:
		return SeverityMedium
	case n >= cfg.LowThreshold:
		return SeverityLow
	}
	return ""
}

func overallSeverity(r *Report) string {
	for _, f := range r.FlaggedSentences {
		if f.Severity == SeverityHigh {
			return SeverityHigh
		}
	}
	if len(r.FlaggedSentences) > 0 || len(r.MissingConcepts) > driftLimit || len(r.ExtraConcepts) > driftLimit {
		return SeverityMedium
	}
	return SeverityLow
}

// SplitSentences splits on '.', '!' and '?' and trims each piece. Empty
// pieces are dropped.
func SplitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Confidence is max(0, 1 - (missing + extra + weight*flagged)/denominator)
// rounded to two decimals.
func Confidence(cfg Config, missing, extra, flagged int) float64 {
	penalty := float64(missing + extra + cfg.FlagWeight*flagged)
	c := math.Max(0, 1-penalty/float64(cfg.PenaltyDenominator))
	return math.Round(c*100) / 100
}

// Reliability labels a confidence score.
func Reliability(confidence float64) string {
	switch {
	case confidence >= 0.85:
		return FullySupported
	case confidence >= 0.60:
		return PartiallySupported
	}
	return LikelyUnsupported
}
