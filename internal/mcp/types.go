// Package mcp exposes the tutor over the Model Context Protocol.
package mcp

import (
	"github.com/bull/sinhala-tutor-rag/internal/safety"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	// OwnerID, when set, must own every resource in Scope.
	OwnerID string `json:"owner_id,omitempty" jsonschema:"id of the learner asking; every scoped resource must belong to them"`
	// Scope lists the resource ids the answer may draw from.
	Scope []string `json:"scope" jsonschema:"resource ids the answer may use; an empty list returns an empty answer"`
	// Query is the learner's question.
	Query      string `json:"query" jsonschema:"the learner's question in Sinhala or English"`
	GradeLevel string `json:"grade_level,omitempty" jsonschema:"grade_6 to grade_13, o_level or a_level"`
	IntentHint string `json:"intent_hint,omitempty" jsonschema:"greeting, summary, qa_generate, qa_answer or explanation"`
}

// UsedSource credits one chunk of the answer's evidence.
type UsedSource struct {
	ChunkID    string   `json:"chunk_id"`
	ResourceID string   `json:"resource_id"`
	Rank       int      `json:"rank"`
	Score      *float64 `json:"score"`
}

// AskOutput contains the grounded answer.
type AskOutput struct {
	UserMessageID      string         `json:"user_message_id"`
	AssistantMessageID string         `json:"assistant_message_id,omitempty"`
	Answer             string         `json:"answer"`
	UsedSources        []UsedSource   `json:"used_sources"`
	Safety             safety.Summary `json:"safety"`
	Intent             string         `json:"intent"`
}

// SafetyReportInput defines the input parameters for the get_safety_report tool.
type SafetyReportInput struct {
	MessageID string `json:"message_id" jsonschema:"assistant message id returned by ask"`
}

// SafetyReport is the full grounding audit.
type SafetyReport struct {
	MessageID        string                    `json:"message_id,omitempty"`
	MissingConcepts  []string                  `json:"missing_concepts"`
	ExtraConcepts    []string                  `json:"extra_concepts"`
	FlaggedSentences []storage.FlaggedSentence `json:"flagged_sentences"`
	Severity         string                    `json:"severity"`
	Confidence       float64                   `json:"confidence"`
	Reliability      string                    `json:"reliability"`
}

// AuditTextInput defines the input parameters for the audit_text tool.
type AuditTextInput struct {
	Answer  string `json:"answer" jsonschema:"generated text to audit"`
	Context string `json:"context" jsonschema:"source text the answer should be grounded in"`
}

// IndexResourceInput defines the input parameters for the index_resource tool.
type IndexResourceInput struct {
	ResourceID string `json:"resource_id" jsonschema:"id of an uploaded resource"`
}

// IndexResourceOutput describes one indexing run.
type IndexResourceOutput struct {
	ResourceID       string `json:"resource_id"`
	Status           string `json:"status"`
	ChunksCreated    int    `json:"chunks_created"`
	DocumentEmbedded bool   `json:"document_embedded"`
	Language         string `json:"language"`
	DurationMS       int64  `json:"duration_ms"`
}

// ListResourcesInput defines the input parameters for the list_resources tool.
type ListResourcesInput struct {
	OwnerID string `json:"owner_id" jsonschema:"id of the learner whose resources to list"`
}

// Resource is the listing view of one resource.
type Resource struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	MIME          string `json:"mime"`
	Status        string `json:"status"`
	Language      string `json:"language"`
	FailureReason string `json:"failure_reason,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// ListResourcesOutput contains the owner's resources.
type ListResourcesOutput struct {
	Resources []Resource `json:"resources"`
	Count     int        `json:"count"`
}
