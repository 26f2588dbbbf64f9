package storage

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ResourceStatus tracks ingestion progress of a Resource.
type ResourceStatus string

const (
	StatusPending   ResourceStatus = "pending"
	StatusProcessed ResourceStatus = "processed"
	StatusFailed    ResourceStatus = "failed"
)

// Resource is one user-owned source artifact (PDF, image, audio, text).
// CleanedText and DocumentEmbedding are populated by ingestion.
type Resource struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey"`
	OwnerID           uuid.UUID      `gorm:"type:uuid;index;not null"`
	Filename          string         `gorm:"not null"`
	StoragePath       string         `gorm:"not null"`
	MIME              string         `gorm:"column:mime"`
	SizeBytes         int64          `gorm:"column:size_bytes"`
	Language          string         `gorm:"not null"`
	CleanedText       *string        `gorm:"type:text"`
	DocumentEmbedding []float32      `gorm:"serializer:json"`
	EmbeddingModel    string         `gorm:"index"`
	Status            ResourceStatus `gorm:"not null;index"`
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasDocumentVector reports whether the resource carries a tagged document
// embedding.
func (r *Resource) HasDocumentVector() bool {
	return len(r.DocumentEmbedding) > 0 && r.EmbeddingModel != ""
}

// Chunk is a retrieval-addressable fragment of a Resource's cleaned text.
// [StartChar, EndChar) are character offsets into that text.
type Chunk struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ResourceID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chunk_resource_index"`
	ChunkIndex      int       `gorm:"not null;uniqueIndex:idx_chunk_resource_index"`
	Content         string    `gorm:"type:text;not null"`
	ContentLength   int
	Embedding       []float32 `gorm:"serializer:json"`
	EmbeddingModel  string
	StartChar       int
	EndChar         int
	PseudoQuestions string `gorm:"type:text"`
	Numbering       string
	CreatedAt       time.Time
}

// HasVector reports whether the chunk carries an embedding of model.
func (c *Chunk) HasVector(model string) bool {
	return len(c.Embedding) > 0 && c.EmbeddingModel == model
}

// ChunkID derives the deterministic id of chunk index i of a resource, so
// re-indexing yields the same ids.
func ChunkID(resourceID uuid.UUID, index int) uuid.UUID {
	return uuid.NewSHA1(resourceID, []byte("chunk:"+strconv.Itoa(index)))
}

// MessageRole distinguishes user queries from assistant replies.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Message is one turn of a tutoring exchange.
type Message struct {
	ID               uuid.UUID   `gorm:"type:uuid;primaryKey"`
	OwnerID          uuid.UUID   `gorm:"type:uuid;index;not null"`
	Role             MessageRole `gorm:"not null"`
	Content          string      `gorm:"type:text"`
	Scope            []uuid.UUID `gorm:"serializer:json"`
	Intent           string
	GradeLevel       string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	ReplyTo          *uuid.UUID `gorm:"type:uuid;index"`
	Error            string
	CreatedAt        time.Time
}

// UsedChunkRecord credits a chunk as evidence for an assistant message.
// Rank is 1-based; lower is stronger.
type UsedChunkRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	MessageID  uuid.UUID `gorm:"type:uuid;not null;index"`
	ChunkID    uuid.UUID `gorm:"type:uuid;not null"`
	ResourceID uuid.UUID `gorm:"type:uuid;not null"`
	Rank       int       `gorm:"not null"`
	Score      *float64
	CreatedAt  time.Time
}

// FlaggedSentence is a generated sentence with concepts absent from the context.
type FlaggedSentence struct {
	Sentence            string   `json:"sentence"`
	UnsupportedConcepts []string `json:"unsupported_concepts"`
	Severity            string   `json:"severity"`
}

// SafetyReport is the persisted grounding audit of one assistant message.
type SafetyReport struct {
	MessageID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	MissingConcepts  []string          `gorm:"serializer:json"`
	ExtraConcepts    []string          `gorm:"serializer:json"`
	FlaggedSentences []FlaggedSentence `gorm:"serializer:json"`
	Severity         string            `gorm:"not null"`
	Confidence       float64
	Reliability      string `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
