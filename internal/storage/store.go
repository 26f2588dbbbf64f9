package storage

import (
	"context"

	"github.com/google/uuid"
)

// ResourceUpdate lists the mutable resource fields; nil fields are left unchanged.
type ResourceUpdate struct {
	Status        *ResourceStatus
	FailureReason *string
	Language      *string
}

// Ingestion is the complete output of indexing one resource. It is committed
// atomically: readers see either no chunks or all of them.
type Ingestion struct {
	ResourceID        uuid.UUID
	Language          string
	CleanedText       string
	DocumentEmbedding []float32
	EmbeddingModel    string
	Chunks            []*Chunk
}

// VectorQuery restricts a similarity search to resources and a model tag.
type VectorQuery struct {
	ResourceIDs []uuid.UUID
	Vector      []float32
	Model       string
	K           int
}

// ScoredChunk is a chunk with its cosine similarity to a query vector.
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// ScoredResource is a resource with the cosine similarity of its document vector.
type ScoredResource struct {
	ResourceID uuid.UUID
	Score      float64
}

// ResourceStore persists Resources.
type ResourceStore interface {
	GetResource(ctx context.Context, id uuid.UUID) (*Resource, error)
	// GetResources returns the resources that exist, in the order of ids.
	GetResources(ctx context.Context, ids []uuid.UUID) ([]*Resource, error)
	ListResources(ctx context.Context, ownerID uuid.UUID) ([]*Resource, error)
	CreateResource(ctx context.Context, r *Resource) error
	UpdateResource(ctx context.Context, id uuid.UUID, u ResourceUpdate) error
	// DeleteResource removes the resource with its chunks and vectors.
	DeleteResource(ctx context.Context, id uuid.UUID) error
}

// ChunkStore persists Chunks and serves similarity search over them.
type ChunkStore interface {
	// BulkInsert commits an ingestion. It fails with ErrAlreadyIndexed when the
	// resource already has chunks.
	BulkInsert(ctx context.Context, ing *Ingestion) error
	// ListByResources returns every chunk of the resources ordered by
	// (resource_id, chunk_index).
	ListByResources(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error)
	CountByResource(ctx context.Context, id uuid.UUID) (int, error)
	// VectorSearch returns the top K chunks of model by descending cosine,
	// ties broken by (resource_id, chunk_index).
	VectorSearch(ctx context.Context, q VectorQuery) ([]ScoredChunk, error)
	// DocumentSearch returns the top K resources by document vector cosine.
	DocumentSearch(ctx context.Context, q VectorQuery) ([]ScoredResource, error)
}

// MessageLog persists messages and their grounding records.
type MessageLog interface {
	CreateUserMessage(ctx context.Context, m *Message) error
	CreateAssistantMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	AppendUsedChunks(ctx context.Context, records []*UsedChunkRecord) error
	ListUsedChunks(ctx context.Context, messageID uuid.UUID) ([]*UsedChunkRecord, error)
	UpsertSafetyReport(ctx context.Context, r *SafetyReport) error
	GetSafetyReport(ctx context.Context, messageID uuid.UUID) (*SafetyReport, error)
}

// Store is the full persistence surface.
type Store interface {
	ResourceStore
	ChunkStore
	MessageLog
	Health(ctx context.Context) error
	Close() error
}
