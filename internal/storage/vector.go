package storage

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bull/sinhala-tutor-rag/internal/embedding"
)

func idSet(ids []uuid.UUID) map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ChunkLess orders chunks by (resource_id, chunk_index), the tie-break of
// every ranked result.
func ChunkLess(a, b *Chunk) bool {
	if a.ResourceID != b.ResourceID {
		return a.ResourceID.String() < b.ResourceID.String()
	}
	return a.ChunkIndex < b.ChunkIndex
}

func sortChunks(chunks []*Chunk) {
	sort.SliceStable(chunks, func(i, j int) bool { return ChunkLess(chunks[i], chunks[j]) })
}

// SortScoredChunks orders by descending score with (resource_id, chunk_index) tie-break.
func SortScoredChunks(hits []ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return ChunkLess(hits[i].Chunk, hits[j].Chunk)
	})
}

func sortScoredResources(hits []ScoredResource) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ResourceID.String() < hits[j].ResourceID.String()
	})
}

// rankChunks scores in-process every chunk that carries a vector of q.Model.
func rankChunks(chunks []*Chunk, q VectorQuery) ([]ScoredChunk, error) {
	hits := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if !c.HasVector(q.Model) {
			continue
		}
		if len(c.Embedding) != len(q.Vector) {
			return nil, fmt.Errorf("%w: chunk %s has %d dimensions, query has %d",
				ErrDimensionMismatch, c.ID, len(c.Embedding), len(q.Vector))
		}
		hits = append(hits, ScoredChunk{Chunk: c, Score: embedding.Cosine(q.Vector, c.Embedding)})
	}
	SortScoredChunks(hits)
	if q.K > 0 && len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

func rankResources(resources []*Resource, q VectorQuery) ([]ScoredResource, error) {
	hits := make([]ScoredResource, 0, len(resources))
	for _, r := range resources {
		if !r.HasDocumentVector() || r.EmbeddingModel != q.Model {
			continue
		}
		if len(r.DocumentEmbedding) != len(q.Vector) {
			return nil, fmt.Errorf("%w: resource %s has %d dimensions, query has %d",
				ErrDimensionMismatch, r.ID, len(r.DocumentEmbedding), len(q.Vector))
		}
		hits = append(hits, ScoredResource{ResourceID: r.ID, Score: embedding.Cosine(q.Vector, r.DocumentEmbedding)})
	}
	sortScoredResources(hits)
	if q.K > 0 && len(hits) > q.K {
		hits = hits[:q.K]
	}
	return hits, nil
}

func validateIngestion(ing *Ingestion) error {
	if ing == nil || ing.ResourceID == uuid.Nil {
		return fmt.Errorf("ingestion: missing resource id")
	}
	runes := len([]rune(ing.CleanedText))
	for i, c := range ing.Chunks {
		if c.ResourceID != ing.ResourceID {
			return fmt.Errorf("ingestion: chunk %d belongs to resource %s", i, c.ResourceID)
		}
		if c.ChunkIndex != i {
			return fmt.Errorf("ingestion: chunk %d has index %d", i, c.ChunkIndex)
		}
		if c.StartChar < 0 || c.StartChar >= c.EndChar || c.EndChar > runes {
			return fmt.Errorf("ingestion: chunk %d offsets [%d,%d) outside text of %d chars", i, c.StartChar, c.EndChar, runes)
		}
		if i > 0 && c.StartChar < ing.Chunks[i-1].StartChar {
			return fmt.Errorf("ingestion: chunk %d starts before chunk %d", i, i-1)
		}
		if len(c.Embedding) > 0 && len(ing.DocumentEmbedding) > 0 && len(c.Embedding) != len(ing.DocumentEmbedding) {
			return fmt.Errorf("%w: chunk %d has %d dimensions, document has %d",
				ErrDimensionMismatch, i, len(c.Embedding), len(ing.DocumentEmbedding))
		}
	}
	return nil
}
