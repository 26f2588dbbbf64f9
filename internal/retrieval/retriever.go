// Package retrieval selects the evidence a query may see: a document-level
// dense prefilter with a BM25 fallback, chunk-level dense search and an
// optional cross-encoder rerank.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/embedding"
	"github.com/bull/sinhala-tutor-rag/internal/metrics"
	"github.com/bull/sinhala-tutor-rag/internal/sinhala"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

var (
	// ErrOutOfScopeChunk means the store returned a chunk outside the query
	// scope. It indicates a store bug and fails the request.
	ErrOutOfScopeChunk = errors.New("retrieved chunk outside scope")
	// ErrModelTagMismatch means the scope's document vectors were produced by
	// a different embedding model than the query vector.
	ErrModelTagMismatch = errors.New("embedding model tag mismatch")
	// ErrDimensionMismatch is returned when stored and query vectors differ in length.
	ErrDimensionMismatch = storage.ErrDimensionMismatch
)

// Source names the stage that produced a hit.
type Source string

const (
	SourceDense   Source = "dense"
	SourceLexical Source = "lexical"
	SourceNatural Source = "natural"
)

// EvidenceHit is a retrieved chunk with its 1-based rank. Score is nil when
// no similarity could be computed.
type EvidenceHit struct {
	ChunkID    uuid.UUID
	ResourceID uuid.UUID
	ChunkIndex int
	Content    string
	Numbering  string
	Rank       int
	Score      *float64
	Source     Source
}

// Params sizes the retrieval stages.
type Params struct {
	TopDocK       int
	BM25K         int
	FinalK        int
	CandidatePool int
}

// DefaultParams returns the standard retrieval profile.
func DefaultParams() Params {
	return Params{TopDocK: 5, BM25K: 10, FinalK: 8, CandidatePool: 100}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.TopDocK <= 0 {
		p.TopDocK = d.TopDocK
	}
	if p.BM25K <= 0 {
		p.BM25K = d.BM25K
	}
	if p.FinalK <= 0 {
		p.FinalK = d.FinalK
	}
	if p.CandidatePool <= 0 {
		p.CandidatePool = d.CandidatePool
	}
	return p
}

// Query is one retrieval request. Embedding and Model describe the query
// vector; an empty Embedding restricts retrieval to the lexical path.
type Query struct {
	Text      string
	Scope     []uuid.UUID
	Embedding []float32
	Model     string
	Params    Params
}

// Store is the read side of persistence the retriever needs.
type Store interface {
	GetResources(ctx context.Context, ids []uuid.UUID) ([]*storage.Resource, error)
	ListByResources(ctx context.Context, ids []uuid.UUID) ([]*storage.Chunk, error)
	VectorSearch(ctx context.Context, q storage.VectorQuery) ([]storage.ScoredChunk, error)
	DocumentSearch(ctx context.Context, q storage.VectorQuery) ([]storage.ScoredResource, error)
}

// CrossEncoder scores (query, document) pairs; higher is more relevant.
type CrossEncoder interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Options configures a Retriever.
type Options struct {
	// Reranker is optional; nil disables reranking.
	Reranker      CrossEncoder
	VectorTimeout time.Duration
	RerankTimeout time.Duration
	Metrics       *metrics.Metrics
}

// Retriever runs the hybrid retrieval pipeline. It only reads from the store.
type Retriever struct {
	store         Store
	reranker      CrossEncoder
	vectorTimeout time.Duration
	rerankTimeout time.Duration
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

// NewRetriever creates a retriever over store.
func NewRetriever(store Store, opts Options, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:         store,
		reranker:      opts.Reranker,
		vectorTimeout: opts.VectorTimeout,
		rerankTimeout: opts.RerankTimeout,
		metrics:       opts.Metrics,
		logger:        logger,
	}
}

func (r *Retriever) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Retrieve returns the evidence for q, best first. Every hit belongs to
// q.Scope; ties are broken by (resource_id, chunk_index).
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]EvidenceHit, error) {
	if len(q.Scope) == 0 {
		return []EvidenceHit{}, nil
	}
	start := time.Now()
	defer r.metrics.ObserveStage("retrieve", start)

	p := q.Params.withDefaults()
	scope := dedupe(q.Scope)
	inScope := make(map[uuid.UUID]struct{}, len(scope))
	for _, id := range scope {
		inScope[id] = struct{}{}
	}

	withVec, withoutVec, err := r.partition(ctx, scope, q)
	if err != nil {
		return nil, err
	}

	// Stage 1: document prefilter.
	var dense []uuid.UUID
	if len(withVec) > 0 {
		dense, err = r.documentPrefilter(ctx, withVec, q, p.TopDocK)
		if err != nil {
			return nil, err
		}
	}

	// Stage 2: BM25 fallback.
	var lexical []EvidenceHit
	var lexResources []uuid.UUID
	if len(dense) == 0 && len(withoutVec) > 0 {
		lexical, lexResources, err = r.lexicalFallback(ctx, withoutVec, q.Text, p.BM25K)
		if err != nil {
			return nil, err
		}
	}

	// Stage 3: merge.
	top := union(dense, lexResources)
	if len(top) == 0 {
		return []EvidenceHit{}, nil
	}

	// Stage 4: chunk-level dense search.
	hits, err := r.chunkSearch(ctx, top, q, p.FinalK)
	if err != nil {
		return nil, err
	}

	// Stage 5: natural order when dense search found nothing.
	if len(hits) == 0 {
		r.metrics.Fallback(metrics.FallbackDenseEmpty)
		hits, err = r.naturalOrder(ctx, top, q, p.FinalK)
		if err != nil {
			return nil, err
		}
	}

	if err := checkScope(inScope, hits, lexical); err != nil {
		return nil, err
	}

	// Stage 6: optional rerank.
	if r.reranker != nil {
		hits = r.rerank(ctx, q.Text, lexical, hits, p)
	}

	r.logger.Debug("Retrieved evidence",
		zap.Int("scope", len(scope)),
		zap.Int("dense_resources", len(dense)),
		zap.Int("lexical_resources", len(lexResources)),
		zap.Int("hits", len(hits)))
	return hits, nil
}

// partition splits scope into resources whose document vector can be compared
// with the query and the rest. Only the majority model tag is kept for the document prefilter.
func (r *Retriever) partition(ctx context.Context, scope []uuid.UUID, q Query) (withVec, withoutVec []uuid.UUID, err error) {
	resources, err := r.store.GetResources(ctx, scope)
	if err != nil {
		return nil, nil, fmt.Errorf("get resources: %w", err)
	}

	tag := ""
	if len(q.Embedding) > 0 {
		tag = MajorityTag(resources, q.Model)
	}
	if tag != "" && tag != q.Model {
		return nil, nil, fmt.Errorf("%w: scope uses %q, query uses %q", ErrModelTagMismatch, tag, q.Model)
	}

	for _, res := range resources {
		if tag != "" && res.HasDocumentVector() && res.EmbeddingModel == tag {
			withVec = append(withVec, res.ID)
		} else {
			withoutVec = append(withoutVec, res.ID)
		}
	}
	return withVec, withoutVec, nil
}

// MajorityTag returns the embedding model tag held by most resources with a
// document vector. Ties prefer preferred, then the lexicographically smallest
// tag. It returns "" when no resource has a document vector.
func MajorityTag(resources []*storage.Resource, preferred string) string {
	counts := make(map[string]int)
	for _, res := range resources {
		if res.HasDocumentVector() {
			counts[res.EmbeddingModel]++
		}
	}
	best, bestN := "", 0
	for tag, n := range counts {
		switch {
		case n > bestN:
			best, bestN = tag, n
		case n == bestN && tag == preferred:
			best = tag
		case n == bestN && best != preferred && tag < best:
			best = tag
		}
	}
	return best
}

func (r *Retriever) documentPrefilter(ctx context.Context, ids []uuid.UUID, q Query, k int) ([]uuid.UUID, error) {
	ctx, cancel := r.withTimeout(ctx, r.vectorTimeout)
	defer cancel()

	found, err := r.store.DocumentSearch(ctx, storage.VectorQuery{
		ResourceIDs: ids,
		Vector:      q.Embedding,
		Model:       q.Model,
		K:           k,
	})
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}
	out := make([]uuid.UUID, len(found))
	for i, f := range found {
		out[i] = f.ResourceID
	}
	return out, nil
}

// lexicalFallback ranks every chunk of ids with BM25 and returns the top
// hits together with their distinct resources in first-seen order.
func (r *Retriever) lexicalFallback(ctx context.Context, ids []uuid.UUID, text string, k int) ([]EvidenceHit, []uuid.UUID, error) {
	query := sinhala.Tokenize(text)
	if len(query) == 0 {
		return nil, nil, nil
	}
	start := time.Now()
	defer r.metrics.ObserveStage("bm25", start)

	chunks, err := r.store.ListByResources(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("list chunks: %w", err)
	}
	docs := make([][]string, len(chunks))
	for i, c := range chunks {
		docs[i] = sinhala.Tokenize(c.Content + "\n" + c.PseudoQuestions)
	}

	top := NewBM25(docs).TopK(query, k)
	if len(top) == 0 {
		return nil, nil, nil
	}
	r.metrics.Fallback(metrics.FallbackBM25)

	hits := make([]EvidenceHit, len(top))
	var resources []uuid.UUID
	seen := make(map[uuid.UUID]struct{})
	for i, d := range top {
		c := chunks[d.Index]
		score := d.Score
		hits[i] = hitFromChunk(c, i+1, &score, SourceLexical)
		if _, ok := seen[c.ResourceID]; !ok {
			seen[c.ResourceID] = struct{}{}
			resources = append(resources, c.ResourceID)
		}
	}
	return hits, resources, nil
}

func (r *Retriever) chunkSearch(ctx context.Context, ids []uuid.UUID, q Query, k int) ([]EvidenceHit, error) {
	if len(q.Embedding) == 0 {
		return nil, nil
	}
	ctx, cancel := r.withTimeout(ctx, r.vectorTimeout)
	defer cancel()

	found, err := r.store.VectorSearch(ctx, storage.VectorQuery{
		ResourceIDs: ids,
		Vector:      q.Embedding,
		Model:       q.Model,
		K:           k,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	hits := make([]EvidenceHit, len(found))
	for i, f := range found {
		score := f.Score
		hits[i] = hitFromChunk(f.Chunk, i+1, &score, SourceDense)
	}
	return hits, nil
}

func (r *Retriever) naturalOrder(ctx context.Context, ids []uuid.UUID, q Query, k int) ([]EvidenceHit, error) {
	chunks, err := r.store.ListByResources(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	if len(chunks) > k {
		chunks = chunks[:k]
	}
	hits := make([]EvidenceHit, len(chunks))
	for i, c := range chunks {
		var score *float64
		if len(q.Embedding) > 0 && c.HasVector(q.Model) {
			if len(c.Embedding) != len(q.Embedding) {
				return nil, fmt.Errorf("%w: chunk %s has %d dimensions, query has %d",
					ErrDimensionMismatch, c.ID, len(c.Embedding), len(q.Embedding))
			}
			s := embedding.Cosine(q.Embedding, c.Embedding)
			score = &s
		}
		hits[i] = hitFromChunk(c, i+1, score, SourceNatural)
	}
	return hits, nil
}

// rerank scores the lexical-then-dense candidate pool with the cross-encoder.
// On failure the pre-rerank hits are returned unchanged.
func (r *Retriever) rerank(ctx context.Context, query string, lexical, dense []EvidenceHit, p Params) []EvidenceHit {
	pool := candidatePool(lexical, dense, p.CandidatePool)
	if len(pool) == 0 {
		return dense
	}
	start := time.Now()
	defer r.metrics.ObserveStage("rerank", start)

	ctx, cancel := r.withTimeout(ctx, r.rerankTimeout)
	defer cancel()

	docs := make([]string, len(pool))
	for i, h := range pool {
		docs[i] = h.Content
	}
	scores, err := r.reranker.Score(ctx, query, docs)
	if err == nil && len(scores) != len(pool) {
		err = fmt.Errorf("reranker returned %d scores for %d documents", len(scores), len(pool))
	}
	if err != nil {
		r.metrics.Fallback(metrics.FallbackRerank)
		r.logger.Warn("Reranker failed, keeping retrieval order", zap.Error(err))
		return dense
	}

	for i := range pool {
		s := scores[i]
		pool[i].Score = &s
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if *pool[i].Score != *pool[j].Score {
			return *pool[i].Score > *pool[j].Score
		}
		return hitLess(pool[i], pool[j])
	})
	if len(pool) > p.FinalK {
		pool = pool[:p.FinalK]
	}
	for i := range pool {
		pool[i].Rank = i + 1
	}
	return pool
}

func candidatePool(lexical, dense []EvidenceHit, limit int) []EvidenceHit {
	pool := make([]EvidenceHit, 0, len(lexical)+len(dense))
	seen := make(map[uuid.UUID]struct{}, cap(pool))
	for _, group := range [][]EvidenceHit{lexical, dense} {
		for _, h := range group {
			if len(pool) == limit {
				return pool
			}
			if _, dup := seen[h.ChunkID]; dup {
				continue
			}
			seen[h.ChunkID] = struct{}{}
			pool = append(pool, h)
		}
	}
	return pool
}

func checkScope(inScope map[uuid.UUID]struct{}, groups ...[]EvidenceHit) error {
	for _, group := range groups {
		for _, h := range group {
			if _, ok := inScope[h.ResourceID]; !ok {
				return fmt.Errorf("%w: chunk %s of resource %s", ErrOutOfScopeChunk, h.ChunkID, h.ResourceID)
			}
		}
	}
	return nil
}

func hitFromChunk(c *storage.Chunk, rank int, score *float64, src Source) EvidenceHit {
	return EvidenceHit{
		ChunkID:    c.ID,
		ResourceID: c.ResourceID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Numbering:  c.Numbering,
		Rank:       rank,
		Score:      score,
		Source:     src,
	}
}

func hitLess(a, b EvidenceHit) bool {
	if a.ResourceID != b.ResourceID {
		return a.ResourceID.String() < b.ResourceID.String()
	}
	return a.ChunkIndex < b.ChunkIndex
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func union(a, b []uuid.UUID) []uuid.UUID {
	return dedupe(append(append([]uuid.UUID(nil), a...), b...))
}
