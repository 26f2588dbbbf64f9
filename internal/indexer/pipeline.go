package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/chunker"
	"github.com/bull/sinhala-tutor-rag/internal/embedding"
	"github.com/bull/sinhala-tutor-rag/internal/extract"
	"github.com/bull/sinhala-tutor-rag/internal/metrics"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
	"github.com/bull/sinhala-tutor-rag/internal/textnorm"
)

// ErrNoTextExtracted marks a resource whose file yielded no usable text.
var ErrNoTextExtracted = extract.ErrNoTextExtracted

// Status is the outcome of indexing one resource.
type Status string

const (
	StatusIndexed          Status = "indexed"
	StatusAlreadyProcessed Status = "already_processed"
	StatusFailed           Status = "failed"
)

// Result describes the indexing of one resource.
type Result struct {
	ResourceID       uuid.UUID
	Status           Status
	ChunksCreated    int
	DocumentEmbedded bool
	Language         textnorm.Script
	Duration         time.Duration
}

// Store is the persistence the pipeline needs.
type Store interface {
	storage.ResourceStore
	storage.ChunkStore
}

// Options tunes the pipeline.
type Options struct {
	MaxTokens       int
	OverlapTokens   int
	PseudoQuestions bool
	// DocumentPrefixChars bounds the text embedded as the document vector;
	// zero embeds the full cleaned text.
	DocumentPrefixChars int
	ExtractTimeout      time.Duration
	EmbedTimeout        time.Duration
}

// Pipeline turns a stored resource into cleaned text, chunks and vectors,
// committed in one batch.
type Pipeline struct {
	store     Store
	blobs     extract.BlobStore
	extractor extract.Extractor
	chunker   *chunker.Chunker
	embedder  embedding.Provider
	opts      Options
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewPipeline creates a new indexing pipeline with the given components.
func NewPipeline(
	store Store,
	blobs extract.BlobStore,
	extractor extract.Extractor,
	embedder embedding.Provider,
	opts Options,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker.New(opts.MaxTokens, opts.OverlapTokens),
		embedder:  embedder,
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
}

// Index processes one resource. A resource that already has chunks and
// cleaned text is returned as already_processed without any work, so
// retries are safe. Any failure leaves no chunks behind.
func (p *Pipeline) Index(ctx context.Context, resourceID uuid.UUID) (*Result, error) {
	start := time.Now()
	defer p.metrics.ObserveStage("index", start)

	res, err := p.store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}

	if done, err := p.alreadyProcessed(ctx, res); err != nil || done != nil {
		return done, err
	}

	result, err := p.process(ctx, res)
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyIndexed) {
			// lost a race with a concurrent index of the same resource
			current, gerr := p.store.GetResource(ctx, resourceID)
			if gerr != nil {
				return nil, fmt.Errorf("get resource: %w", gerr)
			}
			return p.alreadyProcessed(ctx, current)
		}
		p.markFailed(ctx, res, err)
		p.metrics.Indexed(string(StatusFailed))
		return nil, err
	}

	result.Duration = time.Since(start)
	p.metrics.Indexed(string(StatusIndexed))
	p.logger.Info("Indexed resource",
		zap.String("resource_id", res.ID.String()),
		zap.String("filename", res.Filename),
		zap.String("language", string(result.Language)),
		zap.Int("chunks", result.ChunksCreated),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (p *Pipeline) alreadyProcessed(ctx context.Context, res *storage.Resource) (*Result, error) {
	if res.CleanedText == nil {
		return nil, nil
	}
	n, err := p.store.CountByResource(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	p.metrics.Indexed(string(StatusAlreadyProcessed))
	p.logger.Debug("Resource already processed", zap.String("resource_id", res.ID.String()))
	return &Result{
		ResourceID:       res.ID,
		Status:           StatusAlreadyProcessed,
		ChunksCreated:    n,
		DocumentEmbedded: res.HasDocumentVector(),
		Language:         textnorm.Script(res.Language),
	}, nil
}

func (p *Pipeline) process(ctx context.Context, res *storage.Resource) (*Result, error) {
	cleaned, err := p.extractText(ctx, res)
	if err != nil {
		return nil, err
	}
	lang := textnorm.DetectScript(cleaned)

	drafts := p.chunker.Chunk(cleaned)
	if len(drafts) == 0 {
		return nil, ErrNoTextExtracted
	}
	p.logger.Debug("Chunked resource",
		zap.String("resource_id", res.ID.String()),
		zap.Int("chunks", len(drafts)))

	texts := make([]string, 0, len(drafts)+1)
	texts = append(texts, textnorm.TruncateRunes(cleaned, p.opts.DocumentPrefixChars))
	for _, d := range drafts {
		texts = append(texts, d.Content)
	}

	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	model := p.embedder.ModelTag()

	chunks := make([]*storage.Chunk, len(drafts))
	for i, d := range drafts {
		ch := &storage.Chunk{
			ID:             storage.ChunkID(res.ID, d.Index),
			ResourceID:     res.ID,
			ChunkIndex:     d.Index,
			Content:        d.Content,
			ContentLength:  len([]rune(d.Content)),
			Embedding:      vecs[i+1],
			EmbeddingModel: model,
			StartChar:      d.StartChar,
			EndChar:        d.EndChar,
			Numbering:      d.Numbering,
		}
		if p.opts.PseudoQuestions {
			ch.PseudoQuestions = chunker.PseudoQuestions(d.Content)
		}
		chunks[i] = ch
	}

	ing := &storage.Ingestion{
		ResourceID:        res.ID,
		Language:          string(lang),
		CleanedText:       cleaned,
		DocumentEmbedding: vecs[0],
		EmbeddingModel:    model,
		Chunks:            chunks,
	}
	if err := p.store.BulkInsert(ctx, ing); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}

	return &Result{
		ResourceID:       res.ID,
		Status:           StatusIndexed,
		ChunksCreated:    len(chunks),
		DocumentEmbedded: true,
		Language:         lang,
	}, nil
}

func (p *Pipeline) extractText(ctx context.Context, res *storage.Resource) (string, error) {
	start := time.Now()
	defer p.metrics.ObserveStage("extract", start)

	if p.opts.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ExtractTimeout)
		defer cancel()
	}

	data, err := p.blobs.Read(ctx, res.StoragePath)
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	raw, err := p.extractor.Extract(ctx, data, res.MIME)
	if err != nil {
		return "", fmt.Errorf("extract: %w", err)
	}

	cleaned := textnorm.Clean(raw.RawText)
	if cleaned == "" {
		return "", ErrNoTextExtracted
	}
	p.logger.Debug("Extracted text",
		zap.String("resource_id", res.ID.String()),
		zap.Int("pages", len(raw.Pages)),
		zap.Int("chars", len([]rune(cleaned))))
	return cleaned, nil
}

func (p *Pipeline) embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	defer p.metrics.ObserveStage("embed", start)

	if p.opts.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.EmbedTimeout)
		defer cancel()
	}

	vecs, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts", len(vecs), len(texts))
	}
	if err := embedding.CheckDimension(vecs, p.embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	return vecs, nil
}

// markFailed records the failure reason. Cancellation is not a resource
// failure and leaves the status untouched.
func (p *Pipeline) markFailed(ctx context.Context, res *storage.Resource, cause error) {
	if ctx.Err() != nil {
		return
	}
	reason := "indexing failed"
	if errors.Is(cause, ErrNoTextExtracted) {
		reason = ErrNoTextExtracted.Error()
	}
	status := storage.StatusFailed
	err := p.store.UpdateResource(context.WithoutCancel(ctx), res.ID, storage.ResourceUpdate{
		Status:        &status,
		FailureReason: &reason,
	})
	if err != nil {
		p.logger.Warn("Failed to mark resource failed",
			zap.String("resource_id", res.ID.String()),
			zap.Error(err))
	}
	p.logger.Warn("Failed to index resource",
		zap.String("resource_id", res.ID.String()),
		zap.String("filename", res.Filename),
		zap.Error(cause))
}
