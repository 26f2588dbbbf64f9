package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

const (
	// DefaultCollectionPrefix namespaces the per-model collections.
	DefaultCollectionPrefix = "tutor"

	vectorName = "content"
	pointChunk = "chunk"
	pointDoc   = "document"
)

// QdrantConfig locates the Qdrant gRPC endpoint.
type QdrantConfig struct {
	Host             string
	Port             int
	APIKey           string
	UseTLS           bool
	CollectionPrefix string
}

// QdrantIndex is a VectorIndex with one collection per embedding model tag,
// so vectors of different models are never compared.
type QdrantIndex struct {
	client *qdrant.Client
	prefix string
	logger *zap.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

// NewQdrantIndex creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = DefaultCollectionPrefix
	}

	idx := &QdrantIndex{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		ensured: make(map[string]bool),
	}

	if err := idx.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	return idx, nil
}

func newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

func (q *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return q.Health(ctx) }, newBackOff(ctx))
}

// Health performs a single health check against Qdrant.
func (q *QdrantIndex) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("%w: health check failed: %v", ErrQdrantUnreachable, err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("%w: health check returned invalid response", ErrQdrantUnreachable)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// CollectionName returns the collection holding vectors of model.
func (q *QdrantIndex) CollectionName(model string) string {
	var b strings.Builder
	b.WriteString(q.prefix)
	b.WriteByte('_')
	for _, r := range strings.ToLower(model) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// DocumentPointID is the point id of a resource's document vector.
func DocumentPointID(resourceID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(resourceID, []byte(pointDoc))
}

// ensureCollection creates the collection for model with cosine distance and
// keyword payload indexes. Idempotent.
func (q *QdrantIndex) ensureCollection(ctx context.Context, model string, dim int) (string, error) {
	name := q.CollectionName(model)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured[name] {
		return name, nil
	}

	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to check collection %s: %w", name, err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				vectorName: {
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				},
			}),
		})
		if err != nil {
			return "", fmt.Errorf("failed to create collection %s: %w", name, err)
		}
		if err := q.createPayloadIndexes(ctx, name); err != nil {
			return "", err
		}
		q.logger.Info("created qdrant collection", zap.String("collection", name), zap.Int("dimension", dim))
	}
	q.ensured[name] = true
	return name, nil
}

// createPayloadIndexes creates indexes for all filterable fields.
func (q *QdrantIndex) createPayloadIndexes(ctx context.Context, collection string) error {
	for _, field := range []string{"type", "resource_id"} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

func (q *QdrantIndex) collectionExists(ctx context.Context, model string) (string, bool, error) {
	name := q.CollectionName(model)
	q.mu.Lock()
	known := q.ensured[name]
	q.mu.Unlock()
	if known {
		return name, true, nil
	}
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	return name, exists, nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (q *QdrantIndex) upsertWithRetry(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, newBackOff(ctx))
}

// UpsertIngestion stores the document vector and every chunk vector of an
// ingestion. Chunks are batched in groups of 100 for performance.
func (q *QdrantIndex) UpsertIngestion(ctx context.Context, ing *Ingestion) error {
	dim := len(ing.DocumentEmbedding)
	for _, c := range ing.Chunks {
		if dim == 0 {
			dim = len(c.Embedding)
		}
	}
	if dim == 0 {
		return nil
	}
	collection, err := q.ensureCollection(ctx, ing.EmbeddingModel, dim)
	if err != nil {
		return err
	}
	resourceID := ing.ResourceID.String()

	points := make([]*qdrant.PointStruct, 0, len(ing.Chunks)+1)
	if len(ing.DocumentEmbedding) > 0 {
		points = append(points, &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(DocumentPointID(ing.ResourceID).String()),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				vectorName: qdrant.NewVector(ing.DocumentEmbedding...),
			}),
			Payload: qdrant.NewValueMap(map[string]any{
				"type":        pointDoc,
				"resource_id": resourceID,
			}),
		})
	}
	for i, c := range ing.Chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(c.Embedding), dim)
		}
		points = append(points, &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(c.ID.String()),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				vectorName: qdrant.NewVector(c.Embedding...),
			}),
			Payload: qdrant.NewValueMap(map[string]any{
				"type":        pointChunk,
				"resource_id": resourceID,
				"chunk_index": c.ChunkIndex,
			}),
		})
	}

	const batchSize = 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		if err := q.upsertWithRetry(ctx, collection, points[i:end]); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// DeleteResource removes every point of the resource from all model collections.
func (q *QdrantIndex) DeleteResource(ctx context.Context, id uuid.UUID) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if !strings.HasPrefix(name, q.prefix+"_") {
			continue
		}
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
				Must: []*qdrant.Condition{qdrant.NewMatch("resource_id", id.String())},
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to delete points from %s: %w", name, err)
		}
	}
	return nil
}

func (q *QdrantIndex) search(ctx context.Context, pointType string, vq VectorQuery) ([]*qdrant.ScoredPoint, error) {
	if len(vq.ResourceIDs) == 0 || vq.K <= 0 {
		return nil, nil
	}
	collection, exists, err := q.collectionExists(ctx, vq.Model)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	ids := make([]string, len(vq.ResourceIDs))
	for i, id := range vq.ResourceIDs {
		ids[i] = id.String()
	}
	using := vectorName
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vq.Vector...),
		Using:          &using,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("type", pointType),
				qdrant.NewMatchKeywords("resource_id", ids...),
			},
		},
		Limit:       qdrant.PtrOf(uint64(vq.K)),
		WithPayload: qdrant.NewWithPayload(true),
		WithVectors: qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to search %s points: %v", ErrStoreUnavailable, pointType, err)
	}
	return results, nil
}

func (q *QdrantIndex) SearchChunks(ctx context.Context, vq VectorQuery) ([]VectorHit, error) {
	results, err := q.search(ctx, pointChunk, vq)
	if err != nil {
		return nil, err
	}
	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r.Id.GetUuid())
		if err != nil {
			continue
		}
		resourceID, err := uuid.Parse(r.Payload["resource_id"].GetStringValue())
		if err != nil {
			continue
		}
		hits = append(hits, VectorHit{ID: id, ResourceID: resourceID, Score: float64(r.Score)})
	}
	return hits, nil
}

func (q *QdrantIndex) SearchDocuments(ctx context.Context, vq VectorQuery) ([]VectorHit, error) {
	results, err := q.search(ctx, pointDoc, vq)
	if err != nil {
		return nil, err
	}
	hits := make([]VectorHit, 0, len(results))
	for _, r := range results {
		resourceID, err := uuid.Parse(r.Payload["resource_id"].GetStringValue())
		if err != nil {
			continue
		}
		hits = append(hits, VectorHit{ID: resourceID, ResourceID: resourceID, Score: float64(r.Score)})
	}
	return hits, nil
}

// CollectionInfo contains collection statistics.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
}

// Collections reports the point count of every model collection.
func (q *QdrantIndex) Collections(ctx context.Context) ([]CollectionInfo, error) {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	var infos []CollectionInfo
	for _, name := range names {
		if !strings.HasPrefix(name, q.prefix+"_") {
			continue
		}
		collection, err := q.client.GetCollectionInfo(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to get collection %s: %w", name, err)
		}
		infos = append(infos, CollectionInfo{Name: name, PointsCount: collection.GetPointsCount()})
	}
	return infos, nil
}

// DropCollections deletes every model collection. Used for full re-indexing.
func (q *QdrantIndex) DropCollections(ctx context.Context) error {
	names, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, q.prefix+"_") {
			continue
		}
		if err := q.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", name, err)
		}
	}
	q.mu.Lock()
	q.ensured = make(map[string]bool)
	q.mu.Unlock()
	return nil
}
