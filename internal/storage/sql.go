package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VectorIndex is an external ANN index holding copies of chunk and document
// vectors. The relational store stays the source of truth: index hits that
// have no committed row are dropped.
type VectorIndex interface {
	UpsertIngestion(ctx context.Context, ing *Ingestion) error
	DeleteResource(ctx context.Context, id uuid.UUID) error
	SearchChunks(ctx context.Context, q VectorQuery) ([]VectorHit, error)
	SearchDocuments(ctx context.Context, q VectorQuery) ([]VectorHit, error)
	Health(ctx context.Context) error
	Close() error
}

// VectorHit is a point returned by a VectorIndex. ID is the chunk id for
// chunk searches and the resource id for document searches.
type VectorHit struct {
	ID         uuid.UUID
	ResourceID uuid.UUID
	Score      float64
}

// SQLStore is a gorm-backed Store, optionally delegating similarity search
// to a VectorIndex.
type SQLStore struct {
	db     *gorm.DB
	index  VectorIndex
	logger *zap.Logger
}

// NewSQLStore creates a store over db. index may be nil, in which case
// similarity search is computed in-process from stored vectors.
func NewSQLStore(db *gorm.DB, index VectorIndex, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, index: index, logger: logger}
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *gorm.DB {
	return s.db
}

func (s *SQLStore) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	var r Resource
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, classify("get resource "+id.String(), err)
	}
	return &r, nil
}

func (s *SQLStore) GetResources(ctx context.Context, ids []uuid.UUID) ([]*Resource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*Resource
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, classify("get resources", err)
	}
	byID := make(map[uuid.UUID]*Resource, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]*Resource, 0, len(rows))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
			delete(byID, id)
		}
	}
	return out, nil
}

func (s *SQLStore) ListResources(ctx context.Context, ownerID uuid.UUID) ([]*Resource, error) {
	var rows []*Resource
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, classify("list resources", err)
	}
	return rows, nil
}

func (s *SQLStore) CreateResource(ctx context.Context, r *Resource) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Language == "" {
		r.Language = "unknown"
	}
	return classify("create resource", s.db.WithContext(ctx).Create(r).Error)
}

func (s *SQLStore) UpdateResource(ctx context.Context, id uuid.UUID, u ResourceUpdate) error {
	fields := map[string]any{}
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.FailureReason != nil {
		fields["failure_reason"] = *u.FailureReason
	}
	if u.Language != nil {
		fields["language"] = *u.Language
	}
	if len(fields) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&Resource{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return classify("update resource", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) DeleteResource(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_id = ?", id).Delete(&Chunk{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Resource{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("resource %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return classify("delete resource", err)
	}
	if s.index != nil {
		if err := s.index.DeleteResource(ctx, id); err != nil {
			return fmt.Errorf("delete resource vectors: %w", err)
		}
	}
	return nil
}

// BulkInsert writes index vectors first and then commits the relational rows
// in one transaction. A failed transaction removes the vectors again.
func (s *SQLStore) BulkInsert(ctx context.Context, ing *Ingestion) error {
	if err := validateIngestion(ing); err != nil {
		return err
	}
	n, err := s.CountByResource(ctx, ing.ResourceID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrAlreadyIndexed
	}

	if s.index != nil && ing.EmbeddingModel != "" {
		if err := s.index.UpsertIngestion(ctx, ing); err != nil {
			return fmt.Errorf("upsert vectors: %w", err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Chunk{}).Where("resource_id = ?", ing.ResourceID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyIndexed
		}

		text := ing.CleanedText
		res := tx.Model(&Resource{ID: ing.ResourceID}).
			Select("CleanedText", "Language", "DocumentEmbedding", "EmbeddingModel", "Status", "FailureReason", "UpdatedAt").
			Updates(&Resource{
				CleanedText:       &text,
				Language:          ing.Language,
				DocumentEmbedding: ing.DocumentEmbedding,
				EmbeddingModel:    ing.EmbeddingModel,
				Status:            StatusProcessed,
				UpdatedAt:         time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("resource %s: %w", ing.ResourceID, ErrNotFound)
		}

		if len(ing.Chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(ing.Chunks, 100).Error
	})
	if err == nil {
		return nil
	}

	if s.index != nil && ing.EmbeddingModel != "" && !errors.Is(err, ErrAlreadyIndexed) {
		if derr := s.index.DeleteResource(context.WithoutCancel(ctx), ing.ResourceID); derr != nil {
			s.logger.Error("failed to remove vectors of aborted ingestion",
				zap.String("resource_id", ing.ResourceID.String()), zap.Error(derr))
		}
	}
	if errors.Is(err, ErrAlreadyIndexed) || errors.Is(err, ErrNotFound) {
		return err
	}
	return classify("bulk insert chunks", err)
}

func (s *SQLStore) ListByResources(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []*Chunk
	if err := s.db.WithContext(ctx).Where("resource_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, classify("list chunks", err)
	}
	sortChunks(rows)
	return rows, nil
}

func (s *SQLStore) CountByResource(ctx context.Context, id uuid.UUID) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Chunk{}).Where("resource_id = ?", id).Count(&count).Error; err != nil {
		return 0, classify("count chunks", err)
	}
	return int(count), nil
}

// overfetch widens index queries so that ties at the cut-off and dropped
// uncommitted hits still leave K results.
func overfetch(k int) int {
	return k*2 + 8
}

func (s *SQLStore) VectorSearch(ctx context.Context, q VectorQuery) ([]ScoredChunk, error) {
	if len(q.ResourceIDs) == 0 || q.K <= 0 {
		return nil, nil
	}
	if s.index == nil {
		chunks, err := s.ListByResources(ctx, q.ResourceIDs)
		if err != nil {
			return nil, err
		}
		return rankChunks(chunks, q)
	}

	wide := q
	wide.K = overfetch(q.K)
	hits, err := s.index.SearchChunks(ctx, wide)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	var rows []*Chunk
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, classify("hydrate chunks", err)
	}
	byID := make(map[uuid.UUID]*Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	scope := idSet(q.ResourceIDs)
	out := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.ID]
		if !ok || !c.HasVector(q.Model) {
			continue
		}
		if _, in := scope[c.ResourceID]; !in {
			continue
		}
		out = append(out, ScoredChunk{Chunk: c, Score: h.Score})
	}
	SortScoredChunks(out)
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

func (s *SQLStore) DocumentSearch(ctx context.Context, q VectorQuery) ([]ScoredResource, error) {
	if len(q.ResourceIDs) == 0 || q.K <= 0 {
		return nil, nil
	}
	resources, err := s.GetResources(ctx, q.ResourceIDs)
	if err != nil {
		return nil, err
	}
	if s.index == nil {
		return rankResources(resources, q)
	}

	wide := q
	wide.K = overfetch(q.K)
	hits, err := s.index.SearchDocuments(ctx, wide)
	if err != nil {
		return nil, err
	}
	eligible := make(map[uuid.UUID]struct{}, len(resources))
	for _, r := range resources {
		if r.HasDocumentVector() && r.EmbeddingModel == q.Model {
			eligible[r.ID] = struct{}{}
		}
	}
	out := make([]ScoredResource, 0, len(hits))
	for _, h := range hits {
		if _, ok := eligible[h.ResourceID]; ok {
			out = append(out, ScoredResource{ResourceID: h.ResourceID, Score: h.Score})
		}
	}
	sortScoredResources(out)
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

func (s *SQLStore) createMessage(ctx context.Context, m *Message, role MessageRole) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Role = role
	return classify("create message", s.db.WithContext(ctx).Create(m).Error)
}

func (s *SQLStore) CreateUserMessage(ctx context.Context, m *Message) error {
	return s.createMessage(ctx, m, RoleUser)
}

func (s *SQLStore) CreateAssistantMessage(ctx context.Context, m *Message) error {
	return s.createMessage(ctx, m, RoleAssistant)
}

func (s *SQLStore) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	var m Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, classify("get message "+id.String(), err)
	}
	return &m, nil
}

func (s *SQLStore) AppendUsedChunks(ctx context.Context, records []*UsedChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
	}
	return classify("append used chunks", s.db.WithContext(ctx).CreateInBatches(records, 100).Error)
}

func (s *SQLStore) ListUsedChunks(ctx context.Context, messageID uuid.UUID) ([]*UsedChunkRecord, error) {
	var rows []*UsedChunkRecord
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("rank ASC").Find(&rows).Error
	if err != nil {
		return nil, classify("list used chunks", err)
	}
	return rows, nil
}

func (s *SQLStore) UpsertSafetyReport(ctx context.Context, r *SafetyReport) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"missing_concepts", "extra_concepts", "flagged_sentences",
			"severity", "confidence", "reliability", "updated_at",
		}),
	}).Create(r).Error
	return classify("upsert safety report", err)
}

func (s *SQLStore) GetSafetyReport(ctx context.Context, messageID uuid.UUID) (*SafetyReport, error) {
	var r SafetyReport
	if err := s.db.WithContext(ctx).First(&r, "message_id = ?", messageID).Error; err != nil {
		return nil, classify("get safety report "+messageID.String(), err)
	}
	return &r, nil
}

func (s *SQLStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if s.index != nil {
		return s.index.Health(ctx)
	}
	return nil
}

func (s *SQLStore) Close() error {
	var errs []error
	if sqlDB, err := s.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	if s.index != nil {
		errs = append(errs, s.index.Close())
	}
	return errors.Join(errs...)
}
