package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with brute-force cosine search.
// Every method holds the store lock, so an ingestion is observed whole or
// not at all.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[uuid.UUID]*Resource
	chunks    map[uuid.UUID][]*Chunk
	messages  map[uuid.UUID]*Message
	used      map[uuid.UUID][]*UsedChunkRecord
	reports   map[uuid.UUID]*SafetyReport
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[uuid.UUID]*Resource),
		chunks:    make(map[uuid.UUID][]*Chunk),
		messages:  make(map[uuid.UUID]*Message),
		used:      make(map[uuid.UUID][]*UsedChunkRecord),
		reports:   make(map[uuid.UUID]*SafetyReport),
	}
}

func copyResource(r *Resource) *Resource {
	c := *r
	if r.CleanedText != nil {
		text := *r.CleanedText
		c.CleanedText = &text
	}
	c.DocumentEmbedding = append([]float32(nil), r.DocumentEmbedding...)
	return &c
}

func copyChunk(ch *Chunk) *Chunk {
	c := *ch
	c.Embedding = append([]float32(nil), ch.Embedding...)
	return &c
}

func (s *MemoryStore) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	return copyResource(r), nil
}

func (s *MemoryStore) GetResources(ctx context.Context, ids []uuid.UUID) ([]*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Resource, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if r, ok := s.resources[id]; ok {
			out = append(out, copyResource(r))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListResources(ctx context.Context, ownerID uuid.UUID) ([]*Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Resource
	for _, r := range s.resources {
		if r.OwnerID == ownerID {
			out = append(out, copyResource(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) CreateResource(ctx context.Context, r *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Language == "" {
		r.Language = "unknown"
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	s.resources[r.ID] = copyResource(r)
	return nil
}

func (s *MemoryStore) UpdateResource(ctx context.Context, id uuid.UUID, u ResourceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.FailureReason != nil {
		r.FailureReason = *u.FailureReason
	}
	if u.Language != nil {
		r.Language = *u.Language
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteResource(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[id]; !ok {
		return fmt.Errorf("resource %s: %w", id, ErrNotFound)
	}
	delete(s.resources, id)
	delete(s.chunks, id)
	return nil
}

func (s *MemoryStore) BulkInsert(ctx context.Context, ing *Ingestion) error {
	if err := validateIngestion(ing); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[ing.ResourceID]
	if !ok {
		return fmt.Errorf("resource %s: %w", ing.ResourceID, ErrNotFound)
	}
	if len(s.chunks[ing.ResourceID]) > 0 {
		return ErrAlreadyIndexed
	}

	text := ing.CleanedText
	r.CleanedText = &text
	r.Language = ing.Language
	r.DocumentEmbedding = append([]float32(nil), ing.DocumentEmbedding...)
	r.EmbeddingModel = ing.EmbeddingModel
	r.Status = StatusProcessed
	r.FailureReason = ""
	r.UpdatedAt = time.Now().UTC()

	chunks := make([]*Chunk, len(ing.Chunks))
	for i, c := range ing.Chunks {
		chunks[i] = copyChunk(c)
		chunks[i].CreatedAt = r.UpdatedAt
	}
	s.chunks[ing.ResourceID] = chunks
	return nil
}

func (s *MemoryStore) ListByResources(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Chunk
	for id := range idSet(ids) {
		for _, c := range s.chunks[id] {
			out = append(out, copyChunk(c))
		}
	}
	sortChunks(out)
	return out, nil
}

func (s *MemoryStore) CountByResource(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[id]), nil
}

func (s *MemoryStore) VectorSearch(ctx context.Context, q VectorQuery) ([]ScoredChunk, error) {
	chunks, err := s.ListByResources(ctx, q.ResourceIDs)
	if err != nil {
		return nil, err
	}
	return rankChunks(chunks, q)
}

func (s *MemoryStore) DocumentSearch(ctx context.Context, q VectorQuery) ([]ScoredResource, error) {
	resources, err := s.GetResources(ctx, q.ResourceIDs)
	if err != nil {
		return nil, err
	}
	return rankResources(resources, q)
}

func (s *MemoryStore) createMessage(m *Message, role MessageRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Role = role
	m.CreatedAt = time.Now().UTC()
	c := *m
	s.messages[m.ID] = &c
	return nil
}

func (s *MemoryStore) CreateUserMessage(ctx context.Context, m *Message) error {
	return s.createMessage(m, RoleUser)
}

func (s *MemoryStore) CreateAssistantMessage(ctx context.Context, m *Message) error {
	return s.createMessage(m, RoleAssistant)
}

func (s *MemoryStore) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	c := *m
	return &c, nil
}

func (s *MemoryStore) AppendUsedChunks(ctx context.Context, records []*UsedChunkRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.CreatedAt = now
		c := *r
		s.used[r.MessageID] = append(s.used[r.MessageID], &c)
	}
	return nil
}

func (s *MemoryStore) ListUsedChunks(ctx context.Context, messageID uuid.UUID) ([]*UsedChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UsedChunkRecord, 0, len(s.used[messageID]))
	for _, r := range s.used[messageID] {
		c := *r
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out, nil
}

func (s *MemoryStore) UpsertSafetyReport(ctx context.Context, r *SafetyReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.reports[r.MessageID]; ok {
		r.CreatedAt = prev.CreatedAt
	} else {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	c := *r
	s.reports[r.MessageID] = &c
	return nil
}

func (s *MemoryStore) GetSafetyReport(ctx context.Context, messageID uuid.UUID) (*SafetyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[messageID]
	if !ok {
		return nil, fmt.Errorf("safety report %s: %w", messageID, ErrNotFound)
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) Health(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
