package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "test-model"

func newSQLiteStore(t *testing.T, index VectorIndex) *SQLStore {
	t.Helper()
	db, err := OpenDatabase("sqlite", filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	s := NewSQLStore(db, index, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteStore(t, nil),
	}
}

func newResource(t *testing.T, s Store, owner uuid.UUID) *Resource {
	t.Helper()
	r := &Resource{OwnerID: owner, Filename: "lesson.pdf", StoragePath: "file:///tmp/lesson.pdf", MIME: "application/pdf"}
	require.NoError(t, s.CreateResource(context.Background(), r))
	return r
}

func ingestion(r *Resource, text string, vecs ...[]float32) *Ingestion {
	ing := &Ingestion{
		ResourceID:     r.ID,
		Language:       "sinhala",
		CleanedText:    text,
		EmbeddingModel: testModel,
	}
	for i, v := range vecs {
		ing.Chunks = append(ing.Chunks, &Chunk{
			ID:             ChunkID(r.ID, i),
			ResourceID:     r.ID,
			ChunkIndex:     i,
			Content:        text[i : i+1],
			ContentLength:  1,
			Embedding:      v,
			EmbeddingModel: testModel,
			StartChar:      i,
			EndChar:        i + 1,
		})
	}
	return ing
}

func TestStore_ResourceLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			owner := uuid.New()
			r := newResource(t, s, owner)
			other := newResource(t, s, uuid.New())

			got, err := s.GetResource(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, "lesson.pdf", got.Filename)
			assert.Equal(t, StatusPending, got.Status)
			assert.Equal(t, "unknown", got.Language)
			assert.Nil(t, got.CleanedText)
			assert.False(t, got.HasDocumentVector())

			list, err := s.ListResources(ctx, owner)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, r.ID, list[0].ID)

			many, err := s.GetResources(ctx, []uuid.UUID{other.ID, uuid.New(), r.ID})
			require.NoError(t, err)
			require.Len(t, many, 2)
			assert.Equal(t, other.ID, many[0].ID)
			assert.Equal(t, r.ID, many[1].ID)

			failed := StatusFailed
			reason := "no text extracted"
			require.NoError(t, s.UpdateResource(ctx, r.ID, ResourceUpdate{Status: &failed, FailureReason: &reason}))
			got, err = s.GetResource(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Equal(t, reason, got.FailureReason)

			require.NoError(t, s.DeleteResource(ctx, r.ID))
			_, err = s.GetResource(ctx, r.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.DeleteResource(ctx, r.ID), ErrNotFound)
			assert.ErrorIs(t, s.UpdateResource(ctx, r.ID, ResourceUpdate{Status: &failed}), ErrNotFound)
		})
	}
}

func TestStore_BulkInsertIsAllOrNothing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := newResource(t, s, uuid.New())
			ing := ingestion(r, "abc", []float32{1, 0}, []float32{0, 1})
			ing.DocumentEmbedding = []float32{1, 0}

			require.NoError(t, s.BulkInsert(ctx, ing))

			got, err := s.GetResource(ctx, r.ID)
			require.NoError(t, err)
			require.NotNil(t, got.CleanedText)
			assert.Equal(t, "abc", *got.CleanedText)
			assert.Equal(t, "sinhala", got.Language)
			assert.Equal(t, StatusProcessed, got.Status)
			assert.Equal(t, []float32{1, 0}, got.DocumentEmbedding)
			assert.True(t, got.HasDocumentVector())

			chunks, err := s.ListByResources(ctx, []uuid.UUID{r.ID})
			require.NoError(t, err)
			require.Len(t, chunks, 2)
			assert.Equal(t, 0, chunks[0].ChunkIndex)
			assert.Equal(t, []float32{0, 1}, chunks[1].Embedding)

			err = s.BulkInsert(ctx, ingestion(r, "abc", []float32{1, 0}))
			assert.ErrorIs(t, err, ErrAlreadyIndexed)
			n, err := s.CountByResource(ctx, r.ID)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestStore_BulkInsertRejectsInvalidChunks(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := newResource(t, s, uuid.New())

			bad := ingestion(r, "ab", []float32{1}, []float32{1})
			bad.Chunks[1].EndChar = 5
			require.Error(t, s.BulkInsert(ctx, bad))

			gap := ingestion(r, "ab", []float32{1}, []float32{1})
			gap.Chunks[1].ChunkIndex = 3
			require.Error(t, s.BulkInsert(ctx, gap))

			n, err := s.CountByResource(ctx, r.ID)
			require.NoError(t, err)
			assert.Zero(t, n)

			missing := ingestion(&Resource{ID: uuid.New()}, "a", []float32{1})
			assert.ErrorIs(t, s.BulkInsert(ctx, missing), ErrNotFound)
		})
	}
}

func TestStore_VectorSearchOrderAndScope(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := newResource(t, s, uuid.New())
			b := newResource(t, s, uuid.New())
			outside := newResource(t, s, uuid.New())

			require.NoError(t, s.BulkInsert(ctx, ingestion(a, "xyz", []float32{1, 0}, []float32{0.6, 0.8}, []float32{1, 0})))
			require.NoError(t, s.BulkInsert(ctx, ingestion(b, "xy", []float32{1, 0}, nil)))
			require.NoError(t, s.BulkInsert(ctx, ingestion(outside, "x", []float32{1, 0})))

			hits, err := s.VectorSearch(ctx, VectorQuery{
				ResourceIDs: []uuid.UUID{a.ID, b.ID},
				Vector:      []float32{1, 0},
				Model:       testModel,
				K:           10,
			})
			require.NoError(t, err)
			require.Len(t, hits, 4)

			for _, h := range hits {
				assert.NotEqual(t, outside.ID, h.Chunk.ResourceID)
			}
			// three exact matches tie at 1.0 and are ordered by (resource_id, chunk_index)
			for i := 0; i < 2; i++ {
				assert.InDelta(t, hits[i].Score, hits[i+1].Score, 1e-9)
				assert.True(t, ChunkLess(hits[i].Chunk, hits[i+1].Chunk))
			}
			assert.Equal(t, 1, hits[3].Chunk.ChunkIndex)
			assert.InDelta(t, 0.6, hits[3].Score, 1e-6)

			top, err := s.VectorSearch(ctx, VectorQuery{ResourceIDs: []uuid.UUID{a.ID, b.ID}, Vector: []float32{1, 0}, Model: testModel, K: 2})
			require.NoError(t, err)
			assert.Equal(t, hits[:2], top)

			none, err := s.VectorSearch(ctx, VectorQuery{ResourceIDs: []uuid.UUID{a.ID}, Vector: []float32{1, 0}, Model: "other", K: 5})
			require.NoError(t, err)
			assert.Empty(t, none)

			_, err = s.VectorSearch(ctx, VectorQuery{ResourceIDs: []uuid.UUID{a.ID}, Vector: []float32{1, 0, 0}, Model: testModel, K: 5})
			assert.ErrorIs(t, err, ErrDimensionMismatch)
		})
	}
}

func TestStore_DocumentSearch(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			near := newResource(t, s, uuid.New())
			far := newResource(t, s, uuid.New())
			bare := newResource(t, s, uuid.New())

			ing := ingestion(near, "a", []float32{1, 0})
			ing.DocumentEmbedding = []float32{1, 0}
			require.NoError(t, s.BulkInsert(ctx, ing))
			ing = ingestion(far, "a", []float32{0, 1})
			ing.DocumentEmbedding = []float32{0, 1}
			require.NoError(t, s.BulkInsert(ctx, ing))

			hits, err := s.DocumentSearch(ctx, VectorQuery{
				ResourceIDs: []uuid.UUID{far.ID, near.ID, bare.ID},
				Vector:      []float32{1, 0},
				Model:       testModel,
				K:           5,
			})
			require.NoError(t, err)
			require.Len(t, hits, 2)
			assert.Equal(t, near.ID, hits[0].ResourceID)
			assert.Equal(t, far.ID, hits[1].ResourceID)
		})
	}
}

func TestStore_MessagesAndReports(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			owner := uuid.New()
			user := &Message{OwnerID: owner, Content: "පුනරුදය යනු කුමක්ද?", Scope: []uuid.UUID{uuid.New()}}
			require.NoError(t, s.CreateUserMessage(ctx, user))
			reply := &Message{OwnerID: owner, Content: "answer", ReplyTo: &user.ID}
			require.NoError(t, s.CreateAssistantMessage(ctx, reply))

			got, err := s.GetMessage(ctx, reply.ID)
			require.NoError(t, err)
			assert.Equal(t, RoleAssistant, got.Role)
			require.NotNil(t, got.ReplyTo)
			assert.Equal(t, user.ID, *got.ReplyTo)

			gotUser, err := s.GetMessage(ctx, user.ID)
			require.NoError(t, err)
			assert.Equal(t, user.Scope, gotUser.Scope)

			score := 0.5
			require.NoError(t, s.AppendUsedChunks(ctx, []*UsedChunkRecord{
				{MessageID: reply.ID, ChunkID: uuid.New(), ResourceID: uuid.New(), Rank: 2},
				{MessageID: reply.ID, ChunkID: uuid.New(), ResourceID: uuid.New(), Rank: 1, Score: &score},
			}))
			used, err := s.ListUsedChunks(ctx, reply.ID)
			require.NoError(t, err)
			require.Len(t, used, 2)
			assert.Equal(t, 1, used[0].Rank)
			require.NotNil(t, used[0].Score)
			assert.InDelta(t, 0.5, *used[0].Score, 1e-9)
			assert.Nil(t, used[1].Score)

			report := &SafetyReport{
				MessageID:       reply.ID,
				MissingConcepts: []string{"පුනරුදය"},
				ExtraConcepts:   []string{},
				FlaggedSentences: []FlaggedSentence{
					{Sentence: "s", UnsupportedConcepts: []string{"x"}, Severity: "low"},
				},
				Severity:    "medium",
				Confidence:  0.94,
				Reliability: "fully_supported",
			}
			require.NoError(t, s.UpsertSafetyReport(ctx, report))
			report.Severity = "high"
			require.NoError(t, s.UpsertSafetyReport(ctx, report))

			gotReport, err := s.GetSafetyReport(ctx, reply.ID)
			require.NoError(t, err)
			assert.Equal(t, "high", gotReport.Severity)
			assert.Equal(t, []string{"පුනරුදය"}, gotReport.MissingConcepts)
			require.Len(t, gotReport.FlaggedSentences, 1)
			assert.Equal(t, "low", gotReport.FlaggedSentences[0].Severity)

			_, err = s.GetSafetyReport(ctx, user.ID)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetMessage(ctx, uuid.New())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryStore_ConcurrentReadersSeeWholeIngestion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := newResource(t, s, uuid.New())
	vecs := make([][]float32, 50)
	text := make([]byte, 50)
	for i := range vecs {
		vecs[i] = []float32{1}
		text[i] = 'a'
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.BulkInsert(ctx, ingestion(r, string(text), vecs...)))
	}()
	for i := 0; i < 100; i++ {
		n, err := s.CountByResource(ctx, r.ID)
		require.NoError(t, err)
		assert.Contains(t, []int{0, 50}, n)
	}
	wg.Wait()
}

// fakeIndex is an in-memory VectorIndex for exercising SQLStore delegation.
type fakeIndex struct {
	mu        sync.Mutex
	chunks    map[uuid.UUID]VectorHit
	vectors   map[uuid.UUID][]float32
	deleted   []uuid.UUID
	upsertErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{chunks: map[uuid.UUID]VectorHit{}, vectors: map[uuid.UUID][]float32{}}
}

func (f *fakeIndex) UpsertIngestion(ctx context.Context, ing *Ingestion) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range ing.Chunks {
		f.chunks[c.ID] = VectorHit{ID: c.ID, ResourceID: ing.ResourceID}
		f.vectors[c.ID] = c.Embedding
	}
	return nil
}

func (f *fakeIndex) DeleteResource(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	for cid, h := range f.chunks {
		if h.ResourceID == id {
			delete(f.chunks, cid)
		}
	}
	return nil
}

func (f *fakeIndex) SearchChunks(ctx context.Context, q VectorQuery) ([]VectorHit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scope := idSet(q.ResourceIDs)
	var out []VectorHit
	for id, h := range f.chunks {
		if _, ok := scope[h.ResourceID]; ok {
			v := f.vectors[id]
			var dot float64
			for i := range v {
				dot += float64(v[i]) * float64(q.Vector[i])
			}
			h.Score = dot
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeIndex) SearchDocuments(ctx context.Context, q VectorQuery) ([]VectorHit, error) {
	return nil, nil
}

func (f *fakeIndex) Health(ctx context.Context) error { return nil }
func (f *fakeIndex) Close() error                     { return nil }

func TestSQLStore_IndexHitsHydratedFromCommittedRows(t *testing.T) {
	idx := newFakeIndex()
	s := newSQLiteStore(t, idx)
	ctx := context.Background()
	r := newResource(t, s, uuid.New())

	require.NoError(t, s.BulkInsert(ctx, ingestion(r, "ab", []float32{1, 0}, []float32{0, 1})))

	// a stray point with no committed row is ignored
	stray := uuid.New()
	idx.chunks[stray] = VectorHit{ID: stray, ResourceID: r.ID}
	idx.vectors[stray] = []float32{1, 0}

	hits, err := s.VectorSearch(ctx, VectorQuery{ResourceIDs: []uuid.UUID{r.ID}, Vector: []float32{1, 0}, Model: testModel, K: 5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Chunk.ChunkIndex)
	assert.Equal(t, "a", hits[0].Chunk.Content)
}

func TestSQLStore_FailedCommitRemovesVectors(t *testing.T) {
	idx := newFakeIndex()
	s := newSQLiteStore(t, idx)
	ctx := context.Background()

	orphan := &Resource{ID: uuid.New()}
	err := s.BulkInsert(ctx, ingestion(orphan, "a", []float32{1}))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []uuid.UUID{orphan.ID}, idx.deleted)
	assert.Empty(t, idx.chunks)
}

func TestSQLStore_IndexUpsertFailureWritesNothing(t *testing.T) {
	idx := newFakeIndex()
	idx.upsertErr = errors.New("qdrant down")
	s := newSQLiteStore(t, idx)
	ctx := context.Background()
	r := newResource(t, s, uuid.New())

	require.Error(t, s.BulkInsert(ctx, ingestion(r, "a", []float32{1})))
	n, err := s.CountByResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, err := s.GetResource(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CleanedText)
}

func TestSQLStore_DeleteResourceRemovesVectors(t *testing.T) {
	idx := newFakeIndex()
	s := newSQLiteStore(t, idx)
	ctx := context.Background()
	r := newResource(t, s, uuid.New())
	require.NoError(t, s.BulkInsert(ctx, ingestion(r, "a", []float32{1})))

	require.NoError(t, s.DeleteResource(ctx, r.ID))
	assert.Empty(t, idx.chunks)
	chunks, err := s.ListByResources(ctx, []uuid.UUID{r.ID})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkID_Deterministic(t *testing.T) {
	r := uuid.New()
	assert.Equal(t, ChunkID(r, 3), ChunkID(r, 3))
	assert.NotEqual(t, ChunkID(r, 3), ChunkID(r, 4))
	assert.NotEqual(t, ChunkID(r, 0), DocumentPointID(r))
}
