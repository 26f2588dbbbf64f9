// Package recorder credits retrieved chunks to the assistant message they
// were shown for.
package recorder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bull/sinhala-tutor-rag/internal/retrieval"
	"github.com/bull/sinhala-tutor-rag/internal/storage"
)

// Log is the append-only slice of storage.MessageLog the recorder writes to.
type Log interface {
	AppendUsedChunks(ctx context.Context, records []*storage.UsedChunkRecord) error
}

// Recorder appends UsedChunkRecords.
type Recorder struct {
	log    Log
	logger *zap.Logger
}

func New(log Log, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{log: log, logger: logger}
}

// Records builds one record per hit in order. Ranks are 1-based and dense
// regardless of the hits' own rank values.
func Records(messageID uuid.UUID, hits []retrieval.EvidenceHit) []*storage.UsedChunkRecord {
	records := make([]*storage.UsedChunkRecord, 0, len(hits))
	for i, h := range hits {
		var score *float64
		if h.Score != nil {
			s := *h.Score
			score = &s
		}
		records = append(records, &storage.UsedChunkRecord{
			MessageID:  messageID,
			ChunkID:    h.ChunkID,
			ResourceID: h.ResourceID,
			Rank:       i + 1,
			Score:      score,
		})
	}
	return records
}

// Record persists the hits shown for messageID. Nothing is written for an
// empty hit list.
func (r *Recorder) Record(ctx context.Context, messageID uuid.UUID, hits []retrieval.EvidenceHit) ([]*storage.UsedChunkRecord, error) {
	records := Records(messageID, hits)
	if len(records) == 0 {
		return records, nil
	}
	if err := r.log.AppendUsedChunks(ctx, records); err != nil {
		return nil, fmt.Errorf("record used chunks for %s: %w", messageID, err)
	}
	r.logger.Debug("Recorded used chunks",
		zap.String("message_id", messageID.String()),
		zap.Int("count", len(records)))
	return records, nil
}
