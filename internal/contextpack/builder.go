// Package contextpack packs retrieved evidence into the bounded context
// block given to the generator.
package contextpack

import (
	"fmt"
	"cmp"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bull/sinhala-tutor-rag/internal/retrieval"
)

// DefaultMaxChars bounds the packed context.
const DefaultMaxChars = 6000

const separator = "\n\n"

// UsedChunk describes one chunk placed in the context.
type UsedChunk struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Rank       int       `json:"rank"`
	Score      *float64  `json:"score,omitempty"`
	Numbering  string    `json:"numbering,omitempty"`
}

// Metadata summarizes what was packed.
type Metadata struct {
	UsedChunks int         `json:"used_chunks"`
	AvgScore   *float64    `json:"avg_score,omitempty"`
	Used       []UsedChunk `json:"used"`
}

// Context is the packed prompt body with the hits it contains.
type Context struct {
	Body     string
	Hits     []retrieval.EvidenceHit
	Metadata Metadata
}

// Build packs hits in rank order, keeping the best-ranked copy of a chunk
// that appears more than once. A chunk is never split: packing stops at the
// first chunk whose block would take the body past maxChars characters.
// Non-positive maxChars uses DefaultMaxChars.
func Build(hits []retrieval.EvidenceHit, maxChars int) *Context {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	hits = ordered(hits)

	var b strings.Builder
	size := 0
	out := &Context{Metadata: Metadata{Used: []UsedChunk{}}}
	var scoreSum float64
	scored := 0

	for _, h := range hits {
		block := formatBlock(len(out.Hits)+1, h)
		n := utf8.RuneCountInString(block)
		if size > 0 {
			n += utf8.RuneCountInString(separator)
		}
		if size+n > maxChars {
			break
		}
		if size > 0 {
			b.WriteString(separator)
		}
		b.WriteString(block)
		size += n

		out.Hits = append(out.Hits, h)
		out.Metadata.Used = append(out.Metadata.Used, UsedChunk{
			ChunkID:    h.ChunkID,
			ResourceID: h.ResourceID,
			Rank:       h.Rank,
			Score:      h.Score,
			Numbering:  h.Numbering,
		})
		if h.Score != nil {
			scoreSum += *h.Score
			scored++
		}
	}

	out.Body = b.String()
	out.Metadata.UsedChunks = len(out.Hits)
	if scored > 0 {
		avg := math.Round(scoreSum/float64(scored)*1e4) / 1e4
		out.Metadata.AvgScore = &avg
	}
	return out
}

// ordered returns hits stably sorted by rank with repeated chunks dropped.
func ordered(hits []retrieval.EvidenceHit) []retrieval.EvidenceHit {
	sorted := slices.Clone(hits)
	slices.SortStableFunc(sorted, func(a, b retrieval.EvidenceHit) int {
		return cmp.Compare(a.Rank, b.Rank)
	})
	seen := make(map[uuid.UUID]struct{}, len(sorted))
	out := sorted[:0]
	for _, h := range sorted {
		if _, dup := seen[h.ChunkID]; dup {
			continue
		}
		seen[h.ChunkID] = struct{}{}
		out = append(out, h)
	}
	return out
}

func formatBlock(n int, h retrieval.EvidenceHit) string {
	if h.Numbering != "" {
		return fmt.Sprintf("[%d] (%s) %s", n, h.Numbering, h.Content)
	}
	return fmt.Sprintf("[%d] %s", n, h.Content)
}

// Text returns the plain concatenated chunk contents, the source text the
// safety audit compares answers against.
func (c *Context) Text() string {
	parts := make([]string, len(c.Hits))
	for i, h := range c.Hits {
		parts[i] = h.Content
	}
	return strings.Join(parts, "\n")
}
