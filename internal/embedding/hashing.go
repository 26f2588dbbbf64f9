package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// HashingEmbedder is a deterministic, offline provider that hashes word
// unigrams and character trigrams into a fixed number of buckets. It serves
// tests and air-gapped deployments.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder creates a hashing embedder of the given dimension.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashingEmbedder{dimension: dimension}
}

func (h *HashingEmbedder) ModelTag() string { return fmt.Sprintf("hashing-%d", h.dimension) }

func (h *HashingEmbedder) Dimension() int { return h.dimension }

func (h *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *HashingEmbedder) vector(text string) []float32 {
	v := make([]float32, h.dimension)
	words := strings.FieldsFunc(strings.ToLower(norm.NFC.String(text)), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	for _, w := range words {
		h.add(v, "w:"+w, 1)
		runes := []rune(w)
		for j := 0; j+3 <= len(runes); j++ {
			h.add(v, "t:"+string(runes[j:j+3]), 0.5)
		}
	}
	return Normalize(v)
}

func (h *HashingEmbedder) add(v []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}
