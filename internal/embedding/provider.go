// Package embedding produces unit-length dense vectors for text. Every
// provider carries a model tag that is persisted next to each vector.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when a vector does not have the
// dimensionality of its model tag.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Provider embeds texts with a fixed model.
type Provider interface {
	// Embed returns one L2-normalized vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ModelTag identifies the model; vectors from different tags are never compared.
	ModelTag() string
	// Dimension is the length of every vector this provider returns.
	Dimension() int
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed: expected 1 vector, got %d", len(vecs))
	}
	return vecs[0], nil
}

// CheckDimension verifies that every vector has length dim.
func CheckDimension(vecs [][]float32, dim int) error {
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

// Normalize scales v to unit L2 norm in place and returns it. Zero vectors
// are returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return v
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
