package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := Normalize([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestCheckDimension(t *testing.T) {
	require.NoError(t, CheckDimension([][]float32{{1, 2}, {3, 4}}, 2))
	err := CheckDimension([][]float32{{1, 2}, {3}}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestHashingEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, []string{"පුනරුදය යුරෝපයේ", "renaissance art"})
	require.NoError(t, err)
	b, err := e.Embed(ctx, []string{"පුනරුදය යුරෝපයේ", "renaissance art"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	for _, v := range a {
		assert.Len(t, v, 64)
		assert.InDelta(t, 1.0, norm2(v), 1e-5)
	}
	assert.Equal(t, "hashing-64", e.ModelTag())
}

func TestHashingEmbedder_SimilarTextsCloser(t *testing.T) {
	e := NewHashingEmbedder(256)
	vecs, err := e.Embed(context.Background(), []string{
		"පුනරුදය යනු කුමක්ද",
		"පුනරුදය යුගය",
		"ප්‍රකාශසංස්ලේෂණය ශාක",
	})
	require.NoError(t, err)
	assert.Greater(t, Cosine(vecs[0], vecs[1]), Cosine(vecs[0], vecs[2]))
}

func TestHashingEmbedder_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingEmbedder(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

type countingProvider struct {
	Provider
	calls int
	texts []string
	err   error
}

func (c *countingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.texts = append(c.texts, texts...)
	if c.err != nil {
		return nil, c.err
	}
	return c.Provider.Embed(ctx, texts)
}

func newRedis(t *testing.T) *goredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCachedProvider_ServesHitsAndEmbedsMisses(t *testing.T) {
	inner := &countingProvider{Provider: NewHashingEmbedder(16)}
	cached := NewCachedProvider(inner, newRedis(t), 0, nil)
	ctx := context.Background()

	first, err := cached.Embed(ctx, []string{"a b", "c d"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	second, err := cached.Embed(ctx, []string{"c d", "e f", "a b"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, []string{"a b", "c d", "e f"}, inner.texts)

	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, inner.ModelTag(), cached.ModelTag())
	assert.Equal(t, 16, cached.Dimension())
}

func TestCachedProvider_NilRedisPassesThrough(t *testing.T) {
	inner := &countingProvider{Provider: NewHashingEmbedder(16)}
	cached := NewCachedProvider(inner, nil, 0, nil)

	_, err := cached.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	_, err = cached.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedProvider_PropagatesProviderError(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingProvider{Provider: NewHashingEmbedder(16), err: boom}
	cached := NewCachedProvider(inner, newRedis(t), 0, nil)

	_, err := cached.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, boom)
}

func TestEmbedOne(t *testing.T) {
	v, err := EmbedOne(context.Background(), NewHashingEmbedder(8), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 8)
}
