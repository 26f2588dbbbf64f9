package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultCacheTTL is how long cached vectors live.
const DefaultCacheTTL = 24 * time.Hour

// CachedProvider wraps a Provider with a Redis cache keyed by model tag and
// text hash. Redis errors degrade to calling the wrapped provider.
type CachedProvider struct {
	provider Provider
	redis    *goredis.Client
	ttl      time.Duration
	logger   *zap.Logger
}

// NewCachedProvider wraps provider. A nil redis client disables caching.
func NewCachedProvider(provider Provider, redis *goredis.Client, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{provider: provider, redis: redis, ttl: ttl, logger: logger}
}

func (c *CachedProvider) ModelTag() string { return c.provider.ModelTag() }

func (c *CachedProvider) Dimension() int { return c.provider.Dimension() }

func (c *CachedProvider) key(text string) string {
	hash := sha256.Sum256([]byte(text))
	return "emb:" + c.provider.ModelTag() + ":" + hex.EncodeToString(hash[:])
}

// Embed serves cached vectors and embeds only the misses in one batch.
func (c *CachedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.redis == nil || len(texts) == 0 {
		return c.provider.Embed(ctx, texts)
	}

	embeddings := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	values, err := c.redis.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("redis mget failed, falling back to provider", zap.Error(err))
		values = make([]any, len(texts))
	}

	var missIdx []int
	var missTexts []string
	for i, v := range values {
		s, ok := v.(string)
		if ok {
			var vec []float32
			if err := json.Unmarshal([]byte(s), &vec); err == nil && len(vec) == c.provider.Dimension() {
				embeddings[i] = vec
				continue
			}
			_ = c.redis.Del(ctx, keys[i]).Err()
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}

	if len(missTexts) == 0 {
		c.logger.Debug("all embeddings from cache", zap.Int("total", len(texts)))
		return embeddings, nil
	}

	c.logger.Debug("embedding cache miss", zap.Int("total", len(texts)), zap.Int("uncached", len(missTexts)))
	fresh, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, errors.New("embedding provider returned wrong number of vectors")
	}

	pipe := c.redis.Pipeline()
	for j, idx := range missIdx {
		embeddings[idx] = fresh[j]
		data, err := json.Marshal(fresh[j])
		if err != nil {
			continue
		}
		pipe.Set(ctx, keys[idx], data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to cache embeddings", zap.Error(err))
	}

	return embeddings, nil
}
