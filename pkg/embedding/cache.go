package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pgvector/pgvector-go"

	"github.com/aegislabs/aegis-memory/pkg/apierr"
	"github.com/aegislabs/aegis-memory/pkg/metrics"
)

// Hash returns the normalized cache key for content: sha-256 of the
// lowercased, trimmed text.
func Hash(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Cache is the two-tier embedding cache: an in-process bounded LRU in front
// of a persisted Postgres table, fronting the external provider.
type Cache struct {
	db       *sql.DB
	tier1    *lru.Cache[string, []float32]
	provider Provider
	model    string
	batchMax int
}

// NewCache builds the two-tier cache. tier1Size bounds the in-process LRU;
// batchMax caps a single external call (provider-specific ceiling).
func NewCache(db *sql.DB, provider Provider, model string, tier1Size, batchMax int) (*Cache, error) {
	tier1, err := lru.New[string, []float32](tier1Size)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindServer, "failed to allocate embedding LRU", err)
	}
	return &Cache{db: db, tier1: tier1, provider: provider, model: model, batchMax: batchMax}, nil
}

// Embed returns the vector for a single text, consulting Tier 1, then Tier 2,
// then the external provider (write-through to both tiers on a miss).
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch resolves every text through the cache, issuing at most one
// (possibly chunked) external call for the combined miss set, and returns
// vectors in the same order as the input.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	missIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		h := Hash(text)
		hashes[i] = h
		if v, ok := c.tier1.Get(h); ok {
			metrics.EmbeddingCacheHits.WithLabelValues("tier1").Inc()
			result[i] = v
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return result, nil
	}

	tier2Misses, err := c.lookupTier2(ctx, hashes, missIdx, result)
	if err != nil {
		return nil, err
	}
	if len(tier2Misses) == 0 {
		return result, nil
	}

	for start := 0; start < len(tier2Misses); start += c.batchMax {
		end := start + c.batchMax
		if end > len(tier2Misses) {
			end = len(tier2Misses)
		}
		chunk := tier2Misses[start:end]
		chunkTexts := make([]string, len(chunk))
		for i, idx := range chunk {
			chunkTexts[i] = texts[idx]
		}
		vectors, err := c.provider.EmbedBatch(ctx, chunkTexts)
		if err != nil {
			return nil, err
		}
		for i, idx := range chunk {
			result[idx] = vectors[i]
			c.tier1.Add(hashes[idx], vectors[i])
			if err := c.writeTier2(ctx, hashes[idx], vectors[i]); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func (c *Cache) lookupTier2(ctx context.Context, hashes []string, missIdx []int, result [][]float32) ([]int, error) {
	remaining := make([]int, 0, len(missIdx))
	for _, idx := range missIdx {
		var raw pgvector.Vector
		err := c.db.QueryRowContext(ctx,
			`UPDATE embedding_cache SET last_used_at = now(), hit_count = hit_count + 1
			 WHERE content_hash = $1 RETURNING embedding`,
			hashes[idx],
		).Scan(&raw)
		switch {
		case err == nil:
			metrics.EmbeddingCacheHits.WithLabelValues("tier2").Inc()
			vec := raw.Slice()
			result[idx] = vec
			c.tier1.Add(hashes[idx], vec)
		case errors.Is(err, sql.ErrNoRows):
			metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
			remaining = append(remaining, idx)
		default:
			return nil, apierr.Wrap(apierr.KindServer, "embedding tier-2 lookup failed", err)
		}
	}
	return remaining, nil
}

func (c *Cache) writeTier2(ctx context.Context, hash string, vector []float32) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO embedding_cache (content_hash, model, embedding)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (content_hash) DO NOTHING`,
		hash, c.model, pgvector.NewVector(vector),
	)
	if err != nil {
		return apierr.Wrap(apierr.KindServer, "embedding tier-2 write failed", err)
	}
	return nil
}
