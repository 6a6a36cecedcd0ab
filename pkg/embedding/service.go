package embedding

import "context"

// Service is the public contract consumed by the memory and ACE repositories:
// embed(text) -> vector; embed_batch(texts) -> vector[] preserving order.
type Service struct {
	cache *Cache
	dim   int
}

// NewService wraps a configured Cache as the embedding contract.
func NewService(cache *Cache, dim int) *Service {
	return &Service{cache: cache, dim: dim}
}

func (s *Service) Dimensions() int { return s.dim }

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.cache.Embed(ctx, text)
}

func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return s.cache.EmbedBatch(ctx, texts)
}
