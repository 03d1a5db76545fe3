package llm

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"newsrec/internal/logger"
	"newsrec/internal/metrics"
)

// Embedder turns texts into one vector per text. *Client implements it.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// EmbeddingGateway applies the gateway call policy to embedding requests.
// It has its own circuit breaker so embedding outages do not trip completions.
type EmbeddingGateway struct {
	emb    Embedder
	policy *callPolicy[[][]float64]
}

// NewEmbeddingGateway wraps emb with the call policy in opts.
func NewEmbeddingGateway(emb Embedder, opts GatewayOptions) *EmbeddingGateway {
	return &EmbeddingGateway{
		emb:    emb,
		policy: newCallPolicy[[][]float64]("embeddings", opts),
	}
}

// Embed returns one vector per text.
func (g *EmbeddingGateway) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	start := time.Now()
	vectors, err := g.policy.run(ctx, "embed", func(ctx context.Context) ([][]float64, error) {
		return g.emb.Embed(ctx, texts)
	})
	metrics.RecordLLMRequest("embed", time.Since(start), err)

	if err != nil {
		logger.Error("Embedding failed", err, "texts", len(texts), "duration", time.Since(start).String())
		return nil, fmt.Errorf("llm.Embed: %w", err)
	}
	return vectors, nil
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
