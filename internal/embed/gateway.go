// Package embed turns opinion text into fixed-dimension vectors, preferring a
// remote embedding model and falling back to a local hash embedding.
package embed

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/caselaw-cli/pkg/openai"
)

// DefaultDim matches text-embedding-3-small.
const DefaultDim = 1536

// Embedder maps texts to vectors of one dimension, preserving order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Gateway is the Embedder used by the pipeline. A nil client means no remote
// model is configured.
type Gateway struct {
	client openai.Client
	dim    int
}

// NewGateway creates a Gateway. dim <= 0 selects DefaultDim.
func NewGateway(client openai.Client, dim int) *Gateway {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &Gateway{client: client, dim: dim}
}

// Dim returns the vector dimension.
func (g *Gateway) Dim() int { return g.dim }

// Embed returns one vector per text. Remote failures of any kind fall back to
// LocalEmbedding; only context cancellation is returned as an error.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if g.client == nil {
		zap.L().Debug("embed: no remote model configured, using local embeddings",
			zap.Int("texts", len(texts)),
		)
		return g.local(texts), nil
	}

	vecs, err := g.remote(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	zap.L().Warn("embed: remote embeddings failed, falling back to local",
		zap.Int("texts", len(texts)),
		zap.Error(err),
	)
	return g.local(texts), nil
}

func (g *Gateway) remote(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{Input: texts}
	if g.dim != DefaultDim {
		req.Dimensions = g.dim
	}
	resp, err := g.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	vecs := resp.Vectors()
	if len(vecs) != len(texts) {
		return nil, eris.Errorf("embed: got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != g.dim {
			return nil, eris.Errorf("embed: vector %d has dimension %d, want %d", i, len(v), g.dim)
		}
	}
	return vecs, nil
}

func (g *Gateway) local(texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = LocalEmbedding(t, g.dim)
	}
	return out
}
